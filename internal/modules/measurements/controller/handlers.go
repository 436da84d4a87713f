package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/types"
	"github.com/nedroden/Kraken-Backend/internal/utils"
)

const maxBodyBytes = 1 << 20

// kindHandlers serves one measurement collection.
type kindHandlers[T any] struct {
	kind  types.Kind
	store Store[T]
	live  LiveReader
	key   func(T) string
	// prepare sets the id and fills a missing createdAt before a write.
	prepare func(rec *T, id string, now time.Time)
	now     func() time.Time
}

func (h *kindHandlers[T]) register(mux *http.ServeMux) {
	base := basePath + string(h.kind)
	mux.HandleFunc("GET "+base, h.handleAll)
	mux.HandleFunc("GET "+base+"/latest", h.handleLatest)
	mux.HandleFunc("GET "+base+"/live", h.handleLive)
	mux.HandleFunc("GET "+base+"/{id}", h.handleGet)
	mux.HandleFunc("POST "+base, h.handleCreate)
	mux.HandleFunc("PUT "+base+"/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE "+base+"/{id}", h.handleDelete)
}

func (h *kindHandlers[T]) handleAll(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.All(r.Context())
	if err != nil {
		utils.WriteStorageError(w, err, "list "+string(h.kind)+" measurements", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, http.StatusOK, records)
}

func (h *kindHandlers[T]) handleLatest(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.LatestPerGroup(r.Context(), h.key)
	if err != nil {
		utils.WriteStorageError(w, err, "load latest "+string(h.kind)+" measurements", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, http.StatusOK, records)
}

func (h *kindHandlers[T]) handleLive(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		utils.WriteError(w, http.StatusNotFound, "live cache disabled")
		return
	}
	entries, err := h.live.All(r.Context(), string(h.kind))
	if err != nil {
		slog.Error("live measurements failed", "kind", h.kind, "error", err)
		utils.WriteError(w, http.StatusServiceUnavailable, "live cache unavailable")
		return
	}
	if entries == nil {
		entries = []json.RawMessage{}
	}
	utils.WriteJSON(w, http.StatusOK, entries)
}

func (h *kindHandlers[T]) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing measurement id")
		return
	}
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		utils.WriteStorageError(w, err, "load "+string(h.kind)+" measurement", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		utils.WriteError(w, http.StatusNotFound, "measurement not found")
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (h *kindHandlers[T]) handleCreate(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.prepare(&rec, "", h.now().UTC())
	if err := h.store.Create(r.Context(), &rec); err != nil {
		utils.WriteStorageError(w, err, "create "+string(h.kind)+" measurement", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, rec)
}

func (h *kindHandlers[T]) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing measurement id")
		return
	}
	rec, ok := h.decode(w, r)
	if !ok {
		return
	}
	found, err := h.store.Exists(r.Context(), id)
	if err != nil {
		utils.WriteStorageError(w, err, "look up "+string(h.kind)+" measurement", http.StatusInternalServerError)
		return
	}
	if !found {
		utils.WriteError(w, http.StatusNotFound, "measurement not found")
		return
	}
	h.prepare(&rec, id, h.now().UTC())
	if err := h.store.Update(r.Context(), rec); err != nil {
		utils.WriteStorageError(w, err, "update "+string(h.kind)+" measurement "+id, http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (h *kindHandlers[T]) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing measurement id")
		return
	}
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		utils.WriteStorageError(w, err, "load "+string(h.kind)+" measurement", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		utils.WriteError(w, http.StatusNotFound, "measurement not found")
		return
	}
	if err := h.store.Remove(r.Context(), *rec); err != nil {
		utils.WriteStorageError(w, err, "delete "+string(h.kind)+" measurement "+id, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *kindHandlers[T]) decode(w http.ResponseWriter, r *http.Request) (T, bool) {
	var rec T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return rec, false
		}
		utils.WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return rec, false
	}
	return rec, true
}
