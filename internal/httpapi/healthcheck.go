package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/nedroden/Kraken-Backend/internal/utils"
)

const healthcheckTimeout = 2 * time.Second

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	storage Pinger
}

func NewHealthchecker(storage Pinger) healthchecker {
	return &healthcheckerImpl{storage: storage}
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthcheckTimeout)
	defer cancel()

	if err := h.storage.Ping(ctx); err != nil {
		utils.WriteStorageError(w, err, "check database connectivity", http.StatusServiceUnavailable)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(mux *http.ServeMux, storage Pinger) {
	healthchecker := NewHealthchecker(storage)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
