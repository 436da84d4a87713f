// Package utils holds the JSON response helpers shared by every HTTP handler.
package utils

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nedroden/Kraken-Backend/internal/storage"
)

const contentTypeJSON = "application/json; charset=utf-8"

// ErrorBody is the shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON", "status", status, "error", err)
	}
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: http.StatusText(status), Message: msg})
}

// StorageStatus maps a storage failure to a response status. A backend that
// is down or not yet connected is 503; everything else gets fallback.
func StorageStatus(err error, fallback int) int {
	if errors.Is(err, storage.ErrUnreachable) || errors.Is(err, storage.ErrNotConnected) {
		return http.StatusServiceUnavailable
	}
	return fallback
}

// WriteStorageError logs err and answers with a generic message, so driver
// text never reaches the client.
func WriteStorageError(w http.ResponseWriter, err error, action string, fallback int) {
	status := StorageStatus(err, fallback)
	slog.Error("storage operation failed", "action", action, "status", status, "error", err)

	msg := "failed to " + action
	if status == http.StatusServiceUnavailable {
		msg = "storage unavailable"
	}
	WriteError(w, status, msg)
}
