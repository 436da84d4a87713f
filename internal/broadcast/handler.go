package broadcast

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/nedroden/Kraken-Backend/internal/utils"
)

// Handler accepts websocket upgrades and registers each connection with the hub.
type Handler struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards are served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		utils.WriteError(w, http.StatusBadRequest, "websocket upgrade required")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewWSClient(conn)
	h.hub.AddClient(client)
	h.logger.Info("websocket client connected", "remote", r.RemoteAddr)

	client.ReadPump()
	h.logger.Info("websocket client disconnected", "remote", r.RemoteAddr)
}
