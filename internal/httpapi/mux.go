package httpapi

import (
	"net/http"
)

// NewMux registers the operational routes. Feature modules add theirs to the
// returned mux.
func NewMux(storage Pinger, metrics http.Handler, ws http.Handler, wsPath string) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, storage)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	if ws != nil {
		mux.Handle("GET "+wsPath, ws)
	}
	return mux
}
