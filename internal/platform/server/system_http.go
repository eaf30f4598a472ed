package server

import (
	"context"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SystemHandler serves the unauthenticated health and metrics endpoints.
type SystemHandler struct {
	// Ready reports whether dependencies (the database) are reachable.
	Ready   func(ctx context.Context) error
	Version string
}

var unauthenticatedPaths = []string{"/healthz", "/readyz", "/metrics"}

func (h SystemHandler) Register(mux *runtime.ServeMux) error {
	if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.Version})
	}); err != nil {
		return err
	}
	if err := mux.HandlePath(http.MethodGet, "/readyz", h.ready); err != nil {
		return err
	}
	metrics := promhttp.Handler()
	return mux.HandlePath(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		metrics.ServeHTTP(w, r)
	})
}

func (h SystemHandler) ready(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "NOT_READY", Message: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
