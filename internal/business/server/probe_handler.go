package server

import (
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/perimetra/authgate/internal/config"
)

// probeHandlerFunc answers liveness pings. Tracing and metrics come from
// the surrounding observeMiddleware.
func probeHandlerFunc(_ *config.Config) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()

		w.Header().Set("Content-Type", "application/json")

		if _, err := w.Write([]byte(`{ "result": "pong" }`)); err != nil {
			slogctx.Error(ctx, "Failed to write the probe response", "error", err)
		}
	}
}
