package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/perimetra/authgate/internal/apiclient"
	"github.com/perimetra/authgate/internal/config"
	"github.com/perimetra/authgate/internal/middleware/guard"
	"github.com/perimetra/authgate/internal/middleware/responsewriter"
	"github.com/perimetra/authgate/internal/session"
	"github.com/perimetra/authgate/pkg/fingerprint"
)

// createHTTPServer builds the public HTTP server: the auth routes and the
// probe behind the observation, fingerprint, response-writer and guard
// middlewares.
func createHTTPServer(
	_ context.Context,
	cfg *config.Config,
	manager *session.Manager,
	api *apiclient.Client,
	sessions session.Store,
) *http.Server {
	router := mux.NewRouter()
	router.Use(observeMiddleware(cfg))

	h := newAuthHandlers(cfg, manager, api)
	router.HandleFunc("/auth/login", h.login).Methods(http.MethodGet).Name("login")
	router.HandleFunc("/auth/callback", h.callback).Methods(http.MethodGet).Name("callback")
	router.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost).Name("refresh")
	router.HandleFunc("/auth/user", h.user).Methods(http.MethodGet).Name("user")
	router.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost).Name("logout")
	router.HandleFunc("/probe", probeHandlerFunc(cfg)).Methods(http.MethodGet).Name("probe")

	var handler http.Handler = router
	handler = guard.New(cfg.HTTP, sessions).Middleware(handler)
	handler = fingerprint.Middleware(handler)
	handler = responsewriter.ResponseWriterMiddleware(handler)

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: handler,
	}
}

// StartHTTPServer starts the public HTTP server and blocks until the
// context is cancelled, then shuts it down gracefully.
func StartHTTPServer(
	ctx context.Context,
	cfg *config.Config,
	manager *session.Manager,
	api *apiclient.Client,
	sessions session.Store,
) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server := createHTTPServer(ctx, cfg, manager, api, sessions)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default. Some integration tests are easier to implement
	// by binding a listener to a unix socket rather than a TCP port,
	// since we don't need to look up for a free port or scan /proc/net on Linux or call sysctl on macOS
	// to discover which port the process is bound to.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
