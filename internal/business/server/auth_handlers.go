package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	slogctx "github.com/veqryn/slog-context"

	"github.com/perimetra/authgate/internal/apiclient"
	"github.com/perimetra/authgate/internal/config"
	"github.com/perimetra/authgate/internal/serviceerr"
	"github.com/perimetra/authgate/internal/session"
)

type authHandlers struct {
	manager *session.Manager
	api     *apiclient.Client

	loginPath   string
	landingPath string
}

func newAuthHandlers(cfg *config.Config, manager *session.Manager, api *apiclient.Client) *authHandlers {
	return &authHandlers{
		manager:     manager,
		api:         api,
		loginPath:   cfg.HTTP.LoginPath,
		landingPath: cfg.HTTP.LandingPath,
	}
}

// login kicks off the authorization code flow. An already authenticated
// browser is sent straight to the landing page instead of the provider.
func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := h.manager.Session(r); ok {
		http.Redirect(w, r, h.landingPath, http.StatusFound)
		return
	}

	authURL, err := h.manager.BeginLogin(ctx, w, r, r.URL.Query().Get("redirect"))
	if err != nil {
		slogctx.Error(ctx, "Failed to begin the login flow", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "login_failed")

		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// callback lands the provider redirect. Failures send the browser back to
// the login page with a machine-readable error code; internals stay in the
// logs.
func (h *authHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := h.manager.Session(r); ok {
		http.Redirect(w, r, h.landingPath, http.StatusFound)
		return
	}

	returnTo, err := h.manager.CompleteLogin(ctx, w, r)
	recordFlowOutcome(ctx, "login", err)
	if err != nil {
		code := serviceerr.Code(err)
		slogctx.Warn(ctx, "Login callback failed", "error", err, "code", code)
		http.Redirect(w, r, h.loginPath+"?error="+url.QueryEscape(code), http.StatusFound)

		return
	}

	http.Redirect(w, r, returnTo, http.StatusFound)
}

func (h *authHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.manager.ValidateCSRF(r); err != nil {
		writeJSONError(w, http.StatusForbidden, "invalid_csrf_token")
		return
	}

	_, err := h.manager.Refresh(ctx, r)
	recordFlowOutcome(ctx, "refresh", err)
	if err != nil {
		slogctx.Warn(ctx, "Failed to refresh the session", "error", err)
		writeJSONError(w, http.StatusUnauthorized, "refresh_failed")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *authHandlers) user(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	profile, err := h.api.UserInfo(ctx, r)
	if err != nil {
		var apiErr *serviceerr.APIError
		switch {
		case errors.Is(err, serviceerr.ErrUnauthenticated):
			writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
		case errors.As(err, &apiErr):
			writeJSON(w, apiErr.Status, map[string]any{"success": false, "message": apiErr.Message})
		default:
			slogctx.Error(ctx, "Failed to fetch the user profile", "error", err)
			writeJSONError(w, http.StatusBadGateway, "upstream_failed")
		}

		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *authHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.manager.ValidateCSRF(r); err != nil {
		writeJSONError(w, http.StatusForbidden, "invalid_csrf_token")
		return
	}

	h.manager.Logout(ctx, w, r)

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"success": false, "error": code})
}
