package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	slogctx "github.com/veqryn/slog-context"

	"github.com/perimetra/authgate/internal/config"
	"github.com/perimetra/authgate/internal/middleware/responsewriter"
	"github.com/perimetra/authgate/internal/oidc"
	"github.com/perimetra/authgate/internal/pkce"
	"github.com/perimetra/authgate/internal/serviceerr"
	"github.com/perimetra/authgate/pkg/csrf"
	"github.com/perimetra/authgate/pkg/fingerprint"
)

// Manager drives the authorization code flow: it mints the PKCE material,
// exchanges and refreshes tokens against the authorization server and keeps
// the resulting Session in the configured Store.
type Manager struct {
	oidc         *oidc.Provider
	sessions     Store
	pkce         pkce.Source
	secureClient *http.Client

	clientID    string
	redirectURI string
	scope       string

	cookies config.Cookies

	csrfSecret []byte
}

func NewManager(
	cfg *config.Config,
	provider *oidc.Provider,
	sessions Store,
	httpClient *http.Client,
) (*Manager, error) {
	clientID, err := commoncfg.LoadValueFromSourceRef(cfg.OAuth.ClientID)
	if err != nil {
		return nil, fmt.Errorf("loading client id from source ref: %w", err)
	}

	csrfSecret, err := commoncfg.LoadValueFromSourceRef(cfg.Session.CSRFSecret)
	if err != nil {
		return nil, fmt.Errorf("loading csrf secret from source ref: %w", err)
	}
	if len(csrfSecret) < 32 {
		return nil, errors.New("CSRF secret must be at least 32 bytes")
	}

	if _, err := url.Parse(cfg.OAuth.RedirectURI); err != nil {
		return nil, fmt.Errorf("parsing redirect URI: %w", err)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Manager{
		oidc:         provider,
		sessions:     sessions,
		secureClient: httpClient,
		clientID:     string(clientID),
		redirectURI:  cfg.OAuth.RedirectURI,
		scope:        cfg.OAuth.Scope,
		cookies:      cfg.Cookies,
		csrfSecret:   csrfSecret,
	}, nil
}

// tokenResponse is the token endpoint's JSON answer for both the exchange
// and the refresh grant.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	IDToken      string `json:"id_token"`
}

// BeginLogin mints a fresh verifier, challenge and state, stashes them in
// short-lived cookies on w and returns the authorization redirect URL.
// Every call produces new values; concurrent logins simply overwrite each
// other's stash, last writer wins.
func (m *Manager) BeginLogin(ctx context.Context, w http.ResponseWriter, r *http.Request, returnTo string) (string, error) {
	endpoints, err := m.oidc.Endpoints(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving provider endpoints: %w", err)
	}

	p := m.pkce.PKCE()
	state := m.pkce.State()

	fp, err := fingerprint.FromHTTPRequest(r)
	if err != nil {
		return "", fmt.Errorf("computing client fingerprint: %w", err)
	}

	http.SetCookie(w, m.cookies.Verifier.ToCookie(p.Verifier))
	http.SetCookie(w, m.cookies.State.ToCookie(state))
	http.SetCookie(w, m.cookies.Fingerprint.ToCookie(fp))

	if path := safeReturnPath(returnTo); path != "" {
		http.SetCookie(w, m.cookies.ReturnTo.ToCookie(url.QueryEscape(path)))
	}

	u, err := url.Parse(endpoints.Authorization)
	if err != nil {
		return "", fmt.Errorf("parsing authorisation endpoint url: %w", err)
	}

	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", m.clientID)
	q.Set("redirect_uri", m.redirectURI)
	q.Set("scope", m.scope)
	q.Set("state", state)
	q.Set("code_challenge", p.Challenge)
	q.Set("code_challenge_method", p.Method)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// CompleteLogin finishes the callback leg: it validates state and
// fingerprint against the stashed cookies, exchanges the code for tokens
// and stores the session. The stash cookies are deleted on every path,
// success or failure. It returns the path the browser should land on.
func (m *Manager) CompleteLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error) {
	returnTo := "/"
	if c, err := r.Cookie(m.cookies.ReturnTo.Name); err == nil {
		if unescaped, err := url.QueryUnescape(c.Value); err == nil {
			if path := safeReturnPath(unescaped); path != "" {
				returnTo = path
			}
		}
	}

	defer func() {
		http.SetCookie(w, m.cookies.Verifier.Expired())
		http.SetCookie(w, m.cookies.State.Expired())
		http.SetCookie(w, m.cookies.Fingerprint.Expired())
		http.SetCookie(w, m.cookies.ReturnTo.Expired())
	}()

	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		return "", &serviceerr.AuthorizationDeniedError{ProviderCode: providerErr}
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		return "", serviceerr.ErrMissingParameters
	}

	// The state check has to fail before anything touches the token
	// endpoint, so the order below is load-bearing.
	storedState, err := r.Cookie(m.cookies.State.Name)
	if err != nil || storedState.Value == "" || storedState.Value != state {
		return "", serviceerr.ErrStateMismatch
	}

	verifier, err := r.Cookie(m.cookies.Verifier.Name)
	if err != nil || verifier.Value == "" {
		return "", serviceerr.ErrMissingVerifier
	}

	if stored, err := r.Cookie(m.cookies.Fingerprint.Name); err == nil && stored.Value != "" {
		fp, err := fingerprint.FromHTTPRequest(r)
		if err != nil || fp != stored.Value {
			return "", serviceerr.ErrFingerprintMismatch
		}
	}

	endpoints, err := m.oidc.Endpoints(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving provider endpoints: %w", err)
	}

	tokens, err := m.requestTokens(ctx, endpoints.Token, map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     m.clientID,
		"redirect_uri":  m.redirectURI,
		"code":          code,
		"code_verifier": verifier.Value,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", serviceerr.ErrTokenExchangeFailed, err)
	}

	slogctx.Info(ctx, "Exchanged the auth code for tokens")

	sessionID := m.pkce.SessionID()
	csrfToken := csrf.NewToken(sessionID, m.csrfSecret)

	fp, _ := fingerprint.FromHTTPRequest(r)

	session := Session{
		ID:           sessionID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    expiresAt(time.Now(), tokens.ExpiresIn),
		TokenType:    tokenType(tokens.TokenType),
		CSRFToken:    csrfToken,
		Fingerprint:  fp,
	}

	if tokens.IDToken != "" {
		identity, err := m.oidc.VerifyIDToken(ctx, tokens.IDToken)
		if err != nil {
			return "", fmt.Errorf("verifying id token: %w", err)
		}

		session.User = User{
			ID:    identity.Subject,
			Email: identity.Email,
			Name:  identity.Name,
		}
	}

	if err := m.sessions.Save(w, r, session); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}

	http.SetCookie(w, m.cookies.CSRF.ToCookie(csrfToken))

	return returnTo, nil
}

// Session loads the browser's session. A missing, malformed or tampered
// record reads as logged out.
func (m *Manager) Session(r *http.Request) (Session, bool) {
	return m.sessions.Load(r)
}

// Refresh trades the session's refresh token for fresh tokens and persists
// the result. The ResponseWriter is taken from the context, so callers deep
// in the request path can refresh with only ctx and r at hand. A failed
// refresh clears the session; the refresh token is single-use on rotating
// servers and the old session is not worth keeping.
func (m *Manager) Refresh(ctx context.Context, r *http.Request) (Session, error) {
	w, err := responsewriter.ResponseWriterFromContext(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("getting response writer: %w", err)
	}

	session, ok := m.sessions.Load(r)
	if !ok {
		return Session{}, serviceerr.ErrUnauthenticated
	}

	if session.RefreshToken == "" {
		return Session{}, serviceerr.ErrNoRefreshToken
	}

	endpoints, err := m.oidc.Endpoints(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("resolving provider endpoints: %w", err)
	}

	tokens, err := m.requestTokens(ctx, endpoints.Token, map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     m.clientID,
		"refresh_token": session.RefreshToken,
	})
	if err != nil {
		m.sessions.Clear(w, r)
		http.SetCookie(w, m.cookies.CSRF.Expired())

		return Session{}, fmt.Errorf("%w: %w", serviceerr.ErrRefreshFailed, err)
	}

	// The refresh token is overwritten with whatever the server returned,
	// even an empty string. Servers that rotate tokens invalidate the old
	// one on use, so holding on to it buys nothing.
	session.AccessToken = tokens.AccessToken
	session.RefreshToken = tokens.RefreshToken
	session.ExpiresAt = expiresAt(time.Now(), tokens.ExpiresIn)
	session.TokenType = tokenType(tokens.TokenType)

	if err := m.sessions.Save(w, r, session); err != nil {
		return Session{}, fmt.Errorf("storing refreshed session: %w", err)
	}

	slogctx.Debug(ctx, "Refreshed the session tokens")

	return session, nil
}

// Logout revokes the tokens best-effort and clears the session. Revocation
// failures are logged and swallowed; the browser is logged out locally no
// matter what the authorization server thinks.
func (m *Manager) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if session, ok := m.sessions.Load(r); ok {
		if err := m.revoke(ctx, session); err != nil {
			slogctx.Warn(ctx, "Failed to revoke tokens at the provider", "error", err)
		}
	}

	m.sessions.Clear(w, r)
	http.SetCookie(w, m.cookies.CSRF.Expired())
}

// ValidateCSRF checks the request's X-CSRF-Token header against the
// session. State-changing routes call this before doing anything.
func (m *Manager) ValidateCSRF(r *http.Request) error {
	session, ok := m.sessions.Load(r)
	if !ok {
		return serviceerr.ErrUnauthenticated
	}

	token := r.Header.Get("X-CSRF-Token")
	if token == "" || !csrf.Validate(token, session.ID, m.csrfSecret) {
		return errors.New("invalid csrf token")
	}

	return nil
}

func (m *Manager) requestTokens(ctx context.Context, tokenEndpoint string, grant map[string]string) (tokenResponse, error) {
	body, err := json.Marshal(grant)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.secureClient.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a bounded slice of the body for the log line. No retries:
		// the authorization code is single-use anyway.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slogctx.Warn(ctx, "Token endpoint returned an error",
			"status", resp.StatusCode, "body", string(snippet))

		return tokenResponse{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return tokenResponse{}, fmt.Errorf("decoding token response: %w", err)
	}

	if tokens.AccessToken == "" {
		return tokenResponse{}, errors.New("token response carries no access token")
	}

	return tokens, nil
}

func (m *Manager) revoke(ctx context.Context, session Session) error {
	endpoints, err := m.oidc.Endpoints(ctx)
	if err != nil {
		return fmt.Errorf("resolving provider endpoints: %w", err)
	}
	if endpoints.Revocation == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", session.RefreshToken)
	form.Set("token_type_hint", "refresh_token")
	if session.RefreshToken == "" {
		form.Set("token", session.AccessToken)
		form.Set("token_type_hint", "access_token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoints.Revocation, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", session.TokenType+" "+session.AccessToken)

	resp, err := m.secureClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling revocation endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("revocation endpoint returned status %d", resp.StatusCode)
	}

	return nil
}

func expiresAt(now time.Time, expiresIn int64) int64 {
	return now.UnixMilli() + expiresIn*1000
}

func tokenType(t string) string {
	if t == "" {
		return "Bearer"
	}

	return t
}

// safeReturnPath accepts only same-site absolute paths, so the login flow
// cannot be abused as an open redirect. Anything else returns "".
func safeReturnPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") {
		return ""
	}
	if strings.HasPrefix(p, "//") || strings.Contains(p, "\\") {
		return ""
	}

	return p
}
