// Package apiclient wraps calls to the resource API with the browser's
// session: it attaches the bearer token, transparently refreshes an expired
// one and normalises error responses.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	slogctx "github.com/veqryn/slog-context"

	"github.com/perimetra/authgate/internal/config"
	"github.com/perimetra/authgate/internal/serviceerr"
	"github.com/perimetra/authgate/internal/session"
)

const userInfoCacheTTL = 60 * time.Second

type Client struct {
	manager *session.Manager
	base    *url.URL
	client  *http.Client

	userProfilePath string
	userInfo        *gocache.Cache
}

func New(cfg config.OAuth, manager *session.Manager, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(cfg.ResourceAPIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing resource API base URL: %w", err)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	profilePath := cfg.UserProfilePath
	if profilePath == "" {
		profilePath = "/api/user"
	}

	return &Client{
		manager:         manager,
		base:            base,
		client:          httpClient,
		userProfilePath: profilePath,
		userInfo:        gocache.New(userInfoCacheTTL, 2*userInfoCacheTTL),
	}, nil
}

// Do performs an authenticated call against the resource API on behalf of
// the browser request r. An expired access token is refreshed exactly once,
// before the call; a 401 coming back after that is returned as an APIError,
// never answered with another refresh. A non-nil body is sent as JSON.
//
// The response body is returned raw. 204 yields nil.
func (c *Client) Do(ctx context.Context, r *http.Request, method, path string, body any) ([]byte, error) {
	raw, _, err := c.do(ctx, r, method, path, body)
	return raw, err
}

// do additionally returns the session whose token was sent, which may be
// the refreshed one rather than the one the request cookie carries.
func (c *Client) do(ctx context.Context, r *http.Request, method, path string, body any) ([]byte, session.Session, error) {
	sess, ok := c.manager.Session(r)
	if !ok {
		return nil, session.Session{}, serviceerr.ErrUnauthenticated
	}

	if sess.Expired(time.Now()) {
		refreshed, err := c.manager.Refresh(ctx, r)
		if err != nil {
			return nil, session.Session{}, fmt.Errorf("%w: %w", serviceerr.ErrUnauthenticated, err)
		}

		sess = refreshed
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, session.Session{}, fmt.Errorf("encoding request body: %w", err)
		}

		reqBody = bytes.NewReader(encoded)
	}

	u := c.base.JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, session.Session{}, fmt.Errorf("creating API request: %w", err)
	}

	req.Header.Set("Authorization", sess.TokenType+" "+sess.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, session.Session{}, fmt.Errorf("calling resource API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, sess, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, session.Session{}, fmt.Errorf("reading API response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, session.Session{}, apiError(resp, raw)
	}

	return raw, sess, nil
}

func (c *Client) Get(ctx context.Context, r *http.Request, path string) ([]byte, error) {
	return c.Do(ctx, r, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, r *http.Request, path string, body any) ([]byte, error) {
	return c.Do(ctx, r, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, r *http.Request, path string, body any) ([]byte, error) {
	return c.Do(ctx, r, http.MethodPut, path, body)
}

func (c *Client) Patch(ctx context.Context, r *http.Request, path string, body any) ([]byte, error) {
	return c.Do(ctx, r, http.MethodPatch, path, body)
}

func (c *Client) Delete(ctx context.Context, r *http.Request, path string) ([]byte, error) {
	return c.Do(ctx, r, http.MethodDelete, path, nil)
}

// UserInfo fetches the user profile from the resource API, read-through
// cached per access token. The cache keeps stale profiles from outliving a
// token: a refresh changes the token and therefore the key.
func (c *Client) UserInfo(ctx context.Context, r *http.Request) (map[string]any, error) {
	sess, ok := c.manager.Session(r)
	if !ok {
		return nil, serviceerr.ErrUnauthenticated
	}

	if !sess.Expired(time.Now()) {
		if cached, ok := c.userInfo.Get(sess.AccessToken); ok {
			//nolint:forcetypeassert
			return cached.(map[string]any), nil
		}
	}

	raw, used, err := c.do(ctx, r, http.MethodGet, c.userProfilePath, nil)
	if err != nil {
		return nil, err
	}

	var profile map[string]any
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("decoding user profile: %w", err)
	}

	// Key under the token that was actually sent, so a call made with the
	// refreshed token hits the cache.
	c.userInfo.Set(used.AccessToken, profile, userInfoCacheTTL)

	slogctx.Debug(ctx, "Fetched the user profile from the resource API")

	return profile, nil
}

// apiError shapes a non-2xx response. A JSON body contributes its decoded
// fields, with the server's own message preferred; anything else lands in
// Message as raw text.
func apiError(resp *http.Response, raw []byte) *serviceerr.APIError {
	apiErr := &serviceerr.APIError{
		Status:  resp.StatusCode,
		Message: http.StatusText(resp.StatusCode),
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if contentType == "application/json" {
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err == nil {
			apiErr.Data = data
			if msg, ok := data["message"].(string); ok && msg != "" {
				apiErr.Message = msg
			}

			return apiErr
		}
	}

	if len(raw) > 0 {
		apiErr.Message = string(raw)
	}

	return apiErr
}
