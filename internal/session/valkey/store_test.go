package sessionvalkey

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimetra/authgate/internal/config"
	"github.com/perimetra/authgate/internal/dbtest/valkeytest"
	"github.com/perimetra/authgate/internal/session"
)

func testSession() session.Session {
	return session.Session{
		ID:           "session-id",
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
		TokenType:    "Bearer",
		CSRFToken:    "csrf-token",
		User:         session.User{ID: "42", Email: "jo@example.com"},
	}
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "auth_session" && c.MaxAge >= 0 {
			return c
		}
	}

	return nil
}

func requestWith(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if c != nil {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	return r
}

func TestNew(t *testing.T) {
	ctx := t.Context()
	valkeyClient, _, terminate := valkeytest.Start(ctx)
	defer terminate(ctx)

	tests := []struct {
		name       string
		prefix     string
		wantPrefix string
	}{
		{name: "plain prefix", prefix: "authgate", wantPrefix: "authgate"},
		{name: "trims trailing colon", prefix: "authgate:", wantPrefix: "authgate"},
		{name: "empty prefix", prefix: "", wantPrefix: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := New(valkeyClient, tc.prefix, config.DefaultCookies().Session, time.Hour)
			assert.Equal(t, tc.wantPrefix, store.prefix)
		})
	}
}

func TestStore(t *testing.T) {
	ctx := t.Context()
	valkeyClient, _, terminate := valkeytest.Start(ctx)
	defer terminate(ctx)

	store := New(valkeyClient, "authgate", config.DefaultCookies().Session, time.Hour)

	t.Run("Save mints an opaque ID cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, store.Save(w, httptest.NewRequest(http.MethodGet, "/", nil), testSession()))

		c := sessionCookie(w)
		require.NotNil(t, c)
		assert.NotEmpty(t, c.Value)
		assert.NotContains(t, c.Value, "AT1", "the cookie must not carry the token")
	})

	t.Run("Round trip", func(t *testing.T) {
		want := testSession()

		w := httptest.NewRecorder()
		require.NoError(t, store.Save(w, httptest.NewRequest(http.MethodGet, "/", nil), want))

		got, ok := store.Load(requestWith(sessionCookie(w)))
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("Save keeps the existing ID", func(t *testing.T) {
		w1 := httptest.NewRecorder()
		require.NoError(t, store.Save(w1, httptest.NewRequest(http.MethodGet, "/", nil), testSession()))
		c1 := sessionCookie(w1)

		updated := testSession()
		updated.AccessToken = "AT2"

		w2 := httptest.NewRecorder()
		require.NoError(t, store.Save(w2, requestWith(c1), updated))

		c2 := sessionCookie(w2)
		require.NotNil(t, c2)
		assert.Equal(t, c1.Value, c2.Value)

		got, ok := store.Load(requestWith(c1))
		require.True(t, ok)
		assert.Equal(t, "AT2", got.AccessToken)
	})

	t.Run("Unknown ID loads as absent", func(t *testing.T) {
		_, ok := store.Load(requestWith(&http.Cookie{Name: "auth_session", Value: "no-such-session"}))
		assert.False(t, ok)
	})

	t.Run("No cookie loads as absent", func(t *testing.T) {
		_, ok := store.Load(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.False(t, ok)
	})

	t.Run("Clear deletes the record and the cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, store.Save(w, httptest.NewRequest(http.MethodGet, "/", nil), testSession()))
		c := sessionCookie(w)

		w2 := httptest.NewRecorder()
		store.Clear(w2, requestWith(c))

		_, ok := store.Load(requestWith(c))
		assert.False(t, ok)

		var deleted bool
		for _, rc := range w2.Result().Cookies() {
			if rc.Name == "auth_session" && rc.MaxAge < 0 {
				deleted = true
			}
		}
		assert.True(t, deleted)
	})
}

func TestSessions(t *testing.T) {
	ctx := t.Context()
	valkeyClient, _, terminate := valkeytest.Start(ctx)
	defer terminate(ctx)

	store := New(valkeyClient, "listing", config.DefaultCookies().Session, time.Hour)

	for range 3 {
		w := httptest.NewRecorder()
		require.NoError(t, store.Save(w, httptest.NewRequest(http.MethodGet, "/", nil), testSession()))
	}

	sessions, err := store.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)
}

func TestTTL(t *testing.T) {
	ctx := t.Context()
	valkeyClient, _, terminate := valkeytest.Start(ctx)
	defer terminate(ctx)

	store := New(valkeyClient, "ttl", config.DefaultCookies().Session, time.Second)

	w := httptest.NewRecorder()
	require.NoError(t, store.Save(w, httptest.NewRequest(http.MethodGet, "/", nil), testSession()))
	c := sessionCookie(w)

	_, ok := store.Load(requestWith(c))
	require.True(t, ok)

	time.Sleep(1500 * time.Millisecond)

	_, ok = store.Load(requestWith(c))
	assert.False(t, ok, "the record must expire with the key TTL")
}
