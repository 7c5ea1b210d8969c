package sessioncookie

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimetra/authgate/internal/config"
	"github.com/perimetra/authgate/internal/session"
)

var (
	testHashKey  = []byte("0123456789abcdef0123456789abcdef")
	testBlockKey = []byte("0123456789abcdef")
)

func testTemplate() config.CookieTemplate {
	return config.DefaultCookies().Session
}

func testSession() session.Session {
	return session.Session{
		ID:           "session-id",
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
		TokenType:    "Bearer",
		CSRFToken:    "csrf-token",
		User:         session.User{ID: "42", Email: "jo@example.com", Name: "Jo"},
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		hashKey  []byte
		blockKey []byte
		wantErr  bool
	}{
		{name: "signing only", hashKey: testHashKey, wantErr: false},
		{name: "signing and encryption", hashKey: testHashKey, blockKey: testBlockKey, wantErr: false},
		{name: "hash key too short", hashKey: []byte("short"), wantErr: true},
		{name: "bad block key length", hashKey: testHashKey, blockKey: []byte("not-an-aes-key"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(testTemplate(), tc.hashKey, tc.blockKey)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// requestWithCookies carries the cookies from a recorded response into a
// new request, the way a browser would.
func requestWithCookies(w *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		if c.MaxAge >= 0 {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}

	return r
}

func TestRoundTrip(t *testing.T) {
	store, err := New(testTemplate(), testHashKey, testBlockKey)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	want := testSession()
	require.NoError(t, store.Save(w, httptest.NewRequest(http.MethodGet, "/", nil), want))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "auth_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.NotContains(t, cookies[0].Value, "AT1", "token must not appear in the clear")

	got, ok := store.Load(requestWithCookies(w))
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestLoadAbsent(t *testing.T) {
	store, err := New(testTemplate(), testHashKey, nil)
	require.NoError(t, err)

	_, ok := store.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestLoadMalformed(t *testing.T) {
	store, err := New(testTemplate(), testHashKey, testBlockKey)
	require.NoError(t, err)

	tests := []struct {
		name  string
		value string
	}{
		{name: "garbage", value: "not-a-session"},
		{name: "empty", value: ""},
		{name: "valid base64, wrong payload", value: "eyJmb28iOiJiYXIifQ"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.AddCookie(&http.Cookie{Name: "auth_session", Value: tc.value})

			_, ok := store.Load(r)
			assert.False(t, ok)
		})
	}
}

func TestLoadTampered(t *testing.T) {
	store, err := New(testTemplate(), testHashKey, testBlockKey)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, store.Save(w, httptest.NewRequest(http.MethodGet, "/", nil), testSession()))

	original := w.Result().Cookies()[0].Value
	flipped := strings.ToUpper(original[:4]) + original[4:]
	if flipped == original {
		flipped = strings.ToLower(original[:4]) + original[4:]
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "auth_session", Value: flipped})

	_, ok := store.Load(r)
	assert.False(t, ok)
}

func TestLoadWrongKey(t *testing.T) {
	store, err := New(testTemplate(), testHashKey, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, store.Save(w, httptest.NewRequest(http.MethodGet, "/", nil), testSession()))

	otherKey := []byte("ffffffffffffffffffffffffffffffff")
	other, err := New(testTemplate(), otherKey, nil)
	require.NoError(t, err)

	_, ok := other.Load(requestWithCookies(w))
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	store, err := New(testTemplate(), testHashKey, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	store.Clear(w, httptest.NewRequest(http.MethodGet, "/", nil))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "auth_session", cookies[0].Name)
	assert.Less(t, cookies[0].MaxAge, 0)
	assert.Empty(t, cookies[0].Value)
}
