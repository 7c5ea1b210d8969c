package cmdutils

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_CookieDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	minimal := `
application:
  name: authgate-test
oauth:
  redirectURI: https://app.example.com/auth/callback
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(minimal), 0o600))

	cfg, err := loadConfig("{}")
	require.NoError(t, err)

	assert.Equal(t, "auth_session", cfg.Cookies.Session.Name)
	assert.Equal(t, 7*24*60*60, cfg.Cookies.Session.MaxAge)
	assert.True(t, cfg.Cookies.Session.HTTPOnly)

	assert.Equal(t, "oauth_code_verifier", cfg.Cookies.Verifier.Name)
	assert.Equal(t, 600, cfg.Cookies.Verifier.MaxAge)
	assert.True(t, cfg.Cookies.Verifier.HTTPOnly)

	assert.Equal(t, "oauth_state", cfg.Cookies.State.Name)
	assert.Equal(t, "csrf_token", cfg.Cookies.CSRF.Name)
	assert.False(t, cfg.Cookies.CSRF.HTTPOnly)
}

func TestLoadConfig_ConfiguredCookiesKept(t *testing.T) {
	t.Chdir(t.TempDir())

	overriding := `
application:
  name: authgate-test
cookies:
  session:
    name: my_session
    maxAge: 3600
    httpOnly: true
    sameSite: Strict
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(overriding), 0o600))

	cfg, err := loadConfig("{}")
	require.NoError(t, err)

	assert.Equal(t, "my_session", cfg.Cookies.Session.Name)
	assert.Equal(t, 3600, cfg.Cookies.Session.MaxAge)

	// Templates the file does not name still get their stock shape.
	assert.Equal(t, "oauth_state", cfg.Cookies.State.Name)
	assert.Equal(t, "oauth_code_verifier", cfg.Cookies.Verifier.Name)
}
