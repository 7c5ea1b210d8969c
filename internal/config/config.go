// Package config defines the necessary types to configure the application.
// Configuration is loaded from a config.yaml found in /etc/authgate,
// $HOME/.authgate or the working directory.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	OAuth   OAuth   `yaml:"oauth"`
	Session Session `yaml:"session"`
	Cookies Cookies `yaml:"cookies"`

	Store       Store       `yaml:"store"`
	Database    Database    `yaml:"database"`
	ValKey      ValKey      `yaml:"valkey"`
	Housekeeper Housekeeper `yaml:"housekeeper"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`

	// LandingPath receives authenticated users, LoginPath unauthenticated
	// ones. PublicPathPrefixes are reachable without a session.
	LandingPath        string   `yaml:"landingPath" default:"/dashboard"`
	LoginPath          string   `yaml:"loginPath" default:"/login"`
	PublicPathPrefixes []string `yaml:"publicPathPrefixes"`
}

// OAuth configures the remote authorization and resource servers. When
// IssuerURL is set the endpoints are resolved through OIDC discovery;
// explicitly configured endpoints take precedence.
type OAuth struct {
	IssuerURL string `yaml:"issuerURL"`

	AuthorizationEndpoint string `yaml:"authorizationEndpoint"`
	TokenEndpoint         string `yaml:"tokenEndpoint"`
	UserInfoEndpoint      string `yaml:"userInfoEndpoint"`
	RevocationEndpoint    string `yaml:"revocationEndpoint"`

	ClientID    commoncfg.SourceRef `yaml:"clientID"`
	ClientAuth  ClientAuth          `yaml:"clientAuth"`
	RedirectURI string              `yaml:"redirectURI"`
	Scope       string              `yaml:"scope" default:"openid profile email"`

	ResourceAPIBaseURL string `yaml:"resourceAPIBaseURL"`
	UserProfilePath    string `yaml:"userProfilePath" default:"/api/user"`
}

// ClientAuth selects how the gateway authenticates itself against the
// authorization server: a public client ("insecure"), a client secret, or
// mutual TLS.
type ClientAuth struct {
	Type         string              `yaml:"type" default:"insecure"`
	ClientSecret commoncfg.SourceRef `yaml:"clientSecret"`
	MTLS         *commoncfg.MTLS     `yaml:"mtls"`
}

type Session struct {
	// TTL bounds the session cookie; token expiry within a session is
	// tracked separately from the token endpoint's expires_in.
	TTL        time.Duration       `yaml:"ttl" default:"168h"`
	CSRFSecret commoncfg.SourceRef `yaml:"csrfSecret"`
}

type Cookies struct {
	Session     CookieTemplate `yaml:"session"`
	Verifier    CookieTemplate `yaml:"verifier"`
	State       CookieTemplate `yaml:"state"`
	ReturnTo    CookieTemplate `yaml:"returnTo"`
	Fingerprint CookieTemplate `yaml:"fingerprint"`
	CSRF        CookieTemplate `yaml:"csrf"`

	// HashKey signs the session cookie, BlockKey additionally encrypts it.
	// HashKey must be at least 32 bytes; BlockKey, when set, 16, 24 or 32.
	HashKey  commoncfg.SourceRef `yaml:"hashKey"`
	BlockKey commoncfg.SourceRef `yaml:"blockKey"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

type CookieTemplate struct {
	Name     string         `yaml:"name"`
	MaxAge   int            `yaml:"maxAge"`
	Path     string         `yaml:"path"`
	Domain   string         `yaml:"domain"`
	Secure   bool           `yaml:"secure"`
	HTTPOnly bool           `yaml:"httpOnly"`
	SameSite CookieSameSite `yaml:"sameSite"`
}

// Store selects the session persistence backend.
type Store struct {
	Kind StoreKind `yaml:"kind" default:"cookie"`
}

type StoreKind string

const (
	StoreKindCookie   StoreKind = "cookie"
	StoreKindValkey   StoreKind = "valkey"
	StoreKindPostgres StoreKind = "postgres"
)

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	Prefix    string              `yaml:"prefix"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

type Housekeeper struct {
	TriggerInterval time.Duration `yaml:"triggerInterval" default:"1h"`
}

// ApplyDefaults fills every cookie template left without a name by the
// loaded configuration with its stock shape. Templates the config does
// name are kept as configured.
func (c *Cookies) ApplyDefaults() {
	def := DefaultCookies()

	for _, p := range []struct {
		dst *CookieTemplate
		def CookieTemplate
	}{
		{&c.Session, def.Session},
		{&c.Verifier, def.Verifier},
		{&c.State, def.State},
		{&c.ReturnTo, def.ReturnTo},
		{&c.Fingerprint, def.Fingerprint},
		{&c.CSRF, def.CSRF},
	} {
		if p.dst.Name == "" {
			*p.dst = p.def
		}
	}
}

// DefaultCookies returns the cookie shapes from the wire contract: the PKCE
// stash cookies live for ten minutes, the session cookie for seven days.
func DefaultCookies() Cookies {
	return Cookies{
		Session: CookieTemplate{
			Name:     "auth_session",
			MaxAge:   7 * 24 * 60 * 60,
			Path:     "/",
			Secure:   true,
			HTTPOnly: true,
			SameSite: CookieSameSiteLax,
		},
		Verifier: CookieTemplate{
			Name:     "oauth_code_verifier",
			MaxAge:   600,
			Path:     "/",
			Secure:   true,
			HTTPOnly: true,
			SameSite: CookieSameSiteLax,
		},
		State: CookieTemplate{
			Name:     "oauth_state",
			MaxAge:   600,
			Path:     "/",
			Secure:   true,
			HTTPOnly: true,
			SameSite: CookieSameSiteLax,
		},
		ReturnTo: CookieTemplate{
			Name:     "oauth_return_to",
			MaxAge:   600,
			Path:     "/",
			Secure:   true,
			HTTPOnly: true,
			SameSite: CookieSameSiteLax,
		},
		Fingerprint: CookieTemplate{
			Name:     "oauth_fingerprint",
			MaxAge:   600,
			Path:     "/",
			Secure:   true,
			HTTPOnly: true,
			SameSite: CookieSameSiteLax,
		},
		CSRF: CookieTemplate{
			Name:     "csrf_token",
			MaxAge:   7 * 24 * 60 * 60,
			Path:     "/",
			Secure:   true,
			HTTPOnly: false,
			SameSite: CookieSameSiteStrict,
		},
	}
}
