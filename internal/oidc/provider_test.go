package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimetra/authgate/internal/config"
)

// localRoundTripper is an http.RoundTripper that executes HTTP transactions by
// using handler directly, instead of going over an HTTP connection.
type localRoundTripper struct {
	handler http.Handler
}

func (l localRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	w := httptest.NewRecorder()
	l.handler.ServeHTTP(w, req)
	return w.Result(), nil
}

func discoveryClient(conf Configuration, hits *atomic.Int32) *http.Client {
	return &http.Client{
		Transport: localRoundTripper{
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if hits != nil {
					hits.Add(1)
				}
				if err := json.NewEncoder(w).Encode(conf); err != nil {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}),
		},
	}
}

func TestEndpoints(t *testing.T) {
	const issuerURL = "https://idp.example.com"

	discovered := Configuration{
		Issuer:                issuerURL,
		AuthorizationEndpoint: issuerURL + "/oauth/authorize",
		TokenEndpoint:         issuerURL + "/oauth/token",
		UserinfoEndpoint:      issuerURL + "/oauth/userinfo",
		RevocationEndpoint:    issuerURL + "/oauth/revoke",
		JwksURI:               issuerURL + "/oauth/jwks",
	}

	tests := []struct {
		name    string
		cfg     config.OAuth
		served  Configuration
		want    Endpoints
		wantErr assert.ErrorAssertionFunc
	}{
		{
			name: "Static endpoints skip discovery",
			cfg: config.OAuth{
				AuthorizationEndpoint: "https://static.example.com/authorize",
				TokenEndpoint:         "https://static.example.com/token",
				UserInfoEndpoint:      "https://static.example.com/userinfo",
				RevocationEndpoint:    "https://static.example.com/revoke",
			},
			want: Endpoints{
				Authorization: "https://static.example.com/authorize",
				Token:         "https://static.example.com/token",
				UserInfo:      "https://static.example.com/userinfo",
				Revocation:    "https://static.example.com/revoke",
			},
			wantErr: assert.NoError,
		}, {
			name:   "Discovery fills unset endpoints",
			cfg:    config.OAuth{IssuerURL: issuerURL},
			served: discovered,
			want: Endpoints{
				Authorization: discovered.AuthorizationEndpoint,
				Token:         discovered.TokenEndpoint,
				UserInfo:      discovered.UserinfoEndpoint,
				Revocation:    discovered.RevocationEndpoint,
				JWKS:          discovered.JwksURI,
			},
			wantErr: assert.NoError,
		}, {
			name: "Configured endpoints win over discovered ones",
			cfg: config.OAuth{
				IssuerURL:     issuerURL,
				TokenEndpoint: "https://static.example.com/token",
			},
			served: discovered,
			want: Endpoints{
				Authorization: discovered.AuthorizationEndpoint,
				Token:         "https://static.example.com/token",
				UserInfo:      discovered.UserinfoEndpoint,
				Revocation:    discovered.RevocationEndpoint,
				JWKS:          discovered.JwksURI,
			},
			wantErr: assert.NoError,
		}, {
			name:    "No issuer and incomplete endpoints",
			cfg:     config.OAuth{TokenEndpoint: "https://static.example.com/token"},
			wantErr: assert.Error,
		}, {
			name:   "Issuer mismatch",
			cfg:    config.OAuth{IssuerURL: issuerURL},
			served: Configuration{Issuer: "https://evil.example.com"},
			wantErr: func(t assert.TestingT, err error, i ...any) bool {
				return assert.ErrorIs(t, err, ErrIssuerMismatch, i...)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewProvider(tt.cfg, discoveryClient(tt.served, nil))

			got, err := provider.Endpoints(t.Context())

			if !tt.wantErr(t, err) {
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpointsCachesDiscovery(t *testing.T) {
	const issuerURL = "https://idp.example.com"

	var hits atomic.Int32
	provider := NewProvider(config.OAuth{IssuerURL: issuerURL}, discoveryClient(Configuration{
		Issuer:                issuerURL,
		AuthorizationEndpoint: issuerURL + "/oauth/authorize",
		TokenEndpoint:         issuerURL + "/oauth/token",
		UserinfoEndpoint:      issuerURL + "/oauth/userinfo",
		RevocationEndpoint:    issuerURL + "/oauth/revoke",
		JwksURI:               issuerURL + "/oauth/jwks",
	}, &hits))

	_, err := provider.Endpoints(t.Context())
	require.NoError(t, err)
	_, err = provider.Endpoints(t.Context())
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
}

func TestVerifyIDToken(t *testing.T) {
	const issuerURL = "https://idp.example.com"

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: priv},
		(&jose.SignerOptions{}).WithHeader("kid", "test-key"),
	)
	require.NoError(t, err)

	rawToken, err := jwt.Signed(signer).Claims(jwt.Claims{
		Subject: "user-17",
		Issuer:  issuerURL,
		Expiry:  jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).Claims(map[string]any{
		"email": "jo@example.com",
		"name":  "Jo Doe",
	}).Serialize()
	require.NoError(t, err)

	conf := Configuration{
		Issuer:                           issuerURL,
		AuthorizationEndpoint:            issuerURL + "/oauth/authorize",
		TokenEndpoint:                    issuerURL + "/oauth/token",
		UserinfoEndpoint:                 issuerURL + "/oauth/userinfo",
		RevocationEndpoint:               issuerURL + "/oauth/revoke",
		JwksURI:                          issuerURL + "/oauth/jwks",
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}
	keySet := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: priv.Public(), KeyID: "test-key", Algorithm: "RS256", Use: "sig"},
	}}

	httpClient := &http.Client{
		Transport: localRoundTripper{
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var err error
				switch r.URL.Path {
				case wellKnownOpenIDConfigPath:
					err = json.NewEncoder(w).Encode(conf)
				case "/oauth/jwks":
					err = json.NewEncoder(w).Encode(keySet)
				default:
					w.WriteHeader(http.StatusNotFound)
					return
				}
				if err != nil {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}),
		},
	}

	provider := NewProvider(config.OAuth{IssuerURL: issuerURL}, httpClient)

	t.Run("Valid token", func(t *testing.T) {
		got, err := provider.VerifyIDToken(t.Context(), rawToken)
		require.NoError(t, err)

		assert.Equal(t, "user-17", got.Subject)
		assert.Equal(t, "jo@example.com", got.Email)
		assert.Equal(t, "Jo Doe", got.Name)
	})

	t.Run("Garbage token", func(t *testing.T) {
		_, err := provider.VerifyIDToken(t.Context(), "not.a.jwt")
		assert.Error(t, err)
	})

	t.Run("Expired token", func(t *testing.T) {
		expired, err := jwt.Signed(signer).Claims(jwt.Claims{
			Subject: "user-17",
			Issuer:  issuerURL,
			Expiry:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		}).Serialize()
		require.NoError(t, err)

		_, err = provider.VerifyIDToken(t.Context(), expired)
		assert.Error(t, err)
	})

	t.Run("Wrong issuer", func(t *testing.T) {
		foreign, err := jwt.Signed(signer).Claims(jwt.Claims{
			Subject: "user-17",
			Issuer:  "https://evil.example.com",
			Expiry:  jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).Serialize()
		require.NoError(t, err)

		_, err = provider.VerifyIDToken(t.Context(), foreign)
		assert.Error(t, err)
	})

	t.Run("Token signed with another key", func(t *testing.T) {
		otherPriv, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		otherSigner, err := jose.NewSigner(
			jose.SigningKey{Algorithm: jose.RS256, Key: otherPriv},
			(&jose.SignerOptions{}).WithHeader("kid", "test-key"),
		)
		require.NoError(t, err)

		forged, err := jwt.Signed(otherSigner).Claims(jwt.Claims{Subject: "user-17"}).Serialize()
		require.NoError(t, err)

		_, err = provider.VerifyIDToken(t.Context(), forged)
		assert.Error(t, err)
	})
}
