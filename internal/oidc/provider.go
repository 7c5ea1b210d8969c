// Package oidc resolves the endpoints and signing keys of the remote
// authorization server, either from static configuration or through
// OpenID Connect discovery.
package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	gocache "github.com/patrickmn/go-cache"

	"github.com/perimetra/authgate/internal/config"
)

const wellKnownOpenIDConfigPath = "/.well-known/openid-configuration"

const (
	cacheKeyConfiguration = "wkoc"
	cacheKeyJWKS          = "jwks"
)

var ErrIssuerMismatch = errors.New("issuer in discovery document does not match configured issuer")

// Endpoints are the resolved remote URLs the auth flow talks to.
type Endpoints struct {
	Authorization string
	Token         string
	UserInfo      string
	Revocation    string
	JWKS          string
}

// IdentityClaims is the identity subset extracted from a verified ID token.
type IdentityClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// Provider resolves endpoints for a single authorization server. Discovery
// and JWKS responses are cached; explicitly configured endpoints always win
// over discovered ones.
type Provider struct {
	issuerURL string
	static    Endpoints
	client    *http.Client
	cache     *gocache.Cache
}

func NewProvider(cfg config.OAuth, client *http.Client) *Provider {
	if client == nil {
		client = http.DefaultClient
	}

	return &Provider{
		issuerURL: cfg.IssuerURL,
		static: Endpoints{
			Authorization: cfg.AuthorizationEndpoint,
			Token:         cfg.TokenEndpoint,
			UserInfo:      cfg.UserInfoEndpoint,
			Revocation:    cfg.RevocationEndpoint,
		},
		client: client,
		cache:  gocache.New(gocache.NoExpiration, 0),
	}
}

// Endpoints returns the resolved endpoint set. Discovery only runs when at
// least one endpoint is unset and an issuer is configured.
func (p *Provider) Endpoints(ctx context.Context) (Endpoints, error) {
	eps := p.static
	if eps.Authorization != "" && eps.Token != "" && eps.UserInfo != "" && eps.Revocation != "" {
		return eps, nil
	}

	if p.issuerURL == "" {
		return Endpoints{}, errors.New("incomplete endpoint configuration and no issuer URL for discovery")
	}

	conf, err := p.configuration(ctx)
	if err != nil {
		return Endpoints{}, fmt.Errorf("discovering openid configuration: %w", err)
	}

	if eps.Authorization == "" {
		eps.Authorization = conf.AuthorizationEndpoint
	}
	if eps.Token == "" {
		eps.Token = conf.TokenEndpoint
	}
	if eps.UserInfo == "" {
		eps.UserInfo = conf.UserinfoEndpoint
	}
	if eps.Revocation == "" {
		eps.Revocation = conf.RevocationEndpoint
	}
	eps.JWKS = conf.JwksURI

	return eps, nil
}

func (p *Provider) configuration(ctx context.Context) (Configuration, error) {
	if cached, ok := p.cache.Get(cacheKeyConfiguration); ok {
		//nolint:forcetypeassert
		return cached.(Configuration), nil
	}

	u, err := url.JoinPath(p.issuerURL, wellKnownOpenIDConfigPath)
	if err != nil {
		return Configuration{}, fmt.Errorf("building path to the well-known openid-config endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Configuration{}, fmt.Errorf("creating an HTTP request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Configuration{}, fmt.Errorf("doing an HTTP request: %w", err)
	}
	defer resp.Body.Close()

	var conf Configuration
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return Configuration{}, fmt.Errorf("decoding a well-known openid config: %w", err)
	}

	if conf.Issuer != p.issuerURL {
		return Configuration{}, ErrIssuerMismatch
	}

	p.cache.Set(cacheKeyConfiguration, conf, 0)

	return conf, nil
}

func (p *Provider) keySet(ctx context.Context, jwksURI string) (*jose.JSONWebKeySet, error) {
	if cached, ok := p.cache.Get(cacheKeyJWKS); ok {
		//nolint:forcetypeassert
		return cached.(*jose.JSONWebKeySet), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("creating a new HTTP request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing an http request: %w", err)
	}
	defer resp.Body.Close()

	var keySet jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keySet); err != nil {
		return nil, fmt.Errorf("decoding keyset response: %w", err)
	}

	p.cache.Set(cacheKeyJWKS, &keySet, 0)

	return &keySet, nil
}

// VerifyIDToken checks the token signature against the provider JWKS,
// validates expiry and issuer, and returns the identity claims. The
// accepted algorithms come from the discovery document, falling back to
// RS256.
func (p *Provider) VerifyIDToken(ctx context.Context, rawIDToken string) (IdentityClaims, error) {
	conf, err := p.configuration(ctx)
	if err != nil {
		return IdentityClaims{}, fmt.Errorf("getting openid configuration: %w", err)
	}

	algs := make([]jose.SignatureAlgorithm, 0, len(conf.IDTokenSigningAlgValuesSupported))
	for _, alg := range conf.IDTokenSigningAlgValuesSupported {
		algs = append(algs, jose.SignatureAlgorithm(alg))
	}
	if len(algs) == 0 {
		algs = []jose.SignatureAlgorithm{jose.RS256}
	}

	token, err := jwt.ParseSigned(rawIDToken, algs)
	if err != nil {
		return IdentityClaims{}, fmt.Errorf("parsing id token: %w", err)
	}

	keyset, err := p.keySet(ctx, conf.JwksURI)
	if err != nil {
		return IdentityClaims{}, fmt.Errorf("getting jwks for a provider: %w", err)
	}

	var standardClaims jwt.Claims
	var identity IdentityClaims
	if err := token.Claims(keyset, &standardClaims, &identity); err != nil {
		return IdentityClaims{}, fmt.Errorf("getting JWT claims: %w", err)
	}

	if err := standardClaims.Validate(jwt.Expected{
		Issuer: p.issuerURL,
		Time:   time.Now(),
	}); err != nil {
		return IdentityClaims{}, fmt.Errorf("validating id token claims: %w", err)
	}

	identity.Subject = standardClaims.Subject

	return identity, nil
}
