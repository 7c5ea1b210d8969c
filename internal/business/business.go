// Package business wires the configuration into running services: the
// public HTTP gateway, the database migrator and the housekeeper job.
package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	"github.com/perimetra/authgate/internal/apiclient"
	"github.com/perimetra/authgate/internal/business/server"
	"github.com/perimetra/authgate/internal/config"
	"github.com/perimetra/authgate/internal/oidc"
	"github.com/perimetra/authgate/internal/session"
	sessioncookie "github.com/perimetra/authgate/internal/session/cookie"
	sessionsql "github.com/perimetra/authgate/internal/session/sql"
	sessionvalkey "github.com/perimetra/authgate/internal/session/valkey"
)

// Main starts the HTTP gateway and blocks until the context is cancelled.
func Main(ctx context.Context, cfg *config.Config) error {
	manager, api, store, closeFn, err := initGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the gateway: %w", err)
	}
	defer closeFn()

	return server.StartHTTPServer(ctx, cfg, manager, api, store)
}

// initGateway builds the session store, manager and API client from the
// configuration.
func initGateway(ctx context.Context, cfg *config.Config) (_ *session.Manager, _ *apiclient.Client, _ session.Store, closeFn func(), _ error) {
	store, closeFn, err := sessionStoreFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("initialising the session store: %w", err)
	}

	httpClient, err := loadHTTPClient(cfg)
	if err != nil {
		closeFn()
		return nil, nil, nil, nil, fmt.Errorf("loading http client: %w", err)
	}

	provider := oidc.NewProvider(cfg.OAuth, httpClient)

	manager, err := session.NewManager(cfg, provider, store, httpClient)
	if err != nil {
		closeFn()
		return nil, nil, nil, nil, fmt.Errorf("creating session manager: %w", err)
	}

	// The authenticating transport is scoped to the authorization server.
	// Resource API calls carry the user's bearer token and must never see
	// the client credentials.
	api, err := apiclient.New(cfg.OAuth, manager, http.DefaultClient)
	if err != nil {
		closeFn()
		return nil, nil, nil, nil, fmt.Errorf("creating API client: %w", err)
	}

	return manager, api, store, closeFn, nil
}

// sessionStoreFromConfig selects the session backend. The cookie store
// keeps everything client-side; valkey and postgres keep records
// server-side behind an opaque ID cookie.
func sessionStoreFromConfig(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	noop := func() {}

	switch cfg.Store.Kind {
	case config.StoreKindCookie, "":
		hashKey, err := commoncfg.LoadValueFromSourceRef(cfg.Cookies.HashKey)
		if err != nil {
			return nil, nil, fmt.Errorf("loading cookie hash key: %w", err)
		}

		var blockKey []byte
		if cfg.Cookies.BlockKey.Source != "" {
			blockKey, err = commoncfg.LoadValueFromSourceRef(cfg.Cookies.BlockKey)
			if err != nil {
				return nil, nil, fmt.Errorf("loading cookie block key: %w", err)
			}
		}

		store, err := sessioncookie.New(cfg.Cookies.Session, hashKey, blockKey)
		if err != nil {
			return nil, nil, fmt.Errorf("creating cookie store: %w", err)
		}

		return store, noop, nil

	case config.StoreKindValkey:
		valkeyClient, err := valkeyClientFromConfig(cfg)
		if err != nil {
			return nil, nil, err
		}

		store := sessionvalkey.New(valkeyClient, cfg.ValKey.Prefix, cfg.Cookies.Session, cfg.Session.TTL)

		return store, valkeyClient.Close, nil

	case config.StoreKindPostgres:
		pool, err := dbPoolFromConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		store := sessionsql.New(pool, cfg.Cookies.Session, cfg.Session.TTL)

		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown session store kind: %q", cfg.Store.Kind)
	}
}

func valkeyClientFromConfig(cfg *config.Config) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.ValKey.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.ValKey.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}

func dbPoolFromConfig(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("making dsn from config: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	return pool, nil
}

// loadHTTPClient builds the client used against the authorization server,
// carrying the configured client authentication.
func loadHTTPClient(cfg *config.Config) (*http.Client, error) {
	clientID, err := commoncfg.LoadValueFromSourceRef(cfg.OAuth.ClientID)
	if err != nil {
		return nil, fmt.Errorf("loading client id: %w", err)
	}

	switch cfg.OAuth.ClientAuth.Type {
	case "mtls":
		tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.OAuth.ClientAuth.MTLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load mTLS config: %w", err)
		}

		return &http.Client{
			Transport: &clientAuthRoundTripper{
				clientID: string(clientID),
				next: &http.Transport{
					TLSClientConfig: tlsConfig,
				},
			},
		}, nil
	case "client_secret":
		secret, err := commoncfg.LoadValueFromSourceRef(cfg.OAuth.ClientAuth.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("loading client secret: %w", err)
		}

		return &http.Client{
			Transport: &clientAuthRoundTripper{
				clientID:     string(clientID),
				clientSecret: string(secret),
				next:         http.DefaultTransport,
			},
		}, nil
	case "insecure", "":
		return http.DefaultClient, nil
	default:
		return nil, errors.New("unknown Client Auth type")
	}
}

type clientAuthRoundTripper struct {
	clientID     string
	clientSecret string
	next         http.RoundTripper
}

func (t *clientAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	q := req.URL.Query()
	q.Set("client_id", t.clientID)

	if t.clientSecret != "" {
		q.Set("client_secret", t.clientSecret)
	}

	req.URL.RawQuery = q.Encode()

	return t.next.RoundTrip(req)
}
