package business

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/perimetra/authgate/internal/config"
	sessionsql "github.com/perimetra/authgate/internal/session/sql"
)

// HousekeeperMain runs the periodic purge of expired session rows. Only the
// postgres backend needs it: valkey records carry a key TTL and the cookie
// store has nothing server-side to clean up.
func HousekeeperMain(ctx context.Context, cfg *config.Config) error {
	if cfg.Store.Kind != config.StoreKindPostgres {
		slogctx.Info(ctx, "Housekeeping is a no-op for this store", "store", cfg.Store.Kind)
		return nil
	}

	pool, err := dbPoolFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising database pool: %w", err)
	}
	defer pool.Close()

	store := sessionsql.New(pool, cfg.Cookies.Session, cfg.Session.TTL)

	c := time.Tick(cfg.Housekeeper.TriggerInterval)
	for {
		purged, err := store.PurgeExpired(ctx)
		if err != nil {
			slogctx.Error(ctx, "Error during session housekeeping", "error", err)
		} else if purged > 0 {
			slogctx.Info(ctx, "Purged expired sessions", "count", purged)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}
