package app

import (
	"context"
	"errors"
	"fmt"

	"nearby/cmd/internal/ephemeral"

	"github.com/jackc/pgx/v5/pgxpool"
)

// storeBundle is the selected ephemeral backend plus whatever it needs closed at shutdown.
type storeBundle struct {
	kind  string
	store ephemeral.Store

	// Set only for the postgres backend; the app owns the pool lifecycle.
	pool *pgxpool.Pool
	pg   *ephemeral.PostgresStore
}

func (b storeBundle) Close() error {
	err := b.store.Close()
	if b.pool != nil {
		b.pool.Close()
	}
	return err
}

// newStore builds the backend chosen by cfg.Store.
func newStore(ctx context.Context, cfg Config, log Logger) (storeBundle, error) {
	switch cfg.Store {
	case StoreMemory:
		log.Info("store.enabled", "kind", StoreMemory)
		return storeBundle{kind: StoreMemory, store: ephemeral.NewMemoryStore()}, nil

	case StoreRedis:
		client, err := NewRedisClient(ctx, cfg)
		if err != nil {
			return storeBundle{}, err
		}
		st, err := ephemeral.NewRedisStore(client)
		if err != nil {
			_ = client.Close()
			return storeBundle{}, err
		}
		log.Info("store.enabled", "kind", StoreRedis)
		return storeBundle{kind: StoreRedis, store: st}, nil

	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return storeBundle{}, errors.New("NEARBY_STORE=postgres requires NEARBY_DATABASE_URL")
		}
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return storeBundle{}, err
		}
		pg, err := ephemeral.NewPostgresStore(pool, ephemeral.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return storeBundle{}, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return storeBundle{}, err
		}
		log.Info("store.enabled", "kind", StorePostgres, "schema", cfg.DBSchema)
		return storeBundle{kind: StorePostgres, store: pg, pool: pool, pg: pg}, nil

	default:
		return storeBundle{}, fmt.Errorf("unknown NEARBY_STORE %q (want memory, redis or postgres)", cfg.Store)
	}
}

// purgeExpired is the sweeper hook: Redis and memory expire keys themselves, Postgres needs a delete pass.
func (b storeBundle) purgeExpired(log Logger) func(context.Context) {
	if b.pg == nil {
		return nil
	}
	return func(ctx context.Context) {
		n, err := b.pg.PurgeExpired(ctx)
		if err != nil {
			log.Warn("store.purge.fail", "err", err)
			return
		}
		if n > 0 {
			log.Debug("store.purge", "rows", n)
		}
	}
}
