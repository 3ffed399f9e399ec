package ephemeral

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"nearby/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when NEARBY_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_Contract(t *testing.T) {
	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	runStoreContract(t, func(t *testing.T) (Store, func(time.Duration)) {
		schema := "nearby_it_" + strings.ToLower(ids.MustULID(time.Now()))
		t.Cleanup(func() { mustDropSchema(t, pool, schema) })

		st, err := NewPostgresStore(pool, WithSchema(schema))
		if err != nil {
			t.Fatalf("NewPostgresStore: %v", err)
		}
		clk := newFakeClock()
		st.now = clk.Now

		if err := st.Migrate(testCtx(t)); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		return st, clk.Advance
	})
}

func TestPostgresStore_PurgeExpired(t *testing.T) {
	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := "nearby_it_" + strings.ToLower(ids.MustULID(time.Now()))
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	clk := newFakeClock()
	st.now = clk.Now

	ctx := testCtx(t)
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	_ = st.SetWithExpiry(ctx, "a", []byte("1"), time.Second)
	_ = st.SetWithExpiry(ctx, "b", []byte("2"), time.Hour)
	clk.Advance(2 * time.Second)

	n, err := st.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("PurgeExpired removed %d rows, want 1", n)
	}
}

func TestWithSchema_RejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "  ", "1abc", "a;drop", "a-b"} {
		st := &PostgresStore{}
		if err := WithSchema(s)(st); err == nil {
			t.Fatalf("WithSchema(%q) expected error", s)
		}
	}
	st := &PostgresStore{}
	if err := WithSchema("nearby_dev")(st); err != nil || st.schema != "nearby_dev" {
		t.Fatalf("WithSchema(valid) err=%v schema=%q", err, st.schema)
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("NEARBY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: NEARBY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping postgres: %v", err)
	}
	return pool
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}
