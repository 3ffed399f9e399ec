package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"nearby/cmd/internal/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL, for deployments that already run a database
// and do not want a Redis dependency.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//   - Close() is therefore a no-op.
//
// Expiry is evaluated at read time against expires_at; PurgeExpired reclaims dead rows.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "nearby").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("ephemeral: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("ephemeral: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "nearby",
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("ephemeral: nil pool")
	}
	return st, nil
}

// Migrate creates the schema and tables when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
  key        TEXT PRIMARY KEY,
  value      BYTEA NOT NULL,
  expires_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS %[3]s (
  set_key TEXT NOT NULL,
  member  TEXT NOT NULL,
  PRIMARY KEY (set_key, member)
);

CREATE TABLE IF NOT EXISTS %[4]s (
  list_key   TEXT PRIMARY KEY,
  expires_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS %[5]s (
  id       BIGSERIAL PRIMARY KEY,
  list_key TEXT NOT NULL REFERENCES %[4]s(list_key) ON DELETE CASCADE,
  value    BYTEA NOT NULL
);

CREATE INDEX IF NOT EXISTS list_items_key_id_idx ON %[5]s (list_key, id DESC);
`,
		pgx.Identifier{s.schema}.Sanitize(),
		s.table("kv_entries"),
		s.table("set_members"),
		s.table("list_heads"),
		s.table("list_items"),
	)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return errs.Unavailable("postgres.Migrate", err)
	}
	return nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return errs.Unavailable("postgres.Ping", s.pool.Ping(ctx))
}

func (s *PostgresStore) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var exp *time.Time
	if ttl > 0 {
		t := s.now().Add(ttl)
		exp = &t
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("kv_entries")+` (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, exp,
	)
	return errs.Unavailable("postgres.SetWithExpiry", err)
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM `+s.table("kv_entries")+`
		  WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, s.now(),
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Unavailable("postgres.Get", err)
	}
	return v, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) (bool, error) {
	now := s.now()
	var removed int64

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM `+s.table("kv_entries")+` WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
			key, now)
		if err != nil {
			return err
		}
		removed += tag.RowsAffected()

		tag, err = tx.Exec(ctx,
			`DELETE FROM `+s.table("list_heads")+` WHERE list_key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
			key, now)
		if err != nil {
			return err
		}
		removed += tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM `+s.table("set_members")+` WHERE set_key = $1`, key)
		if err != nil {
			return err
		}
		removed += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return false, errs.Unavailable("postgres.Delete", err)
	}
	return removed > 0, nil
}

func (s *PostgresStore) AddToSet(ctx context.Context, setKey, member string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("set_members")+` (set_key, member) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		setKey, member)
	return errs.Unavailable("postgres.AddToSet", err)
}

func (s *PostgresStore) RemoveFromSet(ctx context.Context, setKey string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table("set_members")+` WHERE set_key = $1 AND member = ANY($2)`,
		setKey, members)
	return errs.Unavailable("postgres.RemoveFromSet", err)
}

func (s *PostgresStore) Members(ctx context.Context, setKey string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT member FROM `+s.table("set_members")+` WHERE set_key = $1`, setKey)
	if err != nil {
		return nil, errs.Unavailable("postgres.Members", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errs.Unavailable("postgres.Members", err)
	}
	return out, nil
}

func (s *PostgresStore) PushFront(ctx context.Context, listKey string, value []byte) error {
	now := s.now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// An expired list is gone: the push starts a fresh one without TTL.
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+s.table("list_heads")+` WHERE list_key = $1 AND expires_at IS NOT NULL AND expires_at <= $2`,
			listKey, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("list_heads")+` (list_key) VALUES ($1) ON CONFLICT DO NOTHING`,
			listKey); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("list_items")+` (list_key, value) VALUES ($1, $2)`,
			listKey, value)
		return err
	})
	return errs.Unavailable("postgres.PushFront", err)
}

func (s *PostgresStore) Trim(ctx context.Context, listKey string, maxLen int) error {
	if maxLen <= 0 {
		_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("list_heads")+` WHERE list_key = $1`, listKey)
		return errs.Unavailable("postgres.Trim", err)
	}
	items := s.table("list_items")
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+items+`
		  WHERE list_key = $1
		    AND id NOT IN (SELECT id FROM `+items+` WHERE list_key = $1 ORDER BY id DESC LIMIT $2)`,
		listKey, maxLen)
	return errs.Unavailable("postgres.Trim", err)
}

func (s *PostgresStore) RefreshExpiry(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		_, err := s.Delete(ctx, key)
		return err
	}
	now := s.now()
	exp := now.Add(ttl)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE `+s.table("kv_entries")+` SET expires_at = $2
			  WHERE key = $1 AND (expires_at IS NULL OR expires_at > $3)`,
			key, exp, now); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE `+s.table("list_heads")+` SET expires_at = $2
			  WHERE list_key = $1 AND (expires_at IS NULL OR expires_at > $3)`,
			key, exp, now)
		return err
	})
	return errs.Unavailable("postgres.RefreshExpiry", err)
}

func (s *PostgresStore) Range(ctx context.Context, listKey string, start, end int) ([][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT i.value
		   FROM `+s.table("list_items")+` i
		   JOIN `+s.table("list_heads")+` h ON h.list_key = i.list_key
		  WHERE i.list_key = $1 AND (h.expires_at IS NULL OR h.expires_at > $2)
		  ORDER BY i.id DESC`,
		listKey, s.now())
	if err != nil {
		return nil, errs.Unavailable("postgres.Range", err)
	}
	all, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, errs.Unavailable("postgres.Range", err)
	}
	lo, hi := normalizeRange(start, end, len(all))
	return all[lo:hi], nil
}

// PurgeExpired deletes rows whose TTL elapsed and reports how many were removed.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()

	a, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("kv_entries")+` WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, errs.Unavailable("postgres.PurgeExpired", err)
	}
	b, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("list_heads")+` WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return a.RowsAffected(), errs.Unavailable("postgres.PurgeExpired", err)
	}
	return a.RowsAffected() + b.RowsAffected(), nil
}

func (s *PostgresStore) table(name string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{s.schema, name}.Sanitize()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}
