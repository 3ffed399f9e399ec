// Package session manages short-lived identity records: a username bound to an unguessable id,
// kept in the ephemeral store until its TTL elapses or it is deleted.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"nearby/cmd/identity/ids"
	"nearby/cmd/internal/ephemeral"
	"nearby/cmd/internal/errs"
	"nearby/cmd/internal/metrics"

	"github.com/go-playground/validator/v10"
)

const keyPrefix = "session:"

// DefaultTTL matches the room lifetime window.
const DefaultTTL = 2 * time.Hour

// Session is the persisted identity record. CreatedAt is unix milliseconds.
type Session struct {
	SessionID string `json:"sessionId"`
	Username  string `json:"username"`
	CreatedAt int64  `json:"createdAt"`
}

type createInput struct {
	Username string `validate:"required"`
}

// Manager creates, validates and deletes sessions.
type Manager struct {
	log      *slog.Logger
	store    ephemeral.Store
	ttl      time.Duration
	now      func() time.Time
	validate *validator.Validate
	metrics  *metrics.Metrics
}

// Option configures Manager.
type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager constructs a Manager on top of store.
func NewManager(log *slog.Logger, store ephemeral.Store, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		log:      log,
		store:    store,
		ttl:      DefaultTTL,
		now:      time.Now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Create persists a new session for username.
func (m *Manager) Create(ctx context.Context, username string) (Session, error) {
	in := createInput{Username: strings.TrimSpace(username)}
	if err := m.validate.Struct(in); err != nil {
		return Session{}, errs.Validation("session.Create", "username is required")
	}

	id, err := ids.NewToken()
	if err != nil {
		return Session{}, errs.Unavailable("session.Create", err)
	}

	s := Session{
		SessionID: id,
		Username:  in.Username,
		CreatedAt: m.now().UnixMilli(),
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return Session{}, err
	}

	if err := m.store.SetWithExpiry(ctx, keyPrefix+id, raw, m.ttl); err != nil {
		return Session{}, errs.Unavailable("session.Create", err)
	}
	m.metrics.SessionCreated()
	return s, nil
}

// Validate returns the session if it exists and is well formed.
// Missing, expired and corrupt records all report found=false; only store failures are errors.
func (m *Manager) Validate(ctx context.Context, sessionID string) (Session, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Session{}, false, nil
	}

	raw, ok, err := m.store.Get(ctx, keyPrefix+sessionID)
	if err != nil {
		return Session{}, false, errs.Unavailable("session.Validate", err)
	}
	if !ok {
		return Session{}, false, nil
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil || s.SessionID == "" || s.Username == "" {
		m.log.Warn("session.corrupt", "session_id", sessionID, "err", err)
		return Session{}, false, nil
	}
	return s, true, nil
}

// Delete removes the session. It is idempotent and reports whether a record existed.
func (m *Manager) Delete(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, nil
	}
	existed, err := m.store.Delete(ctx, keyPrefix+sessionID)
	if err != nil {
		return false, errs.Unavailable("session.Delete", err)
	}
	return existed, nil
}
