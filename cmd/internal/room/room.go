// Package room implements the room registry: TTL-bound room records, the active-room index,
// and the nearby scan that lazily reconciles the index against record expiry.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"nearby/cmd/identity/ids"
	"nearby/cmd/internal/ephemeral"
	"nearby/cmd/internal/errs"
	"nearby/cmd/internal/metrics"

	"github.com/go-playground/validator/v10"
)

const (
	keyPrefix = "room:"
	// IndexKey is the set of room ids believed to be live. It has no TTL of its own.
	IndexKey = "rooms:active"

	DefaultTTL     = 2 * time.Hour
	DefaultNameMax = 50
)

// Room is the persisted room record. CreatedAt is unix milliseconds.
type Room struct {
	RoomID    string  `json:"roomId"`
	Name      string  `json:"name"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	CreatedAt int64   `json:"createdAt"`
}

// JoinAck acknowledges an HTTP join.
type JoinAck struct {
	RoomID string `json:"roomId"`
	Status string `json:"status"`
}

// Status describes what the registry knows about a room id.
type Status uint8

const (
	// StatusUnknown means no record and no index entry: the id never existed (or was pruned).
	StatusUnknown Status = iota
	// StatusActive means the record is retrievable.
	StatusActive
	// StatusExpired means the record is gone but the index still listed it.
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

type coords struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lng float64 `validate:"gte=-180,lte=180"`
}

// Registry creates rooms and answers lookups over the ephemeral store.
type Registry struct {
	log      *slog.Logger
	store    ephemeral.Store
	ttl      time.Duration
	nameMax  int
	now      func() time.Time
	validate *validator.Validate
	metrics  *metrics.Metrics
	fetchPar int
}

// Option configures Registry.
type Option func(*Registry)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithNameMax overrides the maximum room name length (in characters).
func WithNameMax(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.nameMax = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithFetchParallelism bounds concurrent record reads during index scans.
func WithFetchParallelism(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.fetchPar = n
		}
	}
}

// NewRegistry constructs a Registry on top of store.
func NewRegistry(log *slog.Logger, store ephemeral.Store, opts ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		log:      log,
		store:    store,
		ttl:      DefaultTTL,
		nameMax:  DefaultNameMax,
		now:      time.Now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		fetchPar: 8,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Create validates input, persists the room with TTL and adds it to the active index.
// The index write is unconditional and never rolled back; readers reconcile.
func (r *Registry) Create(ctx context.Context, name string, lat, lng float64) (Room, error) {
	const op = "room.Create"

	name = strings.TrimSpace(name)
	if err := r.validate.Var(name, fmt.Sprintf("required,max=%d", r.nameMax)); err != nil {
		if name == "" {
			return Room{}, errs.Validation(op, "name is required")
		}
		return Room{}, errs.Validation(op, fmt.Sprintf("name must be at most %d characters", r.nameMax))
	}
	if err := r.validate.Struct(coords{Lat: lat, Lng: lng}); err != nil {
		return Room{}, errs.Validation(op, "lat must be within [-90,90] and lng within [-180,180]")
	}

	id, err := ids.NewToken()
	if err != nil {
		return Room{}, errs.Unavailable(op, err)
	}

	rm := Room{
		RoomID:    id,
		Name:      name,
		Lat:       lat,
		Lng:       lng,
		CreatedAt: r.now().UnixMilli(),
	}
	raw, err := json.Marshal(rm)
	if err != nil {
		return Room{}, err
	}

	if err := r.store.SetWithExpiry(ctx, keyPrefix+id, raw, r.ttl); err != nil {
		return Room{}, errs.Unavailable(op, err)
	}
	if err := r.store.AddToSet(ctx, IndexKey, id); err != nil {
		return Room{}, errs.Unavailable(op, err)
	}

	r.metrics.RoomCreated()
	r.log.Info("room.created", "room_id", id, "lat", lat, "lng", lng)
	return rm, nil
}

// Get returns the room record if it is still retrievable.
// A corrupt record reads as absent.
func (r *Registry) Get(ctx context.Context, roomID string) (Room, bool, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return Room{}, false, nil
	}

	raw, ok, err := r.store.Get(ctx, keyPrefix+roomID)
	if err != nil {
		return Room{}, false, errs.Unavailable("room.Get", err)
	}
	if !ok {
		return Room{}, false, nil
	}

	var rm Room
	if err := json.Unmarshal(raw, &rm); err != nil || rm.RoomID == "" {
		r.log.Warn("room.corrupt", "room_id", roomID, "err", err)
		return Room{}, false, nil
	}
	return rm, true, nil
}

// Join is the HTTP-facing existence check. It never touches the index.
func (r *Registry) Join(ctx context.Context, roomID string) (JoinAck, error) {
	_, ok, err := r.Get(ctx, roomID)
	if err != nil {
		return JoinAck{}, err
	}
	if !ok {
		return JoinAck{}, errs.NotFound("room.Join", "room not found")
	}
	return JoinAck{RoomID: roomID, Status: "joined"}, nil
}

// Status classifies roomID. A dangling index entry found here is pruned, like any other read path.
func (r *Registry) Status(ctx context.Context, roomID string) (Status, error) {
	_, ok, err := r.Get(ctx, roomID)
	if err != nil {
		return StatusUnknown, err
	}
	if ok {
		return StatusActive, nil
	}

	members, err := r.store.Members(ctx, IndexKey)
	if err != nil {
		return StatusUnknown, errs.Unavailable("room.Status", err)
	}
	if !slices.Contains(members, roomID) {
		return StatusUnknown, nil
	}

	r.prune(ctx, []string{roomID})
	return StatusExpired, nil
}
