package ephemeral

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memKind uint8

const (
	memString memKind = iota + 1
	memSet
	memList
)

type memEntry struct {
	kind      memKind
	value     []byte
	set       map[string]struct{}
	list      [][]byte // index 0 is the most recent entry
	expiresAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store used by tests and single-node dev runs.
// Expiry is evaluated lazily on access against the injected clock.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*memEntry
}

// MemoryOption configures MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, letting tests move time forward deterministically.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:     time.Now,
		entries: make(map[string]*memEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var errWrongKind = errors.New("ephemeral: operation against a key holding the wrong kind of value")

// lookup returns the live entry for key, dropping it if expired. Caller holds mu.
func (s *MemoryStore) lookup(key string) *memEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &memEntry{kind: memString, value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return nil, false, nil
	}
	if e.kind != memString {
		return nil, false, errWrongKind
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookup(key) == nil {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStore) AddToSet(ctx context.Context, setKey, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(setKey)
	if e == nil {
		e = &memEntry{kind: memSet, set: make(map[string]struct{})}
		s.entries[setKey] = e
	}
	if e.kind != memSet {
		return errWrongKind
	}
	e.set[member] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveFromSet(ctx context.Context, setKey string, members ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(setKey)
	if e == nil {
		return nil
	}
	if e.kind != memSet {
		return errWrongKind
	}
	for _, m := range members {
		delete(e.set, m)
	}
	if len(e.set) == 0 {
		delete(s.entries, setKey)
	}
	return nil
}

func (s *MemoryStore) Members(ctx context.Context, setKey string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(setKey)
	if e == nil {
		return nil, nil
	}
	if e.kind != memSet {
		return nil, errWrongKind
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) PushFront(ctx context.Context, listKey string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(listKey)
	if e == nil {
		e = &memEntry{kind: memList}
		s.entries[listKey] = e
	}
	if e.kind != memList {
		return errWrongKind
	}
	e.list = append([][]byte{append([]byte(nil), value...)}, e.list...)
	return nil
}

func (s *MemoryStore) Trim(ctx context.Context, listKey string, maxLen int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(listKey)
	if e == nil {
		return nil
	}
	if e.kind != memList {
		return errWrongKind
	}
	if maxLen <= 0 {
		delete(s.entries, listKey)
		return nil
	}
	if len(e.list) > maxLen {
		e.list = e.list[:maxLen:maxLen]
	}
	return nil
}

func (s *MemoryStore) RefreshExpiry(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return nil
	}
	if ttl <= 0 {
		delete(s.entries, key)
		return nil
	}
	e.expiresAt = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) Range(ctx context.Context, listKey string, start, end int) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(listKey)
	if e == nil {
		return nil, nil
	}
	if e.kind != memList {
		return nil, errWrongKind
	}
	lo, hi := normalizeRange(start, end, len(e.list))
	out := make([][]byte, 0, hi-lo)
	for _, v := range e.list[lo:hi] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
