// Package ephemeral defines the TTL-governed record store consumed by the session, room and
// realtime layers, together with its in-memory, Redis and Postgres implementations.
package ephemeral

import (
	"context"
	"time"
)

// Store is the narrow contract the core depends on.
//
// Every method is atomic on its own. Sequences of calls are NOT atomic: callers must tolerate
// interleavings with other connections (e.g. PushFront/Trim/RefreshExpiry on a shared list).
//
// Absence is never an error: Get reports found=false, Delete reports false.
// Backend failures are returned as errs.ErrUnavailable.
type Store interface {
	// SetWithExpiry stores value under key, replacing any previous value and TTL.
	SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Delete(ctx context.Context, key string) (bool, error)

	// Sets carry no TTL of their own.
	AddToSet(ctx context.Context, setKey, member string) error
	RemoveFromSet(ctx context.Context, setKey string, members ...string) error
	Members(ctx context.Context, setKey string) ([]string, error)

	// Lists are most-recent-first: PushFront prepends, Trim keeps the first maxLen entries.
	PushFront(ctx context.Context, listKey string, value []byte) error
	Trim(ctx context.Context, listKey string, maxLen int) error
	RefreshExpiry(ctx context.Context, key string, ttl time.Duration) error
	// Range returns entries start..end inclusive; negative indexes count from the tail.
	Range(ctx context.Context, listKey string, start, end int) ([][]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// normalizeRange maps inclusive start/end (negatives from the tail) onto [lo, hi) for a list of n.
func normalizeRange(start, end, n int) (lo, hi int) {
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	if n == 0 || start > end {
		return 0, 0
	}
	return start, end + 1
}
