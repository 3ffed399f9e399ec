package ephemeral

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock shared by the in-process store tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) (Store, func(time.Duration)) {
		clk := newFakeClock()
		return NewMemoryStore(WithClock(clk.Now)), clk.Advance
	})
}

func TestMemoryStore_WrongKind(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	ctx := testCtx(t)

	if err := st.SetWithExpiry(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("SetWithExpiry: %v", err)
	}
	if err := st.PushFront(ctx, "k", []byte("x")); err == nil {
		t.Fatalf("expected wrong-kind error pushing onto a string key")
	}
	if _, err := st.Members(ctx, "k"); err == nil {
		t.Fatalf("expected wrong-kind error reading a string key as a set")
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	ctx := testCtx(t)

	buf := []byte("abc")
	if err := st.PushFront(ctx, "l", buf); err != nil {
		t.Fatalf("PushFront: %v", err)
	}
	buf[0] = 'z'

	got, err := st.Range(ctx, "l", 0, -1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if string(got[0]) != "abc" {
		t.Fatalf("store must not alias caller buffers, got %q", got[0])
	}
}

func TestMemoryStore_ConcurrentPushTrim(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	ctx := testCtx(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = st.PushFront(ctx, "l", []byte("m"))
				_ = st.Trim(ctx, "l", 50)
			}
		}()
	}
	wg.Wait()

	got, err := st.Range(ctx, "l", 0, -1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("expected list capped at 50, got %d", len(got))
	}
}
