package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"nearby/cmd/internal/ephemeral"
	"nearby/cmd/internal/errs"
	"nearby/cmd/internal/room"

	v1 "nearby/shared/contracts/realtime/v1"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// brokenListStore fails every list operation, leaving keys and sets intact.
type brokenListStore struct {
	*ephemeral.MemoryStore
}

var errListDown = errors.New("list backend down")

func (brokenListStore) PushFront(context.Context, string, []byte) error { return errListDown }
func (brokenListStore) Range(context.Context, string, int, int) ([][]byte, error) {
	return nil, errListDown
}

type stubRooms struct {
	status room.Status
	err    error
}

func (s stubRooms) Status(context.Context, string) (room.Status, error) { return s.status, s.err }

// gatedRooms reports every room active, but only after release is closed.
type gatedRooms struct {
	entered chan struct{}
	release chan struct{}
}

func (g gatedRooms) Status(ctx context.Context, _ string) (room.Status, error) {
	close(g.entered)
	select {
	case <-g.release:
		return room.StatusActive, nil
	case <-ctx.Done():
		return room.StatusUnknown, ctx.Err()
	}
}

type managerFixture struct {
	mgr      *Manager
	registry *room.Registry
	store    *ephemeral.MemoryStore
	clock    *testClock
}

func newManagerFixture(t *testing.T, st ephemeral.Store, mem *ephemeral.MemoryStore, clk *testClock) managerFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := room.NewRegistry(log, st, room.WithClock(clk.Now))
	hist := NewHistory(log, st, DefaultHistoryLimit, DefaultHistoryTTL)
	mgr := NewManager(log, reg, nil, hist, WithManagerClock(clk.Now))
	return managerFixture{mgr: mgr, registry: reg, store: mem, clock: clk}
}

func newMemoryFixture(t *testing.T) managerFixture {
	t.Helper()
	clk := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mem := ephemeral.NewMemoryStore(ephemeral.WithClock(clk.Now))
	return newManagerFixture(t, mem, mem, clk)
}

func (f managerFixture) createRoom(t *testing.T) string {
	t.Helper()
	rm, err := f.registry.Create(context.Background(), "lobby", 40, -73)
	if err != nil {
		t.Fatalf("Create room: %v", err)
	}
	return rm.RoomID
}

func newTestClient(id string) *Client { return NewClient(id, 64) }

// drain returns every envelope currently queued for c.
func drain(c *Client) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func only(t *testing.T, c *Client, typ string) v1.Envelope {
	t.Helper()
	got := drain(c)
	if len(got) != 1 {
		t.Fatalf("expected exactly one envelope, got %d: %+v", len(got), got)
	}
	if got[0].Type != typ {
		t.Fatalf("type=%q want=%q payload=%s", got[0].Type, typ, got[0].Payload)
	}
	return got[0]
}

func decode[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return v
}

func strPtr(s string) *string { return &s }

func TestJoin_UnknownRoomYieldsErrorOnly(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	c := newTestClient("c1")

	f.mgr.Join(context.Background(), c, "nope", nil)

	p := decode[v1.ErrorPayload](t, only(t, c, v1.TypeError))
	if p.Code != v1.CodeRoomNotFound {
		t.Fatalf("code=%q want=%q", p.Code, v1.CodeRoomNotFound)
	}
	if f.mgr.Hub().Members("nope") != 0 {
		t.Fatalf("failed join must not subscribe")
	}
}

func TestJoin_ExpiredRoomHasDedicatedCode(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	roomID := f.createRoom(t)
	f.clock.Advance(room.DefaultTTL + time.Second)

	c := newTestClient("c1")
	f.mgr.Join(context.Background(), c, roomID, nil)

	p := decode[v1.ErrorPayload](t, only(t, c, v1.TypeError))
	if p.Code != v1.CodeRoomExpired {
		t.Fatalf("code=%q want=%q", p.Code, v1.CodeRoomExpired)
	}
}

func TestJoin_MissingRoomIDAndUnavailable(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	c := newTestClient("c1")
	f.mgr.Join(context.Background(), c, "  ", nil)
	if p := decode[v1.ErrorPayload](t, only(t, c, v1.TypeError)); p.Code != v1.CodeInvalidPayload {
		t.Fatalf("code=%q want=%q", p.Code, v1.CodeInvalidPayload)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	down := NewManager(log, stubRooms{err: errors.New("redis: connection refused")}, nil, f.mgr.history)
	down.Join(context.Background(), c, "r1", nil)
	p := decode[v1.ErrorPayload](t, only(t, c, v1.TypeError))
	if p.Code != v1.CodeUnavailable {
		t.Fatalf("code=%q want=%q", p.Code, v1.CodeUnavailable)
	}
	if strings.Contains(p.Message, "redis") {
		t.Fatalf("backend detail leaked to client: %q", p.Message)
	}
}

func TestJoinThenSend_DeliversExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	roomID := f.createRoom(t)
	ctx := context.Background()
	c := newTestClient("c1")

	f.mgr.Join(ctx, c, roomID, strPtr("ghost"))
	ack := decode[v1.JoinedRoomPayload](t, only(t, c, v1.TypeJoinedRoom))
	if ack.RoomID != roomID || ack.Status != v1.JoinStatusJoined {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if ack.Username == nil || *ack.Username != "ghost" {
		t.Fatalf("username=%v want ghost", ack.Username)
	}
	if ack.Messages == nil || len(ack.Messages) != 0 {
		t.Fatalf("expected empty (non-nil) history, got %+v", ack.Messages)
	}

	f.mgr.Send(ctx, c, roomID, "hi")
	msg := decode[v1.MessagePayload](t, only(t, c, v1.TypeReceiveMessage))
	if msg.Message != "hi" || msg.SenderID != "c1" || msg.RoomID != roomID {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Username == nil || *msg.Username != "ghost" {
		t.Fatalf("message username=%v want ghost", msg.Username)
	}
	if msg.Timestamp != f.clock.Now().UnixMilli() {
		t.Fatalf("timestamp=%d want=%d", msg.Timestamp, f.clock.Now().UnixMilli())
	}
}

func TestJoin_UsernameIsOverwritten(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	roomID := f.createRoom(t)
	ctx := context.Background()
	c := newTestClient("c1")

	f.mgr.Join(ctx, c, roomID, strPtr("first"))
	drain(c)
	f.mgr.Join(ctx, c, roomID, nil)
	ack := decode[v1.JoinedRoomPayload](t, only(t, c, v1.TypeJoinedRoom))
	if ack.Username != nil {
		t.Fatalf("expected username cleared, got %q", *ack.Username)
	}
	if f.mgr.Hub().Members(roomID) != 1 {
		t.Fatalf("rejoin must not duplicate membership")
	}
}

func TestSend_BroadcastsToAllMembers(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	roomID := f.createRoom(t)
	other := f.createRoom(t)
	ctx := context.Background()

	a, b, outsider := newTestClient("a"), newTestClient("b"), newTestClient("x")
	f.mgr.Join(ctx, a, roomID, nil)
	f.mgr.Join(ctx, b, roomID, nil)
	f.mgr.Join(ctx, outsider, other, nil)
	drain(a)
	drain(b)
	drain(outsider)

	f.mgr.Send(ctx, a, roomID, "hello")

	only(t, a, v1.TypeReceiveMessage)
	got := decode[v1.MessagePayload](t, only(t, b, v1.TypeReceiveMessage))
	if got.Username != nil {
		t.Fatalf("anonymous sender should broadcast null username")
	}
	if n := len(drain(outsider)); n != 0 {
		t.Fatalf("outsider received %d envelopes", n)
	}
}

func TestSend_RateLimit(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	roomID := f.createRoom(t)
	ctx := context.Background()
	c := newTestClient("c1")
	f.mgr.Join(ctx, c, roomID, nil)
	drain(c)

	f.mgr.Send(ctx, c, roomID, "one")
	only(t, c, v1.TypeReceiveMessage)

	f.clock.Advance(999 * time.Millisecond)
	f.mgr.Send(ctx, c, roomID, "two")
	if p := decode[v1.ErrorPayload](t, only(t, c, v1.TypeError)); p.Code != v1.CodeRateLimit {
		t.Fatalf("code=%q want=%q", p.Code, v1.CodeRateLimit)
	}

	// The rejected send did not reset the window: 1000ms after the first accepted send is enough.
	f.clock.Advance(time.Millisecond)
	f.mgr.Send(ctx, c, roomID, "three")
	only(t, c, v1.TypeReceiveMessage)

	// Another connection is limited independently.
	d := newTestClient("c2")
	f.mgr.Join(ctx, d, roomID, nil)
	drain(d)
	f.mgr.Send(ctx, d, roomID, "four")
	only(t, d, v1.TypeReceiveMessage)
	drain(c)
}

func TestSend_LengthBoundary(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	roomID := f.createRoom(t)
	ctx := context.Background()
	c := newTestClient("c1")
	f.mgr.Join(ctx, c, roomID, nil)
	drain(c)

	f.mgr.Send(ctx, c, roomID, strings.Repeat("a", 300))
	only(t, c, v1.TypeReceiveMessage)

	f.clock.Advance(time.Second)
	f.mgr.Send(ctx, c, roomID, strings.Repeat("a", 301))
	if p := decode[v1.ErrorPayload](t, only(t, c, v1.TypeError)); p.Code != v1.CodeMessageTooLong {
		t.Fatalf("code=%q want=%q", p.Code, v1.CodeMessageTooLong)
	}

	// Multi-byte characters count once each.
	f.clock.Advance(time.Second)
	f.mgr.Send(ctx, c, roomID, strings.Repeat("ü", 300))
	only(t, c, v1.TypeReceiveMessage)
}

func TestSend_TooLongStillConsumesRateSlot(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	roomID := f.createRoom(t)
	ctx := context.Background()
	c := newTestClient("c1")
	f.mgr.Join(ctx, c, roomID, nil)
	drain(c)

	f.mgr.Send(ctx, c, roomID, strings.Repeat("a", 301))
	only(t, c, v1.TypeError)

	f.clock.Advance(500 * time.Millisecond)
	f.mgr.Send(ctx, c, roomID, "ok")
	if p := decode[v1.ErrorPayload](t, only(t, c, v1.TypeError)); p.Code != v1.CodeRateLimit {
		t.Fatalf("code=%q want=%q", p.Code, v1.CodeRateLimit)
	}
}

func TestSend_EmptyFieldsRejected(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	c := newTestClient("c1")

	f.mgr.Send(context.Background(), c, "", "hi")
	only(t, c, v1.TypeError)
	f.mgr.Send(context.Background(), c, "r1", "")
	only(t, c, v1.TypeError)
}

func TestHistory_CappedAndChronologicalOnJoin(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	roomID := f.createRoom(t)
	ctx := context.Background()
	sender := newTestClient("s")
	f.mgr.Join(ctx, sender, roomID, nil)

	for i := range 60 {
		f.mgr.Send(ctx, sender, roomID, string(rune('A'+i%26))+strings.Repeat("x", i))
		f.clock.Advance(time.Second)
	}

	n, err := f.store.Range(ctx, HistoryKey(roomID), 0, -1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(n) != DefaultHistoryLimit {
		t.Fatalf("stored=%d want=%d", len(n), DefaultHistoryLimit)
	}

	c := newTestClient("late")
	f.mgr.Join(ctx, c, roomID, nil)
	ack := decode[v1.JoinedRoomPayload](t, only(t, c, v1.TypeJoinedRoom))
	if len(ack.Messages) != DefaultHistoryLimit {
		t.Fatalf("history=%d want=%d", len(ack.Messages), DefaultHistoryLimit)
	}
	for i := 1; i < len(ack.Messages); i++ {
		if ack.Messages[i-1].Timestamp >= ack.Messages[i].Timestamp {
			t.Fatalf("history not oldest-first at %d", i)
		}
	}
	// The ten oldest messages were trimmed.
	if got := len(ack.Messages[0].Message); got != 11 {
		t.Fatalf("oldest retained message length=%d want=11", got)
	}
}

func TestSend_PersistenceFailureStillBroadcasts(t *testing.T) {
	t.Parallel()

	clk := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mem := ephemeral.NewMemoryStore(ephemeral.WithClock(clk.Now))
	f := newManagerFixture(t, brokenListStore{MemoryStore: mem}, mem, clk)
	roomID := f.createRoom(t)
	ctx := context.Background()
	c := newTestClient("c1")

	// History read fails too: the join degrades to an empty history.
	f.mgr.Join(ctx, c, roomID, nil)
	ack := decode[v1.JoinedRoomPayload](t, only(t, c, v1.TypeJoinedRoom))
	if len(ack.Messages) != 0 {
		t.Fatalf("expected empty history, got %+v", ack.Messages)
	}

	f.mgr.Send(ctx, c, roomID, "still here")
	msg := decode[v1.MessagePayload](t, only(t, c, v1.TypeReceiveMessage))
	if msg.Message != "still here" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestLeaveAndDisconnect(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	r1, r2 := f.createRoom(t), f.createRoom(t)
	ctx := context.Background()
	c := newTestClient("c1")

	f.mgr.Leave(c, r1) // not joined: no-op
	if n := len(drain(c)); n != 0 {
		t.Fatalf("leave must not respond, got %d envelopes", n)
	}

	f.mgr.Join(ctx, c, r1, nil)
	f.mgr.Join(ctx, c, r2, nil)
	f.mgr.Send(ctx, c, r1, "x")
	drain(c)

	f.mgr.Leave(c, r1)
	if f.mgr.Hub().Members(r1) != 0 || f.mgr.Hub().Members(r2) != 1 {
		t.Fatalf("unexpected membership after leave")
	}

	f.mgr.Disconnect(c)
	if f.mgr.Hub().Members(r2) != 0 {
		t.Fatalf("disconnect must drop every subscription")
	}
	if f.mgr.limiter.Len() != 0 {
		t.Fatalf("disconnect must release limiter state")
	}
}

func TestJoin_DisconnectDuringLookupDoesNotSubscribe(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := ephemeral.NewMemoryStore()
	rooms := gatedRooms{entered: make(chan struct{}), release: make(chan struct{})}
	mgr := NewManager(log, rooms, nil, NewHistory(log, mem, 0, 0))
	c := newTestClient("c1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		mgr.Join(context.Background(), c, "r1", strPtr("ana"))
	}()

	<-rooms.entered
	mgr.Disconnect(c)
	close(rooms.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("join did not return")
	}

	if n := mgr.Hub().Members("r1"); n != 0 {
		t.Fatalf("members of r1 after disconnect=%d want 0", n)
	}
	if joined := c.Rooms(); len(joined) != 0 {
		t.Fatalf("client rooms after disconnect=%v want none", joined)
	}
	if n := len(drain(c)); n != 0 {
		t.Fatalf("closed client received %d envelopes", n)
	}
}

func TestSend_AfterDisconnectLeavesNoState(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	id := f.createRoom(t)
	ctx := context.Background()
	a, b := newTestClient("a"), newTestClient("b")

	f.mgr.Join(ctx, a, id, nil)
	f.mgr.Join(ctx, b, id, nil)
	drain(a)
	drain(b)

	f.mgr.Disconnect(a)
	f.mgr.Send(ctx, a, id, "late")

	if n := f.mgr.limiter.Len(); n != 0 {
		t.Fatalf("limiter entries after disconnect+send=%d want 0", n)
	}
	if n := len(drain(b)); n != 0 {
		t.Fatalf("message from a disconnected client was broadcast (%d envelopes)", n)
	}
	msgs, err := f.mgr.history.Recent(ctx, id)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("history after late send=%v err=%v", msgs, err)
	}
}

func TestSend_TrimsRoomID(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	id := f.createRoom(t)
	ctx := context.Background()
	c := newTestClient("c1")

	f.mgr.Join(ctx, c, " "+id+" ", nil)
	drain(c)

	f.mgr.Send(ctx, c, " "+id, "hi")

	p := decode[v1.MessagePayload](t, only(t, c, v1.TypeReceiveMessage))
	if p.RoomID != id {
		t.Fatalf("roomId=%q want %q", p.RoomID, id)
	}
	msgs, err := f.mgr.history.Recent(ctx, id)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("history under trimmed id=%v err=%v", msgs, err)
	}
}

func TestErrorCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{err: errs.Validation("op", "bad"), want: v1.CodeInvalidPayload},
		{err: errs.NotFound("op", "room"), want: v1.CodeRoomNotFound},
		{err: errs.RateLimited("op", "wait"), want: v1.CodeRateLimit},
		{err: errs.MessageTooLong("op", "long"), want: v1.CodeMessageTooLong},
		{err: errs.Unavailable("op", errors.New("down")), want: v1.CodeUnavailable},
		{err: errors.New("plain"), want: v1.CodeUnavailable},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.want {
			t.Fatalf("errorCode(%v)=%q want=%q", tc.err, got, tc.want)
		}
	}
}

func TestHandle_InvalidFrames(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	c := newTestClient("c1")

	for _, raw := range []string{
		`not json`,
		`{"v":"v1","type":"joined_room","payload":{}}`,
		`{"v":"v1","type":"explode","payload":{}}`,
	} {
		f.mgr.Handle(context.Background(), c, []byte(raw))
		if p := decode[v1.ErrorPayload](t, only(t, c, v1.TypeError)); p.Code != v1.CodeInvalidPayload {
			t.Fatalf("%s: code=%q want=%q", raw, p.Code, v1.CodeInvalidPayload)
		}
	}
}

func TestHandle_RoutesClientEvents(t *testing.T) {
	t.Parallel()

	f := newMemoryFixture(t)
	roomID := f.createRoom(t)
	c := newTestClient("c1")
	ctx := context.Background()

	f.mgr.Handle(ctx, c, []byte(`{"v":"v1","type":"join_room","payload":{"roomId":"`+roomID+`","username":"ghost"}}`))
	only(t, c, v1.TypeJoinedRoom)

	f.mgr.Handle(ctx, c, []byte(`{"v":"v1","type":"send_message","payload":{"roomId":"`+roomID+`","message":"hi"}}`))
	only(t, c, v1.TypeReceiveMessage)

	f.mgr.Handle(ctx, c, []byte(`{"v":"v1","type":"leave_room","payload":{"roomId":"`+roomID+`"}}`))
	if f.mgr.Hub().Members(roomID) != 0 {
		t.Fatalf("leave_room did not unsubscribe")
	}
}
