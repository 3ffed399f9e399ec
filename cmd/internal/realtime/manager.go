package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"nearby/cmd/internal/errs"
	"nearby/cmd/internal/metrics"
	"nearby/cmd/internal/room"

	v1 "nearby/shared/contracts/realtime/v1"
)

// RoomStatuser answers whether a room is live, expired, or unknown.
type RoomStatuser interface {
	Status(ctx context.Context, roomID string) (room.Status, error)
}

// Manager applies join/leave/send semantics for socket connections.
// It never returns errors to the transport: every rejection becomes an error event on the client.
type Manager struct {
	log      *slog.Logger
	rooms    RoomStatuser
	hub      *Hub
	history  *History
	limiter  *SendLimiter
	maxChars int
	now      func() time.Time
	metrics  *metrics.Metrics
}

// ManagerOption configures Manager.
type ManagerOption func(*Manager)

// WithSendInterval sets the per-connection minimum gap between sends.
func WithSendInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.limiter = NewSendLimiter(d) }
}

// WithMessageMaxChars overrides DefaultMessageMaxChars.
func WithMessageMaxChars(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxChars = n
		}
	}
}

// WithManagerClock replaces time.Now.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithManagerMetrics attaches Prometheus counters.
func WithManagerMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager wires a Manager. hub may be nil, in which case a fresh Hub is created.
func NewManager(log *slog.Logger, rooms RoomStatuser, hub *Hub, history *History, opts ...ManagerOption) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	m := &Manager{
		log:      log,
		rooms:    rooms,
		hub:      hub,
		history:  history,
		limiter:  NewSendLimiter(DefaultSendInterval),
		maxChars: DefaultMessageMaxChars,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Hub exposes the broadcast groups (for tests and diagnostics).
func (m *Manager) Hub() *Hub { return m.hub }

// Handle decodes one inbound frame and dispatches it.
func (m *Manager) Handle(ctx context.Context, c *Client, raw []byte) {
	_, ev, err := v1.ParseClientEvent(raw)
	if err != nil {
		m.metrics.MessageRejected(metrics.ReasonInvalid)
		m.emitError(c, v1.CodeInvalidPayload, invalidPayloadMessage(err))
		return
	}

	switch e := ev.(type) {
	case v1.JoinRoom:
		m.Join(ctx, c, e.RoomID, e.Username)
	case v1.LeaveRoom:
		m.Leave(c, e.RoomID)
	case v1.SendMessage:
		m.Send(ctx, c, e.RoomID, e.Message)
	}
}

func invalidPayloadMessage(err error) string {
	if errors.Is(err, v1.ErrNotClientEvent) {
		return "unsupported event type"
	}
	return fmt.Sprintf("invalid payload: %v", err)
}

// Join subscribes c to roomID after confirming the room is live, attaches username
// (overwriting any previous value), and acknowledges with the room's history.
func (m *Manager) Join(ctx context.Context, c *Client, roomID string, username *string) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		m.metrics.Join("invalid")
		m.emitError(c, v1.CodeInvalidPayload, "roomId is required")
		return
	}

	if c.closed() {
		return
	}

	status, err := m.rooms.Status(ctx, roomID)
	if err != nil {
		m.metrics.Join("unavailable")
		m.log.Warn("ws.join.fail", "conn_id", c.ID, "room_id", roomID, "err", err)
		m.reject(c, err)
		return
	}
	switch status {
	case room.StatusExpired:
		m.metrics.Join("expired")
		m.emitError(c, v1.CodeRoomExpired, "Room has expired")
		return
	case room.StatusUnknown:
		m.metrics.Join("not_found")
		m.emitError(c, v1.CodeRoomNotFound, "Room not found")
		return
	}

	// The connection may have gone away while Status was in flight.
	if !m.hub.Subscribe(roomID, c) {
		m.log.Debug("ws.join.abandoned", "conn_id", c.ID, "room_id", roomID)
		return
	}
	c.SetUsername(username)

	msgs, err := m.history.Recent(ctx, roomID)
	if err != nil {
		m.metrics.HistoryFailure()
		m.log.Warn("history.read.fail", "room_id", roomID, "err", err)
		msgs = nil
	}
	if msgs == nil {
		msgs = []v1.MessagePayload{}
	}

	m.metrics.Join("joined")
	m.log.Info("ws.join", "conn_id", c.ID, "room_id", roomID, "history", len(msgs))
	m.emit(c, v1.TypeJoinedRoom, v1.JoinedRoomPayload{
		RoomID:   roomID,
		Status:   v1.JoinStatusJoined,
		Username: c.Username(),
		Messages: msgs,
	})
}

// Leave unsubscribes c from roomID. No acknowledgement; leaving a room never joined is a no-op.
func (m *Manager) Leave(c *Client, roomID string) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return
	}
	if m.hub.Unsubscribe(roomID, c) {
		m.log.Info("ws.leave", "conn_id", c.ID, "room_id", roomID)
	}
}

// Send validates, rate limits, records and broadcasts one message.
// The rate-limit slot is consumed before the length check, so an oversized message
// still counts against the interval.
func (m *Manager) Send(ctx context.Context, c *Client, roomID, text string) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || text == "" {
		m.metrics.MessageRejected(metrics.ReasonInvalid)
		m.reject(c, errs.Validation("realtime.Send", "roomId and message are required"))
		return
	}
	if c.closed() {
		return
	}

	now := m.now()
	if !m.limiter.Allow(c.ID, now) {
		m.metrics.MessageRejected(metrics.ReasonRateLimit)
		m.reject(c, errs.RateLimited("realtime.Send", "Too many messages. Please wait a moment."))
		return
	}
	// Disconnect may have released the limiter between the check above and Allow.
	if c.closed() {
		m.limiter.Release(c.ID)
		return
	}

	if utf8.RuneCountInString(text) > m.maxChars {
		m.metrics.MessageRejected(metrics.ReasonTooLong)
		m.reject(c, errs.MessageTooLong("realtime.Send", fmt.Sprintf("Message too long (max %d characters)", m.maxChars)))
		return
	}

	msg := v1.MessagePayload{
		Message:   text,
		Timestamp: now.UnixMilli(),
		SenderID:  c.ID,
		Username:  c.Username(),
		RoomID:    roomID,
	}

	if err := m.history.Append(ctx, msg); err != nil {
		m.metrics.HistoryFailure()
		m.log.Warn("history.append.fail", "room_id", roomID, "conn_id", c.ID, "err", err)
	}

	env, err := v1.NewEnvelope(v1.TypeReceiveMessage, NewEnvelopeID(now), now, msg)
	if err != nil {
		m.log.Error("ws.encode.fail", "type", v1.TypeReceiveMessage, "err", err)
		return
	}

	_, dropped := m.hub.Broadcast(roomID, env)
	m.metrics.MessageSent()
	for range dropped {
		m.metrics.FanoutDropped()
	}
}

// Disconnect closes c and releases all per-connection state. Handlers still running for c
// observe the closed client and neither subscribe nor record send times afterwards.
func (m *Manager) Disconnect(c *Client) {
	if c == nil {
		return
	}
	c.Close()
	m.limiter.Release(c.ID)
	m.hub.UnsubscribeAll(c)
}

func (m *Manager) emit(c *Client, typ string, payload any) {
	now := m.now()
	env, err := v1.NewEnvelope(typ, NewEnvelopeID(now), now, payload)
	if err != nil {
		m.log.Error("ws.encode.fail", "type", typ, "err", err)
		return
	}
	if !c.enqueue(env) {
		m.metrics.FanoutDropped()
		m.log.Info("ws.enqueue.drop", "conn_id", c.ID, "type", typ)
	}
}

// reject reports err to c as an error event, mapping its kind onto a wire code.
func (m *Manager) reject(c *Client, err error) {
	m.emitError(c, errorCode(err), errs.Message(err))
}

func errorCode(err error) string {
	switch {
	case errs.IsValidation(err):
		return v1.CodeInvalidPayload
	case errs.IsNotFound(err):
		return v1.CodeRoomNotFound
	case errs.IsRateLimited(err):
		return v1.CodeRateLimit
	case errs.IsMessageTooLong(err):
		return v1.CodeMessageTooLong
	default:
		return v1.CodeUnavailable
	}
}

func (m *Manager) emitError(c *Client, code, msg string) {
	m.emit(c, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}
