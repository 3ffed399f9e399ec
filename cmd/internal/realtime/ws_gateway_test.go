package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"nearby/cmd/internal/ephemeral"
	"nearby/cmd/internal/room"

	v1 "nearby/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

func newTestGateway(t *testing.T, cfg WSConfig) (*WSGateway, *room.Registry) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := ephemeral.NewMemoryStore()
	reg := room.NewRegistry(log, st)
	mgr := NewManager(log, reg, nil, NewHistory(log, st, 0, 0), WithSendInterval(10*time.Millisecond))
	return NewWSGateway(log, mgr, cfg), reg
}

func startWSTestServer(t *testing.T, gw *WSGateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, baseHTTPURL, origin string, subprotocols ...string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if subprotocols == nil {
		subprotocols = []string{v1.Subprotocol}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: subprotocols,
		HTTPHeader:   h,
	})
}

func writeEventWS(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	env, err := v1.NewEnvelope(typ, "client-"+typ, time.Now(), payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()
	if maxReads <= 0 {
		maxReads = 1
	}
	for i := 0; i < maxReads; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q", typ)
	return v1.Envelope{}
}

func TestWSGateway_JoinSendFanout(t *testing.T) {
	t.Parallel()

	gw, reg := newTestGateway(t, WSConfig{OriginRequired: false, AllowedOrigins: []string{"http://localhost"}})
	ts := startWSTestServer(t, gw)

	rm, err := reg.Create(context.Background(), "lobby", 1, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	alice, _, err := dialWS(t, ts.URL, "")
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer func() { _ = alice.Close(websocket.StatusNormalClosure, "bye") }()

	bob, _, err := dialWS(t, ts.URL, "")
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer func() { _ = bob.Close(websocket.StatusNormalClosure, "bye") }()

	writeEventWS(t, alice, v1.TypeJoinRoom, v1.JoinRoomPayload{RoomID: rm.RoomID, Username: strPtr("alice")})
	readUntilType(t, alice, v1.TypeJoinedRoom, 2)
	writeEventWS(t, bob, v1.TypeJoinRoom, v1.JoinRoomPayload{RoomID: rm.RoomID})
	readUntilType(t, bob, v1.TypeJoinedRoom, 2)

	writeEventWS(t, alice, v1.TypeSendMessage, v1.SendMessagePayload{RoomID: rm.RoomID, Message: "hi bob"})

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		env := readUntilType(t, conn, v1.TypeReceiveMessage, 3)
		var msg v1.MessagePayload
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if msg.Message != "hi bob" || msg.Username == nil || *msg.Username != "alice" {
			t.Fatalf("%s: unexpected message %+v", name, msg)
		}
	}

	// A late joiner sees the message in history.
	carol, _, err := dialWS(t, ts.URL, "")
	if err != nil {
		t.Fatalf("dial carol: %v", err)
	}
	defer func() { _ = carol.Close(websocket.StatusNormalClosure, "bye") }()

	writeEventWS(t, carol, v1.TypeJoinRoom, v1.JoinRoomPayload{RoomID: rm.RoomID})
	env := readUntilType(t, carol, v1.TypeJoinedRoom, 2)
	var ack v1.JoinedRoomPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if len(ack.Messages) != 1 || ack.Messages[0].Message != "hi bob" {
		t.Fatalf("unexpected history %+v", ack.Messages)
	}
}

func TestWSGateway_UnknownRoomError(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(t, WSConfig{OriginRequired: false, AllowedOrigins: []string{"http://localhost"}})
	ts := startWSTestServer(t, gw)

	conn, _, err := dialWS(t, ts.URL, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	writeEventWS(t, conn, v1.TypeJoinRoom, v1.JoinRoomPayload{RoomID: "missing"})
	env := readUntilType(t, conn, v1.TypeError, 1)
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Code != v1.CodeRoomNotFound {
		t.Fatalf("code=%q want=%q", p.Code, v1.CodeRoomNotFound)
	}
}

func TestWSGateway_OriginPolicy(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(t, WSConfig{OriginRequired: true, AllowedOrigins: []string{"http://localhost:5173"}})
	ts := startWSTestServer(t, gw)

	_, resp, err := dialWS(t, ts.URL, "")
	if err == nil {
		t.Fatalf("expected missing origin to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	_, resp, err = dialWS(t, ts.URL, "http://evil.example")
	if err == nil {
		t.Fatalf("expected foreign origin to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	conn, _, err := dialWS(t, ts.URL, "http://localhost:5173")
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func TestWSGateway_RequiresSubprotocol(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(t, WSConfig{OriginRequired: false})
	ts := startWSTestServer(t, gw)

	conn, _, err := dialWS(t, ts.URL, "", "something.else")
	if err != nil {
		// Some servers refuse the handshake outright; either outcome is a rejection.
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusProtocolError {
		t.Fatalf("expected protocol error close, got %v", err)
	}
}

func TestWSGateway_FrameFloodClosesConnection(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(t, WSConfig{OriginRequired: false, RateEvents: 3, RateWindow: time.Minute})
	ts := startWSTestServer(t, gw)

	conn, _, err := dialWS(t, ts.URL, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	for range 4 {
		writeEventWS(t, conn, v1.TypeLeaveRoom, v1.LeaveRoomPayload{RoomID: "r"})
	}

	env := readUntilType(t, conn, v1.TypeError, 1)
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Code != v1.CodeRateLimit {
		t.Fatalf("code=%q want=%q", p.Code, v1.CodeRateLimit)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{"http://localhost:5173", "https://App.example.com", "*", "http://localhost"})
	want := []string{"app.example.com", "app.example.com:*", "localhost", "localhost:*"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns=%v want=%v", got, want)
	}
}
