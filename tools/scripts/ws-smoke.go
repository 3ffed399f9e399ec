// Package main provides a CI-friendly WebSocket smoke test for the nearby realtime gateway.
//
// It validates:
//   - room creation over HTTP
//   - handshake + subprotocol selection
//   - join_room -> joined_room with history
//   - send_message fan-out to every member, sender included
//   - history replay for a late joiner
//   - the per-connection send interval
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "nearby/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

type createdRoom struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

func main() {
	var (
		baseURL = flag.String("http", "http://127.0.0.1:3000", "HTTP base URL")
		wsURL   = flag.String("url", "ws://127.0.0.1:3000/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		lat     = flag.Float64("lat", 30.7333, "Room latitude")
		lng     = flag.Float64("lng", 76.7794, "Room longitude")
		text    = flag.String("text", "hello nearby 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	roomID := mustCreateRoom(root, *baseURL, *origin, *lat, *lng, *timeout)
	if *verbose {
		fmt.Printf("room created: %s\n", roomID)
	}

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	mustJoin(root, a, roomID, "alice", 0, *timeout)
	mustJoin(root, b, roomID, "bob", 0, *timeout)

	mustSend(root, a, roomID, *text, *timeout)
	mustReceive(root, a, roomID, "alice", *text, *timeout)
	mustReceive(root, b, roomID, "alice", *text, *timeout)

	// A second send inside the interval is rejected for A only.
	mustSend(root, a, roomID, *text, *timeout)
	mustError(root, a, v1.CodeRateLimit, *timeout)
	mustAssertNoType(root, b, v1.TypeReceiveMessage, 500*time.Millisecond)

	c := mustConnect(root, "C", *wsURL, *origin, *timeout)
	defer closeWS(c.conn)
	mustJoin(root, c, roomID, "", 1, *timeout)

	fmt.Printf("OK: room=%s fanout=2 history=1\n", roomID)
}

func mustCreateRoom(parent context.Context, base, origin string, lat, lng float64, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := mustJSON(map[string]any{"name": "smoke-" + time.Now().UTC().Format("150405"), "lat": lat, "lng": lng})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/rooms", bytes.NewReader(body))
	if err != nil {
		fatalf("build create room request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("create room: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		fatalf("create room: status=%d", resp.StatusCode)
	}
	var room createdRoom
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		fatalf("decode room: %v", err)
	}
	if strings.TrimSpace(room.RoomID) == "" {
		fatalf("create room: empty roomId")
	}
	return room.RoomID
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, roomID, username string, wantHistory int, stepTimeout time.Duration) {
	p := v1.JoinRoomPayload{RoomID: roomID}
	if username != "" {
		p.Username = &username
	}
	mustWriteWithTimeout(parent, c.conn, clientEnvelope(c.name+"-join", v1.TypeJoinRoom, p), stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeJoinedRoom, stepTimeout, nil)

	var ack v1.JoinedRoomPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		fatalf("unmarshal joined_room payload (%s): %v", c.name, err)
	}
	if ack.RoomID != roomID || ack.Status != v1.JoinStatusJoined {
		fatalf("joined_room mismatch (%s): room=%q status=%q", c.name, ack.RoomID, ack.Status)
	}
	if ack.Messages == nil {
		fatalf("joined_room messages must be an array (%s)", c.name)
	}
	if len(ack.Messages) != wantHistory {
		fatalf("joined_room history (%s): got=%d want=%d", c.name, len(ack.Messages), wantHistory)
	}
}

func mustSend(parent context.Context, c *smokeClient, roomID, text string, stepTimeout time.Duration) {
	env := clientEnvelope(fmt.Sprintf("%s-send-%d", c.name, time.Now().UnixNano()), v1.TypeSendMessage,
		v1.SendMessagePayload{RoomID: roomID, Message: text})
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustReceive(parent context.Context, c *smokeClient, roomID, username, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeReceiveMessage, stepTimeout, nil)

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal receive_message payload (%s): %v", c.name, err)
	}
	if p.RoomID != roomID || p.Message != text {
		fatalf("receive_message mismatch (%s): room=%q text=%q", c.name, p.RoomID, p.Message)
	}
	if p.Username == nil || *p.Username != username {
		fatalf("receive_message username mismatch (%s): %v", c.name, p.Username)
	}
	if strings.TrimSpace(p.SenderID) == "" || p.Timestamp <= 0 {
		fatalf("receive_message missing sender/timestamp (%s)", c.name)
	}
}

func mustError(parent context.Context, c *smokeClient, code string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for error %q (%s)", code, c.name)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for error %q (%s)", code, c.name)
			}
			if env.Type != v1.TypeError {
				fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, v1.TypeError)
			}
			var ep v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &ep)
			if ep.Code != code {
				fatalf("error code mismatch (%s): got=%q want=%q", c.name, ep.Code, code)
			}
			return
		}
	}
}

func clientEnvelope(id, typ string, payload any) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
