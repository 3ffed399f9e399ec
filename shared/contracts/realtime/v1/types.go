// Package v1 defines the Nearby Realtime Protocol v1 contract.
//
// It is shared between the server and clients (including tools/scripts/ws-smoke.go)
// so the wire shapes stay authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "nearby.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeJoinRoom subscribes the connection to a room (client -> server).
	TypeJoinRoom = "join_room"
	// TypeLeaveRoom unsubscribes from a room (client -> server). No response.
	TypeLeaveRoom = "leave_room"
	// TypeSendMessage posts a message into a room (client -> server).
	TypeSendMessage = "send_message"

	// TypeJoinedRoom acknowledges a join and carries history (server -> client).
	TypeJoinedRoom = "joined_room"
	// TypeReceiveMessage fans a message out to every room member, sender included.
	TypeReceiveMessage = "receive_message"
	// TypeError is a structured, non-fatal error (server -> client).
	TypeError = "error"
)

// Error codes carried by ErrorPayload.Code.
const (
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeRoomNotFound   = "ROOM_NOT_FOUND"
	CodeRoomExpired    = "ROOM_EXPIRED"
	CodeRateLimit      = "RATE_LIMIT"
	CodeMessageTooLong = "MESSAGE_TOO_LONG"
	CodeUnavailable    = "UNAVAILABLE"
)

// JoinStatusJoined is the only status a successful join reports.
const JoinStatusJoined = "joined"

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitzero"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeJoinRoom,
		TypeLeaveRoom,
		TypeSendMessage,
		TypeJoinedRoom,
		TypeReceiveMessage,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// JoinRoomPayload requests membership in a room. Username, when present, replaces the
// name attached to the connection.
type JoinRoomPayload struct {
	RoomID   string  `json:"roomId"`
	Username *string `json:"username,omitempty"`
}

// LeaveRoomPayload drops membership in a room.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendMessagePayload posts text into a room.
type SendMessagePayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// MessagePayload is one chat message as broadcast and as stored in history.
// Username is null for anonymous senders; Timestamp is unix milliseconds.
type MessagePayload struct {
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
	SenderID  string  `json:"senderId"`
	Username  *string `json:"username"`
	RoomID    string  `json:"roomId"`
}

// JoinedRoomPayload acknowledges a join. Messages are oldest-first.
type JoinedRoomPayload struct {
	RoomID   string           `json:"roomId"`
	Status   string           `json:"status"`
	Username *string          `json:"username"`
	Messages []MessagePayload `json:"messages"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
