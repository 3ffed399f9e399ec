package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ClientEvent is the closed set of client -> server events. Only this package implements it.
type ClientEvent interface {
	clientEvent()
}

// JoinRoom is the decoded form of a join_room envelope.
type JoinRoom struct{ JoinRoomPayload }

// LeaveRoom is the decoded form of a leave_room envelope.
type LeaveRoom struct{ LeaveRoomPayload }

// SendMessage is the decoded form of a send_message envelope.
type SendMessage struct{ SendMessagePayload }

func (JoinRoom) clientEvent()    {}
func (LeaveRoom) clientEvent()   {}
func (SendMessage) clientEvent() {}

// ErrNotClientEvent is returned when a structurally valid envelope carries a server-only type.
var ErrNotClientEvent = errors.New("not a client event")

// ParseClientEvent decodes raw into an envelope and its typed client event.
// Field-level checks (empty roomId, message length) are left to the caller.
func ParseClientEvent(raw []byte) (Envelope, ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return env, nil, err
	}

	switch env.Type {
	case TypeJoinRoom:
		var p JoinRoomPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return env, nil, err
		}
		return env, JoinRoom{p}, nil
	case TypeLeaveRoom:
		var p LeaveRoomPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return env, nil, err
		}
		return env, LeaveRoom{p}, nil
	case TypeSendMessage:
		var p SendMessagePayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return env, nil, err
		}
		return env, SendMessage{p}, nil
	default:
		return env, nil, fmt.Errorf("%w: %q", ErrNotClientEvent, env.Type)
	}
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.New("missing field: payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// NewEnvelope marshals payload into a v1 envelope.
func NewEnvelope(typ, id string, ts time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      id,
		TS:      ts.UTC(),
		Payload: raw,
	}, nil
}
