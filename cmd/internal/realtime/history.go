package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"nearby/cmd/internal/ephemeral"
	"nearby/cmd/internal/errs"

	v1 "nearby/shared/contracts/realtime/v1"
)

// History is the bounded per-room message log: most-recent-first in the store,
// capped at limit entries, TTL refreshed on every append.
type History struct {
	log   *slog.Logger
	store ephemeral.Store
	limit int
	ttl   time.Duration
}

// NewHistory constructs a History. Non-positive limit/ttl fall back to the defaults.
func NewHistory(log *slog.Logger, store ephemeral.Store, limit int, ttl time.Duration) *History {
	if log == nil {
		log = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &History{log: log, store: store, limit: limit, ttl: ttl}
}

// HistoryKey is the store key of roomID's message list.
func HistoryKey(roomID string) string {
	return "room:" + roomID + ":messages"
}

// Append pushes msg, trims to the limit, then refreshes the TTL.
// The three calls are not atomic: a concurrent append may briefly see limit+1 entries,
// and a failure after the push leaves the list untrimmed until the next append.
func (h *History) Append(ctx context.Context, msg v1.MessagePayload) error {
	const op = "history.Append"

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := HistoryKey(msg.RoomID)
	if err := h.store.PushFront(ctx, key, raw); err != nil {
		return errs.Unavailable(op, err)
	}
	if err := h.store.Trim(ctx, key, h.limit); err != nil {
		return errs.Unavailable(op, err)
	}
	if err := h.store.RefreshExpiry(ctx, key, h.ttl); err != nil {
		return errs.Unavailable(op, err)
	}
	return nil
}

// Recent returns up to limit messages for roomID in chronological (oldest-first) order.
// Undecodable entries are skipped.
func (h *History) Recent(ctx context.Context, roomID string) ([]v1.MessagePayload, error) {
	raws, err := h.store.Range(ctx, HistoryKey(roomID), 0, h.limit-1)
	if err != nil {
		return nil, errs.Unavailable("history.Recent", err)
	}

	out := make([]v1.MessagePayload, 0, len(raws))
	for _, raw := range raws {
		var m v1.MessagePayload
		if err := json.Unmarshal(raw, &m); err != nil {
			h.log.Warn("history.corrupt", "room_id", roomID, "err", err)
			continue
		}
		out = append(out, m)
	}
	slices.Reverse(out)
	return out, nil
}
