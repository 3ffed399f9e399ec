package realtime

import (
	"strconv"
	"sync/atomic"
	"time"

	"nearby/cmd/identity/ids"
)

// envelopeSeq numbers fallback envelope ids within this process.
var envelopeSeq atomic.Uint64

// NewConnID returns a ULID identifying one socket connection. It doubles as senderId.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID for outbound envelopes. If entropy is unavailable it
// falls back to "<unix ms>-<seq>", which is unique per process and never empty.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return fallbackEnvelopeID(now)
	}
	return id
}

func fallbackEnvelopeID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.FormatUint(envelopeSeq.Add(1), 10)
}
