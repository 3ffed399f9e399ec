package realtime

import "time"

// Security/performance limits for the socket transport.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 16 << 10 // 16 KiB

	// Heartbeat defaults (overridable via NEARBY_WS_HEARTBEAT_*).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Frame-flood guard: raw frames per window, independent of the chat send interval.
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)

// Chat limits.
const (
	// DefaultSendInterval is the minimum gap between two accepted sends on one connection.
	DefaultSendInterval = time.Second
	// DefaultMessageMaxChars caps message text, counted in characters (runes).
	DefaultMessageMaxChars = 300
	// DefaultHistoryLimit caps the stored message sequence per room.
	DefaultHistoryLimit = 50
	// DefaultHistoryTTL is refreshed on every append.
	DefaultHistoryTTL = 2 * time.Hour
)
