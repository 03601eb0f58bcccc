package realtime

import "time"

const (
	// Max bytes per websocket frame read. Inbound frames are small control
	// messages.
	maxFrameBytes = 4 << 10 // 4 KiB

	// Heartbeat defaults.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (inbound frames per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
