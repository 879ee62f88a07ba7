package socket

import (
	"encoding/json"

	"github.com/totegamma/postbox/core"
)

const (
	welcomeMessage = "Connected to notifications"

	errInvalidJSON      = "Invalid JSON message"
	errInvalidAuthFrame = "Invalid authentication message format"
	errTokenRequired    = "Authentication token required"
	errRateLimited      = "Rate limit exceeded"
	errTooManyConns     = "Too many connections"
)

func welcomeFrame(identity string) []byte {
	b, _ := json.Marshal(core.Frame{
		Type:    core.FrameTypeConnectionEstablished,
		UserID:  identity,
		Message: welcomeMessage,
	})
	return b
}

func statsFrame(stats core.ChannelStats) []byte {
	b, _ := json.Marshal(core.Frame{
		Type: core.FrameTypeStats,
		Data: stats,
	})
	return b
}
