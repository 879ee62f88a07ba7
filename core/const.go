package core

const (
	RequesterTypeCtxKey  = "pb-requesterType"
	RequesterIdCtxKey    = "pb-requesterId"
	RequesterEmailCtxKey = "pb-requesterEmail"
)

const (
	TokenQueryParam = "token"
)

const (
	Unknown = iota
	LocalUser
)

func RequesterTypeString(t int) string {
	switch t {
	case LocalUser:
		return "LocalUser"
	case Unknown:
		return "Unknown"
	default:
		return "Error"
	}
}

// frame types of the notification channel
const (
	FrameTypeConnectionEstablished = "connection_established"
	FrameTypeNewMessage            = "new_message"
	FrameTypeMessageRead           = "message_read"
	FrameTypePing                  = "ping"
	FrameTypePong                  = "pong"
	FrameTypeGetStats              = "get_stats"
	FrameTypeStats                 = "stats"
)

type EventType int

const (
	EventUnknown EventType = iota
	EventNewMessage
	EventMessageRead
)

// FrameType returns the wire frame type the event is delivered as
func (t EventType) FrameType() string {
	switch t {
	case EventNewMessage:
		return FrameTypeNewMessage
	case EventMessageRead:
		return FrameTypeMessageRead
	default:
		return "unknown"
	}
}

func (t EventType) String() string {
	switch t {
	case EventNewMessage:
		return "NewMessage"
	case EventMessageRead:
		return "MessageRead"
	default:
		return "Unknown"
	}
}
