package core

import (
	"encoding/json"
	"io"
	"time"
)

// Identity is an authenticated user as seen by the gate
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// NotificationEvent is a live signal for a recipient. never persisted
type NotificationEvent struct {
	Type      EventType
	Recipient string
	Payload   any
	CreatedAt time.Time
}

func NewNotificationEvent(t EventType, recipient string, payload any) NotificationEvent {
	return NotificationEvent{
		Type:      t,
		Recipient: recipient,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Frame is the json text frame of the notification channel
type Frame struct {
	Type    string `json:"type,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Token   string `json:"token,omitempty"`
}

// NewEventFrame serializes an event into its wire frame
func NewEventFrame(event NotificationEvent) ([]byte, error) {
	return json.Marshal(Frame{
		Type: event.Type.FrameType(),
		Data: event.Payload,
	})
}

func NewErrorFrame(message string) []byte {
	b, _ := json.Marshal(Frame{Error: message})
	return b
}

func NewTypeFrame(frameType string) []byte {
	b, _ := json.Marshal(Frame{Type: frameType})
	return b
}

// ChannelStats is the payload of stats frames
type ChannelStats struct {
	ActiveConnections int `json:"active_connections"`
	TotalConnections  int `json:"total_connections"`
}

// MessageSummary is the payload of new_message frames
type MessageSummary struct {
	MessageID       string    `json:"message_id"`
	SenderID        string    `json:"sender_id"`
	SenderEmail     string    `json:"sender_email"`
	SenderName      string    `json:"sender_name"`
	Subject         string    `json:"subject"`
	AttachmentCount int       `json:"attachment_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReadReceipt is the payload of message_read frames
type ReadReceipt struct {
	MessageID   string    `json:"message_id"`
	ReaderID    string    `json:"reader_id"`
	ReaderEmail string    `json:"reader_email"`
	ReadAt      time.Time `json:"read_at"`
}

// RegistryStats is a point in time view of the connection registry
type RegistryStats struct {
	TotalConnections    int            `json:"total_connections"`
	UsersConnected      int            `json:"users_connected"`
	ConnectionsPerUser  map[string]int `json:"connections_per_user"`
	LifetimeConnections uint64         `json:"lifetime_connections"`
}

// MailStats is mailbox counters of one user
type MailStats struct {
	Inbox  int64 `json:"inbox"`
	Unread int64 `json:"unread"`
	Sent   int64 `json:"sent"`
}

// AttachmentInput is a file given to Send
type AttachmentInput struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// SendInput is the request of MailService.Send
type SendInput struct {
	To          string            `json:"to_email"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	HTMLBody    string            `json:"html_body"`
	Attachments []AttachmentInput `json:"-"`
}

// RegisterInput is the request of AccountService.Register
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Captcha   string `json:"captcha,omitempty"`
}

// ProfileUpdate is a partial update of the profile. nil fields are kept
type ProfileUpdate struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}
