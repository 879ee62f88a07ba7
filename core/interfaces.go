//go:generate go run go.uber.org/mock/mockgen -source=interfaces.go -destination=mock/services.go
package core

import (
	"context"
	"io"
	"time"

	"github.com/labstack/echo/v4"
)

type AgentService interface {
	Boot(ctx context.Context)
}

type TokenService interface {
	Issue(identity Identity, ttl time.Duration) (string, error)
	Validate(token string) (Identity, error)
}

type AuthService interface {
	Authorize(ctx context.Context, rawToken string) (Identity, error)
	IdentifyIdentity(next echo.HandlerFunc) echo.HandlerFunc
}

type AccountService interface {
	Register(ctx context.Context, input RegisterInput) (User, string, error)
	Login(ctx context.Context, email, password string) (User, string, error)
	Get(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	IsActive(ctx context.Context, id string) (bool, error)
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (User, error)
	ChangePassword(ctx context.Context, id, current, next string) error
	Count(ctx context.Context) (int64, error)
}

// Channel is one live notification connection
type Channel interface {
	ID() string
	Owner() string
	Enqueue(frame []byte) error
	LastSeen() time.Time
	Close() error
}

type ConnectionRegistry interface {
	Register(identity string, channel Channel) error
	Unregister(identity string, channel Channel)
	ChannelsFor(identity string) []Channel
	ForEachChannel(identity string, fn func(Channel) error) int
	All() []Channel
	Stats() RegistryStats
	CloseAll()
}

type NotificationDispatcher interface {
	Dispatch(ctx context.Context, event NotificationEvent) error
	Run(ctx context.Context)
}

type MailService interface {
	Send(ctx context.Context, sender Identity, input SendInput) (Message, error)
	Inbox(ctx context.Context, userID, search string, page, perPage int) ([]Message, int64, error)
	Outbox(ctx context.Context, userID, search string, page, perPage int) ([]Message, int64, error)
	Get(ctx context.Context, requester Identity, id string) (Message, error)
	MarkRead(ctx context.Context, requester Identity, id string) (Message, error)
	Delete(ctx context.Context, userID, id string) error
	Stats(ctx context.Context, userID string) (MailStats, error)
	OpenAttachment(ctx context.Context, userID, attachmentID string) (Attachment, io.ReadCloser, error)
	Count(ctx context.Context) (int64, error)
	Purge(ctx context.Context, before time.Time) (int, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
