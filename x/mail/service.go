// Package mail stores messages between users and announces them to live channels
package mail

import (
	"context"
	"hash/fnv"
	"io"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/postbox/core"
)

var tracer = otel.Tracer("mail")

const (
	lockStripes = 256
	purgeBatch  = 100
)

type service struct {
	repository Repository
	account    core.AccountService
	dispatcher core.NotificationDispatcher
	blobs      core.BlobStore
	config     core.Config
	policy     *bluemonday.Policy
	stripes    [lockStripes]sync.Mutex
}

// NewService creates a new mail service
func NewService(
	repository Repository,
	account core.AccountService,
	dispatcher core.NotificationDispatcher,
	blobs core.BlobStore,
	config core.Config,
) core.MailService {
	return &service{
		repository: repository,
		account:    account,
		dispatcher: dispatcher,
		blobs:      blobs,
		config:     config,
		policy:     bluemonday.UGCPolicy(),
	}
}

// lock serializes commit and dispatch of events addressed to identity
func (s *service) lock(identity string) func() {
	h := fnv.New32a()
	h.Write([]byte(identity))
	mu := &s.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (s *service) validate(input core.SendInput) (core.SendInput, error) {
	input.Subject = strings.TrimSpace(input.Subject)
	if input.Subject == "" {
		return input, core.NewErrorInvalidArgument("subject", "is required")
	}
	if utf8.RuneCountInString(input.Subject) > core.MaxSubjectLength {
		return input, core.NewErrorInvalidArgument("subject", "must be at most 200 characters long")
	}
	if strings.TrimSpace(input.Body) == "" {
		return input, core.NewErrorInvalidArgument("body", "is required")
	}

	to, err := core.NormalizeEmail(input.To)
	if err != nil {
		return input, core.NewErrorInvalidArgument("to_email", "is not a valid address")
	}
	input.To = to

	if len(input.Attachments) > s.config.MaxAttachments {
		return input, core.NewErrorInvalidArgument("attachments", "too many files")
	}
	for i, attachment := range input.Attachments {
		name := path.Base(strings.ReplaceAll(attachment.Filename, "\\", "/"))
		if name == "" || name == "." || name == "/" {
			return input, core.NewErrorInvalidArgument("attachments", "file has no name")
		}
		ext := strings.ToLower(path.Ext(name))
		if !slices.Contains(s.config.AllowedExtensions, ext) {
			return input, core.NewErrorInvalidArgument("attachments", "file type "+ext+" is not allowed")
		}
		if attachment.Size > s.config.MaxFileSize {
			return input, core.NewErrorInvalidArgument("attachments", name+" is too large")
		}
		if attachment.Content == nil {
			return input, core.NewErrorInvalidArgument("attachments", name+" has no content")
		}
		if attachment.ContentType == "" {
			input.Attachments[i].ContentType = "application/octet-stream"
		}
		input.Attachments[i].Filename = name
	}

	return input, nil
}

// Send persists a message and announces it to the recipient.
// the announcement is made only after the message is committed
func (s *service) Send(ctx context.Context, sender core.Identity, input core.SendInput) (core.Message, error) {
	ctx, span := tracer.Start(ctx, "Mail.Service.Send")
	defer span.End()

	input, err := s.validate(input)
	if err != nil {
		return core.Message{}, err
	}

	recipient, err := s.account.FindByEmail(ctx, input.To)
	if err != nil {
		if errors.Is(err, core.NewErrorNotFound()) {
			return core.Message{}, core.NewErrorRecipientNotFound()
		}
		span.RecordError(err)
		return core.Message{}, errors.Wrap(err, "failed to resolve recipient")
	}

	author, err := s.account.Get(ctx, sender.ID)
	if err != nil {
		span.RecordError(err)
		return core.Message{}, errors.Wrap(err, "failed to resolve sender")
	}

	message := core.Message{
		ID:             xid.New().String(),
		SenderID:       author.ID,
		SenderEmail:    author.Email,
		RecipientID:    recipient.ID,
		RecipientEmail: recipient.Email,
		Subject:        input.Subject,
		Body:           input.Body,
	}
	if input.HTMLBody != "" {
		message.HTMLBody = s.policy.Sanitize(input.HTMLBody)
	}

	keys := make([]string, 0, len(input.Attachments))
	for _, in := range input.Attachments {
		id := xid.New().String()
		key := "attachments/" + message.ID + "/" + id
		err := s.blobs.Put(ctx, key, in.Content, in.Size, in.ContentType)
		if err != nil {
			span.RecordError(err)
			s.discard(ctx, keys)
			return core.Message{}, err
		}
		keys = append(keys, key)
		message.Attachments = append(message.Attachments, core.Attachment{
			ID:          id,
			MessageID:   message.ID,
			Filename:    in.Filename,
			ContentType: in.ContentType,
			Size:        in.Size,
			StorageKey:  key,
		})
	}

	unlock := s.lock(recipient.ID)
	defer unlock()

	created, err := s.repository.Create(ctx, message)
	if err != nil {
		span.RecordError(err)
		s.discard(ctx, keys)
		return core.Message{}, errors.Wrap(err, "failed to store message")
	}

	s.notify(ctx, core.NewNotificationEvent(core.EventNewMessage, recipient.ID, core.MessageSummary{
		MessageID:       created.ID,
		SenderID:        author.ID,
		SenderEmail:     author.Email,
		SenderName:      strings.TrimSpace(author.FirstName + " " + author.LastName),
		Subject:         created.Subject,
		AttachmentCount: len(created.Attachments),
		CreatedAt:       created.CDate,
	}))

	slog.InfoContext(
		ctx, "message sent",
		slog.String("message", created.ID),
		slog.String("sender", author.ID),
		slog.String("recipient", recipient.ID),
		slog.Int("attachments", len(created.Attachments)),
		slog.String("module", "mail"),
	)

	return created, nil
}

func (s *service) discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			slog.ErrorContext(
				ctx, "failed to discard blob",
				slog.String("key", key),
				slog.String("error", err.Error()),
				slog.String("module", "mail"),
			)
		}
	}
}

// notify hands an event to the dispatcher. delivery problems stay here
func (s *service) notify(ctx context.Context, event core.NotificationEvent) {
	err := s.dispatcher.Dispatch(ctx, event)
	if err != nil {
		slog.WarnContext(
			ctx, "notification dropped",
			slog.String("type", event.Type.String()),
			slog.String("recipient", event.Recipient),
			slog.String("error", err.Error()),
			slog.String("module", "mail"),
		)
	}
}

func (s *service) Inbox(ctx context.Context, userID, search string, page, perPage int) ([]core.Message, int64, error) {
	ctx, span := tracer.Start(ctx, "Mail.Service.Inbox")
	defer span.End()

	page, perPage = core.NormalizePage(page, perPage)
	messages, total, err := s.repository.ListInbox(ctx, userID, strings.TrimSpace(search), (page-1)*perPage, perPage)
	if err != nil {
		span.RecordError(err)
		return nil, 0, errors.Wrap(err, "failed to list inbox")
	}
	return messages, total, nil
}

func (s *service) Outbox(ctx context.Context, userID, search string, page, perPage int) ([]core.Message, int64, error) {
	ctx, span := tracer.Start(ctx, "Mail.Service.Outbox")
	defer span.End()

	page, perPage = core.NormalizePage(page, perPage)
	messages, total, err := s.repository.ListOutbox(ctx, userID, strings.TrimSpace(search), (page-1)*perPage, perPage)
	if err != nil {
		span.RecordError(err)
		return nil, 0, errors.Wrap(err, "failed to list outbox")
	}
	return messages, total, nil
}

func visibleTo(message core.Message, userID string) bool {
	if message.SenderID == userID && !message.SenderDeleted {
		return true
	}
	if message.RecipientID == userID && !message.RecipientDeleted {
		return true
	}
	return false
}

func (s *service) visible(ctx context.Context, userID, id string) (core.Message, error) {
	message, err := s.repository.Get(ctx, id)
	if err != nil {
		return core.Message{}, err
	}
	if !visibleTo(message, userID) {
		return core.Message{}, core.NewErrorNotFound()
	}
	return message, nil
}

// Get returns a message to one of its parties.
// the first read by the recipient marks it read
func (s *service) Get(ctx context.Context, requester core.Identity, id string) (core.Message, error) {
	ctx, span := tracer.Start(ctx, "Mail.Service.Get")
	defer span.End()

	message, err := s.visible(ctx, requester.ID, id)
	if err != nil {
		span.RecordError(err)
		return core.Message{}, err
	}

	if message.RecipientID == requester.ID && !message.RecipientDeleted && !message.IsRead {
		message, err = s.markRead(ctx, requester, message)
		if err != nil {
			span.RecordError(err)
			return core.Message{}, err
		}
	}

	return message, nil
}

// MarkRead marks a message read on behalf of its recipient
func (s *service) MarkRead(ctx context.Context, requester core.Identity, id string) (core.Message, error) {
	ctx, span := tracer.Start(ctx, "Mail.Service.MarkRead")
	defer span.End()

	message, err := s.visible(ctx, requester.ID, id)
	if err != nil {
		span.RecordError(err)
		return core.Message{}, err
	}

	if message.RecipientID != requester.ID || message.RecipientDeleted {
		return core.Message{}, core.NewErrorPermissionDenied()
	}

	if message.IsRead {
		return message, nil
	}

	return s.markRead(ctx, requester, message)
}

// markRead flips the read flag and tells the sender.
// only the call that made the transition emits the receipt
func (s *service) markRead(ctx context.Context, reader core.Identity, message core.Message) (core.Message, error) {
	unlock := s.lock(message.SenderID)
	defer unlock()

	at := time.Now()
	changed, err := s.repository.MarkRead(ctx, message.ID, at)
	if err != nil {
		return core.Message{}, errors.Wrap(err, "failed to mark message read")
	}
	if !changed {
		return s.repository.Get(ctx, message.ID)
	}

	message.IsRead = true
	message.ReadAt = &at

	s.notify(ctx, core.NewNotificationEvent(core.EventMessageRead, message.SenderID, core.ReadReceipt{
		MessageID:   message.ID,
		ReaderID:    reader.ID,
		ReaderEmail: reader.Email,
		ReadAt:      at,
	}))

	return message, nil
}

// Delete hides a message from the requesting party
func (s *service) Delete(ctx context.Context, userID, id string) error {
	ctx, span := tracer.Start(ctx, "Mail.Service.Delete")
	defer span.End()

	message, err := s.visible(ctx, userID, id)
	if err != nil {
		span.RecordError(err)
		return err
	}

	asSender := message.SenderID == userID && !message.SenderDeleted
	asRecipient := message.RecipientID == userID && !message.RecipientDeleted

	err = s.repository.SoftDelete(ctx, message.ID, asSender, asRecipient)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to delete message")
	}

	return nil
}

func (s *service) Stats(ctx context.Context, userID string) (core.MailStats, error) {
	ctx, span := tracer.Start(ctx, "Mail.Service.Stats")
	defer span.End()

	stats, err := s.repository.Stats(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return core.MailStats{}, errors.Wrap(err, "failed to count mailbox")
	}
	return stats, nil
}

// OpenAttachment returns the attachment and its content to a party of its message.
// the caller closes the reader
func (s *service) OpenAttachment(ctx context.Context, userID, attachmentID string) (core.Attachment, io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "Mail.Service.OpenAttachment")
	defer span.End()

	attachment, err := s.repository.GetAttachment(ctx, attachmentID)
	if err != nil {
		span.RecordError(err)
		return core.Attachment{}, nil, err
	}

	if _, err := s.visible(ctx, userID, attachment.MessageID); err != nil {
		span.RecordError(err)
		return core.Attachment{}, nil, err
	}

	content, err := s.blobs.Open(ctx, attachment.StorageKey)
	if err != nil {
		span.RecordError(err)
		return core.Attachment{}, nil, err
	}

	if err := s.repository.IncrementDownload(ctx, attachment.ID); err != nil {
		slog.WarnContext(
			ctx, "failed to count download",
			slog.String("attachment", attachment.ID),
			slog.String("error", err.Error()),
			slog.String("module", "mail"),
		)
	}

	return attachment, content, nil
}

func (s *service) Count(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "Mail.Service.Count")
	defer span.End()

	return s.repository.Count(ctx)
}

// Purge removes messages both parties deleted before the given time, with their blobs
func (s *service) Purge(ctx context.Context, before time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Mail.Service.Purge")
	defer span.End()

	purged := 0
	for {
		messages, err := s.repository.ListPurgeable(ctx, before, purgeBatch)
		if err != nil {
			span.RecordError(err)
			return purged, errors.Wrap(err, "failed to list purgeable messages")
		}
		if len(messages) == 0 {
			return purged, nil
		}

		ids := make([]string, 0, len(messages))
		keys := make([]string, 0)
		for _, message := range messages {
			ids = append(ids, message.ID)
			for _, attachment := range message.Attachments {
				keys = append(keys, attachment.StorageKey)
			}
		}

		// rows before blobs
		if err := s.repository.HardDelete(ctx, ids); err != nil {
			span.RecordError(err)
			return purged, errors.Wrap(err, "failed to purge messages")
		}
		s.discard(ctx, keys)
		purged += len(ids)

		if len(messages) < purgeBatch {
			return purged, nil
		}
	}
}
