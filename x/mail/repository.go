//go:generate go run go.uber.org/mock/mockgen -source=repository.go -destination=mock/repository.go
package mail

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/postbox/core"
)

// Repository is the interface for mail repository
type Repository interface {
	Create(ctx context.Context, message core.Message) (core.Message, error)
	Get(ctx context.Context, id string) (core.Message, error)
	ListInbox(ctx context.Context, userID, search string, offset, limit int) ([]core.Message, int64, error)
	ListOutbox(ctx context.Context, userID, search string, offset, limit int) ([]core.Message, int64, error)
	MarkRead(ctx context.Context, id string, at time.Time) (bool, error)
	SoftDelete(ctx context.Context, id string, asSender, asRecipient bool) error
	Stats(ctx context.Context, userID string) (core.MailStats, error)
	GetAttachment(ctx context.Context, id string) (core.Attachment, error)
	IncrementDownload(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
	ListPurgeable(ctx context.Context, before time.Time, limit int) ([]core.Message, error)
	HardDelete(ctx context.Context, ids []string) error
}

type repository struct {
	db *gorm.DB
	mc *memcache.Client
}

// NewRepository creates a new mail repository
func NewRepository(db *gorm.DB, mc *memcache.Client) Repository {

	var count int64
	err := db.Model(&core.Message{}).Count(&count).Error
	if err != nil {
		slog.Error(
			"failed to count messages",
			slog.String("error", err.Error()),
		)
	}

	mc.Set(&memcache.Item{Key: "message_count", Value: []byte(strconv.FormatInt(count, 10))})

	return &repository{db, mc}
}

// Count returns the total number of stored messages
func (r *repository) Count(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "Mail.Repository.Count")
	defer span.End()

	item, err := r.mc.Get("message_count")
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	count, err := strconv.ParseInt(string(item.Value), 10, 64)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return count, nil
}

// Create writes the message and its attachment rows in one transaction.
// the returned message carries the committed creation time
func (r *repository) Create(ctx context.Context, message core.Message) (core.Message, error) {
	ctx, span := tracer.Start(ctx, "Mail.Repository.Create")
	defer span.End()

	attachments := message.Attachments
	message.Attachments = nil

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&message).Error; err != nil {
			return errors.Wrap(err, "failed to insert message")
		}
		for i := range attachments {
			attachments[i].MessageID = message.ID
		}
		if len(attachments) > 0 {
			if err := tx.Create(&attachments).Error; err != nil {
				return errors.Wrap(err, "failed to insert attachments")
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return core.Message{}, err
	}

	message.Attachments = attachments
	if message.Attachments == nil {
		message.Attachments = []core.Attachment{}
	}

	r.mc.Increment("message_count", 1)

	return message, nil
}

// Get returns a message with its attachments
func (r *repository) Get(ctx context.Context, id string) (core.Message, error) {
	ctx, span := tracer.Start(ctx, "Mail.Repository.Get")
	defer span.End()

	var message core.Message
	err := r.db.WithContext(ctx).Preload("Attachments").First(&message, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.Message{}, core.NewErrorNotFound()
		}
		span.RecordError(err)
		return core.Message{}, err
	}

	return message, nil
}

func (r *repository) list(ctx context.Context, where, userID, search string, offset, limit int) ([]core.Message, int64, error) {
	query := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&core.Message{}).Where(where, userID)
		if search != "" {
			pattern := "%" + escapeLike(search) + "%"
			q = q.Where("(subject ILIKE ? OR body ILIKE ?)", pattern, pattern)
		}
		return q
	}

	var total int64
	err := query().Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	messages := []core.Message{}
	err = query().
		Preload("Attachments").
		Order("c_date DESC").
		Offset(offset).
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ListInbox returns the messages received by userID, newest first
func (r *repository) ListInbox(ctx context.Context, userID, search string, offset, limit int) ([]core.Message, int64, error) {
	ctx, span := tracer.Start(ctx, "Mail.Repository.ListInbox")
	defer span.End()

	messages, total, err := r.list(ctx, "recipient_id = ? AND recipient_deleted = false", userID, search, offset, limit)
	if err != nil {
		span.RecordError(err)
	}
	return messages, total, err
}

// ListOutbox returns the messages sent by userID, newest first
func (r *repository) ListOutbox(ctx context.Context, userID, search string, offset, limit int) ([]core.Message, int64, error) {
	ctx, span := tracer.Start(ctx, "Mail.Repository.ListOutbox")
	defer span.End()

	messages, total, err := r.list(ctx, "sender_id = ? AND sender_deleted = false", userID, search, offset, limit)
	if err != nil {
		span.RecordError(err)
	}
	return messages, total, err
}

// MarkRead flags the message read. reports whether this call made the change
func (r *repository) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, span := tracer.Start(ctx, "Mail.Repository.MarkRead")
	defer span.End()

	result := r.db.WithContext(ctx).
		Model(&core.Message{}).
		Where("id = ? AND is_read = false", id).
		Updates(map[string]any{"is_read": true, "read_at": at})
	if result.Error != nil {
		span.RecordError(result.Error)
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

// SoftDelete hides the message from the given parties
func (r *repository) SoftDelete(ctx context.Context, id string, asSender, asRecipient bool) error {
	ctx, span := tracer.Start(ctx, "Mail.Repository.SoftDelete")
	defer span.End()

	updates := map[string]any{}
	if asSender {
		updates["sender_deleted"] = true
	}
	if asRecipient {
		updates["recipient_deleted"] = true
	}
	if len(updates) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Model(&core.Message{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Stats counts the visible mailbox of userID
func (r *repository) Stats(ctx context.Context, userID string) (core.MailStats, error) {
	ctx, span := tracer.Start(ctx, "Mail.Repository.Stats")
	defer span.End()

	var stats core.MailStats
	err := r.db.WithContext(ctx).Model(&core.Message{}).
		Where("recipient_id = ? AND recipient_deleted = false", userID).
		Count(&stats.Inbox).Error
	if err != nil {
		span.RecordError(err)
		return core.MailStats{}, err
	}

	err = r.db.WithContext(ctx).Model(&core.Message{}).
		Where("recipient_id = ? AND recipient_deleted = false AND is_read = false", userID).
		Count(&stats.Unread).Error
	if err != nil {
		span.RecordError(err)
		return core.MailStats{}, err
	}

	err = r.db.WithContext(ctx).Model(&core.Message{}).
		Where("sender_id = ? AND sender_deleted = false", userID).
		Count(&stats.Sent).Error
	if err != nil {
		span.RecordError(err)
		return core.MailStats{}, err
	}

	return stats, nil
}

func (r *repository) GetAttachment(ctx context.Context, id string) (core.Attachment, error) {
	ctx, span := tracer.Start(ctx, "Mail.Repository.GetAttachment")
	defer span.End()

	var attachment core.Attachment
	err := r.db.WithContext(ctx).First(&attachment, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.Attachment{}, core.NewErrorNotFound()
		}
		span.RecordError(err)
		return core.Attachment{}, err
	}

	return attachment, nil
}

func (r *repository) IncrementDownload(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Mail.Repository.IncrementDownload")
	defer span.End()

	err := r.db.WithContext(ctx).
		Model(&core.Attachment{}).
		Where("id = ?", id).
		Update("download_count", gorm.Expr("download_count + 1")).Error
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ListPurgeable returns messages both parties deleted before the given time
func (r *repository) ListPurgeable(ctx context.Context, before time.Time, limit int) ([]core.Message, error) {
	ctx, span := tracer.Start(ctx, "Mail.Repository.ListPurgeable")
	defer span.End()

	messages := []core.Message{}
	err := r.db.WithContext(ctx).
		Preload("Attachments").
		Where("sender_deleted = true AND recipient_deleted = true AND c_date < ?", before).
		Order("c_date ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return messages, nil
}

// HardDelete removes messages and their attachment rows
func (r *repository) HardDelete(ctx context.Context, ids []string) error {
	ctx, span := tracer.Start(ctx, "Mail.Repository.HardDelete")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id IN ?", ids).Delete(&core.Attachment{}).Error; err != nil {
			return errors.Wrap(err, "failed to delete attachments")
		}
		result := tx.Where("id IN ?", ids).Delete(&core.Message{})
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to delete messages")
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	if deleted > 0 {
		r.mc.Decrement("message_count", uint64(deleted))
	}

	return nil
}
