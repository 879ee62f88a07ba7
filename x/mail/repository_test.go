package mail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/postbox/core"
	"github.com/totegamma/postbox/internal/testutil"
)

func TestRepository(t *testing.T) {
	ctx := context.Background()

	db, cleanupDB := testutil.CreateDB(t)
	defer cleanupDB()

	mc, cleanupMC := testutil.CreateMC(t)
	defer cleanupMC()

	repo := NewRepository(db, mc)

	created, err := repo.Create(ctx, core.Message{
		ID:             MessageID,
		SenderID:       SenderID,
		SenderEmail:    SenderEmail,
		RecipientID:    RecipientID,
		RecipientEmail: RecipientEmail,
		Subject:        "quarterly report",
		Body:           "numbers attached",
		Attachments: []core.Attachment{
			{ID: "cmbn2r0kq1vk3h4pbc10", Filename: "q1.pdf", ContentType: "application/pdf", Size: 3, StorageKey: "k1"},
		},
	})
	require.NoError(t, err)
	assert.False(t, created.CDate.IsZero())
	require.Len(t, created.Attachments, 1)
	assert.Equal(t, MessageID, created.Attachments[0].MessageID)

	_, err = repo.Create(ctx, core.Message{
		ID:          "cmbn2r0kq1vk3h4pbc20",
		SenderID:    RecipientID,
		RecipientID: SenderID,
		Subject:     "lunch?",
		Body:        "noon",
	})
	require.NoError(t, err)

	count, err := repo.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), count)

	got, err := repo.Get(ctx, MessageID)
	if assert.NoError(t, err) {
		assert.Equal(t, "quarterly report", got.Subject)
		assert.Len(t, got.Attachments, 1)
	}

	_, err = repo.Get(ctx, "cmbn2r0kq1vk3h4pbc99")
	assert.ErrorIs(t, err, core.NewErrorNotFound())

	inbox, total, err := repo.ListInbox(ctx, RecipientID, "", 0, 10)
	if assert.NoError(t, err) {
		assert.Equal(t, int64(1), total)
		assert.Len(t, inbox, 1)
	}

	inbox, total, err = repo.ListInbox(ctx, RecipientID, "QUARTERLY", 0, 10)
	if assert.NoError(t, err) {
		assert.Equal(t, int64(1), total)
		assert.Len(t, inbox, 1)
	}

	_, total, err = repo.ListInbox(ctx, RecipientID, "100%", 0, 10)
	if assert.NoError(t, err) {
		assert.Equal(t, int64(0), total)
	}

	outbox, total, err := repo.ListOutbox(ctx, SenderID, "", 0, 10)
	if assert.NoError(t, err) {
		assert.Equal(t, int64(1), total)
		assert.Equal(t, MessageID, outbox[0].ID)
	}

	stats, err := repo.Stats(ctx, RecipientID)
	if assert.NoError(t, err) {
		assert.Equal(t, core.MailStats{Inbox: 1, Unread: 1, Sent: 1}, stats)
	}

	// only the first transition reports a change
	now := time.Now()
	changed, err := repo.MarkRead(ctx, MessageID, now)
	assert.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkRead(ctx, MessageID, now)
	assert.NoError(t, err)
	assert.False(t, changed)

	stats, err = repo.Stats(ctx, RecipientID)
	if assert.NoError(t, err) {
		assert.Equal(t, int64(0), stats.Unread)
	}

	assert.NoError(t, repo.IncrementDownload(ctx, "cmbn2r0kq1vk3h4pbc10"))
	attachment, err := repo.GetAttachment(ctx, "cmbn2r0kq1vk3h4pbc10")
	if assert.NoError(t, err) {
		assert.Equal(t, int64(1), attachment.DownloadCount)
		assert.Equal(t, "k1", attachment.StorageKey)
	}

	assert.NoError(t, repo.SoftDelete(ctx, MessageID, false, true))
	_, total, err = repo.ListInbox(ctx, RecipientID, "", 0, 10)
	if assert.NoError(t, err) {
		assert.Equal(t, int64(0), total)
	}

	purgeable, err := repo.ListPurgeable(ctx, time.Now().Add(time.Hour), 10)
	assert.NoError(t, err)
	assert.Len(t, purgeable, 0)

	assert.NoError(t, repo.SoftDelete(ctx, MessageID, true, false))
	purgeable, err = repo.ListPurgeable(ctx, time.Now().Add(time.Hour), 10)
	if assert.NoError(t, err) && assert.Len(t, purgeable, 1) {
		assert.Len(t, purgeable[0].Attachments, 1)
	}

	assert.NoError(t, repo.HardDelete(ctx, []string{MessageID}))
	_, err = repo.Get(ctx, MessageID)
	assert.ErrorIs(t, err, core.NewErrorNotFound())
	_, err = repo.GetAttachment(ctx, "cmbn2r0kq1vk3h4pbc10")
	assert.ErrorIs(t, err, core.NewErrorNotFound())

	count, err = repo.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
