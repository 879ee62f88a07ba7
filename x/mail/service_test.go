package mail

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/totegamma/postbox/core"
	"github.com/totegamma/postbox/core/mock"
	"github.com/totegamma/postbox/x/mail/mock"
)

const (
	SenderID       = "cmbn2l8kq1vk3h4pbb10"
	SenderEmail    = "alice@example.com"
	RecipientID    = "cmbn2l8kq1vk3h4pbb1g"
	RecipientEmail = "bob@example.com"
	OtherID        = "cmbn2l8kq1vk3h4pbb20"
	MessageID      = "cmbn2r0kq1vk3h4pbc00"
)

var (
	sender    = core.Identity{ID: SenderID, Email: SenderEmail}
	recipient = core.Identity{ID: RecipientID, Email: RecipientEmail}
)

type fixture struct {
	service    core.MailService
	repo       *mock_mail.MockRepository
	account    *mock_core.MockAccountService
	dispatcher *mock_core.MockNotificationDispatcher
	blobs      *mock_core.MockBlobStore
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := fixture{
		repo:       mock_mail.NewMockRepository(ctrl),
		account:    mock_core.NewMockAccountService(ctrl),
		dispatcher: mock_core.NewMockNotificationDispatcher(ctrl),
		blobs:      mock_core.NewMockBlobStore(ctrl),
	}
	config := core.SetupConfig(core.ConfigInput{JWTSecret: "secret"})
	f.service = NewService(f.repo, f.account, f.dispatcher, f.blobs, config)
	return f
}

func (f fixture) expectParties() {
	f.account.EXPECT().FindByEmail(gomock.Any(), RecipientEmail).Return(core.User{
		ID:        RecipientID,
		Email:     RecipientEmail,
		FirstName: "Bob",
		LastName:  "Builder",
	}, nil).AnyTimes()
	f.account.EXPECT().Get(gomock.Any(), SenderID).Return(core.User{
		ID:        SenderID,
		Email:     SenderEmail,
		FirstName: "Alice",
		LastName:  "Liddell",
	}, nil).AnyTimes()
}

func committed(ctx context.Context, message core.Message) (core.Message, error) {
	message.CDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if message.Attachments == nil {
		message.Attachments = []core.Attachment{}
	}
	return message, nil
}

func TestSendDispatchesAfterCommit(t *testing.T) {
	f := setup(t)
	f.expectParties()

	var event core.NotificationEvent
	gomock.InOrder(
		f.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(committed),
		f.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, e core.NotificationEvent) error {
				event = e
				return nil
			},
		),
	)

	message, err := f.service.Send(context.Background(), sender, core.SendInput{
		To:      "Bob@Example.com",
		Subject: "  hello  ",
		Body:    "how are you",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", message.Subject)
	assert.Equal(t, SenderID, message.SenderID)
	assert.Equal(t, RecipientID, message.RecipientID)

	assert.Equal(t, core.EventNewMessage, event.Type)
	assert.Equal(t, RecipientID, event.Recipient)
	summary, ok := event.Payload.(core.MessageSummary)
	require.True(t, ok)
	assert.Equal(t, message.ID, summary.MessageID)
	assert.Equal(t, "Alice Liddell", summary.SenderName)
	assert.Equal(t, SenderEmail, summary.SenderEmail)
	assert.Equal(t, "hello", summary.Subject)
	assert.Equal(t, 0, summary.AttachmentCount)
	assert.Equal(t, message.CDate, summary.CreatedAt)
}

func TestSendUnknownRecipient(t *testing.T) {
	f := setup(t)
	f.account.EXPECT().FindByEmail(gomock.Any(), "nobody@example.com").Return(core.User{}, core.NewErrorNotFound())

	_, err := f.service.Send(context.Background(), sender, core.SendInput{
		To:      "nobody@example.com",
		Subject: "hello",
		Body:    "body",
	})
	assert.ErrorIs(t, err, core.NewErrorRecipientNotFound())
}

func TestSendValidation(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name  string
		input core.SendInput
		field string
	}{
		{"empty subject", core.SendInput{To: RecipientEmail, Subject: "   ", Body: "b"}, "subject"},
		{"long subject", core.SendInput{To: RecipientEmail, Subject: strings.Repeat("s", 201), Body: "b"}, "subject"},
		{"empty body", core.SendInput{To: RecipientEmail, Subject: "s", Body: " "}, "body"},
		{"bad recipient", core.SendInput{To: "not an address", Subject: "s", Body: "b"}, "to_email"},
		{"bad extension", core.SendInput{To: RecipientEmail, Subject: "s", Body: "b", Attachments: []core.AttachmentInput{
			{Filename: "run.exe", Size: 1, Content: strings.NewReader("x")},
		}}, "attachments"},
		{"too large", core.SendInput{To: RecipientEmail, Subject: "s", Body: "b", Attachments: []core.AttachmentInput{
			{Filename: "big.pdf", Size: 11 << 20, Content: strings.NewReader("x")},
		}}, "attachments"},
		{"too many", core.SendInput{To: RecipientEmail, Subject: "s", Body: "b", Attachments: make([]core.AttachmentInput, 11)}, "attachments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Send(context.Background(), sender, tt.input)
			var invalid core.ErrorInvalidArgument
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}

func TestSendSubjectLimitCountsCharacters(t *testing.T) {
	f := setup(t)
	f.expectParties()
	f.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(committed)
	f.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(nil)

	_, err := f.service.Send(context.Background(), sender, core.SendInput{
		To:      RecipientEmail,
		Subject: strings.Repeat("é", 200),
		Body:    "b",
	})
	assert.NoError(t, err)
}

func TestSendCommitFailureDiscardsBlobs(t *testing.T) {
	f := setup(t)
	f.expectParties()

	var stored []string
	f.blobs.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), int64(5), "text/plain").DoAndReturn(
		func(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
			stored = append(stored, key)
			return nil
		},
	).Times(2)
	f.repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(core.Message{}, fmt.Errorf("connection reset"))
	f.blobs.EXPECT().Delete(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, key string) error {
			assert.Contains(t, stored, key)
			return nil
		},
	).Times(2)

	_, err := f.service.Send(context.Background(), sender, core.SendInput{
		To:      RecipientEmail,
		Subject: "files",
		Body:    "b",
		Attachments: []core.AttachmentInput{
			{Filename: "a.txt", ContentType: "text/plain", Size: 5, Content: strings.NewReader("aaaaa")},
			{Filename: "b.txt", ContentType: "text/plain", Size: 5, Content: strings.NewReader("bbbbb")},
		},
	})
	assert.Error(t, err)
	assert.Equal(t, 2, len(stored))
}

func TestSendStoresAttachments(t *testing.T) {
	f := setup(t)
	f.expectParties()

	f.blobs.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), int64(3), "application/octet-stream").Return(nil)
	f.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, message core.Message) (core.Message, error) {
			require.Len(t, message.Attachments, 1)
			attachment := message.Attachments[0]
			assert.Equal(t, "report.PDF", attachment.Filename)
			assert.Equal(t, message.ID, attachment.MessageID)
			assert.Equal(t, "attachments/"+message.ID+"/"+attachment.ID, attachment.StorageKey)
			return committed(ctx, message)
		},
	)

	var event core.NotificationEvent
	f.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, e core.NotificationEvent) error {
			event = e
			return nil
		},
	)

	_, err := f.service.Send(context.Background(), sender, core.SendInput{
		To:      RecipientEmail,
		Subject: "report",
		Body:    "attached",
		Attachments: []core.AttachmentInput{
			{Filename: "../../etc/report.PDF", Size: 3, Content: strings.NewReader("pdf")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, event.Payload.(core.MessageSummary).AttachmentCount)
}

func TestSendSanitizesHTML(t *testing.T) {
	f := setup(t)
	f.expectParties()
	f.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, message core.Message) (core.Message, error) {
			assert.NotContains(t, message.HTMLBody, "<script")
			assert.Contains(t, message.HTMLBody, "<b>bold</b>")
			return committed(ctx, message)
		},
	)
	f.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(nil)

	_, err := f.service.Send(context.Background(), sender, core.SendInput{
		To:       RecipientEmail,
		Subject:  "html",
		Body:     "plain",
		HTMLBody: `<b>bold</b><script>alert(1)</script>`,
	})
	assert.NoError(t, err)
}

func TestSendSurvivesDispatchOverflow(t *testing.T) {
	f := setup(t)
	f.expectParties()
	f.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(committed)
	f.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(core.NewErrorBacklogOverflow())

	message, err := f.service.Send(context.Background(), sender, core.SendInput{
		To:      RecipientEmail,
		Subject: "hello",
		Body:    "body",
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, message.ID)
}

func TestSendKeepsCommitOrderPerRecipient(t *testing.T) {
	f := setup(t)
	f.expectParties()

	var mu sync.Mutex
	var commits, dispatches []string

	f.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, message core.Message) (core.Message, error) {
			mu.Lock()
			commits = append(commits, message.ID)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			return committed(ctx, message)
		},
	).Times(20)
	f.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, e core.NotificationEvent) error {
			mu.Lock()
			dispatches = append(dispatches, e.Payload.(core.MessageSummary).MessageID)
			mu.Unlock()
			return nil
		},
	).Times(20)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.Send(context.Background(), sender, core.SendInput{
				To:      RecipientEmail,
				Subject: fmt.Sprintf("message %d", i),
				Body:    "body",
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, commits, dispatches)
}

func unread() core.Message {
	return core.Message{
		ID:             MessageID,
		SenderID:       SenderID,
		SenderEmail:    SenderEmail,
		RecipientID:    RecipientID,
		RecipientEmail: RecipientEmail,
		Subject:        "hello",
		Body:           "body",
		Attachments:    []core.Attachment{},
	}
}

func TestGetByRecipientMarksRead(t *testing.T) {
	f := setup(t)

	var event core.NotificationEvent
	gomock.InOrder(
		f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(unread(), nil),
		f.repo.EXPECT().MarkRead(gomock.Any(), MessageID, gomock.Any()).Return(true, nil),
		f.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, e core.NotificationEvent) error {
				event = e
				return nil
			},
		),
	)

	message, err := f.service.Get(context.Background(), recipient, MessageID)
	require.NoError(t, err)
	assert.True(t, message.IsRead)
	require.NotNil(t, message.ReadAt)

	assert.Equal(t, core.EventMessageRead, event.Type)
	assert.Equal(t, SenderID, event.Recipient)
	receipt, ok := event.Payload.(core.ReadReceipt)
	require.True(t, ok)
	assert.Equal(t, MessageID, receipt.MessageID)
	assert.Equal(t, RecipientID, receipt.ReaderID)
	assert.Equal(t, RecipientEmail, receipt.ReaderEmail)
	assert.Equal(t, *message.ReadAt, receipt.ReadAt)
}

func TestGetLosingReadRaceDoesNotNotify(t *testing.T) {
	f := setup(t)

	read := unread()
	read.IsRead = true

	gomock.InOrder(
		f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(unread(), nil),
		f.repo.EXPECT().MarkRead(gomock.Any(), MessageID, gomock.Any()).Return(false, nil),
		f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(read, nil),
	)

	message, err := f.service.Get(context.Background(), recipient, MessageID)
	require.NoError(t, err)
	assert.True(t, message.IsRead)
}

func TestGetBySenderDoesNotMarkRead(t *testing.T) {
	f := setup(t)
	f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(unread(), nil)

	message, err := f.service.Get(context.Background(), sender, MessageID)
	require.NoError(t, err)
	assert.False(t, message.IsRead)
}

func TestGetHidesFromOthers(t *testing.T) {
	f := setup(t)

	deleted := unread()
	deleted.RecipientDeleted = true

	f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(unread(), nil)
	_, err := f.service.Get(context.Background(), core.Identity{ID: OtherID}, MessageID)
	assert.ErrorIs(t, err, core.NewErrorNotFound())

	f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(deleted, nil)
	_, err = f.service.Get(context.Background(), recipient, MessageID)
	assert.ErrorIs(t, err, core.NewErrorNotFound())
}

func TestMarkRead(t *testing.T) {
	t.Run("sender is denied", func(t *testing.T) {
		f := setup(t)
		f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(unread(), nil)

		_, err := f.service.MarkRead(context.Background(), sender, MessageID)
		assert.ErrorIs(t, err, core.NewErrorPermissionDenied())
	})

	t.Run("already read is a no-op", func(t *testing.T) {
		f := setup(t)
		read := unread()
		read.IsRead = true
		f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(read, nil)

		message, err := f.service.MarkRead(context.Background(), recipient, MessageID)
		assert.NoError(t, err)
		assert.True(t, message.IsRead)
	})

	t.Run("persistence failure is not announced", func(t *testing.T) {
		f := setup(t)
		f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(unread(), nil)
		f.repo.EXPECT().MarkRead(gomock.Any(), MessageID, gomock.Any()).Return(false, fmt.Errorf("timeout"))

		_, err := f.service.MarkRead(context.Background(), recipient, MessageID)
		assert.Error(t, err)
	})
}

func TestDelete(t *testing.T) {
	f := setup(t)

	f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(unread(), nil)
	f.repo.EXPECT().SoftDelete(gomock.Any(), MessageID, true, false).Return(nil)
	assert.NoError(t, f.service.Delete(context.Background(), SenderID, MessageID))

	deleted := unread()
	deleted.SenderDeleted = true
	f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(deleted, nil)
	err := f.service.Delete(context.Background(), SenderID, MessageID)
	assert.ErrorIs(t, err, core.NewErrorNotFound())

	f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(deleted, nil)
	f.repo.EXPECT().SoftDelete(gomock.Any(), MessageID, false, true).Return(nil)
	assert.NoError(t, f.service.Delete(context.Background(), RecipientID, MessageID))
}

func TestInboxClampsPaging(t *testing.T) {
	f := setup(t)
	f.repo.EXPECT().ListInbox(gomock.Any(), RecipientID, "report", 0, 100).Return([]core.Message{}, int64(0), nil)

	_, _, err := f.service.Inbox(context.Background(), RecipientID, " report ", 0, 1000)
	assert.NoError(t, err)

	f.repo.EXPECT().ListOutbox(gomock.Any(), SenderID, "", 40, 20).Return([]core.Message{}, int64(0), nil)
	_, _, err = f.service.Outbox(context.Background(), SenderID, "", 3, 0)
	assert.NoError(t, err)
}

type closer struct {
	io.Reader
}

func (closer) Close() error { return nil }

func TestOpenAttachment(t *testing.T) {
	f := setup(t)

	attachment := core.Attachment{
		ID:          "cmbn2r0kq1vk3h4pbc10",
		MessageID:   MessageID,
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Size:        5,
		StorageKey:  "attachments/" + MessageID + "/cmbn2r0kq1vk3h4pbc10",
	}

	f.repo.EXPECT().GetAttachment(gomock.Any(), attachment.ID).Return(attachment, nil).Times(2)
	f.repo.EXPECT().Get(gomock.Any(), MessageID).Return(unread(), nil).Times(2)
	f.blobs.EXPECT().Open(gomock.Any(), attachment.StorageKey).Return(closer{strings.NewReader("notes")}, nil)
	f.repo.EXPECT().IncrementDownload(gomock.Any(), attachment.ID).Return(nil)

	got, content, err := f.service.OpenAttachment(context.Background(), RecipientID, attachment.ID)
	require.NoError(t, err)
	body, _ := io.ReadAll(content)
	assert.Equal(t, "notes", string(body))
	assert.Equal(t, attachment.Filename, got.Filename)

	_, _, err = f.service.OpenAttachment(context.Background(), OtherID, attachment.ID)
	assert.ErrorIs(t, err, core.NewErrorNotFound())
}

func TestPurge(t *testing.T) {
	f := setup(t)

	before := time.Now().Add(-30 * 24 * time.Hour)
	first := unread()
	first.Attachments = []core.Attachment{{ID: "a1", StorageKey: "attachments/m1/a1"}}
	second := unread()
	second.ID = "cmbn2r0kq1vk3h4pbc20"

	gomock.InOrder(
		f.repo.EXPECT().ListPurgeable(gomock.Any(), before, purgeBatch).Return([]core.Message{first, second}, nil),
		f.repo.EXPECT().HardDelete(gomock.Any(), []string{first.ID, second.ID}).Return(nil),
		f.blobs.EXPECT().Delete(gomock.Any(), "attachments/m1/a1").Return(nil),
	)

	n, err := f.service.Purge(context.Background(), before)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPurgeKeepsBlobsWhenRowsSurvive(t *testing.T) {
	f := setup(t)

	message := unread()
	message.Attachments = []core.Attachment{{ID: "a1", StorageKey: "attachments/m1/a1"}}

	// no Delete expectation: touching the blob store fails the test
	f.repo.EXPECT().ListPurgeable(gomock.Any(), gomock.Any(), purgeBatch).Return([]core.Message{message}, nil)
	f.repo.EXPECT().HardDelete(gomock.Any(), []string{message.ID}).Return(errors.New("tx aborted"))

	n, err := f.service.Purge(context.Background(), time.Now())
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestPurgeStopsOnError(t *testing.T) {
	f := setup(t)

	f.repo.EXPECT().ListPurgeable(gomock.Any(), gomock.Any(), purgeBatch).Return(nil, errors.New("down"))

	n, err := f.service.Purge(context.Background(), time.Now())
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}
