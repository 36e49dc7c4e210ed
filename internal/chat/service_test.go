package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/commune-hq/backend/internal/logger"
	"github.com/commune-hq/backend/internal/models"
	"github.com/commune-hq/backend/internal/moderation"
	"github.com/commune-hq/backend/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Initialize("error", "")
	os.Exit(m.Run())
}

func setupTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Community{}, &models.CommunityMember{},
		&models.Message{}, &models.MessageReceipt{}, &models.MessageReaction{},
		&models.MessageHide{},
	))
	return NewService(db, nil, nil, nil)
}

type fixture struct {
	owner     *models.User
	member    *models.User
	outsider  *models.User
	community *models.Community
}

func setupFixture(t *testing.T, s *Service) fixture {
	t.Helper()
	f := fixture{
		owner:    &models.User{Email: "alice@example.com", Username: "alice"},
		member:   &models.User{Email: "bob@example.com", Username: "bob"},
		outsider: &models.User{Email: "carol@example.com", Username: "carol"},
	}
	require.NoError(t, s.db.Create(f.owner).Error)
	require.NoError(t, s.db.Create(f.member).Error)
	require.NoError(t, s.db.Create(f.outsider).Error)

	f.community = &models.Community{
		Name: "Gophers", Slug: "gophers", OwnerID: f.owner.ID,
		JoinMethod: models.JoinOpen, PostPermission: models.PostAll,
		MemberCount: 2, IsActive: true,
	}
	require.NoError(t, s.db.Create(f.community).Error)
	require.NoError(t, s.db.Create(&models.CommunityMember{
		CommunityID: f.community.ID, UserID: f.owner.ID, Role: models.MemberOwner,
	}).Error)
	require.NoError(t, s.db.Create(&models.CommunityMember{
		CommunityID: f.community.ID, UserID: f.member.ID, Role: models.MemberRegular,
	}).Error)
	return f
}

func defaultPage() util.Pagination {
	return util.Pagination{Page: 1, Limit: 50}
}

func TestSendCommunityMessage(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	msg, err := s.Send(ctx, f.member.ID, SendRequest{
		CommunityID: f.community.ID,
		Content:     "anyone up for a code review swap?",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageText, msg.Type)
	assert.Equal(t, models.CommunityChannel(f.community.ID), msg.Channel)
	require.NotNil(t, msg.CommunityID)
	assert.Nil(t, msg.ReceiverID)

	_, err = s.Send(ctx, f.outsider.ID, SendRequest{
		CommunityID: f.community.ID,
		Content:     "let me in",
	})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestSendDirectMessage(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	msg, err := s.Send(ctx, f.member.ID, SendRequest{
		ReceiverID: f.owner.ID,
		Content:    "hey, quick question",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DirectChannel(f.member.ID, f.owner.ID), msg.Channel)
	assert.True(t, msg.IsDirect())

	// Replies from the other side land in the same channel.
	reply, err := s.Send(ctx, f.owner.ID, SendRequest{
		ReceiverID: f.member.ID,
		Content:    "shoot",
		ReplyToID:  msg.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, msg.Channel, reply.Channel)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, msg.ID, *reply.ReplyToID)

	_, err = s.Send(ctx, f.member.ID, SendRequest{
		ReceiverID: f.member.ID,
		Content:    "note to self",
	})
	assert.ErrorIs(t, err, ErrSelfMessage)
}

func TestSendTargetValidation(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	_, err := s.Send(ctx, f.member.ID, SendRequest{Content: "to nowhere"})
	assert.ErrorIs(t, err, ErrBadTarget)

	_, err = s.Send(ctx, f.member.ID, SendRequest{
		CommunityID: f.community.ID,
		ReceiverID:  f.owner.ID,
		Content:     "to everywhere",
	})
	assert.ErrorIs(t, err, ErrBadTarget)

	_, err = s.Send(ctx, f.member.ID, SendRequest{
		ReceiverID: "no-such-user",
		Content:    "hello?",
	})
	assert.ErrorIs(t, err, ErrReceiverGone)
}

func TestSendModerationGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"toxicity_score":0.95,"is_safe":false,"flagged":true,"sentiment":"negative"}`))
	}))
	defer srv.Close()

	s := setupTestService(t)
	s.moderation = moderation.NewClient(srv.URL)
	f := setupFixture(t, s)

	_, err := s.Send(context.Background(), f.member.ID, SendRequest{
		CommunityID: f.community.ID,
		Content:     "something vile",
	})
	assert.ErrorIs(t, err, ErrContentFlagged)

	var count int64
	s.db.Model(&models.Message{}).Count(&count)
	assert.Zero(t, count)
}

func TestHistoryAndDeliveryReceipts(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		_, err := s.Send(ctx, f.owner.ID, SendRequest{
			CommunityID: f.community.ID, Content: content,
		})
		require.NoError(t, err)
	}

	messages, total, err := s.CommunityHistory(ctx, f.community.ID, f.member.ID, defaultPage())
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "third", messages[2].Content)

	// Page one holds the newest window, read in chronological order.
	window, _, err := s.CommunityHistory(ctx, f.community.ID, f.member.ID, util.Pagination{Page: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "second", window[0].Content)
	assert.Equal(t, "third", window[1].Content)

	var receipts int64
	s.db.Model(&models.MessageReceipt{}).
		Where("user_id = ? AND kind = ?", f.member.ID, models.ReceiptDelivered).
		Count(&receipts)
	assert.EqualValues(t, 3, receipts)

	// A second fetch must not duplicate receipts.
	_, _, err = s.CommunityHistory(ctx, f.community.ID, f.member.ID, defaultPage())
	require.NoError(t, err)
	s.db.Model(&models.MessageReceipt{}).
		Where("user_id = ? AND kind = ?", f.member.ID, models.ReceiptDelivered).
		Count(&receipts)
	assert.EqualValues(t, 3, receipts)

	// Senders do not get receipts for their own messages.
	_, _, err = s.CommunityHistory(ctx, f.community.ID, f.owner.ID, defaultPage())
	require.NoError(t, err)
	s.db.Model(&models.MessageReceipt{}).
		Where("user_id = ?", f.owner.ID).Count(&receipts)
	assert.Zero(t, receipts)

	_, _, err = s.CommunityHistory(ctx, f.community.ID, f.outsider.ID, defaultPage())
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestDirectHistoryParticipantsOnly(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	_, err := s.Send(ctx, f.member.ID, SendRequest{
		ReceiverID: f.owner.ID, Content: "between us",
	})
	require.NoError(t, err)

	messages, total, err := s.DirectHistory(ctx, f.owner.ID, f.member.ID, defaultPage())
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, messages, 1)

	// A third party queries a different channel and sees nothing.
	messages, total, err = s.DirectHistory(ctx, f.outsider.ID, f.owner.ID, defaultPage())
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, messages)
}

func TestMarkRead(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	msg, err := s.Send(ctx, f.member.ID, SendRequest{
		ReceiverID: f.owner.ID, Content: "seen?",
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkRead(ctx, msg.ID, f.owner.ID))
	require.NoError(t, s.MarkRead(ctx, msg.ID, f.owner.ID))

	var receipts int64
	s.db.Model(&models.MessageReceipt{}).
		Where("message_id = ? AND kind = ?", msg.ID, models.ReceiptRead).
		Count(&receipts)
	assert.EqualValues(t, 1, receipts)

	// Reading your own message records nothing.
	require.NoError(t, s.MarkRead(ctx, msg.ID, f.member.ID))
	s.db.Model(&models.MessageReceipt{}).
		Where("message_id = ? AND user_id = ?", msg.ID, f.member.ID).
		Count(&receipts)
	assert.Zero(t, receipts)

	err = s.MarkRead(ctx, msg.ID, f.outsider.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestReactReplaceAndRemove(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	msg, err := s.Send(ctx, f.owner.ID, SendRequest{
		CommunityID: f.community.ID, Content: "shipped it",
	})
	require.NoError(t, err)

	require.NoError(t, s.React(ctx, msg.ID, f.member.ID, "🎉"))

	var reaction models.MessageReaction
	require.NoError(t, s.db.Where("message_id = ? AND user_id = ?", msg.ID, f.member.ID).
		First(&reaction).Error)
	assert.Equal(t, "🎉", reaction.Emoji)

	// A new emoji replaces the previous one, keeping a single row.
	require.NoError(t, s.React(ctx, msg.ID, f.member.ID, "🔥"))
	var count int64
	s.db.Model(&models.MessageReaction{}).
		Where("message_id = ? AND user_id = ?", msg.ID, f.member.ID).
		Count(&count)
	assert.EqualValues(t, 1, count)
	require.NoError(t, s.db.Where("message_id = ? AND user_id = ?", msg.ID, f.member.ID).
		First(&reaction).Error)
	assert.Equal(t, "🔥", reaction.Emoji)

	require.NoError(t, s.React(ctx, msg.ID, f.member.ID, ""))
	s.db.Model(&models.MessageReaction{}).
		Where("message_id = ?", msg.ID).Count(&count)
	assert.Zero(t, count)
}

func TestDeleteForEveryone(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	msg, err := s.Send(ctx, f.member.ID, SendRequest{
		CommunityID: f.community.ID, Content: "oops wrong channel",
	})
	require.NoError(t, err)

	// Another regular member cannot delete it.
	other := &models.User{Email: "dave@example.com", Username: "dave"}
	require.NoError(t, s.db.Create(other).Error)
	require.NoError(t, s.db.Create(&models.CommunityMember{
		CommunityID: f.community.ID, UserID: other.ID, Role: models.MemberRegular,
	}).Error)
	assert.ErrorIs(t, s.Delete(ctx, msg.ID, other.ID), ErrNotPermitted)

	require.NoError(t, s.Delete(ctx, msg.ID, f.member.ID))

	var deleted models.Message
	require.NoError(t, s.db.First(&deleted, "id = ?", msg.ID).Error)
	assert.True(t, deleted.IsDeleted())
	assert.Equal(t, f.member.ID, deleted.DeletedBy)

	_, total, err := s.CommunityHistory(ctx, f.community.ID, f.owner.ID, defaultPage())
	require.NoError(t, err)
	assert.Zero(t, total)

	assert.ErrorIs(t, s.Delete(ctx, msg.ID, f.member.ID), ErrMessageNotFound)
}

func TestModeratorDeletesChannelMessage(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	msg, err := s.Send(ctx, f.member.ID, SendRequest{
		CommunityID: f.community.ID, Content: "spam spam spam",
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, msg.ID, f.owner.ID))

	var deleted models.Message
	require.NoError(t, s.db.First(&deleted, "id = ?", msg.ID).Error)
	assert.Equal(t, f.owner.ID, deleted.DeletedBy)
}

func TestDirectDeleteSenderOnly(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	msg, err := s.Send(ctx, f.member.ID, SendRequest{
		ReceiverID: f.owner.ID, Content: "regrettable",
	})
	require.NoError(t, err)

	// The receiver cannot delete for everyone, only the sender can.
	assert.ErrorIs(t, s.Delete(ctx, msg.ID, f.owner.ID), ErrNotPermitted)
	require.NoError(t, s.Delete(ctx, msg.ID, f.member.ID))
}

func TestHideIsPerUser(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	ctx := context.Background()

	msg, err := s.Send(ctx, f.owner.ID, SendRequest{
		CommunityID: f.community.ID, Content: "not for bob"},
	)
	require.NoError(t, err)

	require.NoError(t, s.Hide(ctx, msg.ID, f.member.ID))
	require.NoError(t, s.Hide(ctx, msg.ID, f.member.ID))

	_, total, err := s.CommunityHistory(ctx, f.community.ID, f.member.ID, defaultPage())
	require.NoError(t, err)
	assert.Zero(t, total)

	// Everyone else still sees it.
	_, total, err = s.CommunityHistory(ctx, f.community.ID, f.owner.ID, defaultPage())
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	// The hidden message is gone from the hider's view entirely.
	assert.ErrorIs(t, s.MarkRead(ctx, msg.ID, f.member.ID), ErrMessageNotFound)
}
