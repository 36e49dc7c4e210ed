package posts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

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
		&models.Post{}, &models.PostVote{}, &models.Comment{},
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

func createTestPost(t *testing.T, s *Service, f fixture) *models.Post {
	t.Helper()
	post, err := s.CreatePost(context.Background(), f.member.ID, CreatePostRequest{
		CommunityID: f.community.ID,
		Title:       "Generics in practice",
		Content:     "Where have type parameters actually paid off for you?",
	})
	require.NoError(t, err)
	return post
}

func TestScore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// No votes, no comments: everything zeroes out
	assert.Equal(t, 0.0, Score(0, 0, now, now))

	// Ten net upvotes at age zero: pure log term
	assert.Equal(t, 1.0, Score(10, 0, now, now))

	// Comments add half a point each
	assert.Equal(t, 2.0, Score(10, 2, now, now))

	// Age pushes positively-voted posts up and negative ones down
	aged := now.Add(-45000 * time.Hour)
	assert.Equal(t, 2.0, Score(10, 0, aged, now))
	assert.Equal(t, 0.0, Score(-10, 0, aged, now))

	// Zero net votes ignore age entirely
	assert.Equal(t, 0.0, Score(0, 0, aged, now))

	// Deterministic and rounded to four decimal places
	got := Score(7, 1, now.Add(-100*time.Hour), now)
	assert.Equal(t, got, Score(7, 1, now.Add(-100*time.Hour), now))
	assert.Equal(t, got, float64(int(got*10000+0.5))/10000)
}

func TestCreatePost(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)

	post := createTestPost(t, s, f)
	assert.Equal(t, f.member.ID, post.AuthorID)
	assert.Equal(t, 0.0, post.Score)
	assert.Nil(t, post.AIAnalysis)

	// Community post count incremented
	var community models.Community
	require.NoError(t, s.db.First(&community, "id = ?", f.community.ID).Error)
	assert.Equal(t, 1, community.PostCount)

	// Non-members cannot post
	_, err := s.CreatePost(context.Background(), f.outsider.ID, CreatePostRequest{
		CommunityID: f.community.ID, Title: "Hello", Content: "world",
	})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestCreatePostModeratorsOnly(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)

	require.NoError(t, s.db.Model(&models.Community{}).Where("id = ?", f.community.ID).
		Update("post_permission", models.PostModerators).Error)

	_, err := s.CreatePost(context.Background(), f.member.ID, CreatePostRequest{
		CommunityID: f.community.ID, Title: "Hello", Content: "world",
	})
	assert.ErrorIs(t, err, ErrNotPermitted)

	_, err = s.CreatePost(context.Background(), f.owner.ID, CreatePostRequest{
		CommunityID: f.community.ID, Title: "Hello", Content: "world",
	})
	assert.NoError(t, err)
}

func TestModerationGate(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"toxicity_score":0.97,"is_safe":false,"flagged":true}`))
	}))
	defer server.Close()
	s.moderation = moderation.NewClient(server.URL)

	_, err := s.CreatePost(context.Background(), f.member.ID, CreatePostRequest{
		CommunityID: f.community.ID, Title: "Spam", Content: "spam spam spam",
	})
	assert.ErrorIs(t, err, ErrContentFlagged)
}

func TestModerationVerdictPersisted(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"toxicity_score":0.02,"is_safe":true,"flagged":false,"sentiment":"positive"}`))
	}))
	defer server.Close()
	s.moderation = moderation.NewClient(server.URL)

	post := createTestPost(t, s, f)
	require.NotNil(t, post.AIAnalysis)
	assert.InDelta(t, 0.02, post.AIAnalysis.ToxicityScore, 1e-9)
	assert.Equal(t, "positive", post.AIAnalysis.Sentiment)
}

func TestVoteToggle(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	post := createTestPost(t, s, f)

	// Fresh upvote
	updated, err := s.Vote(context.Background(), post.ID, f.owner.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.UpvoteCount)
	assert.Equal(t, 0, updated.DownvoteCount)

	vote, err := s.UserVote(post.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, vote)

	// Same vote again toggles off
	updated, err = s.Vote(context.Background(), post.ID, f.owner.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.UpvoteCount)

	vote, err = s.UserVote(post.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, vote)
}

func TestVoteSwitchDirection(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	post := createTestPost(t, s, f)

	_, err := s.Vote(context.Background(), post.ID, f.owner.ID, 1)
	require.NoError(t, err)

	// Downvote replaces the upvote; the two sets stay exclusive
	updated, err := s.Vote(context.Background(), post.ID, f.owner.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.UpvoteCount)
	assert.Equal(t, 1, updated.DownvoteCount)

	var count int64
	require.NoError(t, s.db.Model(&models.PostVote{}).
		Where("post_id = ? AND user_id = ?", post.ID, f.owner.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestVoteValidation(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	post := createTestPost(t, s, f)

	_, err := s.Vote(context.Background(), post.ID, f.owner.ID, 2)
	assert.ErrorIs(t, err, ErrInvalidVote)

	_, err = s.Vote(context.Background(), post.ID, f.outsider.ID, 1)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestRecomputeScoreIdempotent(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	post := createTestPost(t, s, f)

	_, err := s.Vote(context.Background(), post.ID, f.owner.ID, 1)
	require.NoError(t, err)

	first, err := s.GetPost(context.Background(), post.ID)
	require.NoError(t, err)

	require.NoError(t, s.RecomputeScore(context.Background(), post.ID))
	second, err := s.GetPost(context.Background(), post.ID)
	require.NoError(t, err)

	assert.InDelta(t, first.Score, second.Score, 0.0002)
}

func TestComments(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	post := createTestPost(t, s, f)

	top, err := s.CreateComment(context.Background(), post.ID, f.owner.ID, CreateCommentRequest{
		Content: "Great question",
	})
	require.NoError(t, err)
	assert.Nil(t, top.ParentID)

	reply, err := s.CreateComment(context.Background(), post.ID, f.member.ID, CreateCommentRequest{
		Content: "Agreed", ParentID: top.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, top.ID, *reply.ParentID)

	// Replying to a reply flattens to the top-level parent
	nested, err := s.CreateComment(context.Background(), post.ID, f.owner.ID, CreateCommentRequest{
		Content: "Me too", ParentID: reply.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, nested.ParentID)
	assert.Equal(t, top.ID, *nested.ParentID)

	updated, err := s.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.CommentCount)
	assert.Equal(t, 1.5, updated.Score)

	comments, total, err := s.ListComments(context.Background(), post.ID, util.Pagination{Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, comments, 3)
}

func TestCommentOnLockedPost(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	post := createTestPost(t, s, f)

	require.NoError(t, s.SetLocked(context.Background(), post.ID, f.owner.ID, true))

	_, err := s.CreateComment(context.Background(), post.ID, f.member.ID, CreateCommentRequest{
		Content: "Too late",
	})
	assert.ErrorIs(t, err, ErrPostLocked)

	// Plain members cannot lock or pin
	assert.ErrorIs(t, s.SetLocked(context.Background(), post.ID, f.member.ID, false), ErrNotPermitted)
	assert.ErrorIs(t, s.SetPinned(context.Background(), post.ID, f.member.ID, true), ErrNotPermitted)
}

func TestDeletePost(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	post := createTestPost(t, s, f)

	// Outsiders cannot delete
	assert.ErrorIs(t, s.DeletePost(context.Background(), post.ID, f.outsider.ID), ErrNotPermitted)

	// The author can; the post disappears from reads but stays stored
	require.NoError(t, s.DeletePost(context.Background(), post.ID, f.member.ID))

	_, err := s.GetPost(context.Background(), post.ID)
	assert.ErrorIs(t, err, ErrPostNotFound)

	var raw models.Post
	require.NoError(t, s.db.First(&raw, "id = ?", post.ID).Error)
	require.NotNil(t, raw.DeletedAt)
	assert.Equal(t, f.member.ID, raw.DeletedBy)

	var community models.Community
	require.NoError(t, s.db.First(&community, "id = ?", f.community.ID).Error)
	assert.Equal(t, 0, community.PostCount)
}

func TestDeleteComment(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)
	post := createTestPost(t, s, f)

	comment, err := s.CreateComment(context.Background(), post.ID, f.member.ID, CreateCommentRequest{
		Content: "Delete me",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteComment(context.Background(), comment.ID, f.outsider.ID), ErrNotPermitted)

	// Community moderators can delete others' comments
	require.NoError(t, s.DeleteComment(context.Background(), comment.ID, f.owner.ID))

	updated, err := s.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.CommentCount)

	_, _, err = s.ListComments(context.Background(), post.ID, util.Pagination{Page: 1, Limit: 20})
	require.NoError(t, err)
}

func TestListPostsSorting(t *testing.T) {
	s := setupTestService(t)
	f := setupFixture(t, s)

	older := createTestPost(t, s, f)
	require.NoError(t, s.db.Model(&models.Post{}).Where("id = ?", older.ID).
		Update("created_at", time.Now().Add(-time.Hour)).Error)

	newer, err := s.CreatePost(context.Background(), f.owner.ID, CreatePostRequest{
		CommunityID: f.community.ID, Title: "Newer post", Content: "fresh",
	})
	require.NoError(t, err)

	// Upvote the older post so it wins on hot
	_, err = s.Vote(context.Background(), older.ID, f.owner.ID, 1)
	require.NoError(t, err)

	posts, total, err := s.ListPosts(context.Background(), f.community.ID, util.Pagination{
		Page: 1, Limit: 20, Sort: "new",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, posts, 2)
	assert.Equal(t, newer.ID, posts[0].ID)

	posts, _, err = s.ListPosts(context.Background(), f.community.ID, util.Pagination{
		Page: 1, Limit: 20, Sort: "top",
	})
	require.NoError(t, err)
	assert.Equal(t, older.ID, posts[0].ID)
}
