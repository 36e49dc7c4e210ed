// Package posts implements post and comment CRUD, voting with
// score recomputation, and the moderation gate.
package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commune-hq/backend/internal/cache"
	"github.com/commune-hq/backend/internal/logger"
	"github.com/commune-hq/backend/internal/models"
	"github.com/commune-hq/backend/internal/moderation"
	"github.com/commune-hq/backend/internal/util"
	"github.com/commune-hq/backend/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrPostNotFound     = errors.New("post not found")
	ErrCommentNotFound  = errors.New("comment not found")
	ErrCommunityGone    = errors.New("community not found")
	ErrNotMember        = errors.New("community membership required")
	ErrNotPermitted     = errors.New("not permitted")
	ErrPostLocked       = errors.New("post is locked")
	ErrContentFlagged   = errors.New("content rejected by moderation")
	ErrInvalidVote      = errors.New("vote value must be 1 or -1")
	ErrParentMismatch   = errors.New("parent comment belongs to another post")
)

// Service handles posts, comments, and voting
type Service struct {
	db         *gorm.DB
	cache      *cache.Store
	hub        *websocket.Hub
	moderation *moderation.Client
}

// NewService creates a new posts service
func NewService(db *gorm.DB, store *cache.Store, hub *websocket.Hub, mod *moderation.Client) *Service {
	return &Service{db: db, cache: store, hub: hub, moderation: mod}
}

// CreatePostRequest holds the fields for creating a post
type CreatePostRequest struct {
	CommunityID string `json:"community_id" binding:"required"`
	Title       string `json:"title" binding:"required,min=3,max=300"`
	Content     string `json:"content" binding:"required,min=1,max=40000"`
	MediaURL    string `json:"media_url" binding:"omitempty,url"`
}

// CreatePost validates membership and post permission, runs the
// moderation gate, and persists with an initial score.
func (s *Service) CreatePost(ctx context.Context, authorID string, req CreatePostRequest) (*models.Post, error) {
	var community models.Community
	if err := s.db.First(&community, "id = ? AND is_active = ?", req.CommunityID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommunityGone
		}
		return nil, err
	}

	member, err := s.activeMembership(req.CommunityID, authorID)
	if err != nil {
		return nil, ErrNotMember
	}
	if community.PostPermission == models.PostModerators && !member.Role.CanModerate() {
		return nil, ErrNotPermitted
	}

	analysis, err := s.moderate(ctx, req.Title+"\n"+req.Content)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	post := models.Post{
		CommunityID: req.CommunityID,
		AuthorID:    authorID,
		Title:       req.Title,
		Content:     req.Content,
		MediaURL:    req.MediaURL,
		AIAnalysis:  analysis,
		Score:       Score(0, 0, now, now),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&post).Error; err != nil {
			return err
		}
		return tx.Model(&models.Community{}).Where("id = ?", req.CommunityID).
			UpdateColumn("post_count", gorm.Expr("post_count + ?", 1)).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	logger.Log.Info("Post created",
		zap.String("post_id", post.ID),
		zap.String("community_id", post.CommunityID),
		zap.String("author_id", authorID),
	)

	s.invalidatePost(ctx, &post)
	s.broadcast(websocket.CommunityRoom(post.CommunityID),
		websocket.NewMessage(websocket.MessageTypeNewPost, websocket.NewPostPayload{
			PostID:      post.ID,
			CommunityID: post.CommunityID,
			AuthorID:    authorID,
			Title:       post.Title,
			CreatedAt:   post.CreatedAt.UnixMilli(),
		}))

	return &post, nil
}

// GetPost fetches a post by ID, reading through the cache.
// Soft-deleted posts are not found.
func (s *Service) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	key := cache.EntityKey(cache.EntityPost, postID)

	var post models.Post
	if hit, _ := s.cache.GetJSON(ctx, key, &post); hit {
		return &post, nil
	}

	if err := s.db.Preload("Author").
		First(&post, "id = ? AND deleted_at IS NULL", postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}

	s.cache.SetJSON(ctx, key, &post, cache.EntityTTL)
	return &post, nil
}

// ListPosts returns a community's posts. Sort is one of "new", "hot",
// or "top". Pinned posts always lead. Listing pages are cached per
// sort and page.
func (s *Service) ListPosts(ctx context.Context, communityID string, p util.Pagination) ([]models.Post, int64, error) {
	key := cache.ViewKey(cache.EntityCommunity, communityID, "posts",
		fmt.Sprintf("sort=%s", p.Sort),
		fmt.Sprintf("page=%d", p.Page),
		fmt.Sprintf("limit=%d", p.Limit),
	)

	var cached struct {
		Posts []models.Post `json:"posts"`
		Total int64         `json:"total"`
	}
	if hit, _ := s.cache.GetJSON(ctx, key, &cached); hit {
		return cached.Posts, cached.Total, nil
	}

	query := s.db.Model(&models.Post{}).
		Where("community_id = ? AND deleted_at IS NULL", communityID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var order string
	switch p.Sort {
	case "hot":
		order = "pinned DESC, score DESC, created_at DESC"
	case "top":
		order = "pinned DESC, (upvote_count - downvote_count) DESC, created_at DESC"
	default:
		order = "pinned DESC, created_at DESC"
	}

	var posts []models.Post
	err := query.Preload("Author").Order(order).
		Limit(p.Limit).Offset(p.Offset()).
		Find(&posts).Error
	if err != nil {
		return nil, 0, err
	}

	cached.Posts = posts
	cached.Total = total
	s.cache.SetJSON(ctx, key, &cached, cache.ListingTTL)
	return posts, total, nil
}

// UpdatePost edits title or content. Author only; re-moderated.
func (s *Service) UpdatePost(ctx context.Context, postID, actorID string, title, content *string) (*models.Post, error) {
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != actorID {
		return nil, ErrNotPermitted
	}
	if post.Locked {
		return nil, ErrPostLocked
	}

	updates := map[string]interface{}{}
	text := ""
	if title != nil {
		updates["title"] = *title
		text += *title + "\n"
	}
	if content != nil {
		updates["content"] = *content
		text += *content
	}
	if len(updates) == 0 {
		return post, nil
	}

	analysis, err := s.moderate(ctx, text)
	if err != nil {
		return nil, err
	}
	if analysis != nil {
		updates["ai_analysis"] = analysis
	}

	if err := s.db.Model(&models.Post{}).Where("id = ?", postID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}

	s.invalidatePost(ctx, post)
	if err := s.RecomputeScore(ctx, postID); err != nil {
		return nil, err
	}
	return s.GetPost(ctx, postID)
}

// DeletePost soft-deletes. Allowed for the author, community
// moderators, and site moderators.
func (s *Service) DeletePost(ctx context.Context, postID, actorID string) error {
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return err
	}

	if !s.canModeratePost(post, actorID) {
		return ErrNotPermitted
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Post{}).Where("id = ?", postID).Updates(map[string]interface{}{
			"deleted_at": now,
			"deleted_by": actorID,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Community{}).Where("id = ?", post.CommunityID).
			UpdateColumn("post_count", gorm.Expr("post_count - ?", 1)).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	s.invalidatePost(ctx, post)
	return nil
}

// SetPinned pins or unpins a post. Community moderators only.
func (s *Service) SetPinned(ctx context.Context, postID, actorID string, pinned bool) error {
	return s.setModerationFlag(ctx, postID, actorID, "pinned", pinned)
}

// SetLocked locks or unlocks a post against new comments and edits.
// Community moderators only.
func (s *Service) SetLocked(ctx context.Context, postID, actorID string, locked bool) error {
	return s.setModerationFlag(ctx, postID, actorID, "locked", locked)
}

func (s *Service) setModerationFlag(ctx context.Context, postID, actorID, column string, value bool) error {
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return err
	}

	member, err := s.activeMembership(post.CommunityID, actorID)
	if err != nil || !member.Role.CanModerate() {
		return ErrNotPermitted
	}

	if err := s.db.Model(&models.Post{}).Where("id = ?", postID).
		Update(column, value).Error; err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}

	s.invalidatePost(ctx, post)
	return nil
}

// Vote applies a vote with toggle semantics: voting the same way twice
// removes the vote; voting the other way replaces it. Counters are
// adjusted atomically and the score recomputed in the same
// transaction.
func (s *Service) Vote(ctx context.Context, postID, userID string, value int) (*models.Post, error) {
	if value != 1 && value != -1 {
		return nil, ErrInvalidVote
	}

	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	if _, err := s.activeMembership(post.CommunityID, userID); err != nil {
		return nil, ErrNotMember
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.PostVote
		findErr := tx.Where("post_id = ? AND user_id = ?", postID, userID).First(&existing).Error

		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			// Fresh vote
			vote := models.PostVote{PostID: postID, UserID: userID, Value: value}
			if err := tx.Create(&vote).Error; err != nil {
				return err
			}
			return s.adjustVoteCount(tx, postID, value, 1)

		case findErr != nil:
			return findErr

		case existing.Value == value:
			// Same vote twice toggles it off
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
			return s.adjustVoteCount(tx, postID, value, -1)

		default:
			// Switching direction: remove the old membership, add the new
			if err := tx.Model(&existing).Update("value", value).Error; err != nil {
				return err
			}
			if err := s.adjustVoteCount(tx, postID, -value, -1); err != nil {
				return err
			}
			return s.adjustVoteCount(tx, postID, value, 1)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply vote: %w", err)
	}

	s.invalidatePost(ctx, post)
	if err := s.RecomputeScore(ctx, postID); err != nil {
		return nil, err
	}

	fresh, err := s.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	userVote, err := s.UserVote(postID, userID)
	if err != nil {
		return nil, err
	}

	s.broadcast(websocket.PostRoom(postID),
		websocket.NewMessage(websocket.MessageTypeVoteUpdate, websocket.VoteUpdatePayload{
			PostID:        postID,
			UpvoteCount:   fresh.UpvoteCount,
			DownvoteCount: fresh.DownvoteCount,
			Score:         fresh.Score,
			UserVote:      userVote,
			Timestamp:     time.Now().UnixMilli(),
		}))

	return fresh, nil
}

// UserVote returns the caller's current vote on a post: 1, -1, or 0
func (s *Service) UserVote(postID, userID string) (int, error) {
	var vote models.PostVote
	err := s.db.Where("post_id = ? AND user_id = ?", postID, userID).First(&vote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return vote.Value, nil
}

// RecomputeScore recalculates and persists a post's score from its
// current counters. Idempotent: same inputs produce the same score.
func (s *Service) RecomputeScore(ctx context.Context, postID string) error {
	var post models.Post
	if err := s.db.First(&post, "id = ?", postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPostNotFound
		}
		return err
	}

	score := Score(post.VoteCount(), post.CommentCount, post.CreatedAt, time.Now())
	if err := s.db.Model(&models.Post{}).Where("id = ?", postID).
		UpdateColumn("score", score).Error; err != nil {
		return fmt.Errorf("failed to persist score: %w", err)
	}

	s.cache.InvalidateEntity(ctx, cache.EntityPost, postID)
	return nil
}

// CreateCommentRequest holds the fields for creating a comment
type CreateCommentRequest struct {
	Content  string `json:"content" binding:"required,min=1,max=10000"`
	ParentID string `json:"parent_id" binding:"omitempty"`
}

// CreateComment adds a comment, enforcing single-level threading: a
// reply to a reply attaches to the top-level parent instead.
func (s *Service) CreateComment(ctx context.Context, postID, authorID string, req CreateCommentRequest) (*models.Comment, error) {
	post, err := s.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Locked {
		return nil, ErrPostLocked
	}
	if _, err := s.activeMembership(post.CommunityID, authorID); err != nil {
		return nil, ErrNotMember
	}

	var parentID *string
	if req.ParentID != "" {
		var parent models.Comment
		if err := s.db.First(&parent, "id = ? AND deleted_at IS NULL", req.ParentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrCommentNotFound
			}
			return nil, err
		}
		if parent.PostID != postID {
			return nil, ErrParentMismatch
		}
		// Flatten to one level of nesting
		if parent.ParentID != nil {
			parentID = parent.ParentID
		} else {
			parentID = &parent.ID
		}
	}

	analysis, err := s.moderate(ctx, req.Content)
	if err != nil {
		return nil, err
	}

	comment := models.Comment{
		PostID:     postID,
		AuthorID:   authorID,
		ParentID:   parentID,
		Content:    req.Content,
		AIAnalysis: analysis,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", postID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + ?", 1)).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	s.invalidatePost(ctx, post)
	if err := s.RecomputeScore(ctx, postID); err != nil {
		return nil, err
	}

	s.broadcast(websocket.PostRoom(postID),
		websocket.NewMessage(websocket.MessageTypeNewComment, websocket.NewCommentPayload{
			CommentID: comment.ID,
			PostID:    postID,
			AuthorID:  authorID,
			ParentID:  req.ParentID,
			Content:   comment.Content,
			CreatedAt: comment.CreatedAt.UnixMilli(),
		}))

	return &comment, nil
}

// ListComments returns a post's visible comments oldest first, with
// replies following their parents by creation order.
func (s *Service) ListComments(ctx context.Context, postID string, p util.Pagination) ([]models.Comment, int64, error) {
	query := s.db.Model(&models.Comment{}).
		Where("post_id = ? AND deleted_at IS NULL", postID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var comments []models.Comment
	err := query.Preload("Author").Order("created_at ASC").
		Limit(p.Limit).Offset(p.Offset()).
		Find(&comments).Error
	return comments, total, err
}

// UpdateComment edits a comment's content. Author only; re-moderated
// and marked as edited.
func (s *Service) UpdateComment(ctx context.Context, commentID, actorID, content string) (*models.Comment, error) {
	var comment models.Comment
	if err := s.db.First(&comment, "id = ? AND deleted_at IS NULL", commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommentNotFound
		}
		return nil, err
	}
	if comment.AuthorID != actorID {
		return nil, ErrNotPermitted
	}

	analysis, err := s.moderate(ctx, content)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updates := map[string]interface{}{
		"content":   content,
		"is_edited": true,
		"edited_at": now,
	}
	if analysis != nil {
		updates["ai_analysis"] = analysis
	}

	if err := s.db.Model(&comment).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update comment: %w", err)
	}
	return &comment, nil
}

// DeleteComment soft-deletes a comment and decrements the post's
// counter. Author, community moderators, and site moderators.
func (s *Service) DeleteComment(ctx context.Context, commentID, actorID string) error {
	var comment models.Comment
	if err := s.db.First(&comment, "id = ? AND deleted_at IS NULL", commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCommentNotFound
		}
		return err
	}

	post, err := s.GetPost(ctx, comment.PostID)
	if err != nil {
		return err
	}
	if comment.AuthorID != actorID && !s.canModeratePost(post, actorID) {
		return ErrNotPermitted
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&comment).Updates(map[string]interface{}{
			"deleted_at": now,
			"deleted_by": actorID,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", comment.PostID).
			UpdateColumn("comment_count", gorm.Expr("comment_count - ?", 1)).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}

	s.invalidatePost(ctx, post)
	return s.RecomputeScore(ctx, comment.PostID)
}

// moderate runs text through the moderation service. A service verdict
// of unsafe or flagged rejects the content; an unreachable service
// admits it with no stored analysis.
func (s *Service) moderate(ctx context.Context, text string) (*models.AIAnalysis, error) {
	result, fromService := s.moderation.Analyze(ctx, text)
	if !fromService {
		return nil, nil
	}
	if result.Flagged || !result.IsSafe {
		return nil, ErrContentFlagged
	}
	return &models.AIAnalysis{
		ToxicityScore: result.ToxicityScore,
		IsSafe:        result.IsSafe,
		Flagged:       result.Flagged,
		Sentiment:     result.Sentiment,
		Categories:    result.Categories,
	}, nil
}

// canModeratePost allows the author, community moderators, and users
// with a site-level moderator or admin role.
func (s *Service) canModeratePost(post *models.Post, actorID string) bool {
	if post.AuthorID == actorID {
		return true
	}

	if member, err := s.activeMembership(post.CommunityID, actorID); err == nil && member.Role.CanModerate() {
		return true
	}

	var user models.User
	if err := s.db.First(&user, "id = ?", actorID).Error; err == nil && user.IsSiteModerator() {
		return true
	}
	return false
}

func (s *Service) activeMembership(communityID, userID string) (*models.CommunityMember, error) {
	var member models.CommunityMember
	err := s.db.Where("community_id = ? AND user_id = ? AND role <> ?",
		communityID, userID, models.MemberPending).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// adjustVoteCount bumps the matching counter column inside a
// transaction.
func (s *Service) adjustVoteCount(tx *gorm.DB, postID string, voteValue, delta int) error {
	column := "upvote_count"
	if voteValue < 0 {
		column = "downvote_count"
	}
	return tx.Model(&models.Post{}).Where("id = ?", postID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
}

// invalidatePost drops the post's entity key and the community's
// cached post listings.
func (s *Service) invalidatePost(ctx context.Context, post *models.Post) {
	s.cache.InvalidateEntity(ctx, cache.EntityPost, post.ID)
	s.cache.InvalidateViews(ctx, cache.EntityCommunity, post.CommunityID, "posts")
}

func (s *Service) broadcast(room string, msg *websocket.Message) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastRoom(room, msg)
}
