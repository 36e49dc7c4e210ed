// Package community implements community lifecycle and membership:
// creation, joining, roles, and ownership transfer.
package community

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commune-hq/backend/internal/cache"
	"github.com/commune-hq/backend/internal/logger"
	"github.com/commune-hq/backend/internal/models"
	"github.com/commune-hq/backend/internal/util"
	"github.com/commune-hq/backend/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("community not found")
	ErrSlugTaken         = errors.New("community name already taken")
	ErrAlreadyMember     = errors.New("already a member")
	ErrNotMember         = errors.New("not a member")
	ErrMembershipPending = errors.New("membership approval pending")
	ErrInviteOnly        = errors.New("community is invite only")
	ErrNotModerator      = errors.New("moderator role required")
	ErrNotOwner          = errors.New("owner role required")
	ErrOwnerCannotLeave  = errors.New("owner must transfer ownership before leaving")
	ErrCannotModifyOwner = errors.New("cannot modify the owner's membership")
)

// Service handles community and membership operations
type Service struct {
	db    *gorm.DB
	cache *cache.Store
	hub   *websocket.Hub
}

// NewService creates a new community service
func NewService(db *gorm.DB, store *cache.Store, hub *websocket.Hub) *Service {
	return &Service{db: db, cache: store, hub: hub}
}

// CreateRequest holds the fields for creating a community
type CreateRequest struct {
	Name           string                `json:"name" binding:"required,min=3,max=50"`
	Description    string                `json:"description" binding:"omitempty,max=500"`
	AvatarURL      string                `json:"avatar_url" binding:"omitempty,url"`
	BannerURL      string                `json:"banner_url" binding:"omitempty,url"`
	Privacy        models.Privacy        `json:"privacy" binding:"omitempty,oneof=public private"`
	JoinMethod     models.JoinMethod     `json:"join_method" binding:"omitempty,oneof=open approval invite"`
	PostPermission models.PostPermission `json:"post_permission" binding:"omitempty,oneof=all moderators"`
}

// UpdateRequest holds the mutable community settings
type UpdateRequest struct {
	Description    *string                `json:"description" binding:"omitempty,max=500"`
	AvatarURL      *string                `json:"avatar_url"`
	BannerURL      *string                `json:"banner_url"`
	Privacy        *models.Privacy        `json:"privacy" binding:"omitempty,oneof=public private"`
	JoinMethod     *models.JoinMethod     `json:"join_method" binding:"omitempty,oneof=open approval invite"`
	PostPermission *models.PostPermission `json:"post_permission" binding:"omitempty,oneof=all moderators"`
}

// Create creates a community and enrolls the creator as its owner
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*models.Community, error) {
	slug := models.Slugify(req.Name)
	if slug == "" {
		return nil, fmt.Errorf("name produces an empty slug")
	}

	var existing models.Community
	err := s.db.Where("slug = ?", slug).First(&existing).Error
	if err == nil {
		return nil, ErrSlugTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error: %w", err)
	}

	community := models.Community{
		Name:           req.Name,
		Slug:           slug,
		Description:    req.Description,
		AvatarURL:      req.AvatarURL,
		BannerURL:      req.BannerURL,
		OwnerID:        ownerID,
		Privacy:        req.Privacy,
		JoinMethod:     req.JoinMethod,
		PostPermission: req.PostPermission,
		MemberCount:    1,
		IsActive:       true,
	}
	if community.Privacy == "" {
		community.Privacy = models.PrivacyPublic
	}
	if community.JoinMethod == "" {
		community.JoinMethod = models.JoinOpen
	}
	if community.PostPermission == "" {
		community.PostPermission = models.PostAll
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&community).Error; err != nil {
			return err
		}
		member := models.CommunityMember{
			CommunityID: community.ID,
			UserID:      ownerID,
			Role:        models.MemberOwner,
			JoinedAt:    time.Now(),
		}
		return tx.Create(&member).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create community: %w", err)
	}

	logger.Log.Info("Community created",
		zap.String("community_id", community.ID),
		zap.String("slug", community.Slug),
		zap.String("owner_id", ownerID),
	)

	s.cache.InvalidateViews(ctx, cache.EntityCommunity, "", "list")
	return &community, nil
}

// Get fetches a community by ID, reading through the cache
func (s *Service) Get(ctx context.Context, communityID string) (*models.Community, error) {
	key := cache.EntityKey(cache.EntityCommunity, communityID)

	var community models.Community
	if hit, _ := s.cache.GetJSON(ctx, key, &community); hit {
		return &community, nil
	}

	if err := s.db.First(&community, "id = ? AND is_active = ?", communityID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.cache.SetJSON(ctx, key, &community, cache.EntityTTL)
	return &community, nil
}

// GetBySlug fetches a community by its URL slug
func (s *Service) GetBySlug(ctx context.Context, slug string) (*models.Community, error) {
	var community models.Community
	if err := s.db.First(&community, "slug = ? AND is_active = ?", slug, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &community, nil
}

// List returns active communities, newest or largest first
func (s *Service) List(ctx context.Context, p util.Pagination) ([]models.Community, int64, error) {
	query := s.db.Model(&models.Community{}).Where("is_active = ?", true)
	if p.Search != "" {
		pattern := "%" + p.Search + "%"
		query = query.Where("name LIKE ? OR description LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at DESC"
	if p.Sort == "popular" {
		order = "member_count DESC"
	}

	var communities []models.Community
	err := query.Order(order).Limit(p.Limit).Offset(p.Offset()).Find(&communities).Error
	return communities, total, err
}

// Update applies settings changes. Only the owner or a community
// moderator may update.
func (s *Service) Update(ctx context.Context, communityID, actorID string, req UpdateRequest) (*models.Community, error) {
	community, err := s.Get(ctx, communityID)
	if err != nil {
		return nil, err
	}

	if err := s.requireModerator(communityID, actorID); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = *req.AvatarURL
	}
	if req.BannerURL != nil {
		updates["banner_url"] = *req.BannerURL
	}
	if req.Privacy != nil {
		updates["privacy"] = *req.Privacy
	}
	if req.JoinMethod != nil {
		updates["join_method"] = *req.JoinMethod
	}
	if req.PostPermission != nil {
		updates["post_permission"] = *req.PostPermission
	}
	if len(updates) == 0 {
		return community, nil
	}

	if err := s.db.Model(&models.Community{}).Where("id = ?", communityID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update community: %w", err)
	}

	s.invalidate(ctx, communityID)
	return s.Get(ctx, communityID)
}

// Deactivate soft-disables a community. Owner only.
func (s *Service) Deactivate(ctx context.Context, communityID, actorID string) error {
	community, err := s.Get(ctx, communityID)
	if err != nil {
		return err
	}
	if community.OwnerID != actorID {
		return ErrNotOwner
	}

	if err := s.db.Model(&models.Community{}).Where("id = ?", communityID).
		Update("is_active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate community: %w", err)
	}

	s.invalidate(ctx, communityID)
	return nil
}

// Join enrolls a user according to the community's join method. Open
// communities grant membership immediately; approval communities
// create a pending membership; invite-only communities reject.
func (s *Service) Join(ctx context.Context, communityID, userID string) (*models.CommunityMember, error) {
	community, err := s.Get(ctx, communityID)
	if err != nil {
		return nil, err
	}

	var existing models.CommunityMember
	err = s.db.Where("community_id = ? AND user_id = ?", communityID, userID).First(&existing).Error
	if err == nil {
		if existing.Role == models.MemberPending {
			return nil, ErrMembershipPending
		}
		return nil, ErrAlreadyMember
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error: %w", err)
	}

	role := models.MemberRegular
	switch community.JoinMethod {
	case models.JoinApproval:
		role = models.MemberPending
	case models.JoinInvite:
		return nil, ErrInviteOnly
	}

	member := models.CommunityMember{
		CommunityID: communityID,
		UserID:      userID,
		Role:        role,
		JoinedAt:    time.Now(),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&member).Error; err != nil {
			return err
		}
		if role != models.MemberPending {
			return s.adjustMemberCount(tx, communityID, 1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join community: %w", err)
	}

	if role != models.MemberPending {
		s.announceMembership(websocket.MessageTypeUserJoined, communityID, userID)
	}
	s.invalidate(ctx, communityID)
	return &member, nil
}

// ApproveMember promotes a pending membership to full membership
func (s *Service) ApproveMember(ctx context.Context, communityID, actorID, userID string) error {
	if err := s.requireModerator(communityID, actorID); err != nil {
		return err
	}

	var member models.CommunityMember
	err := s.db.Where("community_id = ? AND user_id = ? AND role = ?",
		communityID, userID, models.MemberPending).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotMember
		}
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&member).Update("role", models.MemberRegular).Error; err != nil {
			return err
		}
		return s.adjustMemberCount(tx, communityID, 1)
	})
	if err != nil {
		return fmt.Errorf("failed to approve member: %w", err)
	}

	s.announceMembership(websocket.MessageTypeUserJoined, communityID, userID)
	s.invalidate(ctx, communityID)
	return nil
}

// Leave removes a user's membership. The owner must transfer
// ownership first.
func (s *Service) Leave(ctx context.Context, communityID, userID string) error {
	var member models.CommunityMember
	err := s.db.Where("community_id = ? AND user_id = ?", communityID, userID).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotMember
		}
		return err
	}

	if member.Role == models.MemberOwner {
		return ErrOwnerCannotLeave
	}
	wasActive := member.Role != models.MemberPending

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&member).Error; err != nil {
			return err
		}
		if wasActive {
			return s.adjustMemberCount(tx, communityID, -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to leave community: %w", err)
	}

	if wasActive {
		s.announceMembership(websocket.MessageTypeUserLeft, communityID, userID)
	}
	s.invalidate(ctx, communityID)
	return nil
}

// RemoveMember kicks a member out. Moderators may not remove the
// owner or other moderators; the owner may remove anyone.
func (s *Service) RemoveMember(ctx context.Context, communityID, actorID, userID string) error {
	actor, err := s.membership(communityID, actorID)
	if err != nil {
		return ErrNotModerator
	}
	if !actor.Role.CanModerate() {
		return ErrNotModerator
	}

	target, err := s.membership(communityID, userID)
	if err != nil {
		return ErrNotMember
	}
	if target.Role == models.MemberOwner {
		return ErrCannotModifyOwner
	}
	if target.Role == models.MemberModerator && actor.Role != models.MemberOwner {
		return ErrNotOwner
	}
	wasActive := target.Role != models.MemberPending

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(target).Error; err != nil {
			return err
		}
		if wasActive {
			return s.adjustMemberCount(tx, communityID, -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	if wasActive {
		s.announceMembership(websocket.MessageTypeUserLeft, communityID, userID)
	}
	s.invalidate(ctx, communityID)
	return nil
}

// SetMemberRole promotes or demotes between member and moderator.
// Owner only.
func (s *Service) SetMemberRole(ctx context.Context, communityID, actorID, userID string, role models.MemberRole) error {
	if role != models.MemberRegular && role != models.MemberModerator {
		return fmt.Errorf("role must be member or moderator")
	}

	community, err := s.Get(ctx, communityID)
	if err != nil {
		return err
	}
	if community.OwnerID != actorID {
		return ErrNotOwner
	}

	target, err := s.membership(communityID, userID)
	if err != nil {
		return ErrNotMember
	}
	if target.Role == models.MemberOwner {
		return ErrCannotModifyOwner
	}
	if target.Role == models.MemberPending {
		return ErrMembershipPending
	}

	if err := s.db.Model(target).Update("role", role).Error; err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	s.invalidate(ctx, communityID)
	return nil
}

// TransferOwnership hands the community to another active member. The
// previous owner stays on as a moderator.
func (s *Service) TransferOwnership(ctx context.Context, communityID, ownerID, newOwnerID string) error {
	community, err := s.Get(ctx, communityID)
	if err != nil {
		return err
	}
	if community.OwnerID != ownerID {
		return ErrNotOwner
	}
	if ownerID == newOwnerID {
		return fmt.Errorf("already the owner")
	}

	target, err := s.membership(communityID, newOwnerID)
	if err != nil {
		return ErrNotMember
	}
	if target.Role == models.MemberPending {
		return ErrMembershipPending
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Community{}).Where("id = ?", communityID).
			Update("owner_id", newOwnerID).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.CommunityMember{}).
			Where("community_id = ? AND user_id = ?", communityID, newOwnerID).
			Update("role", models.MemberOwner).Error; err != nil {
			return err
		}
		return tx.Model(&models.CommunityMember{}).
			Where("community_id = ? AND user_id = ?", communityID, ownerID).
			Update("role", models.MemberModerator).Error
	})
	if err != nil {
		return fmt.Errorf("failed to transfer ownership: %w", err)
	}

	logger.Log.Info("Community ownership transferred",
		zap.String("community_id", communityID),
		zap.String("from", ownerID),
		zap.String("to", newOwnerID),
	)

	s.invalidate(ctx, communityID)
	return nil
}

// Members lists a community's memberships, owner and moderators first
func (s *Service) Members(ctx context.Context, communityID string, p util.Pagination) ([]models.CommunityMember, int64, error) {
	query := s.db.Model(&models.CommunityMember{}).
		Where("community_id = ? AND role <> ?", communityID, models.MemberPending)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var members []models.CommunityMember
	err := query.Preload("User").
		Order("CASE role WHEN 'owner' THEN 0 WHEN 'moderator' THEN 1 ELSE 2 END, joined_at ASC").
		Limit(p.Limit).Offset(p.Offset()).
		Find(&members).Error
	return members, total, err
}

// PendingMembers lists memberships awaiting approval. Moderator only.
func (s *Service) PendingMembers(ctx context.Context, communityID, actorID string, p util.Pagination) ([]models.CommunityMember, int64, error) {
	if err := s.requireModerator(communityID, actorID); err != nil {
		return nil, 0, err
	}

	query := s.db.Model(&models.CommunityMember{}).
		Where("community_id = ? AND role = ?", communityID, models.MemberPending)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var members []models.CommunityMember
	err := query.Preload("User").Order("joined_at ASC").
		Limit(p.Limit).Offset(p.Offset()).
		Find(&members).Error
	return members, total, err
}

// IsMember reports whether a user holds active membership
func (s *Service) IsMember(communityID, userID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.CommunityMember{}).
		Where("community_id = ? AND user_id = ? AND role <> ?",
			communityID, userID, models.MemberPending).
		Count(&count).Error
	return count > 0, err
}

// Membership returns a user's membership row, if any
func (s *Service) Membership(communityID, userID string) (*models.CommunityMember, error) {
	return s.membership(communityID, userID)
}

func (s *Service) membership(communityID, userID string) (*models.CommunityMember, error) {
	var member models.CommunityMember
	err := s.db.Where("community_id = ? AND user_id = ?", communityID, userID).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// requireModerator errors unless the actor can moderate the community
func (s *Service) requireModerator(communityID, actorID string) error {
	member, err := s.membership(communityID, actorID)
	if err != nil {
		return ErrNotModerator
	}
	if !member.Role.CanModerate() {
		return ErrNotModerator
	}
	return nil
}

// adjustMemberCount applies a counter delta inside a transaction
func (s *Service) adjustMemberCount(tx *gorm.DB, communityID string, delta int) error {
	return tx.Model(&models.Community{}).Where("id = ?", communityID).
		UpdateColumn("member_count", gorm.Expr("member_count + ?", delta)).Error
}

// announceMembership broadcasts a join or leave event to the
// community's room.
func (s *Service) announceMembership(msgType, communityID, userID string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastRoom(websocket.CommunityRoom(communityID),
		websocket.NewMessage(msgType, websocket.MembershipPayload{
			CommunityID: communityID,
			UserID:      userID,
			Timestamp:   time.Now().UnixMilli(),
		}))
}

// invalidate drops the community's cached entity and listing views
func (s *Service) invalidate(ctx context.Context, communityID string) {
	s.cache.InvalidateEntity(ctx, cache.EntityCommunity, communityID)
	s.cache.InvalidateViews(ctx, cache.EntityCommunity, "", "list")
}
