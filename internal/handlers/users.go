package handlers

import (
	"errors"
	"net/http"

	"github.com/commune-hq/backend/internal/models"
	"github.com/commune-hq/backend/internal/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// GetMe returns the authenticated user's own profile
// GET /api/v1/users/me
func (h *Handlers) GetMe(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	util.Respond(c, http.StatusOK, "", user)
}

// UpdateMe updates the authenticated user's profile
// PATCH /api/v1/users/me
func (h *Handlers) UpdateMe(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}

	var req struct {
		DisplayName *string `json:"display_name" binding:"omitempty,min=1,max=50"`
		Bio         *string `json:"bio" binding:"omitempty,max=500"`
		AvatarURL   *string `json:"avatar_url" binding:"omitempty,url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		updates["display_name"] = *req.DisplayName
	}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = *req.AvatarURL
	}
	if len(updates) == 0 {
		util.RespondBadRequest(c, "no fields to update")
		return
	}

	if err := h.db.Model(user).Updates(updates).Error; err != nil {
		util.RespondInternalError(c, "failed to update profile")
		return
	}
	util.Respond(c, http.StatusOK, "profile updated", user)
}

// GetUser returns a public profile by username
// GET /api/v1/users/:username
func (h *Handlers) GetUser(c *gin.Context) {
	var user models.User
	err := h.db.Where("LOWER(username) = LOWER(?)", c.Param("username")).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.RespondNotFound(c, "user")
			return
		}
		util.RespondInternalError(c, "failed to load user")
		return
	}

	// Public view: strip the email.
	user.Email = ""
	util.Respond(c, http.StatusOK, "", user)
}

// ListUsers pages through all accounts, optionally filtered by a
// username or email search. Admin only.
// GET /api/v1/admin/users
func (h *Handlers) ListUsers(c *gin.Context) {
	p := util.ParsePagination(c)

	base := h.db.Model(&models.User{})
	if p.Search != "" {
		pattern := "%" + p.Search + "%"
		base = base.Where("username LIKE ? OR email LIKE ?", pattern, pattern)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		util.RespondInternalError(c, "failed to count users")
		return
	}

	var users []models.User
	err := base.Order("created_at DESC").
		Limit(p.Limit).Offset(p.Offset()).
		Find(&users).Error
	if err != nil {
		util.RespondInternalError(c, "failed to load users")
		return
	}
	util.RespondPage(c, users, p.Page, p.Limit, total)
}

// GetUserCommunities lists the communities a user belongs to
// GET /api/v1/users/:username/communities
func (h *Handlers) GetUserCommunities(c *gin.Context) {
	var user models.User
	err := h.db.Where("LOWER(username) = LOWER(?)", c.Param("username")).First(&user).Error
	if err != nil {
		util.RespondNotFound(c, "user")
		return
	}

	p := util.ParsePagination(c)
	base := h.db.Model(&models.Community{}).
		Joins("JOIN community_members ON community_members.community_id = communities.id").
		Where("community_members.user_id = ? AND community_members.role <> ?",
			user.ID, models.MemberPending).
		Where("communities.is_active = ?", true)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		util.RespondInternalError(c, "failed to count memberships")
		return
	}

	var communities []models.Community
	err = base.Order("community_members.joined_at DESC").
		Limit(p.Limit).Offset(p.Offset()).
		Find(&communities).Error
	if err != nil {
		util.RespondInternalError(c, "failed to load communities")
		return
	}
	util.RespondPage(c, communities, p.Page, p.Limit, total)
}
