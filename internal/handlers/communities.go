package handlers

import (
	"net/http"

	"github.com/commune-hq/backend/internal/community"
	"github.com/commune-hq/backend/internal/models"
	"github.com/commune-hq/backend/internal/util"
	"github.com/gin-gonic/gin"
)

// CreateCommunity creates a new community owned by the caller
// POST /api/v1/communities
func (h *Handlers) CreateCommunity(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req community.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	created, err := h.communities.Create(c.Request.Context(), userID, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusCreated, "community created", created)
}

// ListCommunities lists communities with search and sorting
// GET /api/v1/communities
func (h *Handlers) ListCommunities(c *gin.Context) {
	p := util.ParsePagination(c)
	communities, total, err := h.communities.List(c.Request.Context(), p)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.RespondPage(c, communities, p.Page, p.Limit, total)
}

// GetCommunity returns one community by ID
// GET /api/v1/communities/:id
func (h *Handlers) GetCommunity(c *gin.Context) {
	com, err := h.communities.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "", com)
}

// GetCommunityBySlug returns one community by slug
// GET /api/v1/c/:slug
func (h *Handlers) GetCommunityBySlug(c *gin.Context) {
	com, err := h.communities.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "", com)
}

// UpdateCommunity updates community settings (moderators only)
// PATCH /api/v1/communities/:id
func (h *Handlers) UpdateCommunity(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req community.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	updated, err := h.communities.Update(c.Request.Context(), c.Param("id"), userID, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "community updated", updated)
}

// DeactivateCommunity soft-deletes a community (owner only)
// DELETE /api/v1/communities/:id
func (h *Handlers) DeactivateCommunity(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := h.communities.Deactivate(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "community deactivated", nil)
}

// JoinCommunity joins or requests to join a community
// POST /api/v1/communities/:id/join
func (h *Handlers) JoinCommunity(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	member, err := h.communities.Join(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	message := "joined community"
	if member.Role == models.MemberPending {
		message = "membership request submitted"
	}
	util.Respond(c, http.StatusOK, message, member)
}

// LeaveCommunity leaves a community
// POST /api/v1/communities/:id/leave
func (h *Handlers) LeaveCommunity(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := h.communities.Leave(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "left community", nil)
}

// ListMembers lists a community's members, moderators first
// GET /api/v1/communities/:id/members
func (h *Handlers) ListMembers(c *gin.Context) {
	p := util.ParsePagination(c)
	members, total, err := h.communities.Members(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.RespondPage(c, members, p.Page, p.Limit, total)
}

// ListPendingMembers lists pending join requests (moderators only)
// GET /api/v1/communities/:id/members/pending
func (h *Handlers) ListPendingMembers(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	p := util.ParsePagination(c)
	members, total, err := h.communities.PendingMembers(c.Request.Context(), c.Param("id"), userID, p)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.RespondPage(c, members, p.Page, p.Limit, total)
}

// ApproveMember approves a pending join request (moderators only)
// POST /api/v1/communities/:id/members/:userId/approve
func (h *Handlers) ApproveMember(c *gin.Context) {
	actorID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	err := h.communities.ApproveMember(c.Request.Context(), c.Param("id"), actorID, c.Param("userId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "member approved", nil)
}

// RemoveMember kicks a member from a community
// DELETE /api/v1/communities/:id/members/:userId
func (h *Handlers) RemoveMember(c *gin.Context) {
	actorID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	err := h.communities.RemoveMember(c.Request.Context(), c.Param("id"), actorID, c.Param("userId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "member removed", nil)
}

// SetMemberRole promotes or demotes a member (owner only)
// PUT /api/v1/communities/:id/members/:userId/role
func (h *Handlers) SetMemberRole(c *gin.Context) {
	actorID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Role models.MemberRole `json:"role" binding:"required,oneof=moderator member"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	err := h.communities.SetMemberRole(c.Request.Context(), c.Param("id"), actorID, c.Param("userId"), req.Role)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "role updated", nil)
}

// TransferOwnership hands the community to another member (owner only)
// POST /api/v1/communities/:id/transfer
func (h *Handlers) TransferOwnership(c *gin.Context) {
	actorID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		NewOwnerID string `json:"new_owner_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	err := h.communities.TransferOwnership(c.Request.Context(), c.Param("id"), actorID, req.NewOwnerID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "ownership transferred", nil)
}
