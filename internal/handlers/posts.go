package handlers

import (
	"net/http"

	"github.com/commune-hq/backend/internal/posts"
	"github.com/commune-hq/backend/internal/util"
	"github.com/gin-gonic/gin"
)

// CreatePost creates a new post in a community
// POST /api/v1/communities/:id/posts
func (h *Handlers) CreatePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req posts.CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}
	req.CommunityID = c.Param("id")

	post, err := h.posts.CreatePost(c.Request.Context(), userID, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusCreated, "post created", post)
}

// ListPosts lists a community's posts with hot/top/new sorting
// GET /api/v1/communities/:id/posts
func (h *Handlers) ListPosts(c *gin.Context) {
	p := util.ParsePagination(c)
	list, total, err := h.posts.ListPosts(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.RespondPage(c, list, p.Page, p.Limit, total)
}

// GetPost returns one post by ID
// GET /api/v1/posts/:id
func (h *Handlers) GetPost(c *gin.Context) {
	post, err := h.posts.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "", post)
}

// UpdatePost edits a post's title or content (author only)
// PATCH /api/v1/posts/:id
func (h *Handlers) UpdatePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Title   *string `json:"title" binding:"omitempty,min=1,max=300"`
		Content *string `json:"content" binding:"omitempty,max=40000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	post, err := h.posts.UpdatePost(c.Request.Context(), c.Param("id"), userID, req.Title, req.Content)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "post updated", post)
}

// DeletePost soft-deletes a post (author or moderator)
// DELETE /api/v1/posts/:id
func (h *Handlers) DeletePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := h.posts.DeletePost(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "post deleted", nil)
}

// VotePost casts, switches, or toggles off a vote
// POST /api/v1/posts/:id/vote
func (h *Handlers) VotePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Value int `json:"value" binding:"required,oneof=1 -1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	post, err := h.posts.Vote(c.Request.Context(), c.Param("id"), userID, req.Value)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	userVote, _ := h.posts.UserVote(post.ID, userID)
	util.Respond(c, http.StatusOK, "vote recorded", gin.H{
		"post":      post,
		"user_vote": userVote,
	})
}

// PinPost pins or unpins a post (community moderators only)
// PUT /api/v1/posts/:id/pin
func (h *Handlers) PinPost(c *gin.Context) {
	h.setPostFlag(c, "pin")
}

// LockPost locks or unlocks a post (community moderators only)
// PUT /api/v1/posts/:id/lock
func (h *Handlers) LockPost(c *gin.Context) {
	h.setPostFlag(c, "lock")
}

func (h *Handlers) setPostFlag(c *gin.Context, flag string) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Value *bool `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	var err error
	if flag == "pin" {
		err = h.posts.SetPinned(c.Request.Context(), c.Param("id"), userID, *req.Value)
	} else {
		err = h.posts.SetLocked(c.Request.Context(), c.Param("id"), userID, *req.Value)
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, flag+" updated", nil)
}
