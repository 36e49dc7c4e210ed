package handlers

import (
	"net/http"

	"github.com/commune-hq/backend/internal/posts"
	"github.com/commune-hq/backend/internal/util"
	"github.com/gin-gonic/gin"
)

// CreateComment creates a new comment on a post
// POST /api/v1/posts/:id/comments
func (h *Handlers) CreateComment(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req posts.CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	comment, err := h.posts.CreateComment(c.Request.Context(), c.Param("id"), userID, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusCreated, "comment created", comment)
}

// ListComments lists a post's comments oldest first
// GET /api/v1/posts/:id/comments
func (h *Handlers) ListComments(c *gin.Context) {
	p := util.ParsePagination(c)
	comments, total, err := h.posts.ListComments(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.RespondPage(c, comments, p.Page, p.Limit, total)
}

// UpdateComment edits a comment (author only)
// PATCH /api/v1/comments/:id
func (h *Handlers) UpdateComment(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required,min=1,max=10000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	comment, err := h.posts.UpdateComment(c.Request.Context(), c.Param("id"), userID, req.Content)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "comment updated", comment)
}

// DeleteComment soft-deletes a comment (author or moderator)
// DELETE /api/v1/comments/:id
func (h *Handlers) DeleteComment(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := h.posts.DeleteComment(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "comment deleted", nil)
}
