package handlers

import (
	"net/http"

	"github.com/commune-hq/backend/internal/chat"
	"github.com/commune-hq/backend/internal/util"
	"github.com/gin-gonic/gin"
)

// SendMessage sends a community channel message or a direct message
// POST /api/v1/messages
func (h *Handlers) SendMessage(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req chat.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), userID, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusCreated, "message sent", msg)
}

// CommunityMessages pages through a community channel's history
// GET /api/v1/communities/:id/messages
func (h *Handlers) CommunityMessages(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	p := util.ParsePagination(c)
	messages, total, err := h.chat.CommunityHistory(c.Request.Context(), c.Param("id"), userID, p)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.RespondPage(c, messages, p.Page, p.Limit, total)
}

// DirectMessages pages through a DM conversation with another user
// GET /api/v1/messages/direct/:userId
func (h *Handlers) DirectMessages(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	p := util.ParsePagination(c)
	messages, total, err := h.chat.DirectHistory(c.Request.Context(), userID, c.Param("userId"), p)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.RespondPage(c, messages, p.Page, p.Limit, total)
}

// MarkMessageRead records a read receipt
// POST /api/v1/messages/:id/read
func (h *Handlers) MarkMessageRead(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := h.chat.MarkRead(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "marked read", nil)
}

// ReactToMessage sets or clears the caller's reaction on a message
// PUT /api/v1/messages/:id/reaction
func (h *Handlers) ReactToMessage(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Emoji string `json:"emoji" binding:"max=32"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.chat.React(c.Request.Context(), c.Param("id"), userID, req.Emoji); err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "reaction updated", nil)
}

// DeleteMessage deletes a message for everyone
// DELETE /api/v1/messages/:id
func (h *Handlers) DeleteMessage(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := h.chat.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "message deleted", nil)
}

// HideMessage removes a message from the caller's own view
// POST /api/v1/messages/:id/hide
func (h *Handlers) HideMessage(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := h.chat.Hide(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "message hidden", nil)
}
