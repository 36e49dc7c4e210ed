package handlers

import (
	"net/http"

	"github.com/commune-hq/backend/internal/auth"
	"github.com/commune-hq/backend/internal/util"
	"github.com/gin-gonic/gin"
)

// Register creates a new account
// POST /api/v1/auth/register
func (h *Handlers) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	resp, err := h.auth.Register(req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusCreated, "account created", resp)
}

// Login authenticates with email and password
// POST /api/v1/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	resp, err := h.auth.Login(req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "logged in", resp)
}

// Refresh exchanges a refresh token for a new token pair
// POST /api/v1/auth/refresh
func (h *Handlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	resp, err := h.auth.Refresh(req.RefreshToken)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "token refreshed", resp)
}

// Logout revokes a refresh token
// POST /api/v1/auth/logout
func (h *Handlers) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.auth.Logout(req.RefreshToken); err != nil {
		respondServiceError(c, err)
		return
	}
	util.Respond(c, http.StatusOK, "logged out", nil)
}
