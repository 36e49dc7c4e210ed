package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/commune-hq/backend/internal/logger"
	"github.com/commune-hq/backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrCommunityNotFound is returned by membership checks when the
// community itself does not exist.
var ErrCommunityNotFound = errors.New("community not found")

// Handler handles WebSocket HTTP upgrade requests and the built-in
// room and typing message handlers.
type Handler struct {
	hub       *Hub
	db        *gorm.DB
	jwtSecret []byte
	presence  *Manager

	// isMember gates joining community rooms
	isMember func(userID, communityID string) (bool, error)
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, db *gorm.DB, jwtSecret []byte) *Handler {
	h := &Handler{
		hub:       hub,
		db:        db,
		jwtSecret: jwtSecret,
	}
	h.isMember = h.memberFromDB
	return h
}

// SetPresenceManager sets the presence manager for the handler
func (h *Handler) SetPresenceManager(pm *Manager) {
	h.presence = pm
}

// SetMembershipCheck overrides membership resolution, used in tests
func (h *Handler) SetMembershipCheck(fn func(userID, communityID string) (bool, error)) {
	h.isMember = fn
}

// GetHub returns the hub for external access
func (h *Handler) GetHub() *Hub {
	return h.hub
}

// HandleWebSocket handles WebSocket upgrade requests.
// Authentication is done via JWT token in query param: ?token=...
// Or via Authorization header: Bearer <token>
func (h *Handler) HandleWebSocket(c *gin.Context) {
	user, err := h.authenticateRequest(c)
	if err != nil {
		logger.Log.Warn("WebSocket auth failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "authentication_failed",
			"message": err.Error(),
		})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // TODO: restrict origins in production config
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, user.ID, user.Username)
	client.RemoteAddr = c.ClientIP()
	client.UserAgent = c.GetHeader("User-Agent")

	h.hub.Register(client)

	// Every connection listens on the user's personal inbox room
	h.hub.JoinRoom(client, UserRoom(user.ID))

	if h.presence != nil {
		h.presence.OnClientConnect(client)
	}

	client.Send(NewMessage(MessageTypeSystem, SystemPayload{
		Event: "connected",
		Data: map[string]interface{}{
			"user_id":       user.ID,
			"username":      user.Username,
			"connection_id": client.ConnID,
			"server_time":   time.Now().UTC().UnixMilli(),
		},
	}))

	go client.WritePump()
	client.ReadPump() // blocks until client disconnects

	if h.presence != nil {
		h.presence.OnClientDisconnect(client)
	}
}

// authenticateRequest extracts and validates the JWT token from the request
func (h *Handler) authenticateRequest(c *gin.Context) (*models.User, error) {
	tokenString := c.Query("token")

	if auth := c.GetHeader("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			tokenString = strings.TrimPrefix(auth, "Bearer ")
		} else {
			tokenString = auth
		}
	}

	if tokenString == "" {
		return nil, errors.New("no authentication token provided")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, errors.New("token missing expiration")
	}
	if time.Unix(int64(exp), 0).Before(time.Now()) {
		return nil, errors.New("token expired")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, errors.New("invalid user_id in token")
	}

	var user models.User
	if err := h.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}

	return &user, nil
}

// RegisterDefaultHandlers registers the room-membership and typing
// message handlers. Chat message handlers are registered by the chat
// service.
func (h *Handler) RegisterDefaultHandlers() {
	h.hub.RegisterHandler(MessageTypeJoinCommunity, h.handleJoinCommunity)
	h.hub.RegisterHandler(MessageTypeLeaveCommunity, h.handleLeaveCommunity)
	h.hub.RegisterHandler(MessageTypeJoinPost, h.handleJoinPost)
	h.hub.RegisterHandler(MessageTypeLeavePost, h.handleLeavePost)
	h.hub.RegisterHandler(MessageTypeJoinDirect, h.handleJoinDirect)
	h.hub.RegisterHandler(MessageTypeTypingStart, h.handleTyping(true))
	h.hub.RegisterHandler(MessageTypeTypingStop, h.handleTyping(false))
}

// handleJoinCommunity subscribes a member to a community's rooms
func (h *Handler) handleJoinCommunity(client *Client, msg *Message) error {
	var payload RoomPayload
	if err := msg.ParsePayload(&payload); err != nil {
		return err
	}
	if payload.CommunityID == "" {
		client.SendError("invalid_payload", "community_id is required")
		return nil
	}

	member, err := h.isMember(client.UserID, payload.CommunityID)
	if errors.Is(err, ErrCommunityNotFound) {
		client.SendError("community_not_found", "Community does not exist")
		return nil
	}
	if err != nil {
		return err
	}
	if !member {
		client.SendError("not_a_member", "You are not a member of this community")
		return nil
	}

	h.hub.JoinRoom(client, CommunityRoom(payload.CommunityID))
	h.hub.JoinRoom(client, CommunityChatRoom(payload.CommunityID))
	return nil
}

// handleLeaveCommunity unsubscribes a client from a community's rooms
func (h *Handler) handleLeaveCommunity(client *Client, msg *Message) error {
	var payload RoomPayload
	if err := msg.ParsePayload(&payload); err != nil {
		return err
	}
	if payload.CommunityID == "" {
		client.SendError("invalid_payload", "community_id is required")
		return nil
	}

	h.hub.LeaveRoom(client, CommunityRoom(payload.CommunityID))
	h.hub.LeaveRoom(client, CommunityChatRoom(payload.CommunityID))
	return nil
}

// handleJoinPost subscribes a viewer to a post's live updates
func (h *Handler) handleJoinPost(client *Client, msg *Message) error {
	var payload RoomPayload
	if err := msg.ParsePayload(&payload); err != nil {
		return err
	}
	if payload.PostID == "" {
		client.SendError("invalid_payload", "post_id is required")
		return nil
	}
	h.hub.JoinRoom(client, PostRoom(payload.PostID))
	return nil
}

func (h *Handler) handleLeavePost(client *Client, msg *Message) error {
	var payload RoomPayload
	if err := msg.ParsePayload(&payload); err != nil {
		return err
	}
	if payload.PostID == "" {
		client.SendError("invalid_payload", "post_id is required")
		return nil
	}
	h.hub.LeaveRoom(client, PostRoom(payload.PostID))
	return nil
}

// handleJoinDirect subscribes a client to a DM conversation room. The
// room name is canonical, so both participants end up in the same room
// regardless of who initiates.
func (h *Handler) handleJoinDirect(client *Client, msg *Message) error {
	var payload RoomPayload
	if err := msg.ParsePayload(&payload); err != nil {
		return err
	}
	if payload.UserID == "" {
		client.SendError("invalid_payload", "user_id is required")
		return nil
	}
	if payload.UserID == client.UserID {
		client.SendError("invalid_payload", "cannot open a conversation with yourself")
		return nil
	}
	h.hub.JoinRoom(client, DirectRoom(client.UserID, payload.UserID))
	return nil
}

// handleTyping relays typing indicators to the target channel,
// excluding the typist's own connections.
func (h *Handler) handleTyping(isTyping bool) MessageHandler {
	return func(client *Client, msg *Message) error {
		var payload TypingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return err
		}

		var room string
		switch {
		case payload.CommunityID != "":
			room = CommunityChatRoom(payload.CommunityID)
		case payload.ReceiverID != "":
			room = DirectRoom(client.UserID, payload.ReceiverID)
		default:
			client.SendError("invalid_payload", "community_id or receiver_id is required")
			return nil
		}

		h.hub.BroadcastRoomExcept(room, NewMessage(MessageTypeUserTyping, TypingPayload{
			Channel:     room,
			CommunityID: payload.CommunityID,
			ReceiverID:  payload.ReceiverID,
			UserID:      client.UserID,
			Username:    client.Username,
			IsTyping:    isTyping,
			Timestamp:   time.Now().UnixMilli(),
		}), client.UserID)
		return nil
	}
}

// memberFromDB checks active community membership. A missing or
// deactivated community yields ErrCommunityNotFound rather than a
// plain membership denial.
func (h *Handler) memberFromDB(userID, communityID string) (bool, error) {
	if h.db == nil {
		return false, nil
	}

	var exists int64
	if err := h.db.Model(&models.Community{}).
		Where("id = ? AND is_active = ?", communityID, true).
		Count(&exists).Error; err != nil {
		return false, err
	}
	if exists == 0 {
		return false, ErrCommunityNotFound
	}

	var count int64
	err := h.db.Model(&models.CommunityMember{}).
		Where("community_id = ? AND user_id = ? AND role <> ?",
			communityID, userID, models.MemberPending).
		Count(&count).Error
	return count > 0, err
}

// HandleMetrics returns WebSocket metrics (for monitoring)
func (h *Handler) HandleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"websocket":       h.hub.GetMetrics(),
		"connected_users": h.hub.GetConnectedUsers(),
		"timestamp":       time.Now().UTC(),
	})
}

// HandleOnlineStatus checks if specific users are online
func (h *Handler) HandleOnlineStatus(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	statuses := make(map[string]bool)
	for _, userID := range req.UserIDs {
		if h.presence != nil {
			statuses[userID] = h.presence.IsOnline(userID)
		} else {
			statuses[userID] = h.hub.IsUserConnected(userID)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"statuses":  statuses,
		"timestamp": time.Now().UTC(),
	})
}

// Shutdown gracefully shuts down the WebSocket handler
func (h *Handler) Shutdown(ctx context.Context) error {
	if h.presence != nil {
		h.presence.Stop()
	}
	return h.hub.Shutdown(ctx)
}
