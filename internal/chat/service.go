// Package chat implements community channels and direct messages:
// sending, history with delivery receipts, read receipts, reactions,
// and the two deletion modes.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
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
	ErrMessageNotFound = errors.New("message not found")
	ErrNotMember       = errors.New("community membership required")
	ErrNotParticipant  = errors.New("not a participant in this conversation")
	ErrNotPermitted    = errors.New("not permitted")
	ErrContentFlagged  = errors.New("content rejected by moderation")
	ErrBadTarget       = errors.New("exactly one of community_id and receiver_id is required")
	ErrSelfMessage     = errors.New("cannot message yourself")
	ErrReceiverGone    = errors.New("receiver not found")
)

// Service handles chat messaging
type Service struct {
	db         *gorm.DB
	cache      *cache.Store
	hub        *websocket.Hub
	moderation *moderation.Client
}

// NewService creates a new chat service
func NewService(db *gorm.DB, store *cache.Store, hub *websocket.Hub, mod *moderation.Client) *Service {
	return &Service{db: db, cache: store, hub: hub, moderation: mod}
}

// SendRequest holds the fields for sending a message. Exactly one of
// CommunityID and ReceiverID must be set.
type SendRequest struct {
	CommunityID string             `json:"community_id" binding:"omitempty"`
	ReceiverID  string             `json:"receiver_id" binding:"omitempty"`
	Type        models.MessageType `json:"type" binding:"omitempty,oneof=text media"`
	Content     string             `json:"content" binding:"required,min=1,max=4000"`
	MediaURL    string             `json:"media_url" binding:"omitempty,url"`
	ReplyToID   string             `json:"reply_to_id" binding:"omitempty"`
}

// Send validates the target, runs the moderation gate, persists, and
// fans the message out to the conversation's room.
func (s *Service) Send(ctx context.Context, senderID string, req SendRequest) (*models.Message, error) {
	return s.send(ctx, senderID, req, "")
}

// send is the shared delivery path. Socket-originated sends pass the
// sender's ID as excludeUserID: the sender's copy comes back as the
// reply to their request, never as a broadcast echo.
func (s *Service) send(ctx context.Context, senderID string, req SendRequest, excludeUserID string) (*models.Message, error) {
	if (req.CommunityID == "") == (req.ReceiverID == "") {
		return nil, ErrBadTarget
	}

	msg := models.Message{
		SenderID: senderID,
		Type:     req.Type,
		Content:  req.Content,
		MediaURL: req.MediaURL,
	}
	if msg.Type == "" {
		msg.Type = models.MessageText
	}

	var room string
	if req.CommunityID != "" {
		if err := s.requireMembership(req.CommunityID, senderID); err != nil {
			return nil, err
		}
		msg.CommunityID = &req.CommunityID
		room = websocket.CommunityChatRoom(req.CommunityID)
	} else {
		if req.ReceiverID == senderID {
			return nil, ErrSelfMessage
		}
		var receiver models.User
		if err := s.db.First(&receiver, "id = ?", req.ReceiverID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrReceiverGone
			}
			return nil, err
		}
		msg.ReceiverID = &req.ReceiverID
		room = websocket.DirectRoom(senderID, req.ReceiverID)
	}

	if req.ReplyToID != "" {
		var parent models.Message
		if err := s.db.First(&parent, "id = ? AND deleted_at IS NULL", req.ReplyToID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrMessageNotFound
			}
			return nil, err
		}
		msg.ReplyToID = &parent.ID
	}

	analysis, err := s.moderate(ctx, req.Content)
	if err != nil {
		return nil, err
	}
	msg.AIAnalysis = analysis

	if err := s.db.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	s.cache.InvalidateViews(ctx, cache.EntityChannel, msg.Channel, "history")

	payload := eventPayload(&msg)
	s.broadcastExcept(room, websocket.NewMessage(websocket.MessageTypeNewMessage, payload), excludeUserID)

	// DMs also land in the receiver's inbox room so they arrive even
	// before the conversation room is opened.
	if msg.ReceiverID != nil && s.hub != nil {
		s.hub.BroadcastRoom(websocket.UserRoom(*msg.ReceiverID),
			websocket.NewMessage(websocket.MessageTypeNewMessage, payload))
	}

	return &msg, nil
}

// eventPayload builds the wire payload announcing a message
func eventPayload(msg *models.Message) websocket.ChatMessagePayload {
	payload := websocket.ChatMessagePayload{
		MessageID: msg.ID,
		Channel:   msg.Channel,
		SenderID:  msg.SenderID,
		Type:      string(msg.Type),
		Content:   msg.Content,
		MediaURL:  msg.MediaURL,
		CreatedAt: msg.CreatedAt.UnixMilli(),
	}
	if msg.CommunityID != nil {
		payload.CommunityID = *msg.CommunityID
	}
	if msg.ReceiverID != nil {
		payload.ReceiverID = *msg.ReceiverID
	}
	if msg.ReplyToID != nil {
		payload.ReplyToID = *msg.ReplyToID
	}
	return payload
}

// CommunityHistory pages through a community channel's messages and
// marks the fetched messages delivered to the reader. Page one covers
// the most recent messages; each page reads in chronological order.
func (s *Service) CommunityHistory(ctx context.Context, communityID, readerID string, p util.Pagination) ([]models.Message, int64, error) {
	if err := s.requireMembership(communityID, readerID); err != nil {
		return nil, 0, err
	}
	return s.history(ctx, models.CommunityChannel(communityID), readerID, p)
}

// DirectHistory pages through a DM conversation. Only the two
// participants may read it.
func (s *Service) DirectHistory(ctx context.Context, userID, otherID string, p util.Pagination) ([]models.Message, int64, error) {
	if userID == otherID {
		return nil, 0, ErrSelfMessage
	}
	return s.history(ctx, models.DirectChannel(userID, otherID), userID, p)
}

// history fetches visible messages for one channel and records
// delivery receipts for them.
func (s *Service) history(ctx context.Context, channel, readerID string, p util.Pagination) ([]models.Message, int64, error) {
	query := s.db.Model(&models.Message{}).
		Where("channel = ? AND deleted_at IS NULL", channel).
		Where("id NOT IN (?)", s.db.Model(&models.MessageHide{}).
			Select("message_id").Where("user_id = ?", readerID))

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []models.Message
	err := query.Preload("Sender").Preload("Reactions").
		Order("created_at DESC").
		Limit(p.Limit).Offset(p.Offset()).
		Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}

	// The window is selected newest-first so page one is the tail of
	// the conversation, but readers consume each page oldest to newest.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	s.markDelivered(messages, readerID)
	return messages, total, nil
}

// markDelivered records delivered receipts for fetched messages.
// Idempotent: the unique receipt index swallows repeats.
func (s *Service) markDelivered(messages []models.Message, readerID string) {
	for i := range messages {
		if messages[i].SenderID == readerID {
			continue
		}
		receipt := models.MessageReceipt{
			MessageID: messages[i].ID,
			UserID:    readerID,
			Kind:      models.ReceiptDelivered,
		}
		if err := s.db.Create(&receipt).Error; err != nil && !isDuplicate(err) {
			logger.Log.Debug("Failed to record delivery receipt",
				zap.String("message_id", messages[i].ID), zap.Error(err))
		}
	}
}

// MarkRead records a read receipt and notifies the sender on their
// inbox room. Reading your own message is a no-op.
func (s *Service) MarkRead(ctx context.Context, messageID, readerID string) error {
	msg, err := s.visibleMessage(messageID, readerID)
	if err != nil {
		return err
	}
	if msg.SenderID == readerID {
		return nil
	}

	receipt := models.MessageReceipt{
		MessageID: messageID,
		UserID:    readerID,
		Kind:      models.ReceiptRead,
	}
	if err := s.db.Create(&receipt).Error; err != nil {
		if isDuplicate(err) {
			return nil
		}
		return fmt.Errorf("failed to record read receipt: %w", err)
	}

	if s.hub != nil {
		s.hub.SendToUser(msg.SenderID,
			websocket.NewMessage(websocket.MessageTypeMessageRead, websocket.MessageReadPayload{
				MessageID: messageID,
				ReaderID:  readerID,
				ReadAt:    time.Now().UnixMilli(),
			}))
	}
	return nil
}

// React sets the caller's reaction on a message, replacing any
// previous one (one reaction per user per message). An empty emoji
// removes the reaction.
func (s *Service) React(ctx context.Context, messageID, userID, emoji string) error {
	msg, err := s.visibleMessage(messageID, userID)
	if err != nil {
		return err
	}

	removed := emoji == ""
	if removed {
		if err := s.db.Where("message_id = ? AND user_id = ?", messageID, userID).
			Delete(&models.MessageReaction{}).Error; err != nil {
			return fmt.Errorf("failed to remove reaction: %w", err)
		}
	} else {
		var existing models.MessageReaction
		findErr := s.db.Where("message_id = ? AND user_id = ?", messageID, userID).
			First(&existing).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			reaction := models.MessageReaction{MessageID: messageID, UserID: userID, Emoji: emoji}
			if err := s.db.Create(&reaction).Error; err != nil {
				return fmt.Errorf("failed to add reaction: %w", err)
			}
		case findErr != nil:
			return findErr
		default:
			if err := s.db.Model(&existing).Update("emoji", emoji).Error; err != nil {
				return fmt.Errorf("failed to update reaction: %w", err)
			}
		}
	}

	s.broadcast(s.roomFor(msg),
		websocket.NewMessage(websocket.MessageTypeReactionUpdate, websocket.ReactionUpdatePayload{
			MessageID: messageID,
			Channel:   msg.Channel,
			UserID:    userID,
			Emoji:     emoji,
			Removed:   removed,
		}))
	return nil
}

// Delete removes a message for everyone. The sender may always delete
// their own; community moderators may delete channel messages.
func (s *Service) Delete(ctx context.Context, messageID, actorID string) error {
	msg, err := s.visibleMessage(messageID, actorID)
	if err != nil {
		return err
	}

	if msg.SenderID != actorID {
		if msg.CommunityID == nil {
			return ErrNotPermitted
		}
		var member models.CommunityMember
		err := s.db.Where("community_id = ? AND user_id = ?", *msg.CommunityID, actorID).
			First(&member).Error
		if err != nil || !member.Role.CanModerate() {
			return ErrNotPermitted
		}
	}

	now := time.Now()
	if err := s.db.Model(&models.Message{}).Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"deleted_at": now,
			"deleted_by": actorID,
		}).Error; err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	s.cache.InvalidateViews(ctx, cache.EntityChannel, msg.Channel, "history")

	s.broadcast(s.roomFor(msg),
		websocket.NewMessage(websocket.MessageTypeMessageDeleted, websocket.MessageDeletedPayload{
			MessageID: messageID,
			Channel:   msg.Channel,
			DeletedBy: actorID,
		}))
	return nil
}

// Hide removes a message from the caller's own view only. Idempotent.
func (s *Service) Hide(ctx context.Context, messageID, userID string) error {
	if _, err := s.visibleMessage(messageID, userID); err != nil {
		return err
	}

	hide := models.MessageHide{MessageID: messageID, UserID: userID}
	if err := s.db.Create(&hide).Error; err != nil && !isDuplicate(err) {
		return fmt.Errorf("failed to hide message: %w", err)
	}
	return nil
}

// RegisterHandlers wires the chat message handlers into the hub so
// connected clients can send and acknowledge over the socket.
func (s *Service) RegisterHandlers(hub *websocket.Hub) {
	hub.RegisterHandler(websocket.MessageTypeSendMessage, func(client *websocket.Client, msg *websocket.Message) error {
		var payload websocket.SendMessagePayload
		if err := msg.ParsePayload(&payload); err != nil {
			return err
		}

		created, err := s.send(context.Background(), client.UserID, SendRequest{
			CommunityID: payload.CommunityID,
			ReceiverID:  payload.ReceiverID,
			Type:        models.MessageType(payload.Type),
			Content:     payload.Content,
			MediaURL:    payload.MediaURL,
			ReplyToID:   payload.ReplyToID,
		}, client.UserID)
		if err != nil {
			client.SendError("send_failed", err.Error())
			return nil
		}

		// The sender's copy is the reply to their request; the room
		// broadcast above skipped their connections.
		return client.Send(websocket.NewReply(msg, websocket.MessageTypeNewMessage, eventPayload(created)))
	})

	hub.RegisterHandler(websocket.MessageTypeReadReceipt, func(client *websocket.Client, msg *websocket.Message) error {
		var payload websocket.ReadReceiptPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return err
		}
		if err := s.MarkRead(context.Background(), payload.MessageID, client.UserID); err != nil {
			client.SendError("read_receipt_failed", err.Error())
		}
		return nil
	})
}

// visibleMessage loads a message the given user can still see: not
// deleted for everyone, not hidden by them, and within a conversation
// they participate in.
func (s *Service) visibleMessage(messageID, userID string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.First(&msg, "id = ? AND deleted_at IS NULL", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	var hidden int64
	if err := s.db.Model(&models.MessageHide{}).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Count(&hidden).Error; err != nil {
		return nil, err
	}
	if hidden > 0 {
		return nil, ErrMessageNotFound
	}

	if msg.ReceiverID != nil {
		if msg.SenderID != userID && *msg.ReceiverID != userID {
			return nil, ErrNotParticipant
		}
	} else if msg.CommunityID != nil {
		if err := s.requireMembership(*msg.CommunityID, userID); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

func (s *Service) requireMembership(communityID, userID string) error {
	var count int64
	err := s.db.Model(&models.CommunityMember{}).
		Where("community_id = ? AND user_id = ? AND role <> ?",
			communityID, userID, models.MemberPending).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotMember
	}
	return nil
}

func (s *Service) roomFor(msg *models.Message) string {
	if msg.CommunityID != nil {
		return websocket.CommunityChatRoom(*msg.CommunityID)
	}
	if msg.ReceiverID != nil {
		return websocket.DirectRoom(msg.SenderID, *msg.ReceiverID)
	}
	return msg.Channel
}

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

func (s *Service) broadcast(room string, msg *websocket.Message) {
	s.broadcastExcept(room, msg, "")
}

func (s *Service) broadcastExcept(room string, msg *websocket.Message, excludeUserID string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastRoomExcept(room, msg, excludeUserID)
}

// isDuplicate detects unique-constraint violations across the drivers
// we run against.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	text := err.Error()
	return strings.Contains(text, "UNIQUE constraint failed") ||
		strings.Contains(text, "duplicate key value")
}
