package models

import (
	"time"

	"gorm.io/gorm"
)

// MessageType distinguishes plain text from media messages
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageMedia MessageType = "media"
)

// Message is a chat message, either a direct message (ReceiverID set) or a
// community channel message (CommunityID set). Exactly one of the two is
// non-nil; Channel is the derived routing key for the conversation.
type Message struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	SenderID string `gorm:"not null;index" json:"sender_id"`
	Sender   User   `gorm:"foreignKey:SenderID" json:"sender,omitempty"`

	ReceiverID  *string    `gorm:"type:uuid;index" json:"receiver_id,omitempty"`
	CommunityID *string    `gorm:"type:uuid;index" json:"community_id,omitempty"`
	Community   *Community `gorm:"foreignKey:CommunityID" json:"-"`

	// `dm:<min>:<max>` for DMs, `community:<id>` for channel messages
	Channel string `gorm:"not null;index" json:"channel"`

	Type     MessageType `gorm:"type:varchar(20);default:'text'" json:"type"`
	Content  string      `gorm:"type:text" json:"content"`
	MediaURL string      `json:"media_url,omitempty"`

	ReplyToID *string  `gorm:"type:uuid" json:"reply_to_id,omitempty"`
	ReplyTo   *Message `gorm:"foreignKey:ReplyToID" json:"-"`

	AIAnalysis *AIAnalysis `gorm:"type:jsonb;serializer:json" json:"ai_analysis,omitempty"`

	Receipts  []MessageReceipt  `gorm:"foreignKey:MessageID" json:"receipts,omitempty"`
	Reactions []MessageReaction `gorm:"foreignKey:MessageID" json:"reactions,omitempty"`

	// Deleted-for-everyone lifecycle; per-user hides live in MessageHide
	DeletedAt *time.Time `gorm:"index" json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsDirect reports whether the message is a direct message
func (m *Message) IsDirect() bool {
	return m.ReceiverID != nil
}

// IsDeleted reports whether the message was deleted for everyone
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// BeforeCreate hook for GORM
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = generateUUID()
	}
	if m.Channel == "" {
		if m.ReceiverID != nil {
			m.Channel = DirectChannel(m.SenderID, *m.ReceiverID)
		} else if m.CommunityID != nil {
			m.Channel = CommunityChannel(*m.CommunityID)
		}
	}
	return nil
}

// DirectChannel returns the canonical DM channel key for two users.
// User ids are UUID strings, so lexicographic order is total and stable.
func DirectChannel(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// CommunityChannel returns the channel key for a community's chat
func CommunityChannel(communityID string) string {
	return "community:" + communityID
}

// ReceiptKind is the kind of message receipt
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

// MessageReceipt records delivery or read state per user. The unique index
// makes marking delivered/read idempotent.
type MessageReceipt struct {
	ID        string      `gorm:"primaryKey;type:uuid" json:"id"`
	MessageID string      `gorm:"not null;uniqueIndex:idx_message_user_kind" json:"message_id"`
	Message   Message     `gorm:"foreignKey:MessageID" json:"-"`
	UserID    string      `gorm:"not null;uniqueIndex:idx_message_user_kind" json:"user_id"`
	Kind      ReceiptKind `gorm:"type:varchar(20);not null;uniqueIndex:idx_message_user_kind" json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

// BeforeCreate hook for GORM
func (r *MessageReceipt) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = generateUUID()
	}
	return nil
}

// MessageReaction is one user's emoji reaction to a message. At most one
// reaction per user per message; a new reaction replaces the old one.
type MessageReaction struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	MessageID string    `gorm:"not null;uniqueIndex:idx_message_reactor" json:"message_id"`
	Message   Message   `gorm:"foreignKey:MessageID" json:"-"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_message_reactor" json:"user_id"`
	Emoji     string    `gorm:"not null" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate hook for GORM
func (r *MessageReaction) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = generateUUID()
	}
	return nil
}

// MessageHide marks a message as deleted for one user only
type MessageHide struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	MessageID string    `gorm:"not null;uniqueIndex:idx_message_hider" json:"message_id"`
	Message   Message   `gorm:"foreignKey:MessageID" json:"-"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_message_hider" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate hook for GORM
func (h *MessageHide) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = generateUUID()
	}
	return nil
}
