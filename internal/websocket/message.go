package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlexibleTime handles both Unix millisecond timestamps and RFC3339 strings
type FlexibleTime struct {
	time.Time
}

// UnmarshalJSON implements custom unmarshaling for timestamps
func (ft *FlexibleTime) UnmarshalJSON(b []byte) error {
	// Try to unmarshal as Unix milliseconds (integer)
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		ft.Time = time.UnixMilli(ms)
		return nil
	}

	// Fall back to RFC3339 string format
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("timestamp must be Unix milliseconds (integer) or RFC3339 string")
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return err
	}
	ft.Time = t
	return nil
}

// MarshalJSON implements custom marshaling (always output as RFC3339)
func (ft FlexibleTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.Time)
}

// Message types for WebSocket communication
const (
	// System messages
	MessageTypeSystem    = "system"
	MessageTypeHeartbeat = "heartbeat"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// Client-to-server chat messages
	MessageTypeSendMessage = "send_message"
	MessageTypeTypingStart = "typing_start"
	MessageTypeTypingStop  = "typing_stop"
	MessageTypeReadReceipt = "read_receipt"

	// Client-to-server room membership
	MessageTypeJoinCommunity  = "join_community"
	MessageTypeLeaveCommunity = "leave_community"
	MessageTypeJoinPost       = "join_post"
	MessageTypeLeavePost      = "leave_post"
	MessageTypeJoinDirect     = "join_direct"

	// Client-to-server presence
	MessageTypeUpdatePresence = "update_presence"

	// Server-to-client chat events
	MessageTypeNewMessage      = "new_message"
	MessageTypeUserTyping      = "user_typing"
	MessageTypeMessageRead     = "message_read"
	MessageTypeMessageDeleted  = "message_deleted"
	MessageTypeReactionUpdate  = "reaction_update"

	// Server-to-client community events
	MessageTypeUserJoined = "user_joined"
	MessageTypeUserLeft   = "user_left"

	// Server-to-client presence and feed events
	MessageTypePresenceUpdate = "presence_update"
	MessageTypeVoteUpdate     = "vote_update"
	MessageTypeNewPost        = "new_post"
	MessageTypeNewComment     = "new_comment"
)

// Message represents a WebSocket message
type Message struct {
	// Type identifies the message type for routing
	Type string `json:"type"`

	// Payload contains the message-specific data
	Payload interface{} `json:"payload,omitempty"`

	// ID is a unique message identifier for acknowledgment
	ID string `json:"id,omitempty"`

	// ReplyTo references the original message ID for responses
	ReplyTo string `json:"reply_to,omitempty"`

	// Timestamp when the message was created (accepts Unix ms or RFC3339)
	Timestamp FlexibleTime `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewMessageWithID creates a new message with a specific ID
func NewMessageWithID(msgType string, id string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		ID:        id,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewReply creates a reply message to an original message
func NewReply(original *Message, msgType string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		ReplyTo:   original.ID,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(code string, message string) *Message {
	return &Message{
		Type: MessageTypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// ParsePayload unmarshals the payload into a specific type
func (m *Message) ParsePayload(target interface{}) error {
	if m.Payload == nil {
		return nil
	}

	// Re-marshal and unmarshal to properly type the payload
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// ErrorPayload represents an error message payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatPayload represents a heartbeat message payload
type HeartbeatPayload struct {
	ClientTime int64 `json:"client_time"`
}

// PongPayload represents a heartbeat acknowledgment
type PongPayload struct {
	ClientTime int64 `json:"client_time"`
	ServerTime int64 `json:"server_time"`
	Latency    int64 `json:"latency_ms"`
}

// SendMessagePayload is a client request to send a chat message.
// Exactly one of CommunityID and ReceiverID must be set.
type SendMessagePayload struct {
	CommunityID string `json:"community_id,omitempty"`
	ReceiverID  string `json:"receiver_id,omitempty"`
	Type        string `json:"message_type,omitempty"`
	Content     string `json:"content"`
	MediaURL    string `json:"media_url,omitempty"`
	ReplyToID   string `json:"reply_to_id,omitempty"`
}

// ChatMessagePayload is a delivered chat message
type ChatMessagePayload struct {
	MessageID   string `json:"message_id"`
	Channel     string `json:"channel"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name,omitempty"`
	ReceiverID  string `json:"receiver_id,omitempty"`
	CommunityID string `json:"community_id,omitempty"`
	Type        string `json:"message_type"`
	Content     string `json:"content"`
	MediaURL    string `json:"media_url,omitempty"`
	ReplyToID   string `json:"reply_to_id,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// TypingPayload indicates a user started or stopped typing in a channel
type TypingPayload struct {
	Channel     string `json:"channel"`
	CommunityID string `json:"community_id,omitempty"`
	ReceiverID  string `json:"receiver_id,omitempty"`
	UserID      string `json:"user_id"`
	Username    string `json:"username,omitempty"`
	IsTyping    bool   `json:"is_typing"`
	Timestamp   int64  `json:"timestamp"`
}

// ReadReceiptPayload is a client acknowledgment that a message was read
type ReadReceiptPayload struct {
	MessageID string `json:"message_id"`
}

// MessageReadPayload notifies a sender that their message was read
type MessageReadPayload struct {
	MessageID string `json:"message_id"`
	ReaderID  string `json:"reader_id"`
	ReadAt    int64  `json:"read_at"`
}

// MessageDeletedPayload notifies a channel that a message was removed
type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	Channel   string `json:"channel"`
	DeletedBy string `json:"deleted_by"`
}

// ReactionUpdatePayload notifies a channel of a reaction change
type ReactionUpdatePayload struct {
	MessageID string `json:"message_id"`
	Channel   string `json:"channel"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
}

// RoomPayload identifies a room to join or leave
type RoomPayload struct {
	CommunityID string `json:"community_id,omitempty"`
	PostID      string `json:"post_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// MembershipPayload announces a member joining or leaving a community
type MembershipPayload struct {
	CommunityID string `json:"community_id"`
	UserID      string `json:"user_id"`
	Username    string `json:"username,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// UpdatePresencePayload is a client request to change its advertised
// status. Online and offline are derived from the connection state;
// "away" is the only status a client may choose.
type UpdatePresencePayload struct {
	Status       string `json:"status,omitempty"`
	CustomStatus string `json:"custom_status,omitempty"`
}

// PresencePayload announces a user's status change
type PresencePayload struct {
	UserID       string `json:"user_id"`
	Status       string `json:"status"` // "online", "away", or "offline"
	CustomStatus string `json:"custom_status,omitempty"`
	LastSeenAt   int64  `json:"last_seen_at,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// VoteUpdatePayload broadcasts fresh vote tallies for a post, along
// with the acting user's resulting vote.
type VoteUpdatePayload struct {
	PostID        string  `json:"post_id"`
	UpvoteCount   int     `json:"upvote_count"`
	DownvoteCount int     `json:"downvote_count"`
	Score         float64 `json:"score"`
	UserVote      int     `json:"user_vote"`
	Timestamp     int64   `json:"timestamp"`
}

// NewPostPayload announces a new post to a community room
type NewPostPayload struct {
	PostID      string `json:"post_id"`
	CommunityID string `json:"community_id"`
	AuthorID    string `json:"author_id"`
	AuthorName  string `json:"author_name,omitempty"`
	Title       string `json:"title"`
	CreatedAt   int64  `json:"created_at"`
}

// NewCommentPayload announces a new comment to a post room
type NewCommentPayload struct {
	CommentID    string `json:"comment_id"`
	PostID       string `json:"post_id"`
	AuthorID     string `json:"author_id"`
	AuthorName   string `json:"author_name,omitempty"`
	ParentID     string `json:"parent_id,omitempty"`
	Content      string `json:"content"`
	CommentCount int    `json:"comment_count,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// SystemPayload represents system event payloads
type SystemPayload struct {
	Event   string                 `json:"event"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
