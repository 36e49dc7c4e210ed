package models

import (
	"time"

	"gorm.io/gorm"
)

// AIAnalysis stores the moderation verdict attached to user content.
// Absent entirely when the moderation service was unreachable.
type AIAnalysis struct {
	ToxicityScore float64  `json:"toxicity_score"`
	IsSafe        bool     `json:"is_safe"`
	Flagged       bool     `json:"flagged"`
	Sentiment     string   `json:"sentiment,omitempty"`
	Categories    []string `json:"categories,omitempty"`
}

// Post represents a community post with voting and a derived hot score
type Post struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	CommunityID string    `gorm:"not null;index" json:"community_id"`
	Community   Community `gorm:"foreignKey:CommunityID" json:"-"`
	AuthorID    string    `gorm:"not null;index" json:"author_id"`
	Author      User      `gorm:"foreignKey:AuthorID" json:"author,omitempty"`

	Title    string `gorm:"not null" json:"title"`
	Content  string `gorm:"type:text" json:"content"`
	MediaURL string `json:"media_url,omitempty"`

	// Denormalized vote tallies; the authoritative sets are PostVote rows
	UpvoteCount   int `gorm:"default:0" json:"upvote_count"`
	DownvoteCount int `gorm:"default:0" json:"downvote_count"`
	CommentCount  int `gorm:"default:0" json:"comment_count"`

	// Hot-ranking score, recomputed before every persist that can affect it
	Score float64 `gorm:"default:0;index" json:"score"`

	Pinned bool `gorm:"default:false" json:"pinned"`
	Locked bool `gorm:"default:false" json:"locked"`

	AIAnalysis *AIAnalysis `gorm:"type:jsonb;serializer:json" json:"ai_analysis,omitempty"`

	// Lifecycle: active until DeletedAt is set; queries must opt in to
	// include deleted posts. DeletedBy records the acting user.
	DeletedAt *time.Time `gorm:"index" json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDeleted reports whether the post has been soft-deleted
func (p *Post) IsDeleted() bool {
	return p.DeletedAt != nil
}

// VoteCount returns the net vote edge (upvotes minus downvotes)
func (p *Post) VoteCount() int {
	return p.UpvoteCount - p.DownvoteCount
}

// BeforeCreate hook for GORM
func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = generateUUID()
	}
	return nil
}

// PostVote records one user's vote on one post. The unique index keeps a
// user out of both vote sets at once.
type PostVote struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	PostID string `gorm:"not null;uniqueIndex:idx_post_voter" json:"post_id"`
	Post   Post   `gorm:"foreignKey:PostID" json:"-"`
	UserID string `gorm:"not null;uniqueIndex:idx_post_voter;index" json:"user_id"`
	User   User   `gorm:"foreignKey:UserID" json:"-"`

	// +1 for an upvote, -1 for a downvote
	Value int `gorm:"not null" json:"value"`

	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate hook for GORM
func (v *PostVote) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = generateUUID()
	}
	return nil
}

// Comment is a one-level threaded comment on a post
type Comment struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	PostID   string `gorm:"not null;index" json:"post_id"`
	Post     Post   `gorm:"foreignKey:PostID" json:"-"`
	AuthorID string `gorm:"not null;index" json:"author_id"`
	Author   User   `gorm:"foreignKey:AuthorID" json:"author,omitempty"`

	Content string `gorm:"type:text;not null" json:"content"`

	// parent_id is null for top-level comments
	ParentID *string    `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Parent   *Comment   `gorm:"foreignKey:ParentID" json:"-"`
	Replies  []*Comment `gorm:"foreignKey:ParentID" json:"replies,omitempty"`

	IsEdited bool       `gorm:"default:false" json:"is_edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	AIAnalysis *AIAnalysis `gorm:"type:jsonb;serializer:json" json:"ai_analysis,omitempty"`

	DeletedAt *time.Time `gorm:"index" json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDeleted reports whether the comment has been soft-deleted
func (c *Comment) IsDeleted() bool {
	return c.DeletedAt != nil
}

// BeforeCreate hook for GORM
func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = generateUUID()
	}
	return nil
}
