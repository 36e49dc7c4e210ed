package models

import (
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Privacy controls who can see a community and its posts
type Privacy string

const (
	PrivacyPublic     Privacy = "public"
	PrivacyPrivate    Privacy = "private"
	PrivacyRestricted Privacy = "restricted"
)

// JoinMethod controls how new members are admitted
type JoinMethod string

const (
	JoinOpen     JoinMethod = "open"
	JoinApproval JoinMethod = "approval"
	JoinInvite   JoinMethod = "invite"
)

// PostPermission controls who may create posts
type PostPermission string

const (
	PostAll        PostPermission = "all"
	PostModerators PostPermission = "moderators"
	PostApproved   PostPermission = "approved"
)

// Community represents a topic community with its settings and aggregate stats
type Community struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Slug        string `gorm:"uniqueIndex;not null" json:"slug"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	BannerURL   string `json:"banner_url,omitempty"`

	// Owner is the immutable creator unless ownership is transferred.
	// The owner is implicitly privileged above moderators.
	OwnerID string `gorm:"not null;index" json:"owner_id"`
	Owner   User   `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`

	Privacy        Privacy        `gorm:"type:varchar(20);default:'public'" json:"privacy"`
	JoinMethod     JoinMethod     `gorm:"type:varchar(20);default:'open'" json:"join_method"`
	PostPermission PostPermission `gorm:"type:varchar(20);default:'all'" json:"post_permission"`

	MemberCount int  `gorm:"default:0" json:"member_count"`
	PostCount   int  `gorm:"default:0" json:"post_count"`
	IsActive    bool `gorm:"default:true" json:"is_active"`

	Members []CommunityMember `gorm:"foreignKey:CommunityID" json:"members,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate hook for GORM
func (c *Community) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = generateUUID()
	}
	if c.Slug == "" {
		c.Slug = Slugify(c.Name)
	}
	return nil
}

// MemberRole is a user's role within one community
type MemberRole string

const (
	MemberOwner     MemberRole = "owner"
	MemberModerator MemberRole = "moderator"
	MemberRegular   MemberRole = "member"
	MemberPending   MemberRole = "pending"
	MemberApproved  MemberRole = "approved"
)

// CanModerate reports whether the role carries moderation rights
func (r MemberRole) CanModerate() bool {
	return r == MemberOwner || r == MemberModerator
}

// CommunityMember links a user to a community with a role and join time
type CommunityMember struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	CommunityID string    `gorm:"not null;uniqueIndex:idx_community_user" json:"community_id"`
	Community   Community `gorm:"foreignKey:CommunityID" json:"-"`
	UserID      string    `gorm:"not null;uniqueIndex:idx_community_user;index" json:"user_id"`
	User        User      `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Role     MemberRole `gorm:"type:varchar(20);default:'member'" json:"role"`
	JoinedAt time.Time  `gorm:"not null" json:"joined_at"`
}

// BeforeCreate hook for GORM
func (m *CommunityMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = generateUUID()
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	return nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a community name
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = slugStrip.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
