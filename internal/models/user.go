// Package models defines the persistent entities and their validation rules.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is a site-wide user role
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// User represents a Commune account
type User struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	Email        string  `gorm:"uniqueIndex;not null" json:"email"`
	Username     string  `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName  string  `json:"display_name"`
	Bio          string  `gorm:"type:text" json:"bio,omitempty"`
	AvatarURL    string  `json:"avatar_url,omitempty"`
	PasswordHash *string `gorm:"type:text" json:"-"`

	Role Role `gorm:"type:varchar(20);default:'user'" json:"role"`

	// Presence mirror, maintained best-effort by the realtime layer.
	// The source of truth while the process is up is the in-memory registry.
	IsOnline   bool       `gorm:"default:false" json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`

	// Login lockout state
	FailedLoginAttempts int        `gorm:"default:0" json:"-"`
	LockedUntil         *time.Time `json:"-"`

	Memberships []CommunityMember `gorm:"foreignKey:UserID" json:"memberships,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLocked reports whether the account is currently locked out
func (u *User) IsLocked() bool {
	return u.LockedUntil != nil && u.LockedUntil.After(time.Now())
}

// IsSiteModerator reports whether the user holds a site-wide moderation role
func (u *User) IsSiteModerator() bool {
	return u.Role == RoleModerator || u.Role == RoleAdmin
}

// BeforeCreate hook for GORM
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = generateUUID()
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}
	return nil
}

func generateUUID() string {
	return uuid.New().String()
}
