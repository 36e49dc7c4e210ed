package models

import (
	"time"

	"gorm.io/gorm"
)

// TokenKind is the purpose of an issued token
type TokenKind string

const (
	TokenRefresh       TokenKind = "refresh"
	TokenPasswordReset TokenKind = "password_reset"
)

// Token is a server-issued opaque token (refresh or password reset)
type Token struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"not null;index" json:"user_id"`
	User   User   `gorm:"foreignKey:UserID" json:"-"`

	Token string    `gorm:"uniqueIndex;not null" json:"-"`
	Kind  TokenKind `gorm:"type:varchar(20);not null" json:"kind"`

	ExpiresAt time.Time  `gorm:"not null;index" json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsValid reports whether the token is unexpired and unrevoked
func (t *Token) IsValid() bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(time.Now())
}

// BeforeCreate hook for GORM
func (t *Token) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = generateUUID()
	}
	return nil
}
