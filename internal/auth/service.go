// Package auth handles registration, login, token issuance and the
// request-auth middleware.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/commune-hq/backend/internal/logger"
	"github.com/commune-hq/backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrUsernameExists     = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrInvalidToken       = errors.New("invalid token")
)

const (
	maxFailedLogins = 5
	lockoutDuration = 15 * time.Minute
	refreshTokenTTL = 30 * 24 * time.Hour
)

// Service handles all authentication operations
type Service struct {
	db        *gorm.DB
	jwtSecret []byte
	accessTTL time.Duration
}

// NewService creates a new authentication service
func NewService(db *gorm.DB, jwtSecret []byte, accessTTL time.Duration) *Service {
	if accessTTL == 0 {
		accessTTL = 24 * time.Hour
	}
	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		accessTTL: accessTTL,
	}
}

// AuthResponse represents authentication response
type AuthResponse struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"user"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Username    string `json:"username" binding:"required,min=3,max=30"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name" binding:"omitempty,max=50"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register creates a new user with email/password
func (s *Service) Register(req RegisterRequest) (*AuthResponse, error) {
	var existing models.User
	err := s.db.Where("LOWER(email) = LOWER(?)", req.Email).First(&existing).Error
	if err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error: %w", err)
	}

	err = s.db.Where("LOWER(username) = LOWER(?)", req.Username).First(&existing).Error
	if err == nil {
		return nil, ErrUsernameExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("database error: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	hashStr := string(hash)

	user := models.User{
		Email:        req.Email,
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: &hashStr,
		Role:         models.RoleUser,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	logger.Log.Info("User registered",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
	)

	return s.issueTokens(&user)
}

// Login authenticates an email/password pair, enforcing lockout
func (s *Service) Login(req LoginRequest) (*AuthResponse, error) {
	var user models.User
	err := s.db.Where("LOWER(email) = LOWER(?)", req.Email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if user.IsLocked() {
		return nil, ErrAccountLocked
	}

	if user.PasswordHash == nil ||
		bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)) != nil {
		s.recordFailedLogin(&user)
		return nil, ErrInvalidCredentials
	}

	// Successful login clears lockout state
	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		s.db.Model(&user).Updates(map[string]interface{}{
			"failed_login_attempts": 0,
			"locked_until":          nil,
		})
	}

	return s.issueTokens(&user)
}

// recordFailedLogin increments the failure counter and locks the account
// once it reaches the threshold.
func (s *Service) recordFailedLogin(user *models.User) {
	attempts := user.FailedLoginAttempts + 1
	updates := map[string]interface{}{
		"failed_login_attempts": attempts,
	}
	if attempts >= maxFailedLogins {
		lockUntil := time.Now().Add(lockoutDuration)
		updates["locked_until"] = lockUntil
		logger.Log.Warn("Account locked after repeated login failures",
			zap.String("user_id", user.ID),
			zap.Time("locked_until", lockUntil),
		)
	}
	if err := s.db.Model(user).Updates(updates).Error; err != nil {
		logger.ErrorWithFields("Failed to record login failure", err)
	}
}

// issueTokens creates a JWT access token and a refresh token row
func (s *Service) issueTokens(user *models.User) (*AuthResponse, error) {
	expiresAt := time.Now().Add(s.accessTTL)

	accessToken, err := s.GenerateAccessToken(user.ID, expiresAt)
	if err != nil {
		return nil, err
	}

	refresh := models.Token{
		UserID:    user.ID,
		Token:     randomToken(),
		Kind:      models.TokenRefresh,
		ExpiresAt: time.Now().Add(refreshTokenTTL),
	}
	if err := s.db.Create(&refresh).Error; err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	return &AuthResponse{
		Token:        accessToken,
		RefreshToken: refresh.Token,
		User:         *user,
		ExpiresAt:    expiresAt,
	}, nil
}

// GenerateAccessToken signs a JWT for the given user
func (s *Service) GenerateAccessToken(userID string, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     expiresAt.Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ParseAccessToken validates a JWT and returns the user id it carries
func (s *Service) ParseAccessToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Refresh rotates a refresh token and issues a new access token
func (s *Service) Refresh(refreshToken string) (*AuthResponse, error) {
	var token models.Token
	err := s.db.Where("token = ? AND kind = ?", refreshToken, models.TokenRefresh).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	if !token.IsValid() {
		return nil, ErrInvalidToken
	}

	var user models.User
	if err := s.db.First(&user, "id = ?", token.UserID).Error; err != nil {
		return nil, ErrUserNotFound
	}

	// Rotate: revoke the old token before issuing a new pair
	now := time.Now()
	if err := s.db.Model(&token).Update("revoked_at", now).Error; err != nil {
		return nil, fmt.Errorf("failed to revoke token: %w", err)
	}

	return s.issueTokens(&user)
}

// Logout revokes a refresh token
func (s *Service) Logout(refreshToken string) error {
	now := time.Now()
	result := s.db.Model(&models.Token{}).
		Where("token = ? AND revoked_at IS NULL", refreshToken).
		Update("revoked_at", now)
	if result.Error != nil {
		return fmt.Errorf("failed to revoke token: %w", result.Error)
	}
	return nil
}

// LoadUser fetches a user by id
func (s *Service) LoadUser(userID string) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func randomToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}
