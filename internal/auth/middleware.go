package auth

import (
	"strings"

	"github.com/commune-hq/backend/internal/models"
	"github.com/commune-hq/backend/internal/util"
	"github.com/gin-gonic/gin"
)

// Middleware validates the Authorization header and loads the user
// into the request context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			util.RespondUnauthorized(c, "Authentication required")
			c.Abort()
			return
		}

		userID, err := s.ParseAccessToken(tokenString)
		if err != nil {
			util.RespondUnauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}

		user, err := s.LoadUser(userID)
		if err != nil {
			util.RespondUnauthorized(c, "User not found")
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Next()
	}
}

// RequireRole aborts with 403 unless the authenticated user has at
// least the given role. Must run after Middleware.
func RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := util.GetUserFromContext(c)
		if !ok {
			// GetUserFromContext already wrote the 401
			c.Abort()
			return
		}

		allowed := user.Role == role ||
			(role == models.RoleModerator && user.Role == models.RoleAdmin)
		if !allowed {
			util.RespondForbidden(c, "Insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// extractToken pulls a bearer token from the Authorization header, or
// falls back to the token query parameter for websocket upgrades.
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
