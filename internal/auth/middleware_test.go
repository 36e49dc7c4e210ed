package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/commune-hq/backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// performWithRole hits a route guarded by RequireRole with a user of
// the given site role already loaded into the request context.
func performWithRole(t *testing.T, userRole, required models.Role) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/guarded",
		func(c *gin.Context) {
			c.Set("user", &models.User{ID: "u-1", Role: userRole})
		},
		RequireRole(required),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/guarded", nil))
	return w
}

func TestRequireRole(t *testing.T) {
	assert.Equal(t, http.StatusOK, performWithRole(t, models.RoleAdmin, models.RoleAdmin).Code)
	assert.Equal(t, http.StatusForbidden, performWithRole(t, models.RoleModerator, models.RoleAdmin).Code)
	assert.Equal(t, http.StatusForbidden, performWithRole(t, models.RoleUser, models.RoleAdmin).Code)

	// Admins satisfy moderator-gated routes, but not the other way around.
	assert.Equal(t, http.StatusOK, performWithRole(t, models.RoleAdmin, models.RoleModerator).Code)
	assert.Equal(t, http.StatusOK, performWithRole(t, models.RoleModerator, models.RoleModerator).Code)
	assert.Equal(t, http.StatusForbidden, performWithRole(t, models.RoleUser, models.RoleModerator).Code)
}

func TestRequireRoleWithoutUser(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/guarded", RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/guarded", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
