package handlers

import (
	"net/http"
	"time"

	"github.com/commune-hq/backend/internal/auth"
	"github.com/commune-hq/backend/internal/middleware"
	"github.com/commune-hq/backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes wires all API routes onto the router
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	authRequired := h.auth.Middleware()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   "commune-backend",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Realtime
	r.GET("/ws", h.ws.HandleWebSocket)
	r.GET("/ws/stats", authRequired, h.ws.HandleMetrics)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		authGroup.Use(middleware.RateLimitAuth())
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
			authGroup.POST("/refresh", h.Refresh)
			authGroup.POST("/logout", h.Logout)
		}

		users := api.Group("/users")
		users.Use(authRequired)
		{
			users.GET("/me", h.GetMe)
			users.PATCH("/me", h.UpdateMe)
			users.GET("/online", h.ws.HandleOnlineStatus)
			users.GET("/:username", h.GetUser)
			users.GET("/:username/communities", h.GetUserCommunities)
		}

		communities := api.Group("/communities")
		communities.Use(authRequired)
		{
			communities.POST("", middleware.RateLimitWrite(), h.CreateCommunity)
			communities.GET("", h.ListCommunities)
			communities.GET("/:id", h.GetCommunity)
			communities.PATCH("/:id", h.UpdateCommunity)
			communities.DELETE("/:id", h.DeactivateCommunity)

			communities.POST("/:id/join", h.JoinCommunity)
			communities.POST("/:id/leave", h.LeaveCommunity)
			communities.POST("/:id/transfer", h.TransferOwnership)

			communities.GET("/:id/members", h.ListMembers)
			communities.GET("/:id/members/pending", h.ListPendingMembers)
			communities.POST("/:id/members/:userId/approve", h.ApproveMember)
			communities.DELETE("/:id/members/:userId", h.RemoveMember)
			communities.PUT("/:id/members/:userId/role", h.SetMemberRole)

			communities.POST("/:id/posts", middleware.RateLimitWrite(), h.CreatePost)
			communities.GET("/:id/posts", h.ListPosts)

			communities.GET("/:id/messages", h.CommunityMessages)
		}

		api.GET("/c/:slug", authRequired, h.GetCommunityBySlug)

		postsGroup := api.Group("/posts")
		postsGroup.Use(authRequired)
		{
			postsGroup.GET("/:id", h.GetPost)
			postsGroup.PATCH("/:id", h.UpdatePost)
			postsGroup.DELETE("/:id", h.DeletePost)
			postsGroup.POST("/:id/vote", h.VotePost)
			postsGroup.PUT("/:id/pin", h.PinPost)
			postsGroup.PUT("/:id/lock", h.LockPost)

			postsGroup.POST("/:id/comments", middleware.RateLimitWrite(), h.CreateComment)
			postsGroup.GET("/:id/comments", h.ListComments)
		}

		comments := api.Group("/comments")
		comments.Use(authRequired)
		{
			comments.PATCH("/:id", h.UpdateComment)
			comments.DELETE("/:id", h.DeleteComment)
		}

		messages := api.Group("/messages")
		messages.Use(authRequired)
		{
			messages.POST("", middleware.RateLimitWrite(), h.SendMessage)
			messages.GET("/direct/:userId", h.DirectMessages)
			messages.POST("/:id/read", h.MarkMessageRead)
			messages.PUT("/:id/reaction", h.ReactToMessage)
			messages.DELETE("/:id", h.DeleteMessage)
			messages.POST("/:id/hide", h.HideMessage)
		}

		admin := api.Group("/admin")
		admin.Use(authRequired, auth.RequireRole(models.RoleAdmin))
		{
			admin.GET("/users", h.ListUsers)
		}
	}
}
