package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/commune-hq/backend/internal/auth"
	"github.com/commune-hq/backend/internal/cache"
	"github.com/commune-hq/backend/internal/chat"
	"github.com/commune-hq/backend/internal/community"
	"github.com/commune-hq/backend/internal/config"
	"github.com/commune-hq/backend/internal/database"
	"github.com/commune-hq/backend/internal/handlers"
	"github.com/commune-hq/backend/internal/logger"
	"github.com/commune-hq/backend/internal/metrics"
	"github.com/commune-hq/backend/internal/middleware"
	"github.com/commune-hq/backend/internal/moderation"
	"github.com/commune-hq/backend/internal/posts"
	"github.com/commune-hq/backend/internal/websocket"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// A missing .env is fine, the deployment sets the environment.
	_ = godotenv.Load()

	cfg := config.Load()

	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		os.Exit(1)
	}
	defer logger.Close()

	logger.Log.Info("Commune server starting")

	if cfg.JWTSecret == "" {
		logger.Log.Fatal("JWT_SECRET environment variable is required")
	}

	if err := database.Initialize(); err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Log.Fatal("Failed to run migrations", zap.Error(err))
	}

	metrics.Initialize()

	// Redis is optional: without it the cache layer is a no-op.
	var store *cache.Store
	redisClient, err := cache.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
	if err != nil {
		logger.Log.Warn("Redis unavailable, caching disabled", zap.Error(err))
	} else {
		store = cache.NewStore(redisClient)
		defer redisClient.Close()
	}

	// The moderation service is advisory: a nil client means all
	// content passes without analysis.
	var modClient *moderation.Client
	if cfg.ModerationURL != "" {
		modClient = moderation.NewClientWithTimeout(cfg.ModerationURL, cfg.ModerationTimeout)
	}

	jwtSecret := []byte(cfg.JWTSecret)
	db := database.DB

	hub := websocket.NewHub()
	go hub.Run()

	wsHandler := websocket.NewHandler(hub, db, jwtSecret)
	wsHandler.RegisterDefaultHandlers()

	presenceManager := websocket.NewManager(hub, db)
	wsHandler.SetPresenceManager(presenceManager)
	presenceManager.Start()
	defer presenceManager.Stop()

	authService := auth.NewService(db, jwtSecret, cfg.AccessTokenTTL)
	communityService := community.NewService(db, store, hub)
	postService := posts.NewService(db, store, hub, modClient)
	chatService := chat.NewService(db, store, hub, modClient)
	chatService.RegisterHandlers(hub)

	h := handlers.NewHandlers(authService, communityService, postService, chatService, wsHandler, db)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.GinLoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"} // tighten per deployment
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"}
	r.Use(cors.New(corsConfig))

	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		logger.Log.Info("HTTP server listening", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := wsHandler.Shutdown(ctx); err != nil {
		logger.Log.Warn("WebSocket shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}

	logger.Log.Info("Server stopped")
}
