package router

import (
	"context"
	"strings"

	"kast/internal/config"
	"kast/internal/handlers"
	"kast/internal/middleware"
	"kast/internal/moderation"
	"kast/internal/repository"
	"kast/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	AppCtx     context.Context
	Config     *config.Config
	DB         *gorm.DB
	Repos      *repository.Repositories
	Engine     *moderation.Engine
	Worker     *services.EngagementWorker
	Engagement *services.EngagementService
	Rescore    *services.RescoreQueue
	Hub        services.HubClient
	Sessions   services.SessionStore
	Logger     *zap.Logger
}

func New(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(d.Logger), middleware.Recovery(d.Logger), middleware.Metrics())
	secret := d.Config.SessionSecret
	if secret == "" {
		secret = config.DefaultSessionSecret
	}
	r.Use(
		middleware.Sessions(secret, d.Config.SessionMaxAge, strings.HasPrefix(d.Config.BaseURL, "https://")),
		middleware.LoadUser(d.Repos.Users),
	)
	RegisterRoutes(r, d)
	return r
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Handlers
	healthHandler := handlers.NewHealthHandler(d.DB)
	webhookHandler := handlers.NewWebhookHandler(d.Config.NeynarWebhookSecret, d.Repos, d.Engine, d.Rescore, d.Logger)
	workerHandler := handlers.NewWorkerHandler(d.AppCtx, d.Worker)
	moderationHandler := handlers.NewModerationHandler(d.Engine, d.Repos.Users)
	engagementHandler := handlers.NewEngagementHandler(d.Engagement)
	authHandler := handlers.NewAuthHandler(d.Hub, d.Sessions, d.Repos.Users, d.Config.BaseURL, d.Logger)
	notificationHandler := handlers.NewNotificationHandler(d.Repos.Notifications)

	admin := middleware.AdminRequired(d.Config.AdminAPIKey)
	authed := middleware.AuthRequired()

	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		// Neynar 回调
		api.GET("/webhooks/neynar", webhookHandler.Verify)
		api.POST("/webhooks/neynar", webhookHandler.Receive)

		api.GET("/workers/engagement", workerHandler.Status)
		api.POST("/workers/engagement", admin, workerHandler.Control)

		api.GET("/farcaster/engagement", engagementHandler.Trending)
		api.POST("/farcaster/engagement", engagementHandler.Process)
		api.GET("/farcaster/sync", engagementHandler.Profile)
		api.POST("/farcaster/sync", engagementHandler.Sync)

		api.GET("/auth/neynar/callback", authHandler.Callback)
		api.GET("/auth/neynar/status", authHandler.Status)

		// 登录会话
		api.GET("/auth/session", authed, authHandler.Session)
		api.POST("/auth/session", authed, authHandler.Refresh)
		api.DELETE("/auth/session", authHandler.Logout)
		api.GET("/me/notifications", authed, notificationHandler.Mine)
	}

	// 管理接口
	mod := api.Group("/moderation", admin)
	{
		mod.GET("", moderationHandler.Get)
		mod.POST("", moderationHandler.Post)
		mod.PUT("", moderationHandler.Put)
		mod.DELETE("", moderationHandler.Delete)
	}
	api.GET("/users/:id/notifications", admin, notificationHandler.List)
}
