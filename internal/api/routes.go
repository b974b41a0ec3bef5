package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"classvault/internal/access"
	"classvault/internal/api/middleware"
	"classvault/internal/audit"
	"classvault/internal/auth"
	"classvault/internal/catalog"
	"classvault/internal/config"
	"classvault/internal/database"
	"classvault/internal/overlay"
	"classvault/internal/storage"
)

// RegisterRoutes 组装依赖并注册全部 API 路由。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
) {
	templateRepo := database.NewTemplateRepo(db)
	productRepo := database.NewProductRepo(db)
	purchaseRepo := database.NewPurchaseRepo(db)
	userRepo := database.NewUserRepo(db)

	cat := catalog.New(db)
	resolver := overlay.NewResolver(templateRepo, logger)
	auditor := audit.NewRecorder(asynqClient, logger)
	engine := access.NewEngine(productRepo, purchaseRepo, logger)
	engine.OnFreeGrant = func(ctx context.Context, userID uint, entityType, entityID string) {
		auditor.Record(ctx, audit.Event{
			Kind:       audit.KindFreeGrant,
			UserID:     &userID,
			EntityType: entityType,
			EntityID:   entityID,
			Detail:     "zero-price purchase auto-granted",
		})
	}

	authHandler := NewAuthHandler(
		db, authService, redisClient, logger,
		cfg.Auth.LoginRateLimitPerHour,
		cfg.Auth.LoginLockThreshold,
		time.Duration(cfg.Auth.LoginLockTTLMinutes)*time.Minute,
		cfg.API.CookieDomain,
	)
	notifyHandler := NewNotifyHandler(redisClient, authService, logger, cfg.API.AllowedOrigins)
	mediaHandler := NewMediaHandler(cat, engine, storageClient, logger)
	documentHandler := NewDocumentHandler(
		cat, engine, storageClient, resolver, auditor, userRepo, redisClient, logger,
		cfg.API.FrontendURL,
		cfg.Delivery.MaxDownloadsPerDay,
		cfg.Delivery.AllowDebugFlags,
	)
	slideHandler := NewSlideHandler(cat, engine, storageClient, resolver, userRepo, logger, cfg.API.FrontendURL)
	templateHandler := NewTemplateHandler(templateRepo, userRepo, cat, resolver, logger, cfg.API.FrontendURL)
	assetHandler := NewAssetHandler(storageClient, logger, cfg.Clamd.Addr)

	requireAuth := middleware.AuthMiddleware(authService)
	optionalAuth := middleware.OptionalAuthMiddleware(authService)
	requireAdmin := middleware.RequireRole(database.RolePlatformAdmin)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", notifyHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/change-password", requireAuth, authHandler.ChangePassword)
			authGroup.POST("/logout", requireAuth, authHandler.Logout)
		}

		mediaGroup := v1.Group("/media")
		mediaGroup.Use(optionalAuth)
		{
			mediaGroup.GET("/stream/:entityType/:entityId", mediaHandler.StreamMedia)
		}

		assetGroup := v1.Group("/assets")
		{
			assetGroup.GET("/download/lesson-plan-slide/:lessonPlanId/:slideId", optionalAuth, slideHandler.ServeSlide)
			assetGroup.GET("/download/:entityType/:entityId", requireAuth, documentHandler.DownloadDocument)
			assetGroup.GET("/template-preview/:fileId", requireAuth, templateHandler.TemplatePreview)

			assetGroup.POST("/upload", requireAuth, requireAdmin, assetHandler.UploadAsset)
			assetGroup.GET("/list", requireAuth, requireAdmin, assetHandler.ListAssets)
			assetGroup.GET("/view", requireAuth, requireAdmin, assetHandler.GetAssetURL)
			assetGroup.DELETE("/delete", requireAuth, requireAdmin, assetHandler.DeleteAsset)
		}

		templateGroup := v1.Group("/templates")
		templateGroup.Use(requireAuth, requireAdmin)
		{
			templateGroup.POST("", templateHandler.CreateTemplate)
			templateGroup.GET("", templateHandler.ListTemplates)
			templateGroup.GET("/:id", templateHandler.GetTemplate)
			templateGroup.PUT("/:id", templateHandler.UpdateTemplate)
			templateGroup.DELETE("/:id", templateHandler.DeleteTemplate)
			templateGroup.POST("/:id/default", templateHandler.SetDefaultTemplate)
		}
	}
}
