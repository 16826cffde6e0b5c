package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"ngoCanvas/internal/api/middleware"
	"ngoCanvas/internal/auth"
	"ngoCanvas/internal/config"
)

// RegisterRoutes 注册 /api 前缀下的全部路由。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	authService *auth.AuthService,
	redisClient *redis.Client,
	asynqClient *asynq.Client,
	storageClient ObjectStorage,
	logger *slog.Logger,
) {
	authHandler := NewAuthHandler(db, authService, redisClient, logger, cfg.Auth.LoginRateLimitPerHour)
	templateHandler := NewTemplateHandler(db, storageClient, asynqClient, logger, cfg.Upload.MaxBytes, cfg.Upload.ClamdAddr)
	authMiddleware := middleware.AuthMiddleware(authService, db)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/register", authHandler.Register)
		apiGroup.POST("/login", authHandler.Login)

		templateGroup := apiGroup.Group("/templates")
		templateGroup.Use(authMiddleware)
		{
			templateGroup.POST("", templateHandler.CreateTemplate)
			templateGroup.GET("", templateHandler.ListTemplates)
			templateGroup.GET("/:id", templateHandler.GetTemplate)
			templateGroup.PUT("/:id", templateHandler.UpdateTemplate)
			templateGroup.DELETE("/:id", templateHandler.DeleteTemplate)
			templateGroup.POST("/:id/download", templateHandler.RecordDownload)
		}

		downloadGroup := apiGroup.Group("/downloads")
		downloadGroup.Use(authMiddleware)
		{
			downloadGroup.GET("/recent", templateHandler.RecentDownloads)
		}
	}
}
