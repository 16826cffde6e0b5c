package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"ngoCanvas/internal/api/middleware"
	"ngoCanvas/internal/auth"
	"ngoCanvas/internal/database"
)

// AuthHandler 处理注册与登录。
type AuthHandler struct {
	db                    *gorm.DB
	authService           *auth.AuthService
	redis                 redis.UniversalClient
	logger                *slog.Logger
	loginRateLimitPerHour int
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(db *gorm.DB, authService *auth.AuthService, redisClient redis.UniversalClient, logger *slog.Logger, loginRateLimitPerHour int) *AuthHandler {
	return &AuthHandler{
		db:                    db,
		authService:           authService,
		redis:                 redisClient,
		logger:                logger,
		loginRateLimitPerHour: loginRateLimitPerHour,
	}
}

type registerRequest struct {
	OrganizationName string `json:"organizationName" binding:"required,max=255"`
	Email            string `json:"email" binding:"required,email,max=255"`
	Password         string `json:"password" binding:"required"`
	Website          string `json:"website" binding:"omitempty,max=255"`
	Description      string `json:"description"`
}

// Register 创建新的组织账号。注册成功不建立会话。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if len(req.Password) < 6 {
		BadRequest(c, "Password must be at least 6 characters long")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.String("email", req.Email))

	var existing database.User
	if err := h.db.WithContext(ctx).Where("email = ?", req.Email).First(&existing).Error; err == nil {
		logger.Info("register conflict: email already present")
		BadRequest(c, "Email already registered")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error("register lookup failed", slog.Any("error", err))
		Internal(c, "Registration failed")
		return
	}

	hashed, err := h.authService.HashPassword(req.Password)
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		Internal(c, "Registration failed")
		return
	}

	user := database.User{
		OrganizationName: req.OrganizationName,
		Email:            req.Email,
		PasswordHash:     hashed,
		Website:          req.Website,
		Description:      req.Description,
	}

	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		logger.Error("create user failed", slog.Any("error", err))
		Internal(c, "Registration failed")
		return
	}

	logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusCreated, gin.H{"message": "Registration successful"})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginUser struct {
	ID               uint   `json:"id"`
	OrganizationName string `json:"organizationName"`
	Email            string `json:"email"`
	Website          string `json:"website,omitempty"`
}

type loginResponse struct {
	Token string    `json:"token"`
	User  loginUser `json:"user"`
}

// Login 校验口令，刷新 last_login 并签发会话令牌。
// 失败路径不更新 last_login。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(req.Email)
	logger := h.loggerFromContext(c).With(slog.String("email", email))

	// 速率限制：每 IP+邮箱 每小时 N 次
	if h.redis != nil && h.loginRateLimitPerHour > 0 {
		rateKey := "rate:login:" + c.ClientIP() + ":" + email + ":" + time.Now().UTC().Format("2006010215")
		count, err := incrWithTTL(ctx, h.redis, rateKey, time.Hour)
		if err != nil {
			count = 0
		}
		if count > int64(h.loginRateLimitPerHour) {
			c.JSON(http.StatusTooManyRequests, gin.H{"message": "rate limit exceeded"})
			return
		}
	}

	var user database.User
	if err := h.db.WithContext(ctx).Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("login failed: email not found")
			BadRequest(c, "Email not found")
			return
		}
		logger.Error("login query failed", slog.Any("error", err))
		Internal(c, "Login failed")
		return
	}

	if !h.authService.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Info("login failed: password mismatch", slog.Uint64("user_id", uint64(user.ID)))
		BadRequest(c, "Invalid password")
		return
	}

	now := time.Now()
	if err := h.db.WithContext(ctx).Model(&user).Update("last_login", now).Error; err != nil {
		logger.Error("update last login failed", slog.Any("error", err))
		Internal(c, "Login failed")
		return
	}

	token, err := h.authService.GenerateToken(user.ID)
	if err != nil {
		logger.Error("generate token failed", slog.Any("error", err))
		Internal(c, "Login failed")
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		Token: token,
		User: loginUser{
			ID:               user.ID,
			OrganizationName: user.OrganizationName,
			Email:            user.Email,
			Website:          user.Website,
		},
	})
}

func (h *AuthHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
