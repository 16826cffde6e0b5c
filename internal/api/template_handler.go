package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"ngoCanvas/internal/api/middleware"
	"ngoCanvas/internal/database"
	"ngoCanvas/internal/tasks"
)

// ObjectStorage 抽象模板图片的对象存储，便于测试注入。
type ObjectStorage interface {
	UploadFile(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	PublicURL(objectKey string) string
	DeleteObject(ctx context.Context, objectKey string) error
}

// TemplateHandler 负责模板的增删改查与下载记录。
type TemplateHandler struct {
	db             *gorm.DB
	storage        ObjectStorage
	asynqClient    *asynq.Client
	logger         *slog.Logger
	maxUploadBytes int64
	clamdAddr      string
}

// NewTemplateHandler 构造模板处理器。
func NewTemplateHandler(db *gorm.DB, storageClient ObjectStorage, asynqClient *asynq.Client, logger *slog.Logger, maxUploadBytes int64, clamdAddr string) *TemplateHandler {
	return &TemplateHandler{
		db:             db,
		storage:        storageClient,
		asynqClient:    asynqClient,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
		clamdAddr:      clamdAddr,
	}
}

var errInvalidTemplateID = errors.New("invalid template id")

type templateResponse struct {
	ID            uint           `json:"id"`
	Name          string         `json:"name"`
	Category      string         `json:"category"`
	ImageURL      string         `json:"imageUrl,omitempty"`
	ThumbnailURL  string         `json:"thumbnailUrl,omitempty"`
	Customization datatypes.JSON `json:"customization"`
	IsPublic      bool           `json:"isPublic"`
	Downloads     uint           `json:"downloads"`
	Tags          []string       `json:"tags"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func (h *TemplateHandler) newTemplateResponse(t database.Template) templateResponse {
	tags := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		tags = append(tags, tag.Tag)
	}
	return templateResponse{
		ID:            t.ID,
		Name:          t.Name,
		Category:      t.Category,
		ImageURL:      h.storage.PublicURL(t.ImageKey),
		ThumbnailURL:  h.storage.PublicURL(t.ThumbnailKey),
		Customization: t.Customization,
		IsPublic:      t.IsPublic,
		Downloads:     t.Downloads,
		Tags:          tags,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// POST /api/templates
// 创建模板：模板行与标签行在同一事务内写入，任一失败则整体回滚。
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		BadRequest(c, "template name is required")
		return
	}
	category := c.PostForm("category")
	if !database.IsValidCategory(category) {
		BadRequest(c, "invalid category")
		return
	}

	customization, err := parseCustomization(c.PostForm("customization"))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	tagList, err := parseTags(c.PostForm("tags"))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	isPublic := c.PostForm("isPublic") == "true"

	imageKey, err := storeTemplateImage(c, h.storage, userID, h.maxUploadBytes, h.clamdAddr)
	if err != nil {
		h.replyUploadError(c, logger, err)
		return
	}

	template := database.Template{
		Name:          name,
		Category:      category,
		ImageKey:      imageKey,
		Customization: customization,
		IsPublic:      isPublic,
		UserID:        userID,
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&template).Error; err != nil {
			return err
		}
		for _, tag := range tagList {
			row := database.TemplateTag{TemplateID: template.ID, Tag: tag}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("create template failed", slog.Any("error", err))
		Internal(c, "Failed to create template")
		return
	}

	h.enqueueThumbnail(c, logger, template)

	created, err := h.templateForUser(ctx, template.ID, userID)
	if err != nil {
		logger.Error("reload created template failed", slog.Any("error", err))
		Internal(c, "Failed to create template")
		return
	}
	c.JSON(http.StatusCreated, h.newTemplateResponse(*created))
}

// GET /api/templates
// 列表：仅返回调用者自己的模板，支持分类过滤、名称/标签搜索与排序。
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	query := h.db.WithContext(c.Request.Context()).
		Preload("Tags").
		Where("user_id = ?", userID)

	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if search := c.Query("search"); search != "" {
		pattern := "%" + search + "%"
		query = query.Where(
			"(name LIKE ? OR EXISTS (SELECT 1 FROM template_tags WHERE template_tags.template_id = templates.id AND template_tags.tag LIKE ?))",
			pattern, pattern,
		)
	}

	switch c.Query("sort") {
	case "popular":
		query = query.Order("downloads DESC")
	case "newest":
		query = query.Order("created_at DESC")
	default:
		query = query.Order("updated_at DESC")
	}

	var templates []database.Template
	if err := query.Find(&templates).Error; err != nil {
		h.loggerFromContext(c).Error("list templates failed", slog.Any("error", err))
		Internal(c, "Failed to fetch templates")
		return
	}

	items := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		items = append(items, h.newTemplateResponse(t))
	}
	c.JSON(http.StatusOK, items)
}

// GET /api/templates/:id
// 详情仅对 Owner 可见；他人的模板与不存在的模板同样返回 404。
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	template, err := h.templateFromParam(c, userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.newTemplateResponse(*template))
}

// PUT /api/templates/:id
// 更新：未提供的字段保持原值；未携带新图片时保留原图片。
func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	template, err := h.templateFromParam(c, userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}

	if name, present := c.GetPostForm("name"); present {
		name = strings.TrimSpace(name)
		if name == "" {
			BadRequest(c, "template name is required")
			return
		}
		template.Name = name
	}
	if category, present := c.GetPostForm("category"); present {
		if !database.IsValidCategory(category) {
			BadRequest(c, "invalid category")
			return
		}
		template.Category = category
	}
	if raw, present := c.GetPostForm("customization"); present {
		customization, err := parseCustomization(raw)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
		template.Customization = customization
	}
	if isPublic, present := c.GetPostForm("isPublic"); present {
		template.IsPublic = isPublic == "true"
	}

	var tagList []string
	rawTags, tagsPresent := c.GetPostForm("tags")
	if tagsPresent {
		tagList, err = parseTags(rawTags)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
	}

	oldImageKey := template.ImageKey
	imageKey, err := storeTemplateImage(c, h.storage, userID, h.maxUploadBytes, h.clamdAddr)
	if err != nil {
		h.replyUploadError(c, logger, err)
		return
	}
	if imageKey != "" {
		template.ImageKey = imageKey
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.Template{}).
			Where("id = ? AND user_id = ?", template.ID, userID).
			Updates(map[string]any{
				"name":          template.Name,
				"category":      template.Category,
				"image_key":     template.ImageKey,
				"customization": template.Customization,
				"is_public":     template.IsPublic,
			}).Error; err != nil {
			return err
		}
		if tagsPresent {
			if err := tx.Where("template_id = ?", template.ID).Delete(&database.TemplateTag{}).Error; err != nil {
				return err
			}
			for _, tag := range tagList {
				row := database.TemplateTag{TemplateID: template.ID, Tag: tag}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("update template failed", slog.Any("error", err))
		Internal(c, "Failed to update template")
		return
	}

	// 旧图片被替换后异步清理，失败只记录日志。
	if imageKey != "" && oldImageKey != "" && oldImageKey != imageKey {
		if err := h.storage.DeleteObject(ctx, oldImageKey); err != nil {
			logger.Warn("delete replaced image failed", slog.String("object_key", oldImageKey), slog.Any("error", err))
		}
	}

	if imageKey != "" {
		h.enqueueThumbnail(c, logger, *template)
	}

	updated, err := h.templateForUser(ctx, template.ID, userID)
	if err != nil {
		logger.Error("reload updated template failed", slog.Any("error", err))
		Internal(c, "Failed to update template")
		return
	}
	c.JSON(http.StatusOK, h.newTemplateResponse(*updated))
}

// DELETE /api/templates/:id
// 删除模板及其标签与下载记录，存储中的图片一并清理。
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	template, err := h.templateFromParam(c, userID)
	if err != nil {
		h.replyLookupError(c, err)
		return
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("template_id = ?", template.ID).Delete(&database.TemplateTag{}).Error; err != nil {
			return err
		}
		if err := tx.Where("template_id = ?", template.ID).Delete(&database.TemplateDownload{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND user_id = ?", template.ID, userID).Delete(&database.Template{}).Error
	})
	if err != nil {
		logger.Error("delete template failed", slog.Any("error", err))
		Internal(c, "Failed to delete template")
		return
	}

	for _, key := range []string{template.ImageKey, template.ThumbnailKey} {
		if key == "" {
			continue
		}
		if err := h.storage.DeleteObject(ctx, key); err != nil {
			logger.Warn("delete template object failed", slog.String("object_key", key), slog.Any("error", err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Template deleted"})
}

func (h *TemplateHandler) templateFromParam(c *gin.Context, userID uint) (*database.Template, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return nil, errInvalidTemplateID
	}
	return h.templateForUser(c.Request.Context(), uint(id), userID)
}

func (h *TemplateHandler) templateForUser(ctx context.Context, templateID, userID uint) (*database.Template, error) {
	var template database.Template
	err := h.db.WithContext(ctx).
		Preload("Tags").
		Where("id = ? AND user_id = ?", templateID, userID).
		First(&template).Error
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (h *TemplateHandler) replyLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidTemplateID):
		BadRequest(c, "invalid template id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Template not found")
	default:
		h.loggerFromContext(c).Error("query template failed", slog.Any("error", err))
		Internal(c, "Failed to fetch template")
	}
}

func (h *TemplateHandler) replyUploadError(c *gin.Context, logger *slog.Logger, err error) {
	var ue *uploadError
	if errors.As(err, &ue) {
		Error(c, ue.status, ue.msg)
		return
	}
	logger.Error("store template image failed", slog.Any("error", err))
	Internal(c, "Failed to store image")
}

// enqueueThumbnail 为带图片的模板入队缩略图生成任务。
// 任务失败不影响 API 写路径。
func (h *TemplateHandler) enqueueThumbnail(c *gin.Context, logger *slog.Logger, template database.Template) {
	if h.asynqClient == nil || template.ImageKey == "" {
		return
	}
	task, err := tasks.NewThumbnailTask(template.ID, middleware.GetCorrelationID(c))
	if err != nil {
		logger.Error("build thumbnail task failed", slog.Any("error", err))
		return
	}
	if _, err := h.asynqClient.EnqueueContext(c.Request.Context(), task); err != nil {
		logger.Error("enqueue thumbnail task failed", slog.Any("error", err))
	}
}

func (h *TemplateHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

// parseCustomization 校验画布数据为合法 JSON；空串按空列表处理。
func parseCustomization(raw string) (datatypes.JSON, error) {
	if strings.TrimSpace(raw) == "" {
		return datatypes.JSON("[]"), nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, errors.New("customization must be valid JSON")
	}
	return datatypes.JSON(raw), nil
}

// parseTags 解析 JSON 数组形式的标签，去重并丢弃空白项。
func parseTags(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, errors.New("tags must be a JSON array of strings")
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}
