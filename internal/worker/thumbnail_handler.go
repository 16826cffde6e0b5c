package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"ngoCanvas/internal/database"
	"ngoCanvas/internal/tasks"
)

// 缩略图最大外接尺寸。
const (
	thumbnailMaxWidth  = 400
	thumbnailMaxHeight = 300
)

// objectStore 抽象缩略图任务需要的对象存储操作。
type objectStore interface {
	GetObject(ctx context.Context, objectKey string) (io.ReadCloser, error)
	UploadFile(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
}

// ThumbnailHandler 消费缩略图生成任务：下载模板原图，
// 等比缩放后写回存储并更新模板行。
type ThumbnailHandler struct {
	db      *gorm.DB
	storage objectStore
	logger  *slog.Logger
}

// NewThumbnailHandler 构造缩略图任务处理器。
func NewThumbnailHandler(db *gorm.DB, storage objectStore, logger *slog.Logger) *ThumbnailHandler {
	return &ThumbnailHandler{
		db:      db,
		storage: storage,
		logger:  logger,
	}
}

func (h *ThumbnailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ThumbnailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal thumbnail payload failed", slog.Any("error", err))
		return err
	}

	log := h.logger.With(
		slog.Uint64("template_id", uint64(payload.TemplateID)),
		slog.String("correlation_id", payload.CorrelationID),
	)

	var template database.Template
	if err := h.db.WithContext(ctx).First(&template, payload.TemplateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("template not found, skipping task")
			return nil
		}
		log.Error("query template failed", slog.Any("error", err))
		return err
	}
	if template.ImageKey == "" {
		log.Info("template has no image, skipping task")
		return nil
	}
	// SVG 无法被位图解码器处理，直接复用原图。
	if strings.HasSuffix(strings.ToLower(template.ImageKey), ".svg") {
		return h.saveThumbnailKey(ctx, template.ID, template.ImageKey)
	}

	reader, err := h.storage.GetObject(ctx, template.ImageKey)
	if err != nil {
		log.Error("fetch template image failed", slog.Any("error", err))
		return err
	}
	defer reader.Close()

	img, err := imaging.Decode(reader)
	if err != nil {
		// 解码失败是数据问题，重试不会恢复。
		log.Warn("decode template image failed, skipping task", slog.Any("error", err))
		return nil
	}

	thumb := imaging.Fit(img, thumbnailMaxWidth, thumbnailMaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		log.Error("encode thumbnail failed", slog.Any("error", err))
		return err
	}

	thumbnailKey := thumbnailKeyFor(template.ImageKey)
	if err := h.storage.UploadFile(ctx, thumbnailKey, &buf, int64(buf.Len()), "image/png"); err != nil {
		log.Error("upload thumbnail failed", slog.Any("error", err))
		return err
	}

	if err := h.saveThumbnailKey(ctx, template.ID, thumbnailKey); err != nil {
		log.Error("save thumbnail key failed", slog.Any("error", err))
		return err
	}

	log.Info("thumbnail generated", slog.String("object_key", thumbnailKey))
	return nil
}

func (h *ThumbnailHandler) saveThumbnailKey(ctx context.Context, templateID uint, key string) error {
	return h.db.WithContext(ctx).
		Model(&database.Template{}).
		Where("id = ?", templateID).
		UpdateColumn("thumbnail_key", key).Error
}

// thumbnailKeyFor 由原图 Key 派生缩略图 Key，扩展名统一为 png。
func thumbnailKeyFor(imageKey string) string {
	base := imageKey
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return fmt.Sprintf("%s-thumb.png", base)
}
