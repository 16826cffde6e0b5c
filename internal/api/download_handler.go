package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"ngoCanvas/internal/database"
)

// POST /api/templates/:id/download
// 追加下载记录并递增计数器。两个写入放在同一事务内，
// 记录与计数不会彼此漂移。
func (h *TemplateHandler) RecordDownload(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid template id")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(
		slog.Uint64("user_id", uint64(userID)),
		slog.Uint64("template_id", id),
	)

	// 下载不限于 Owner：任何已认证用户都可以下载存在的模板。
	var template database.Template
	if err := h.db.WithContext(ctx).First(&template, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "Template not found")
			return
		}
		logger.Error("query template failed", slog.Any("error", err))
		Internal(c, "Failed to record download")
		return
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := database.TemplateDownload{
			TemplateID: template.ID,
			UserID:     userID,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return tx.Model(&database.Template{}).
			Where("id = ?", template.ID).
			UpdateColumn("downloads", gorm.Expr("downloads + 1")).Error
	})
	if err != nil {
		logger.Error("record download failed", slog.Any("error", err))
		Internal(c, "Failed to record download")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Download recorded successfully"})
}

type recentDownloadItem struct {
	ID           uint      `json:"id"`
	TemplateID   uint      `json:"templateId"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	ImageURL     string    `json:"imageUrl,omitempty"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// GET /api/downloads/recent
// 返回调用者最近的 5 条下载记录，按时间倒序。
func (h *TemplateHandler) RecentDownloads(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var rows []struct {
		ID           uint
		TemplateID   uint
		Name         string
		Category     string
		ImageKey     string
		DownloadedAt time.Time
	}
	err := h.db.WithContext(c.Request.Context()).
		Table("template_downloads").
		Select("template_downloads.id, template_downloads.template_id, template_downloads.downloaded_at, templates.name, templates.category, templates.image_key").
		Joins("JOIN templates ON templates.id = template_downloads.template_id AND templates.deleted_at IS NULL").
		Where("template_downloads.user_id = ?", userID).
		Order("template_downloads.downloaded_at DESC").
		Limit(5).
		Scan(&rows).Error
	if err != nil {
		h.loggerFromContext(c).Error("query recent downloads failed", slog.Any("error", err))
		Internal(c, "Failed to fetch recent downloads")
		return
	}

	items := make([]recentDownloadItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, recentDownloadItem{
			ID:           row.ID,
			TemplateID:   row.TemplateID,
			Name:         row.Name,
			Category:     row.Category,
			ImageURL:     h.storage.PublicURL(row.ImageKey),
			DownloadedAt: row.DownloadedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}
