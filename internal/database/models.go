package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 模板分类为固定枚举，与前端选择器保持一致。
const (
	CategoryEvents      = "Events"
	CategoryCampaigns   = "Campaigns"
	CategoryFundraising = "Fundraising"
	CategorySocialMedia = "Social Media"
	CategoryOther       = "Other"
)

// Categories 列出全部合法分类。
var Categories = []string{
	CategoryEvents,
	CategoryCampaigns,
	CategoryFundraising,
	CategorySocialMedia,
	CategoryOther,
}

// IsValidCategory 判断分类是否在枚举内。
func IsValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// User 表示注册的公益组织账号。
type User struct {
	gorm.Model
	OrganizationName string     `gorm:"size:255;not null"`
	Email            string     `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash     string     `gorm:"size:255;not null"`
	Logo             string     `gorm:"size:512"`
	Website          string     `gorm:"size:255"`
	Description      string     `gorm:"type:text"`
	LastLogin        *time.Time
	Templates        []Template `gorm:"constraint:OnDelete:CASCADE"`
}

// Template 表示用户创建的设计模板。
// Customization 以 JSONB 保存画布元素列表，服务端不解析其内部结构。
type Template struct {
	gorm.Model
	Name          string         `gorm:"size:255;not null"`
	Category      string         `gorm:"size:32;index;not null"`
	ImageKey      string         `gorm:"size:512"`
	ThumbnailKey  string         `gorm:"size:512"`
	Customization datatypes.JSON `gorm:"type:jsonb"`
	IsPublic      bool           `gorm:"default:false"`
	Downloads     uint           `gorm:"default:0"`
	UserID        uint           `gorm:"index"`
	User          User           `gorm:"constraint:OnDelete:CASCADE"`
	Tags          []TemplateTag  `gorm:"constraint:OnDelete:CASCADE"`
}

// TemplateTag 是模板与自由文本标签的多对多关联行。
type TemplateTag struct {
	TemplateID uint   `gorm:"primaryKey"`
	Tag        string `gorm:"primaryKey;size:50"`
}

// TemplateDownload 是追加写入的下载记录，从不更新。
type TemplateDownload struct {
	ID           uint      `gorm:"primaryKey"`
	TemplateID   uint      `gorm:"index;not null"`
	Template     Template  `gorm:"constraint:OnDelete:CASCADE"`
	UserID       uint      `gorm:"index;not null"`
	DownloadedAt time.Time `gorm:"autoCreateTime"`
}
