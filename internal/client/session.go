package client

import (
	"context"
	"fmt"

	"ngoCanvas/internal/canvas"
	"ngoCanvas/internal/render"
)

// DocumentMeta 是保存画布文档时附带的模板元信息。
type DocumentMeta struct {
	TemplateID uint
	Name       string
	Category   string
	IsPublic   bool
	Tags       []string
}

// SaveDocument 序列化编辑器内容、渲染预览图并作为一次保存提交。
// 渲染或上传失败都不改动编辑器状态。
func (c *Client) SaveDocument(ctx context.Context, meta DocumentMeta, editor *canvas.Editor, renderer *render.Renderer) (*Template, error) {
	customization, err := editor.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize document: %w", err)
	}

	var thumbnail []byte
	if renderer != nil {
		thumbnail, err = renderer.EncodePNG(editor.Elements())
		if err != nil {
			return nil, fmt.Errorf("render preview: %w", err)
		}
	}

	return c.SaveTemplate(ctx, SaveRequest{
		TemplateID:    meta.TemplateID,
		Name:          meta.Name,
		Category:      meta.Category,
		IsPublic:      meta.IsPublic,
		Tags:          meta.Tags,
		Customization: customization,
		Thumbnail:     thumbnail,
	})
}

// LoadDocument 拉取模板并把其画布数据载入编辑器，历史栈随之重置。
func (c *Client) LoadDocument(ctx context.Context, id uint, editor *canvas.Editor) (*Template, error) {
	tpl, err := c.Template(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := editor.Load([]byte(tpl.Customization)); err != nil {
		return nil, fmt.Errorf("load document %d: %w", id, err)
	}
	return tpl, nil
}
