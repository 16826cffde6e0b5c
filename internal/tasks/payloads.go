package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeThumbnailGenerate = "template:thumbnail"
)

// ThumbnailPayload 描述生成模板缩略图所需的最小信息。
type ThumbnailPayload struct {
	TemplateID    uint   `json:"template_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewThumbnailTask 构造一个新的模板缩略图生成任务。
func NewThumbnailTask(templateID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ThumbnailPayload{
		TemplateID:    templateID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeThumbnailGenerate, payload), nil
}
