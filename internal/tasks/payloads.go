package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeAuditRecord = "audit:record"
)

// AuditRecordPayload 描述一条待持久化的审计事件。
type AuditRecordPayload struct {
	Kind          string `json:"kind"`
	UserID        *uint  `json:"user_id,omitempty"`
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	Detail        string `json:"detail"`
	CorrelationID string `json:"correlation_id"`
}

// NewAuditRecordTask 构造一个审计事件落库任务。
func NewAuditRecordTask(payload AuditRecordPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAuditRecord, data), nil
}
