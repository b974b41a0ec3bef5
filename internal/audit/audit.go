package audit

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"classvault/internal/tasks"
)

// 审计事件种类。损坏文档、降级回退与拒绝访问使用互不相同的 Kind，
// 便于在审计面板中区分。
const (
	KindCorruptSource     = "corrupt-source"
	KindTransformFallback = "transform-fallback"
	KindAccessDenied      = "access-denied"
	KindFreeGrant         = "free-grant"
)

// Event 是一条待记录的审计事件。
type Event struct {
	Kind          string
	UserID        *uint
	EntityType    string
	EntityID      string
	Detail        string
	CorrelationID string
}

// Recorder 把审计事件经任务队列送往 worker 持久化。
// 入队失败只记日志：审计是旁路，绝不拖垮主响应。
type Recorder struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewRecorder 构造审计记录器。client 可为 nil（测试场景），此时仅写日志。
func NewRecorder(client *asynq.Client, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{client: client, logger: logger}
}

// Record 记录一条审计事件。
func (r *Recorder) Record(ctx context.Context, ev Event) {
	attrs := []any{
		slog.String("kind", ev.Kind),
		slog.String("entity_type", ev.EntityType),
		slog.String("entity_id", ev.EntityID),
		slog.String("detail", ev.Detail),
		slog.String("correlation_id", ev.CorrelationID),
	}
	if ev.UserID != nil {
		attrs = append(attrs, slog.Uint64("user_id", uint64(*ev.UserID)))
	}

	switch ev.Kind {
	case KindCorruptSource:
		r.logger.Error("audit event", attrs...)
	default:
		r.logger.Warn("audit event", attrs...)
	}

	if r.client == nil {
		return
	}

	task, err := tasks.NewAuditRecordTask(tasks.AuditRecordPayload{
		Kind:          ev.Kind,
		UserID:        ev.UserID,
		EntityType:    ev.EntityType,
		EntityID:      ev.EntityID,
		Detail:        ev.Detail,
		CorrelationID: ev.CorrelationID,
	})
	if err != nil {
		r.logger.Error("build audit task failed", slog.Any("error", err))
		return
	}
	if _, err := r.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		r.logger.Error("enqueue audit task failed", slog.Any("error", err))
	}
}
