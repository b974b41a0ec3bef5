package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"classvault/internal/audit"
	"classvault/internal/database"
	"classvault/internal/tasks"
)

// AuditTaskHandler 消费审计事件任务：落库，并在免费授权时通知用户。
type AuditTaskHandler struct {
	repo        *database.AuditRepo
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewAuditTaskHandler 创建任务处理器。
func NewAuditTaskHandler(db *gorm.DB, redisClient *redis.Client, logger *slog.Logger) *AuditTaskHandler {
	return &AuditTaskHandler{
		repo:        database.NewAuditRepo(db),
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *AuditTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.AuditRecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal audit payload failed", slog.Any("error", err))
		return err
	}

	log := h.logger.With(
		slog.String("kind", payload.Kind),
		slog.String("correlation_id", payload.CorrelationID),
	)

	record := database.AuditRecord{
		Kind:          payload.Kind,
		UserID:        payload.UserID,
		EntityType:    payload.EntityType,
		EntityID:      payload.EntityID,
		Detail:        payload.Detail,
		CorrelationID: payload.CorrelationID,
	}
	if err := h.repo.Create(ctx, record); err != nil {
		log.Error("persist audit record failed", slog.Any("error", err))
		return err
	}

	// 免费授权成功后向用户推送激活通知；推送失败不重试整个任务。
	if payload.Kind == audit.KindFreeGrant && payload.UserID != nil {
		notify := UserNotifyMessage{
			Kind:          "purchase-activated",
			EntityType:    payload.EntityType,
			EntityID:      payload.EntityID,
			CorrelationID: payload.CorrelationID,
		}
		if err := h.publishUserNotify(ctx, *payload.UserID, notify); err != nil {
			log.Warn("publish free grant notification failed", slog.Any("error", err))
		}
	}

	return nil
}

func (h *AuditTaskHandler) publishUserNotify(ctx context.Context, userID uint, notify UserNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
