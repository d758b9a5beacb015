package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"groupwatch/internal/domain"
	"groupwatch/internal/repository"
	"groupwatch/internal/tasks"
)

// EventArchiveHandler 处理事件归档任务
type EventArchiveHandler struct {
	archiveRepo repository.EventArchiveRepository
}

// NewEventArchiveHandler 创建 Handler 实例
func NewEventArchiveHandler(archiveRepo repository.EventArchiveRepository) *EventArchiveHandler {
	if archiveRepo == nil {
		panic("EventArchiveRepository cannot be nil for EventArchiveHandler")
	}
	return &EventArchiveHandler{archiveRepo: archiveRepo}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *EventArchiveHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID, _ := asynq.GetTaskID(ctx)
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
	logCtx.Debug("Processing event archive task...")

	groupID, ev, err := tasks.ParseEventArchivePayload(t.Payload())
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		// 负载损坏时重试没有意义
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"group_id": groupID, "server_ts": ev.Timestamp()})

	row, err := domain.NewArchivedEvent(groupID, ev)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build archive row")
		return fmt.Errorf("failed to build archive row: %v: %w", err, asynq.SkipRetry)
	}

	// 已归档的 (group_id, server_ts) 会被跳过，重试是安全的
	if err := h.archiveRepo.SaveBatch(ctx, []domain.ArchivedEvent{row}); err != nil {
		logCtx.WithError(err).Error("Failed to save archived event")
		return fmt.Errorf("failed to archive event %d of group %s: %w", ev.Timestamp(), groupID, err)
	}

	logCtx.Debug("Event archive task processed successfully")
	return nil
}
