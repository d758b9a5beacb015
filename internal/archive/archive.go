// Package archive 给热日志加上一层异步归档: 追加成功后投递 asynq 任务写入关系库，
// 归档用于查询聊天历史。
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"groupwatch/internal/domain"
	"groupwatch/internal/repository"
	"groupwatch/internal/tasks"
)

// ErrArchiveDisabled 表示没有配置归档存储
var ErrArchiveDisabled = errors.New("archive: not configured")

// Enqueuer 是 *asynq.Client 中本包用到的部分。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EventLog 是 repository.EventLogStore 的装饰器。
type EventLog struct {
	repository.EventLogStore
	enqueuer Enqueuer
	archive  repository.EventArchiveRepository
}

var _ repository.EventLogStore = (*EventLog)(nil)

// NewEventLog 包装 inner。archive 为 nil 时 ChatHistory 返回 ErrArchiveDisabled。
func NewEventLog(inner repository.EventLogStore, enqueuer Enqueuer, archive repository.EventArchiveRepository) *EventLog {
	if inner == nil || enqueuer == nil {
		panic("archive.NewEventLog: inner log and enqueuer are required")
	}
	return &EventLog{EventLogStore: inner, enqueuer: enqueuer, archive: archive}
}

// Append 先写热日志，成功后投递归档任务。投递失败只记录日志，不影响追加结果。
func (l *EventLog) Append(ctx context.Context, groupID string, ev domain.Event) (int64, error) {
	ts, err := l.EventLogStore.Append(ctx, groupID, ev)
	if err != nil {
		return 0, err
	}

	logCtx := logrus.WithFields(logrus.Fields{"group_id": groupID, "server_ts": ts, "kind": ev.Kind()})
	task, err := tasks.NewEventArchiveTask(groupID, domain.WithTimestamp(ev, ts))
	if err != nil {
		logCtx.WithError(err).Warn("Failed to build archive task")
		return ts, nil
	}
	if _, err := l.enqueuer.EnqueueContext(ctx, task); err != nil {
		logCtx.WithError(err).Warn("Failed to enqueue archive task")
	}
	return ts, nil
}

// ChatHistory 从归档读取聊天记录。归档由后台任务异步写入，可能落后于热日志，
// 所以这里只返回聊天消息，播放事件永远以热日志为准 (Load 不做回退)。
func (l *EventLog) ChatHistory(ctx context.Context, groupID string, since int64) ([]domain.ChatMessage, error) {
	if l.archive == nil {
		return nil, ErrArchiveDisabled
	}
	rows, err := l.archive.ListSince(ctx, groupID, since)
	if err != nil {
		return nil, fmt.Errorf("list archived events: %w", err)
	}
	out := make([]domain.ChatMessage, 0, len(rows))
	for _, row := range rows {
		if row.Kind != domain.KindChat {
			continue
		}
		ev, err := row.ToEvent()
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"group_id": groupID, "server_ts": row.ServerTimestamp}).
				Warn("Skipping undecodable archived message")
			continue
		}
		if msg, ok := ev.(domain.ChatMessage); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}
