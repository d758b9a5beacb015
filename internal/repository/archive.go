package repository

import (
	"context"

	"groupwatch/internal/domain"
)

// EventArchiveRepository 把日志事件持久化到关系库。
type EventArchiveRepository interface {
	// SaveBatch 批量保存，已存在的 (group_id, server_timestamp) 会被跳过，因此可以安全重试。
	SaveBatch(ctx context.Context, events []domain.ArchivedEvent) error

	// ListSince 返回小组中时间戳大于 since 的归档事件，按时间戳升序。
	ListSince(ctx context.Context, groupID string, since int64) ([]domain.ArchivedEvent, error)
}
