package repository

import (
	"context"

	"groupwatch/internal/domain"
)

// EventLogStore 是按小组划分的只追加日志 (播放事件和聊天消息)。
//
// 同一小组内 Append 分配的服务端时间戳严格递增; 订阅流按时间戳非递减顺序投递。
type EventLogStore interface {
	// Append 写入事件并返回分配的服务端时间戳 (毫秒)。
	// 事件自带的时间戳会被忽略。
	Append(ctx context.Context, groupID string, ev domain.Event) (int64, error)

	// Load 返回时间戳大于 since 的全部事件，按时间戳升序。since 为 0 表示完整日志。
	Load(ctx context.Context, groupID string, since int64) ([]domain.Event, error)

	// Subscribe 订阅此后追加的事件。通常先 Subscribe 再 Load，按时间戳去重。
	Subscribe(ctx context.Context, groupID string) (Stream[domain.Event], error)
}

// PresenceStore 是按小组划分的 memberID -> PresenceRecord 表。
// 每个成员只写自己的键，因此没有写写竞争。
type PresenceStore interface {
	// Put 覆盖成员的记录，LastActive 由存储填写。
	Put(ctx context.Context, groupID string, rec domain.PresenceRecord) error
	// Delete 删除成员的记录 (主动离开)。记录不存在时不是错误。
	Delete(ctx context.Context, groupID, memberID string) error
	// Subscribe 先投递当前完整表，之后每次变化再投递一次完整表。
	Subscribe(ctx context.Context, groupID string) (Stream[map[string]domain.PresenceRecord], error)
}

// TypingStore 与 PresenceStore 语义相同，保存输入状态。
type TypingStore interface {
	Put(ctx context.Context, groupID string, rec domain.TypingRecord) error
	Delete(ctx context.Context, groupID, memberID string) error
	Subscribe(ctx context.Context, groupID string) (Stream[map[string]domain.TypingRecord], error)
}
