package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"groupwatch/internal/domain"
)

// 定义任务类型常量
const (
	TypeEventArchive = "event:archive" // 事件归档任务类型
)

// 队列名称
const (
	QueueDefault = "default"
	QueueLow     = "low"
)

// EventArchivePayload 定义了事件归档任务的数据结构。
// 事件以带信封的 JSON 传递，在 Worker 端还原。
type EventArchivePayload struct {
	GroupID string          `json:"groupId"`
	Event   json.RawMessage `json:"event"`
}

// NewEventArchiveTask 创建一个新的事件归档任务。
// ev 必须已经带有服务端时间戳。
func NewEventArchiveTask(groupID string, ev domain.Event) (*asynq.Task, error) {
	encoded, err := domain.EncodeEvent(ev)
	if err != nil {
		return nil, err
	}
	payloadBytes, err := json.Marshal(EventArchivePayload{GroupID: groupID, Event: encoded})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal archive payload: %w", err)
	}
	return asynq.NewTask(TypeEventArchive, payloadBytes, asynq.Queue(QueueLow), asynq.MaxRetry(5)), nil
}

// ParseEventArchivePayload 解析任务负载并还原事件。
func ParseEventArchivePayload(data []byte) (string, domain.Event, error) {
	var payload EventArchivePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal archive payload: %w", err)
	}
	if payload.GroupID == "" {
		return "", nil, fmt.Errorf("archive payload is missing group id")
	}
	ev, err := domain.DecodeEvent(payload.Event)
	if err != nil {
		return "", nil, err
	}
	return payload.GroupID, ev, nil
}
