package domain

import "time"

// ArchivedEvent 是日志事件在关系库中的持久化副本 (由后台任务写入)。
type ArchivedEvent struct {
	ID              uint      `gorm:"primaryKey"`
	GroupID         string    `gorm:"size:36;not null;uniqueIndex:idx_group_ts,priority:1"`
	ServerTimestamp int64     `gorm:"not null;uniqueIndex:idx_group_ts,priority:2"`
	Kind            EventKind `gorm:"size:16;not null"`
	ActorID         string    `gorm:"size:36;index"`
	Payload         string    `gorm:"type:text;not null"` // 事件本体 JSON
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

// NewArchivedEvent 把日志事件转换为归档行。
func NewArchivedEvent(groupID string, ev Event) (ArchivedEvent, error) {
	payload, err := EncodePayload(ev)
	if err != nil {
		return ArchivedEvent{}, err
	}
	return ArchivedEvent{
		GroupID:         groupID,
		ServerTimestamp: ev.Timestamp(),
		Kind:            ev.Kind(),
		ActorID:         ev.Actor(),
		Payload:         string(payload),
	}, nil
}

// ToEvent 还原归档行中的事件。
func (a ArchivedEvent) ToEvent() (Event, error) {
	return Envelope{Kind: a.Kind, ServerTimestamp: a.ServerTimestamp, Payload: []byte(a.Payload)}.Decode()
}
