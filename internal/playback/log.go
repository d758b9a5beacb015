package playback

import (
	"sort"

	"groupwatch/internal/domain"
)

// Log 保存一个小组已观察到的播放事件并缓存折叠结果。
// 事件通常按时间戳递增到达，此时只需增量应用; 迟到的事件会触发一次完整重算。
// Log 不是并发安全的，由持有它的会话循环独占使用。
type Log struct {
	events []domain.PlaybackEvent
	state  domain.PlaybackState
}

// NewLog 用已有事件初始化。
func NewLog(events []domain.PlaybackEvent) *Log {
	l := &Log{}
	l.Reset(events)
	return l
}

// Reset 丢弃全部事件并用 events 重建。
func (l *Log) Reset(events []domain.PlaybackEvent) {
	l.events = Sort(events)
	l.state = Fold(domain.PlaybackState{}, l.events)
}

// Add 插入一个事件并返回新的状态。重复事件 (时间戳、成员、动作 ID 都相同) 被忽略。
func (l *Log) Add(ev domain.PlaybackEvent) domain.PlaybackState {
	n := len(l.events)
	idx := sort.Search(n, func(i int) bool { return !Less(l.events[i], ev) })
	if idx < n && sameEvent(l.events[idx], ev) {
		return l.state
	}
	if idx == n {
		l.events = append(l.events, ev)
		l.state = Apply(l.state, ev)
		return l.state
	}
	l.events = append(l.events, domain.PlaybackEvent{})
	copy(l.events[idx+1:], l.events[idx:])
	l.events[idx] = ev
	l.state = Fold(domain.PlaybackState{}, l.events)
	return l.state
}

// State 返回当前折叠结果。
func (l *Log) State() domain.PlaybackState { return l.state }

// Len 返回已记录的事件数。
func (l *Log) Len() int { return len(l.events) }

func sameEvent(a, b domain.PlaybackEvent) bool {
	return a.ServerTimestamp == b.ServerTimestamp && a.ActorID == b.ActorID &&
		a.ClientActionID == b.ClientActionID && a.Type == b.Type
}
