// Package memory 提供进程内的日志与状态表实现，用于单节点部署和测试。
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"

	"groupwatch/internal/domain"
	"groupwatch/internal/infra/state"
	"groupwatch/internal/repository"
)

// ErrConnectionLost 是 Disconnect 注入给订阅流的错误。
var ErrConnectionLost = errors.New("memory: connection lost")

type groupLog struct {
	events []domain.Event
	last   int64
}

// EventLog 是 repository.EventLogStore 的内存实现。
type EventLog struct {
	clock clock.Clock

	mu      sync.Mutex
	logs    map[string]*groupLog
	subs    map[string]map[*state.Queue[domain.Event]]struct{}
	failure error
}

// NewEventLog 创建内存日志。clk 为 nil 时使用真实时钟。
func NewEventLog(clk clock.Clock) *EventLog {
	if clk == nil {
		clk = clock.New()
	}
	return &EventLog{
		clock: clk,
		logs:  make(map[string]*groupLog),
		subs:  make(map[string]map[*state.Queue[domain.Event]]struct{}),
	}
}

// Append 分配 max(now, last+1) 作为服务端时间戳并通知所有订阅者。
func (l *EventLog) Append(ctx context.Context, groupID string, ev domain.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failure != nil {
		return 0, l.failure
	}

	gl, ok := l.logs[groupID]
	if !ok {
		gl = &groupLog{}
		l.logs[groupID] = gl
	}
	ts := l.clock.Now().UnixMilli()
	if ts <= gl.last {
		ts = gl.last + 1
	}
	gl.last = ts
	stamped := domain.WithTimestamp(ev, ts)
	gl.events = append(gl.events, stamped)

	for q := range l.subs[groupID] {
		q.Push(stamped)
	}
	return ts, nil
}

// Load 返回时间戳大于 since 的事件。
func (l *EventLog) Load(ctx context.Context, groupID string, since int64) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failure != nil {
		return nil, l.failure
	}
	gl, ok := l.logs[groupID]
	if !ok {
		return []domain.Event{}, nil
	}
	out := make([]domain.Event, 0, len(gl.events))
	for _, ev := range gl.events {
		if ev.Timestamp() > since {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Subscribe 订阅小组此后追加的事件。
func (l *EventLog) Subscribe(ctx context.Context, groupID string) (repository.Stream[domain.Event], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failure != nil {
		return nil, l.failure
	}
	var q *state.Queue[domain.Event]
	q = state.NewQueue[domain.Event](func() {
		l.mu.Lock()
		delete(l.subs[groupID], q)
		l.mu.Unlock()
	})
	if l.subs[groupID] == nil {
		l.subs[groupID] = make(map[*state.Queue[domain.Event]]struct{})
	}
	l.subs[groupID][q] = struct{}{}
	return q, nil
}

// SetFailure 让后续所有调用返回 err (nil 表示恢复)。用于模拟网络故障。
func (l *EventLog) SetFailure(err error) {
	l.mu.Lock()
	l.failure = err
	l.mu.Unlock()
}

// Disconnect 以 ErrConnectionLost 结束小组的全部订阅流。
func (l *EventLog) Disconnect(groupID string) {
	l.mu.Lock()
	queues := make([]*state.Queue[domain.Event], 0, len(l.subs[groupID]))
	for q := range l.subs[groupID] {
		queues = append(queues, q)
	}
	l.mu.Unlock()
	for _, q := range queues {
		q.Fail(ErrConnectionLost)
	}
}

// SubscriberCount 返回小组当前的订阅数。
func (l *EventLog) SubscriberCount(groupID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs[groupID])
}
