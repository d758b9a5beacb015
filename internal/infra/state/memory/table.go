package memory

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"

	"groupwatch/internal/domain"
	"groupwatch/internal/infra/state"
	"groupwatch/internal/repository"
)

// Table 是按小组划分、按成员覆盖写入的内存表。
// 每次变化都向订阅者推送整张表的副本。
type Table[R any] struct {
	clock clock.Clock
	key   func(R) string
	stamp func(R, int64) R

	mu      sync.Mutex
	rows    map[string]map[string]R
	subs    map[string]map[*state.Queue[map[string]R]]struct{}
	failure error
}

// PresenceTable 实现 repository.PresenceStore。
type PresenceTable = Table[domain.PresenceRecord]

// TypingTable 实现 repository.TypingStore。
type TypingTable = Table[domain.TypingRecord]

// NewPresenceTable 创建内存在线状态表。
func NewPresenceTable(clk clock.Clock) *PresenceTable {
	return newTable(clk,
		func(r domain.PresenceRecord) string { return r.MemberID },
		func(r domain.PresenceRecord, ts int64) domain.PresenceRecord { r.LastActive = ts; return r })
}

// NewTypingTable 创建内存输入状态表。
func NewTypingTable(clk clock.Clock) *TypingTable {
	return newTable(clk,
		func(r domain.TypingRecord) string { return r.MemberID },
		func(r domain.TypingRecord, ts int64) domain.TypingRecord { r.UpdatedAt = ts; return r })
}

func newTable[R any](clk clock.Clock, key func(R) string, stamp func(R, int64) R) *Table[R] {
	if clk == nil {
		clk = clock.New()
	}
	return &Table[R]{
		clock: clk,
		key:   key,
		stamp: stamp,
		rows:  make(map[string]map[string]R),
		subs:  make(map[string]map[*state.Queue[map[string]R]]struct{}),
	}
}

// Put 覆盖成员的记录并用存储时钟打上时间戳。
func (t *Table[R]) Put(ctx context.Context, groupID string, rec R) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failure != nil {
		return t.failure
	}
	if t.rows[groupID] == nil {
		t.rows[groupID] = make(map[string]R)
	}
	t.rows[groupID][t.key(rec)] = t.stamp(rec, t.clock.Now().UnixMilli())
	t.broadcastLocked(groupID)
	return nil
}

// Delete 删除成员的记录。
func (t *Table[R]) Delete(ctx context.Context, groupID, memberID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failure != nil {
		return t.failure
	}
	if _, ok := t.rows[groupID][memberID]; !ok {
		return nil
	}
	delete(t.rows[groupID], memberID)
	t.broadcastLocked(groupID)
	return nil
}

// Subscribe 立即推送当前整张表，之后每次变化推送一次。
func (t *Table[R]) Subscribe(ctx context.Context, groupID string) (repository.Stream[map[string]R], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failure != nil {
		return nil, t.failure
	}
	var q *state.Queue[map[string]R]
	q = state.NewQueue[map[string]R](func() {
		t.mu.Lock()
		delete(t.subs[groupID], q)
		t.mu.Unlock()
	})
	if t.subs[groupID] == nil {
		t.subs[groupID] = make(map[*state.Queue[map[string]R]]struct{})
	}
	t.subs[groupID][q] = struct{}{}
	q.Push(t.snapshotLocked(groupID))
	return q, nil
}

// Get 返回成员的记录 (测试辅助)。
func (t *Table[R]) Get(groupID, memberID string) (R, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[groupID][memberID]
	return r, ok
}

// SetFailure 让后续所有调用返回 err (nil 表示恢复)。
func (t *Table[R]) SetFailure(err error) {
	t.mu.Lock()
	t.failure = err
	t.mu.Unlock()
}

// Disconnect 以 ErrConnectionLost 结束小组的全部订阅流。
func (t *Table[R]) Disconnect(groupID string) {
	t.mu.Lock()
	queues := make([]*state.Queue[map[string]R], 0, len(t.subs[groupID]))
	for q := range t.subs[groupID] {
		queues = append(queues, q)
	}
	t.mu.Unlock()
	for _, q := range queues {
		q.Fail(ErrConnectionLost)
	}
}

func (t *Table[R]) snapshotLocked(groupID string) map[string]R {
	snap := make(map[string]R, len(t.rows[groupID]))
	for k, v := range t.rows[groupID] {
		snap[k] = v
	}
	return snap
}

func (t *Table[R]) broadcastLocked(groupID string) {
	if len(t.subs[groupID]) == 0 {
		return
	}
	snap := t.snapshotLocked(groupID)
	for q := range t.subs[groupID] {
		q.Push(snap)
	}
}

var (
	_ repository.EventLogStore = (*EventLog)(nil)
	_ repository.PresenceStore = (*PresenceTable)(nil)
	_ repository.TypingStore   = (*TypingTable)(nil)
)
