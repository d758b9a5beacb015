package redisstate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"groupwatch/internal/domain"
	"groupwatch/internal/infra/state"
	"groupwatch/internal/repository"
)

// Table 是按小组划分的成员状态表: 每个小组一个 Hash (field = memberID)，
// 写入后向通知频道发布一次，订阅者收到通知后重新读取整张表。
type Table[R any] struct {
	client *redis.Client
	keys   keys
	name   string
	clock  clock.Clock
	key    func(R) string
	stamp  func(R, int64) R
}

// PresenceTable 实现 repository.PresenceStore。
type PresenceTable = Table[domain.PresenceRecord]

// TypingTable 实现 repository.TypingStore。
type TypingTable = Table[domain.TypingRecord]

// NewPresenceTable 创建 Redis 在线状态表。
func NewPresenceTable(client *redis.Client, keyPrefix string, clk clock.Clock) *PresenceTable {
	return newTable(client, keyPrefix, "presence", clk,
		func(r domain.PresenceRecord) string { return r.MemberID },
		func(r domain.PresenceRecord, ts int64) domain.PresenceRecord { r.LastActive = ts; return r })
}

// NewTypingTable 创建 Redis 输入状态表。
func NewTypingTable(client *redis.Client, keyPrefix string, clk clock.Clock) *TypingTable {
	return newTable(client, keyPrefix, "typing", clk,
		func(r domain.TypingRecord) string { return r.MemberID },
		func(r domain.TypingRecord, ts int64) domain.TypingRecord { r.UpdatedAt = ts; return r })
}

func newTable[R any](client *redis.Client, keyPrefix, name string, clk clock.Clock, key func(R) string, stamp func(R, int64) R) *Table[R] {
	if client == nil {
		panic("redis client cannot be nil for Table")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Table[R]{client: client, keys: newKeys(keyPrefix), name: name, clock: clk, key: key, stamp: stamp}
}

// Put 覆盖成员的记录并通知订阅者。
func (t *Table[R]) Put(ctx context.Context, groupID string, rec R) error {
	rec = t.stamp(rec, t.clock.Now().UnixMilli())
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal %s record: %w", t.name, err)
	}
	hashKey := t.keys.groupTable(groupID, t.name)
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, hashKey, t.key(rec), string(data))
	pipe.Publish(ctx, t.keys.groupTableChannel(groupID, t.name), t.key(rec))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to put %s record for group %s (key: %s): %w", t.name, groupID, hashKey, err)
	}
	return nil
}

// Delete 删除成员的记录。
func (t *Table[R]) Delete(ctx context.Context, groupID, memberID string) error {
	hashKey := t.keys.groupTable(groupID, t.name)
	pipe := t.client.TxPipeline()
	pipe.HDel(ctx, hashKey, memberID)
	pipe.Publish(ctx, t.keys.groupTableChannel(groupID, t.name), memberID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to delete %s record for group %s (key: %s): %w", t.name, groupID, hashKey, err)
	}
	return nil
}

// Snapshot 读取小组的整张表。无法解析的记录被跳过。
func (t *Table[R]) Snapshot(ctx context.Context, groupID string) (map[string]R, error) {
	hashKey := t.keys.groupTable(groupID, t.name)
	raw, err := t.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get %s table for group %s from %s: %w", t.name, groupID, hashKey, err)
	}
	out := make(map[string]R, len(raw))
	for member, data := range raw {
		var rec R
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"group_id": groupID, "member_id": member}).
				Warnf("redis: skipping malformed %s record", t.name)
			continue
		}
		out[member] = rec
	}
	return out, nil
}

// Subscribe 先推送当前整张表，之后每次收到变更通知都推送一次最新的整张表。
func (t *Table[R]) Subscribe(ctx context.Context, groupID string) (repository.Stream[map[string]R], error) {
	channel := t.keys.groupTableChannel(groupID, t.name)
	q, err := subscribe(ctx, t.client, channel,
		func(q *state.Queue[map[string]R], _ *redis.Message) {
			snap, err := t.Snapshot(context.Background(), groupID)
			if err != nil {
				logrus.WithError(err).WithField("channel", channel).Warn("redis: failed to refresh table after notify")
				q.Fail(err)
				return
			}
			q.Push(snap)
		},
		func(ctx context.Context, q *state.Queue[map[string]R]) error {
			snap, err := t.Snapshot(ctx, groupID)
			if err != nil {
				return err
			}
			q.Push(snap)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return q, nil
}

var (
	_ repository.PresenceStore = (*PresenceTable)(nil)
	_ repository.TypingStore   = (*TypingTable)(nil)
)
