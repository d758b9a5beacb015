package redisstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"groupwatch/internal/domain"
	"groupwatch/internal/infra/state"
	"groupwatch/internal/repository"
)

// appendScript 在 Redis 内部原子地分配时间戳、写入有序集合并发布。
// 时间戳取 max(TIME 毫秒, 上一个时间戳 + 1)，保证同一小组内严格递增。
// 信封在脚本里拼接，避免 cjson 把大整数转成浮点。
// TIME 之后还要写入，需要效果复制: Redis 5+ 默认开启，3.2/4.x 上由 replicate_commands 打开。
// 更老的版本不支持，setup.InitRedis 会拒绝连接。
//
// KEYS[1] = 事件有序集合, KEYS[2] = 最后时间戳, KEYS[3] = 发布频道
// ARGV[1] = kind, ARGV[2] = 事件本体 JSON
var appendScript = redis.NewScript(`
if redis.replicate_commands then
  redis.replicate_commands()
end
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local last = tonumber(redis.call('GET', KEYS[2]) or '0')
if now <= last then
  now = last + 1
end
local ts = string.format('%d', now)
redis.call('SET', KEYS[2], ts)
local env = '{"kind":"' .. ARGV[1] .. '","serverTimestamp":' .. ts .. ',"payload":' .. ARGV[2] .. '}'
redis.call('ZADD', KEYS[1], ts, env)
redis.call('PUBLISH', KEYS[3], env)
return ts
`)

// EventLog 是 repository.EventLogStore 的 Redis 实现。
// 每个小组一个有序集合 (score = 服务端时间戳)，另有一个 Pub/Sub 频道用于推送。
type EventLog struct {
	client *redis.Client
	keys   keys
}

// NewEventLog 创建 Redis 事件日志。
func NewEventLog(client *redis.Client, keyPrefix string) *EventLog {
	if client == nil {
		panic("redis client cannot be nil for EventLog")
	}
	return &EventLog{client: client, keys: newKeys(keyPrefix)}
}

// Append 写入事件并返回 Redis 分配的时间戳。
func (l *EventLog) Append(ctx context.Context, groupID string, ev domain.Event) (int64, error) {
	payload, err := domain.EncodePayload(ev)
	if err != nil {
		return 0, err
	}
	res, err := appendScript.Run(ctx, l.client,
		[]string{l.keys.groupEvents(groupID), l.keys.groupLastTimestamp(groupID), l.keys.groupEventsChannel(groupID)},
		string(ev.Kind()), string(payload),
	).Text()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to append %s event for group %s: %w", ev.Kind(), groupID, err)
	}
	ts, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: failed to parse timestamp '%s' for group %s: %w", res, groupID, err)
	}
	return ts, nil
}

// Load 返回时间戳大于 since 的事件。无法解析的条目记录日志后跳过。
func (l *EventLog) Load(ctx context.Context, groupID string, since int64) ([]domain.Event, error) {
	key := l.keys.groupEvents(groupID)
	raws, err := l.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to load events for group %s from %s: %w", groupID, key, err)
	}
	events := make([]domain.Event, 0, len(raws))
	for _, raw := range raws {
		ev, err := domain.DecodeEvent([]byte(raw))
		if err != nil {
			logrus.WithError(err).WithField("group_id", groupID).Warn("redis: skipping undecodable event")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Subscribe 订阅小组频道。连接断开时流以错误结束，调用方负责重新订阅并 Load。
func (l *EventLog) Subscribe(ctx context.Context, groupID string) (repository.Stream[domain.Event], error) {
	channel := l.keys.groupEventsChannel(groupID)
	q, err := subscribe(ctx, l.client, channel, func(q *state.Queue[domain.Event], msg *redis.Message) {
		ev, err := domain.DecodeEvent([]byte(msg.Payload))
		if err != nil {
			logrus.WithError(err).WithField("channel", channel).Warn("redis: dropping undecodable event")
			return
		}
		q.Push(ev)
	}, nil)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// subscribe 建立 Pub/Sub 订阅并启动接收 goroutine。
// onReady 在订阅确认之后调用一次 (用于推送初始快照)。
func subscribe[T any](
	ctx context.Context,
	client *redis.Client,
	channel string,
	onMessage func(q *state.Queue[T], msg *redis.Message),
	onReady func(ctx context.Context, q *state.Queue[T]) error,
) (*state.Queue[T], error) {
	ps := client.Subscribe(ctx, channel)
	// 等待订阅确认，确保之后发布的消息不会丢失
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: failed to subscribe to channel %s: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	q := state.NewQueue[T](func() {
		cancel()
		_ = ps.Close()
	})

	if onReady != nil {
		if err := onReady(ctx, q); err != nil {
			q.Fail(err)
			return nil, err
		}
	}

	go func() {
		for {
			msg, err := ps.Receive(runCtx)
			if err != nil {
				if runCtx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				logrus.WithError(err).WithField("channel", channel).Warn("redis: subscription lost")
				q.Fail(err)
				return
			}
			if m, ok := msg.(*redis.Message); ok {
				onMessage(q, m)
			}
		}
	}()
	return q, nil
}

var _ repository.EventLogStore = (*EventLog)(nil)
