// Package redisstate 是实时状态 (事件日志、在线状态、输入状态) 的 Redis 实现。
package redisstate

import "fmt"

// DefaultKeyPrefix 是未指定前缀时使用的 key 前缀 (gw = group watch)。
const DefaultKeyPrefix = "gw:"

type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return keys{prefix: prefix}
}

// --- Key Generation Helpers ---
func (k keys) groupEvents(groupID string) string {
	return fmt.Sprintf("%sgroup:%s:events", k.prefix, groupID)
}

func (k keys) groupLastTimestamp(groupID string) string {
	return fmt.Sprintf("%sgroup:%s:last_ts", k.prefix, groupID)
}

func (k keys) groupEventsChannel(groupID string) string {
	return fmt.Sprintf("%sgroup:%s:events:pubsub", k.prefix, groupID)
}

func (k keys) groupTable(groupID, table string) string {
	return fmt.Sprintf("%sgroup:%s:%s", k.prefix, groupID, table)
}

func (k keys) groupTableChannel(groupID, table string) string {
	return fmt.Sprintf("%sgroup:%s:%s:pubsub", k.prefix, groupID, table)
}

func (k keys) rateLimit(key string) string {
	return fmt.Sprintf("%sratelimit:%s", k.prefix, key)
}
