package setup

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// 事件日志的 Lua 脚本在 TIME 之后写入，依赖效果复制 (redis.replicate_commands)，3.2 起可用。
const (
	minRedisMajor = 3
	minRedisMinor = 2
)

// InitRedis 创建 Redis 客户端，Ping 一次并检查服务端版本。
func InitRedis(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	info, err := client.Info(ctx, "server").Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to read Redis server info: %w", err)
	}
	version, err := checkRedisVersion(info)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"addr": addr, "version": version}).Info("Redis connected")
	return client, nil
}

// checkRedisVersion 从 INFO server 的输出中取出 redis_version 并确认不低于最低版本。
func checkRedisVersion(info string) (string, error) {
	var version string
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "redis_version:"); ok {
			version = v
			break
		}
	}
	if version == "" {
		return "", fmt.Errorf("redis_version not found in server info")
	}
	parts := strings.SplitN(version, ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", fmt.Errorf("unparsable Redis version %q", version)
	}
	minor := 0
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(parts[1]); err != nil {
			return "", fmt.Errorf("unparsable Redis version %q", version)
		}
	}
	if major < minRedisMajor || (major == minRedisMajor && minor < minRedisMinor) {
		return version, fmt.Errorf("redis %s is too old, need %d.%d or newer", version, minRedisMajor, minRedisMinor)
	}
	return version, nil
}
