package session

import (
	"time"

	"github.com/benbjohnson/clock"

	"groupwatch/internal/domain"
)

// Config 控制会话的超时与重试参数。零值字段使用 DefaultConfig 中的值。
type Config struct {
	// PresenceTimeout 之后未刷新的在线记录被读者视为离线。
	PresenceTimeout time.Duration
	// TypingTimeout 之后未刷新的输入记录被视为未输入。
	TypingTimeout time.Duration
	// HeartbeatInterval 是刷新自己在线记录的间隔，应明显小于 PresenceTimeout。
	HeartbeatInterval time.Duration
	// SweepInterval 是重新计算过期状态的间隔。
	SweepInterval time.Duration
	// AppendTimeout 限制单次后台追加的耗时。
	AppendTimeout time.Duration

	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// DefaultConfig 返回默认参数。
func DefaultConfig() Config {
	return Config{
		PresenceTimeout:      60 * time.Second,
		TypingTimeout:        5 * time.Second,
		HeartbeatInterval:    20 * time.Second,
		SweepInterval:        time.Second,
		AppendTimeout:        10 * time.Second,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = d.PresenceTimeout
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = d.TypingTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.AppendTimeout <= 0 {
		c.AppendTimeout = d.AppendTimeout
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = d.RetryInitialInterval
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = d.RetryMaxInterval
	}
	return c
}

// Observer 接收会话的运行指标。实现必须是并发安全的。
type Observer interface {
	SessionOpened(groupID string)
	SessionClosed(groupID string)
	EventAppended(kind domain.EventKind)
	AppendDropped(kind domain.EventKind)
	SubscribeRetried(stream string)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(string) {}
func (nopObserver) SessionClosed(string) {}
func (nopObserver) EventAppended(domain.EventKind) {}
func (nopObserver) AppendDropped(domain.EventKind) {}
func (nopObserver) SubscribeRetried(string) {}

// Option 配置 Coordinator。
type Option func(*Coordinator)

// WithClock 注入时钟 (测试中使用 clock.NewMock())。
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithConfig 设置超时与重试参数。
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg.withDefaults() }
}

// WithObserver 设置指标接收者。
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}
