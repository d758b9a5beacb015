package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"groupwatch/internal/infra/setup"
)

// 状态存储后端
const (
	StateBackendRedis  = "redis"
	StateBackendMemory = "memory"
)

// Config 结构体用于存储从 YAML 文件和环境变量加载的配置。
// 环境变量优先于文件。
type Config struct {
	DBDriver   string `yaml:"db_driver"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	SQLitePath string `yaml:"sqlite_path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"redis_key_prefix"`
	StateBackend  string `yaml:"state_backend"`

	JWTSecret      string `yaml:"jwt_secret"`
	JWTExpiryHours int    `yaml:"jwt_expiry_hours"`

	ServerPort        string        `yaml:"server_port"`
	LogLevel          string        `yaml:"log_level"`
	AppEnv            string        `yaml:"app_env"` // development/production
	RateLimitMax      int           `yaml:"rate_limit_max"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	CORSAllowedOrigin string        `yaml:"cors_allowed_origin"`

	PresenceTimeout   time.Duration `yaml:"presence_timeout"`
	TypingTimeout     time.Duration `yaml:"typing_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	CommandRate       float64       `yaml:"command_rate"` // 每个连接每秒命令数

	ArchiveEnabled    bool `yaml:"archive_enabled"`
	WorkerConcurrency int  `yaml:"worker_concurrency"`
}

// DBConfig 返回数据库连接配置
func (c *Config) DBConfig() setup.DBConfig {
	return setup.DBConfig{
		Driver:   c.DBDriver,
		User:     c.DBUser,
		Password: c.DBPassword,
		Host:     c.DBHost,
		Port:     c.DBPort,
		Name:     c.DBName,
		Path:     c.SQLitePath,
	}
}

// NeedsRedis 报告当前配置是否依赖 Redis
func (c *Config) NeedsRedis() bool {
	return c.StateBackend == StateBackendRedis || c.ArchiveEnabled
}

func defaultConfig() *Config {
	return &Config{
		DBDriver:          setup.DriverMySQL,
		SQLitePath:        "groupwatch.db",
		KeyPrefix:         "gw:",
		StateBackend:      StateBackendRedis,
		JWTExpiryHours:    24,
		ServerPort:        "8080",
		LogLevel:          "info",
		AppEnv:            "development",
		RateLimitMax:      100,
		RateLimitWindow:   time.Second,
		CORSAllowedOrigin: "http://localhost:3000",
		PresenceTimeout:   60 * time.Second,
		TypingTimeout:     5 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		CommandRate:       20,
		WorkerConcurrency: 4,
	}
}

// LoadConfig 加载配置: 默认值 -> CONFIG_FILE 指定的 YAML -> 环境变量 (含 .env)。
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load() // 忽略错误，允许只使用环境变量

	cfg := defaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envString("DB_DRIVER", &cfg.DBDriver)
	envString("DB_USER", &cfg.DBUser)
	envString("DB_PASSWORD", &cfg.DBPassword)
	envString("DB_HOST", &cfg.DBHost)
	envString("DB_PORT", &cfg.DBPort)
	envString("DB_NAME", &cfg.DBName)
	envString("SQLITE_PATH", &cfg.SQLitePath)
	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)
	envString("REDIS_KEY_PREFIX", &cfg.KeyPrefix)
	envString("STATE_BACKEND", &cfg.StateBackend)
	envString("JWT_SECRET", &cfg.JWTSecret)
	envString("SERVER_PORT", &cfg.ServerPort)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("APP_ENV", &cfg.AppEnv)
	envString("CORS_ALLOWED_ORIGIN", &cfg.CORSAllowedOrigin)

	parsers := []func() error{
		func() error { return envInt("REDIS_DB", &cfg.RedisDB) },
		func() error { return envInt("JWT_EXPIRY_HOURS", &cfg.JWTExpiryHours) },
		func() error { return envInt("RATE_LIMIT_MAX", &cfg.RateLimitMax) },
		func() error { return envInt("WORKER_CONCURRENCY", &cfg.WorkerConcurrency) },
		func() error { return envDuration("RATE_LIMIT_WINDOW", &cfg.RateLimitWindow) },
		func() error { return envDuration("PRESENCE_TIMEOUT", &cfg.PresenceTimeout) },
		func() error { return envDuration("TYPING_TIMEOUT", &cfg.TypingTimeout) },
		func() error { return envDuration("HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval) },
		func() error { return envFloat("COMMAND_RATE", &cfg.CommandRate) },
		func() error { return envBool("ARCHIVE_ENABLED", &cfg.ArchiveEnabled) },
	}
	for _, parse := range parsers {
		if err := parse(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validate() error {
	c.StateBackend = strings.ToLower(strings.TrimSpace(c.StateBackend))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))

	if c.JWTSecret == "" {
		return fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	switch c.StateBackend {
	case StateBackendRedis, StateBackendMemory:
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q (want redis or memory)", c.StateBackend)
	}
	switch c.DBDriver {
	case setup.DriverMySQL, setup.DriverSQLite:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q (want mysql or sqlite)", c.DBDriver)
	}
	if c.NeedsRedis() && c.RedisAddr == "" {
		return fmt.Errorf("environment variable REDIS_ADDR must be set when STATE_BACKEND=redis or ARCHIVE_ENABLED=true")
	}
	if c.HeartbeatInterval >= c.PresenceTimeout {
		return fmt.Errorf("HEARTBEAT_INTERVAL (%s) must be shorter than PRESENCE_TIMEOUT (%s)", c.HeartbeatInterval, c.PresenceTimeout)
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", c.LogLevel)
		c.LogLevel = "info"
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}
