package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"groupwatch/internal/archive"
	httpHandler "groupwatch/internal/handler/http"
	wsHandler "groupwatch/internal/handler/websocket"
	"groupwatch/internal/hub"
	gormpersistence "groupwatch/internal/infra/persistence/gorm"
	"groupwatch/internal/infra/setup"
	"groupwatch/internal/infra/state/memory"
	redisstate "groupwatch/internal/infra/state/redis"
	"groupwatch/internal/metrics"
	"groupwatch/internal/middleware"
	"groupwatch/internal/repository"
	"groupwatch/internal/service"
	"groupwatch/internal/session"
	"groupwatch/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client // STATE_BACKEND=memory 且未开启归档时为 nil
	AsynqClient *asynq.Client // 未开启归档时为 nil
	AsynqServer *worker.WorkerServer
	Coordinator *session.Coordinator
	Hub         *hub.Hub
	HttpServer  *http.Server
}

// stores 是会话使用的三个实时存储
type stores struct {
	events   repository.EventLogStore
	presence repository.PresenceStore
	typing   repository.TypingStore
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	log.WithField("driver", cfg.DBDriver).Info("Database initialized")

	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database migrated")

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to init Redis: %w", err)
		}
		log.Info("Redis client initialized")
	}

	// 4. 初始化 Repositories 和实时存储
	log.Info("Initializing repositories...")
	userRepo := gormpersistence.NewGormUserRepository(db)
	groupRepo := gormpersistence.NewGormGroupRepository(db)
	archiveRepo := gormpersistence.NewGormEventArchiveRepository(db)

	st := newStores(cfg, redisClient)
	log.WithField("backend", cfg.StateBackend).Info("State stores initialized")

	var (
		asynqClient  *asynq.Client
		workerServer *worker.WorkerServer
		archivedLog  *archive.EventLog
	)
	if cfg.ArchiveEnabled {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		asynqClient = asynq.NewClient(redisOpt)
		archivedLog = archive.NewEventLog(st.events, asynqClient, archiveRepo)
		st.events = archivedLog
		workerServer = worker.NewWorkerServer(redisOpt, archiveRepo, cfg.WorkerConcurrency, log)
		log.Info("Event archiving enabled")
	}

	// 5. 初始化 Services 和会话协调器
	log.Info("Initializing services...")
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	groupService := service.NewGroupService(groupRepo)

	m := metrics.New(prometheus.DefaultRegisterer)
	coordinator := session.NewCoordinator(groupRepo, st.events, st.presence, st.typing,
		session.WithConfig(session.Config{
			PresenceTimeout:   cfg.PresenceTimeout,
			TypingTimeout:     cfg.TypingTimeout,
			HeartbeatInterval: cfg.HeartbeatInterval,
		}),
		session.WithObserver(m),
	)
	hubInstance := hub.NewHub(cfg.CommandRate, m)
	log.Info("Services initialized")

	// 6. 初始化 Handlers
	authHandler := httpHandler.NewAuthHandler(authService)
	groupHandler := httpHandler.NewGroupHandler(groupService, authService)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance, authService, coordinator, cfg.CORSAllowedOrigin)

	// 7. 初始化 Gin Engine 和路由
	log.Info("Setting up Gin router...")
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(corsMiddleware(cfg.CORSAllowedOrigin))

	var limiter middleware.Limiter
	if redisClient != nil {
		limiter = redisstate.NewRateLimiter(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow)
	} else {
		limiter = middleware.NewLocalLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	api := router.Group("/api", middleware.RateLimit(limiter))
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.GET("/me", middleware.Auth(cfg.JWTSecret), authHandler.Me)
	}
	groupRoutes := api.Group("/groups", middleware.Auth(cfg.JWTSecret))
	{
		groupRoutes.POST("", groupHandler.CreateGroup)
		groupRoutes.POST("/join", groupHandler.JoinGroup)
		groupRoutes.GET("/:groupId", groupHandler.GetGroup)
		groupRoutes.GET("/:groupId/members", groupHandler.ListMembers)
		if archivedLog != nil {
			groupRoutes.GET("/:groupId/messages", httpHandler.NewHistoryHandler(archivedLog).ListMessages)
		}
	}
	wsRoutes := router.Group("/ws", middleware.Auth(cfg.JWTSecret))
	{
		wsRoutes.GET("/groups/:groupId", websocketHandler.HandleConnection)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Coordinator: coordinator,
		Hub:         hubInstance,
		HttpServer:  httpServer,
	}, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // cfg.LogLevel 已被 LoadConfig 验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)

	// 各包使用 logrus 的标准 logger，保持同样的格式和级别
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	logrus.SetOutput(os.Stdout)

	log.Infof("Logger initialized (Level: %s, Format: %T)", logLevel.String(), log.Formatter)
	return log
}

func newStores(cfg *Config, client *redis.Client) stores {
	clk := clock.New()
	if cfg.StateBackend == StateBackendMemory {
		return stores{
			events:   memory.NewEventLog(clk),
			presence: memory.NewPresenceTable(clk),
			typing:   memory.NewTypingTable(clk),
		}
	}
	return stores{
		events:   redisstate.NewEventLog(client, cfg.KeyPrefix),
		presence: redisstate.NewPresenceTable(client, cfg.KeyPrefix, clk),
		typing:   redisstate.NewTypingTable(client, cfg.KeyPrefix, clk),
	}
}

func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	if a.AsynqServer != nil {
		go a.AsynqServer.Start()
		a.Log.Info("Asynq worker server routine started")
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 1. 停止接受新的 HTTP 请求
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 关闭 WebSocket 连接并离开所有会话 (删除在线记录、发送离开通知)
	a.Hub.Shutdown()
	a.Coordinator.Close(ctx)
	a.Log.Info("All sessions closed.")

	// 3. 关闭 Worker 和 Asynq Client
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		} else {
			a.Log.Info("Asynq client closed.")
		}
	}

	// 4. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	// 5. 关闭数据库连接池
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Log.Errorf("Error closing database connection: %v", err)
		} else {
			a.Log.Info("Database connection closed.")
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next() // 处理请求
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" && c.Query("token") == "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
