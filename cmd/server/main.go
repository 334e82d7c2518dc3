package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/ezpark/internal/api/handlers"
	"github.com/langchou/ezpark/internal/api/middleware"
	"github.com/langchou/ezpark/internal/config"
	"github.com/langchou/ezpark/internal/events"
	"github.com/langchou/ezpark/internal/lock"
	"github.com/langchou/ezpark/internal/occupancy"
	"github.com/langchou/ezpark/internal/repository"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting EZpark", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	spotRepo := repository.NewSpotRepository(db.Pool)
	sessionRepo := repository.NewSessionRepository(db.Pool)
	historyRepo := repository.NewHistoryRepository(db.Pool)
	catalogRepo := repository.NewCatalogRepository(db.Pool)
	reportRepo := repository.NewReportRepository(db.Pool)

	store := repository.NewStore(db.Pool, repository.BreakerConfig{
		Failures: cfg.BreakerFailures,
		Timeout:  cfg.BreakerTimeout,
	}, logger)

	// 用户锁（未配置 Redis 时仅依赖数据库唯一约束）
	var locker occupancy.OccupantLocker = lock.NopLocker{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect redis", zap.Error(err))
		}
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait, logger)
		logger.Info("Occupant lock enabled", zap.String("redis", cfg.RedisAddr))
	}

	// 事件总线与变更缓冲
	bus := events.NewBus(logger)
	defer bus.Close()

	changes, err := bus.Subscribe(ctx)
	if err != nil {
		logger.Fatal("Failed to subscribe state changes", zap.Error(err))
	}
	feed := events.NewFeed(cfg.FeedSize)
	go feed.Run(ctx, changes)

	// 占用管理
	manager := occupancy.NewManager(store.Stores(), store, logger,
		occupancy.WithLocker(locker),
		occupancy.WithPublisher(bus),
		occupancy.WithTimeout(cfg.StoreTimeout),
	)
	aggregator := occupancy.NewAggregator(spotRepo, catalogRepo, cfg.StoreTimeout)

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, handlers.Deps{
		Occupancy:    manager,
		Availability: aggregator,
		Spots:        spotRepo,
		Sessions:     sessionRepo,
		History:      historyRepo,
		Catalog:      catalogRepo,
		Reports:      reportRepo,
		Changes:      feed,
		DB:           db,
	})

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	// 注册路由
	handler.RegisterRoutes(router, middleware.Auth(cfg.JWTSecret))

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	cancel()
	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}
