package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pointpay/internal/config"
	"pointpay/internal/gateway"
	"pointpay/internal/handler"
	"pointpay/internal/infrastructure/cache"
	"pointpay/internal/infrastructure/database"
	"pointpay/internal/infrastructure/lock"
	"pointpay/internal/infrastructure/mq"
	"pointpay/internal/job"
	"pointpay/internal/service"
	"pointpay/pkg/idgen"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker-id", 1, "雪花算法 workerID")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *workerID, logger); err != nil {
		logger.Fatal("服务异常退出", zap.Error(err))
	}
}

func newLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(cfg *config.Config, workerID int64, logger *zap.Logger) error {
	// 初始化 ID 生成器
	if err := idgen.Init(workerID); err != nil {
		return err
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(&cfg.Database, logger)
	if err != nil {
		return err
	}

	redisClient, err := cache.NewRedis(ctx, &cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	producer, err := mq.NewKafkaProducer(&cfg.Kafka)
	if err != nil {
		return err
	}
	defer producer.Close()

	lockTTL := time.Duration(cfg.Business.LockTTLSeconds) * time.Second
	locker := lock.NewOrderLocker(redisClient, lockTTL).
		WithRetry(time.Duration(cfg.Business.LockRetryIntervalMs)*time.Millisecond, cfg.Business.LockMaxRetries)
	capturer := gateway.NewSimulator(&cfg.Gateway, logger.Named("gateway"))

	points := service.NewPointService(db, cfg, logger)
	auth := service.NewAuthService(db, cfg, logger)
	settlement := service.NewSettlementService(db, locker, capturer, points, cfg, logger)
	cancelService := service.NewCancelService(db, locker, points, cfg, logger)

	h := handler.NewHandler(handler.Services{
		Orders:     service.NewOrderService(db, cfg, logger),
		Settlement: settlement,
		Checkout:   service.NewCheckoutService(auth, settlement, logger),
		Cancel:     cancelService,
		Points:     points,
		Auth:       auth,
	}, logger)

	// 启动后台任务
	jobs := []interface {
		Start(ctx context.Context)
	}{
		job.NewOutboxSender(db, producer, cfg, logger),
		job.NewPendingOrderExpiryJob(cancelService, cfg, logger),
		job.NewRefundSettleJob(cancelService, cfg, logger),
		job.NewPointExpiryJob(points, cfg, logger),
	}
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j interface{ Start(ctx context.Context) }) {
			defer wg.Done()
			j.Start(ctx)
		}(j)
	}

	// 设置路由
	router := handler.SetupRouter(h, cfg, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("正在关闭服务...", zap.String("signal", sig.String()))
	case err := <-serveErr:
		cancel()
		wg.Wait()
		return errors.Wrap(err, "服务启动失败")
	}

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务关闭异常", zap.Error(err))
	}
	wg.Wait()

	logger.Info("服务已关闭")
	return nil
}
