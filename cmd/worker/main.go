package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgeflow/internal/common/pubsub"
	"judgeflow/internal/common/queue"
	"judgeflow/internal/common/redisconn"
	"judgeflow/internal/judge/format"
	"judgeflow/internal/judge/sandbox"
	"judgeflow/internal/judge/worker"
	"judgeflow/internal/status"
	"judgeflow/pkg/utils/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/worker.yaml"

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	redisClient, err := redisconn.NewClient(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisClient.Close()
	}()

	var q queue.Queue
	switch appCfg.Queue.Backend {
	case "kafka":
		q, err = queue.NewKafkaQueue(appCfg.Queue.Kafka)
	default:
		q, err = queue.NewRedisQueue(redisClient, appCfg.Queue.Redis)
	}
	if err != nil {
		logger.Error(context.Background(), "init queue failed", zap.Error(err))
		return
	}
	defer func() {
		_ = q.Close()
	}()

	broker, err := pubsub.NewRedisBroker(redisClient)
	if err != nil {
		logger.Error(context.Background(), "init result broker failed", zap.Error(err))
		return
	}
	defer func() {
		_ = broker.Close()
	}()

	sandboxClient, err := sandbox.NewClient(appCfg.Sandbox)
	if err != nil {
		logger.Error(context.Background(), "init sandbox client failed", zap.Error(err))
		return
	}

	statusRepo, err := status.NewRepository(redisClient, appCfg.StatusTTL)
	if err != nil {
		logger.Error(context.Background(), "init status repository failed", zap.Error(err))
		return
	}

	pool, err := worker.NewPool(worker.Config{
		Queue:          q,
		Publisher:      broker,
		Executor:       sandboxClient,
		Formatter:      format.New(appCfg.Worker.VisibleCount),
		Statuses:       statusRepo,
		PoolSize:       appCfg.Worker.PoolSize,
		PublishTimeout: appCfg.Worker.PublishTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init worker pool failed", zap.Error(err))
		return
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(runCtx, "worker started",
		zap.String("queue_backend", appCfg.Queue.Backend),
		zap.Int("pool_size", appCfg.Worker.PoolSize),
		zap.String("sandbox", appCfg.Sandbox.BaseURL))

	done := make(chan error, 1)
	go func() {
		done <- pool.Run(runCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(context.Background(), "worker pool stopped", zap.Error(err))
		}
	case <-runCtx.Done():
		logger.Info(context.Background(), "shutdown signal received, draining in-flight jobs")
		select {
		case <-done:
		case <-time.After(defaultShutdownTimeout):
			logger.Warn(context.Background(), "drain timed out, exiting")
		}
	}
}
