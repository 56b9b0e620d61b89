package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	commonmw "judgeflow/internal/common/http/middleware"
	"judgeflow/internal/common/pubsub"
	"judgeflow/internal/common/queue"
	"judgeflow/internal/common/redisconn"
	"judgeflow/internal/gateway"
	"judgeflow/internal/status"
	"judgeflow/internal/submit/controller"
	"judgeflow/internal/submit/service"
	"judgeflow/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/api.yaml"

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

	var producer queue.Queue
	switch appCfg.Queue.Backend {
	case "kafka":
		producer, err = queue.NewKafkaQueue(appCfg.Queue.Kafka)
	default:
		producer, err = queue.NewRedisQueue(redisClient, appCfg.Queue.Redis)
	}
	if err != nil {
		logger.Error(context.Background(), "init queue failed", zap.Error(err))
		return
	}
	defer func() {
		_ = producer.Close()
	}()

	broker, err := pubsub.NewRedisBroker(redisClient)
	if err != nil {
		logger.Error(context.Background(), "init result broker failed", zap.Error(err))
		return
	}
	defer func() {
		_ = broker.Close()
	}()

	statusRepo, err := status.NewRepository(redisClient, appCfg.StatusTTL)
	if err != nil {
		logger.Error(context.Background(), "init status repository failed", zap.Error(err))
		return
	}

	hub := gateway.NewHub()
	forwarder := gateway.NewForwarder(broker, hub)

	forwardCtx, stopForwarder := context.WithCancel(context.Background())
	defer stopForwarder()
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		if err := forwarder.Run(forwardCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(forwardCtx, "result forwarder stopped", zap.Error(err))
		}
	}()

	submitService := service.NewSubmitService(producer)
	httpServer := buildHTTPServer(appCfg.Server, submitService, statusRepo, hub, producer)

	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "api server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("queue_backend", appCfg.Queue.Backend))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	stopForwarder()
	<-forwarderDone
}

func buildHTTPServer(cfg ServerConfig, submitService *service.SubmitService, statuses *status.Repository, hub *gateway.Hub, q queue.Queue) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	submitController := controller.NewSubmitController(submitService, statuses)
	router.POST("/api/submit", submitController.Create)
	router.GET("/api/status/:token", submitController.GetStatus)

	wsHandler := gateway.NewWSHandler(hub)
	router.GET("/ws", wsHandler.Serve)

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := q.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
