package main

import (
	"fmt"
	"os"
	"time"

	"judgeflow/internal/common/queue"
	"judgeflow/internal/common/redisconn"
	"judgeflow/internal/judge/sandbox"
	"judgeflow/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const defaultShutdownTimeout = 30 * time.Second

// QueueConfig selects and configures the queue backend.
type QueueConfig struct {
	// Backend is "redis" or "kafka".
	Backend string            `yaml:"backend"`
	Redis   queue.RedisConfig `yaml:"redis"`
	Kafka   queue.KafkaConfig `yaml:"kafka"`
}

// WorkerConfig holds pool settings.
type WorkerConfig struct {
	PoolSize       int           `yaml:"poolSize"`
	PublishTimeout time.Duration `yaml:"publishTimeout"`
	VisibleCount   int           `yaml:"visibleCount"`
}

// AppConfig holds worker process configuration.
type AppConfig struct {
	Logger    logger.Config    `yaml:"logger"`
	Redis     redisconn.Config `yaml:"redis"`
	Queue     QueueConfig      `yaml:"queue"`
	Sandbox   sandbox.Config   `yaml:"sandbox"`
	Worker    WorkerConfig     `yaml:"worker"`
	StatusTTL time.Duration    `yaml:"statusTTL"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "redis"
	}
	if cfg.Worker.PoolSize == 0 {
		cfg.Worker.PoolSize = 4
	}
	applyEnvOverrides(&cfg)
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Sandbox.BaseURL == "" {
		return nil, fmt.Errorf("sandbox base url is required")
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment env (or a local .env) override the
// connection endpoints without editing the config file.
func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SANDBOX_URL"); v != "" {
		cfg.Sandbox.BaseURL = v
	}
}
