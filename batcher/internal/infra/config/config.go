package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerURL      string        `yaml:"server_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`

	Results Results `yaml:"results"`
	Redis   Redis   `yaml:"redis"`
	NATS    NATS    `yaml:"nats"`
}

type Results struct {
	BaseDir       string `yaml:"base_dir"`
	QueueCapacity int    `yaml:"queue_capacity"`
	PoolSize      int    `yaml:"pool_size"`
	MaxRetries    int    `yaml:"max_retries"`
	MinIO         MinIO  `yaml:"minio"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
}

// Redis mirrors batch snapshots for `batcher status`. Empty Addr disables it.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	BatchTTL time.Duration `yaml:"batch_ttl"`
}

// NATS receives batch progress events. Empty URL disables it.
type NATS struct {
	URL           string        `yaml:"url"`
	ClientName    string        `yaml:"client_name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	Stream        string        `yaml:"stream"`
	Subject       string        `yaml:"subject"`
	MaxAge        time.Duration `yaml:"max_age"`
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal yaml: %w", err)
	}

	if v := os.Getenv("BATCHER_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}

	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	if cfg.ServerURL == "" {
		return nil, errors.New("server_url is empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.Results.BaseDir == "" {
		return nil, errors.New("results.base_dir is empty")
	}
	if cfg.Results.QueueCapacity <= 0 {
		cfg.Results.QueueCapacity = 32
	}
	if cfg.Results.PoolSize <= 0 {
		cfg.Results.PoolSize = 1
	}
	if cfg.Redis.BatchTTL <= 0 {
		cfg.Redis.BatchTTL = 7 * 24 * time.Hour
	}
	if cfg.NATS.URL != "" {
		if cfg.NATS.Subject == "" {
			return nil, errors.New("nats.subject is empty")
		}
		if cfg.NATS.Stream == "" {
			cfg.NATS.Stream = "AMAZON_MAIN_BATCHES"
		}
		if cfg.NATS.ClientName == "" {
			cfg.NATS.ClientName = "batcher"
		}
		if cfg.NATS.MaxAge <= 0 {
			cfg.NATS.MaxAge = 24 * time.Hour
		}
	}

	return &cfg, nil
}
