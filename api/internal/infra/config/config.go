package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvGeminiAPIKey  = "AI_INTEGRATIONS_GEMINI_API_KEY"
	EnvGeminiBaseURL = "AI_INTEGRATIONS_GEMINI_BASE_URL"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MaxUploadBytesMb  int64         `yaml:"max_upload_mb"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	MaxParallel       int           `yaml:"max_parallel"`
	WhitenThreshold   uint8         `yaml:"whiten_threshold"`

	Gemini  Gemini  `yaml:"gemini"`
	Archive Archive `yaml:"archive"`
}

type Gemini struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Archive keeps a copy of every finished image. Disabled when BaseDir is empty.
type Archive struct {
	BaseDir         string        `yaml:"base_dir"`
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	PoolSize        int           `yaml:"pool_size"`
	MaxRetries      int           `yaml:"max_retries"`
	MinIO           MinIO         `yaml:"minio"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
}

func (a Archive) Enabled() bool { return a.BaseDir != "" }

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

	applyEnv(&cfg)

	if cfg.Addr == "" {
		return nil, errors.New("addr is empty")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytesMb <= 0 {
		cfg.MaxUploadBytesMb = 10
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 110 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.WhitenThreshold == 0 {
		cfg.WhitenThreshold = 250
	}

	if cfg.Archive.Enabled() {
		if cfg.Archive.Retention <= 0 {
			cfg.Archive.Retention = 24 * time.Hour
		}
		if cfg.Archive.CleanupInterval <= 0 {
			cfg.Archive.CleanupInterval = time.Hour
		}
		if cfg.Archive.QueueCapacity <= 0 {
			cfg.Archive.QueueCapacity = 64
		}
		if cfg.Archive.PoolSize <= 0 {
			cfg.Archive.PoolSize = 2
		}
		if cfg.Archive.MaxRetries < 0 {
			return nil, fmt.Errorf("archive.max_retries must not be negative, got %d", cfg.Archive.MaxRetries)
		}
	}

	return &cfg, nil
}

// applyEnv lets the AI credentials come from the environment. Missing
// credentials are not an error here; requests fail with a configuration error.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvGeminiAPIKey); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv(EnvGeminiBaseURL); v != "" {
		cfg.Gemini.BaseURL = v
	}
}
