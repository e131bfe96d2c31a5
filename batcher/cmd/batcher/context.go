package main

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/you-humble/amazonmain/batcher/internal/app"
	"github.com/you-humble/amazonmain/batcher/internal/infra/config"
	"github.com/you-humble/amazonmain/batcher/internal/queue"
)

const defaultCfgPath = "./batcher/configs/local.yaml"

type batchApp interface {
	Run(ctx context.Context, refs []string, opts app.RunOptions) (app.Report, error)
	Pause()
	Resume()
	Cancel()
	Status(ctx context.Context, id string) (queue.Snapshot, bool, error)
	Recent(ctx context.Context, limit int) ([]queue.Snapshot, error)
	Prune(ctx context.Context, maxAge time.Duration) (int, error)
	Health(ctx context.Context) error
	Close(ctx context.Context) error
}

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig resolves --config, then CONFIG_PATH, then the local default.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			path = os.Getenv("CONFIG_PATH")
		}
		if path == "" {
			path = defaultCfgPath
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// withApp hands fn a wired app and closes it afterwards.
func (c *commandContext) withApp(ctx context.Context, fn func(a batchApp) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	a := app.New(cfg)
	defer func() {
		_ = a.Close(context.WithoutCancel(ctx))
	}()
	return fn(a)
}
