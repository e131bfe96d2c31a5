package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/you-humble/amazonmain/batcher/internal/client"
	"github.com/you-humble/amazonmain/batcher/internal/infra/config"
	"github.com/you-humble/amazonmain/batcher/internal/infra/events"
	"github.com/you-humble/amazonmain/batcher/internal/infra/source"
	batchstore "github.com/you-humble/amazonmain/batcher/internal/infra/store/batch"
	"github.com/you-humble/amazonmain/batcher/internal/infra/store/result"
	"github.com/you-humble/amazonmain/batcher/internal/queue"
	mio "github.com/you-humble/amazonmain/core/libs/minio"
	natsq "github.com/you-humble/amazonmain/core/libs/nats"
	rediscli "github.com/you-humble/amazonmain/core/libs/redis"
	filestore "github.com/you-humble/amazonmain/core/store/file"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

type ResultFiles interface {
	filestore.FileStore
	Path(filename string) (string, error)
}

type BatchStore interface {
	Save(ctx context.Context, snap queue.Snapshot) error
	Snapshot(ctx context.Context, id string) (queue.Snapshot, bool, error)
	Recent(ctx context.Context, limit int) ([]string, error)
	DeleteOlderThan(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, batchID string, ev queue.Event) error
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	client *client.Client
	files  ResultFiles

	rdb        *redis.Client
	batches    BatchStore
	batchesSet bool

	nc        *nats.Conn
	publisher Publisher
	pubSet    bool

	controller *queue.Controller
}

func newDI(cfg *config.Config) *dependencyInjector {
	return &dependencyInjector{cfg: cfg}
}

func (di *dependencyInjector) Config() *config.Config {
	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		var level slog.Level
		if err := level.UnmarshalText([]byte(di.cfg.LogLevel)); err != nil {
			level = slog.LevelInfo
		}
		di.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) Client() *client.Client {
	if di.client == nil {
		di.client = client.New(di.cfg.ServerURL, client.WithTimeout(di.cfg.RequestTimeout))
	}
	return di.client
}

func (di *dependencyInjector) Results(ctx context.Context) (ResultFiles, error) {
	if di.files != nil {
		return di.files, nil
	}
	cfg := di.cfg.Results

	local, err := filestore.NewLocalStore(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("results local: %w", err)
	}
	di.Logger().Debug("initialized local results", slog.String("base_dir", cfg.BaseDir))

	mcfg := mio.Config{
		Endpoint:        cfg.MinIO.Endpoint,
		AccessKeyID:     cfg.MinIO.AccessKeyID,
		SecretAccessKey: cfg.MinIO.SecretAccessKey,
		UseSSL:          cfg.MinIO.UseSSL,
		Region:          cfg.MinIO.Region,
		Bucket:          cfg.MinIO.Bucket,
		BasePath:        "results",
	}
	var remote filestore.Remote
	if mcfg.Enabled() {
		store, err := filestore.NewMinIOReplica(ctx, mcfg, "image/jpeg")
		if err != nil {
			return nil, fmt.Errorf("results minio: %w", err)
		}
		remote = store
		di.Logger().Info(
			"initialized MinIO results replica",
			slog.String("endpoint", mcfg.Endpoint),
			slog.String("bucket", mcfg.Bucket),
		)
	}

	di.files = filestore.NewAsyncStore(ctx, local, remote, cfg.QueueCapacity, cfg.PoolSize, cfg.MaxRetries)
	return di.files, nil
}

// Batches returns nil when redis is not configured.
func (di *dependencyInjector) Batches(ctx context.Context) (BatchStore, error) {
	if di.batchesSet {
		return di.batches, nil
	}

	cfg := di.cfg.Redis
	if cfg.Addr == "" {
		di.batchesSet = true
		return nil, nil
	}

	rdb, err := rediscli.NewClient(ctx, rediscli.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, err
	}
	di.Logger().Debug("connected to redis", slog.String("addr", cfg.Addr))

	di.rdb = rdb
	di.batches = batchstore.NewRedisBatchStore(rdb, cfg.BatchTTL)
	di.batchesSet = true
	return di.batches, nil
}

// Publisher returns nil when nats is not configured.
func (di *dependencyInjector) Publisher() (Publisher, error) {
	if di.pubSet {
		return di.publisher, nil
	}

	cfg := di.cfg.NATS
	if cfg.URL == "" {
		di.pubSet = true
		return nil, nil
	}

	nc, err := natsq.NewConnect(cfg.URL, natsq.Config{
		Name:          cfg.ClientName,
		MaxReconnects: cfg.MaxReconnects,
	})
	if err != nil {
		return nil, err
	}

	js, err := natsq.NewJetStream(nc, &nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject + ".>"},
		MaxAge:   cfg.MaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	di.Logger().Debug("connected to nats",
		slog.String("url", cfg.URL),
		slog.String("stream", cfg.Stream),
	)

	di.nc = nc
	di.publisher = events.NewPublisher(js, cfg.Subject)
	di.pubSet = true
	return di.publisher, nil
}

// Controller builds the queue controller. Results of this process land under
// runPrefix inside the results directory.
func (di *dependencyInjector) Controller(ctx context.Context, runPrefix string) (*queue.Controller, error) {
	if di.controller != nil {
		return di.controller, nil
	}

	files, err := di.Results(ctx)
	if err != nil {
		return nil, err
	}

	di.controller = queue.NewController(
		source.NewLocalLoader(),
		di.Client(),
		result.New(files, files, runPrefix),
	)
	return di.controller, nil
}

func (di *dependencyInjector) Close(ctx context.Context) error {
	var firstErr error
	if di.files != nil {
		if err := di.files.Close(ctx); err != nil {
			firstErr = fmt.Errorf("close results: %w", err)
		}
	}
	if di.nc != nil {
		if err := di.nc.Drain(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("drain nats: %w", err)
		}
	}
	if di.rdb != nil {
		if err := di.rdb.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close redis: %w", err)
		}
	}
	return firstErr
}
