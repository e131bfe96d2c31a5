package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/you-humble/amazonmain/api/internal/domain"
	"github.com/you-humble/amazonmain/api/internal/finishing"
	"github.com/you-humble/amazonmain/api/internal/infra/config"
	"github.com/you-humble/amazonmain/api/internal/infra/genai"
	"github.com/you-humble/amazonmain/api/internal/infra/metrics"
	"github.com/you-humble/amazonmain/api/internal/transport"
	"github.com/you-humble/amazonmain/api/internal/usecase"
	mio "github.com/you-humble/amazonmain/core/libs/minio"
	filestore "github.com/you-humble/amazonmain/core/store/file"
)

const defaultCfgPath = "./api/configs/local.yaml"

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	archive     filestore.FileStore
	archiveInit bool

	generator usecase.Generator

	usecase transport.Usecase
	handler transport.Handler
	router  Router
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		path := os.Getenv("CONFIG_PATH")
		if path == "" {
			path = defaultCfgPath
		}
		di.cfg = config.MustLoad(path)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

// Archive returns nil when archiving is disabled in the config.
func (di *dependencyInjector) Archive(ctx context.Context) filestore.FileStore {
	if di.archiveInit {
		return di.archive
	}
	di.archiveInit = true

	cfg := di.Config().Archive
	if !cfg.Enabled() {
		di.Logger().Info("archive disabled")
		return nil
	}

	local, err := filestore.NewLocalStore(cfg.BaseDir)
	if err != nil {
		log.Fatalf("Archive local: %+v", err)
	}
	di.Logger().Info("initialized local archive", slog.String("base_dir", cfg.BaseDir))

	mcfg := mio.Config{
		Endpoint:        cfg.MinIO.Endpoint,
		AccessKeyID:     cfg.MinIO.AccessKeyID,
		SecretAccessKey: cfg.MinIO.SecretAccessKey,
		UseSSL:          cfg.MinIO.UseSSL,
		Region:          cfg.MinIO.Region,
		Bucket:          cfg.MinIO.Bucket,
		BasePath:        "archive",
	}
	var remote filestore.Remote
	if mcfg.Enabled() {
		store, err := filestore.NewMinIOReplica(ctx, mcfg, domain.ResultContentType)
		if err != nil {
			log.Fatalf("Archive minio: %+v", err)
		}
		remote = store
		di.Logger().Info(
			"initialized MinIO archive replica",
			slog.String("endpoint", mcfg.Endpoint),
			slog.String("bucket", mcfg.Bucket),
		)
	}

	di.archive = filestore.NewAsyncStore(ctx, local, remote, cfg.QueueCapacity, cfg.PoolSize, cfg.MaxRetries)
	return di.archive
}

func (di *dependencyInjector) Generator() usecase.Generator {
	if di.generator == nil {
		cfg := di.Config().Gemini
		client := genai.NewClient(genai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
		if !client.Configured() {
			di.Logger().Warn("gemini credentials missing; requests will fail until configured")
		}
		di.generator = client
	}
	return di.generator
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		cfg := di.Config()
		opts := finishing.DefaultOptions()
		opts.WhitenThreshold = cfg.WhitenThreshold

		var archive usecase.FileStore
		if a := di.Archive(ctx); a != nil {
			archive = a
		}

		di.usecase = usecase.New(
			di.Generator(),
			archive,
			opts,
			cfg.MaxParallel,
			cfg.GenerationTimeout,
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		di.handler = transport.NewHandler(di.Config().MaxUploadBytesMb, di.Usecase(ctx))
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Handler(ctx), metrics.Handler())
	}

	return di.router
}
