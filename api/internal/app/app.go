package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/you-humble/amazonmain/api/internal/transport"

	"golang.org/x/sync/errgroup"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()
	mux := http.NewServeMux()
	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(
					di.Router(ctx).MountRoutes(mux),
				),
			),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (a *app) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if e := a.srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", e.Error()))
			return e
		}
		return nil
	})

	g.Go(func() error {
		a.cleanupArchive(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			a.di.Config().ShutdownTimeout,
		)
		defer cancel()

		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", slog.String("error", err.Error()))
			return err
		}
		if archive := a.di.Archive(shutdownCtx); archive != nil {
			if err := archive.Close(shutdownCtx); err != nil {
				slog.Warn("archive close", slog.String("error", err.Error()))
			}
		}

		slog.Info("server gracefully stopped")
		return nil
	})

	return g.Wait()
}

func (a *app) cleanupArchive(ctx context.Context) {
	archive := a.di.Archive(ctx)
	if archive == nil {
		return
	}
	cfg := a.di.Config().Archive

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := archive.CleanupOlderThan(ctx, cfg.Retention); err != nil && ctx.Err() == nil {
				slog.Warn("archive cleanup", slog.String("error", err.Error()))
			}
		}
	}
}
