package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/you-humble/amazonmain/api/internal/domain"
	"github.com/you-humble/amazonmain/api/internal/finishing"
	"github.com/you-humble/amazonmain/api/internal/infra/metrics"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

type Generator interface {
	Configured() bool
	GenerateImage(ctx context.Context, src domain.SourceImage) ([]byte, error)
}

type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
}

type usecase struct {
	generator Generator
	archive   FileStore
	opts      finishing.Options
	timeout   time.Duration
	slots     chan struct{}
}

// New wires the pipeline. archive may be nil, in which case finished images
// are only returned to the caller.
func New(
	generator Generator,
	archive FileStore,
	opts finishing.Options,
	maxParallel int,
	timeout time.Duration,
) *usecase {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &usecase{
		generator: generator,
		archive:   archive,
		opts:      opts,
		timeout:   timeout,
		slots:     make(chan struct{}, maxParallel),
	}
}

func (uc *usecase) AmazonMain(ctx context.Context, src domain.SourceImage) (domain.FinishedImage, error) {
	if len(src.Data) == 0 {
		metrics.ImagesProcessed.WithLabelValues(metrics.OutcomeInvalidInput).Inc()
		return domain.FinishedImage{}, fmt.Errorf("%w: empty upload", domain.ErrInvalidInput)
	}
	if !uc.generator.Configured() {
		metrics.ImagesProcessed.WithLabelValues(metrics.OutcomeConfig).Inc()
		return domain.FinishedImage{}, domain.ErrConfigMissing
	}

	select {
	case uc.slots <- struct{}{}:
	case <-ctx.Done():
		metrics.ImagesProcessed.WithLabelValues(metrics.OutcomeCanceled).Inc()
		return domain.FinishedImage{}, ctx.Err()
	}
	metrics.InFlight.Inc()
	generated, err := uc.generate(ctx, src)
	metrics.InFlight.Dec()
	<-uc.slots
	if err != nil {
		metrics.ImagesProcessed.WithLabelValues(outcome(err)).Inc()
		return domain.FinishedImage{}, err
	}

	start := time.Now()
	res, err := finishing.Finish(generated, uc.opts)
	metrics.StageDuration.WithLabelValues("finish").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ImagesProcessed.WithLabelValues(metrics.OutcomeEncoding).Inc()
		return domain.FinishedImage{}, err
	}
	metrics.WhitenedPixels.Observe(float64(res.Whitened))

	out := domain.FinishedImage{
		Data:     res.Data,
		Width:    res.Width,
		Height:   res.Height,
		Whitened: res.Whitened,
	}
	out.ArchiveName = uc.store(ctx, out.Data)

	slog.Debug("image finished",
		slog.String("source", src.Filename),
		slog.String("generated", humanize.Bytes(uint64(len(generated)))),
		slog.String("result", humanize.Bytes(uint64(len(out.Data)))),
		slog.Int("whitened", res.Whitened),
	)
	metrics.ImagesProcessed.WithLabelValues(metrics.OutcomeOK).Inc()
	return out, nil
}

func (uc *usecase) generate(ctx context.Context, src domain.SourceImage) ([]byte, error) {
	if uc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := uc.generator.GenerateImage(ctx, src)
	metrics.StageDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return data, nil
}

func (uc *usecase) store(ctx context.Context, data []byte) string {
	if uc.archive == nil {
		return ""
	}
	name := uuid.NewString() + ".jpg"
	if _, _, err := uc.archive.Save(ctx, bytes.NewReader(data), name, int64(len(data))); err != nil {
		metrics.ArchiveFailures.Inc()
		slog.Warn("archive finished image",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return name
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrConfigMissing):
		return metrics.OutcomeConfig
	case errors.Is(err, domain.ErrUpstreamNoImage):
		return metrics.OutcomeNoImage
	case errors.Is(err, domain.ErrInvalidInput):
		return metrics.OutcomeInvalidInput
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeUpstream
	}
}
