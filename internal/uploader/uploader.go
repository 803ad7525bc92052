// Package uploader drains unsent samples from the local store to the remote
// sink in id order, retrying failed batches with exponential backoff.
package uploader

import (
	"context"
	"errors"
	"time"

	"cdr.dev/slog/v3"
	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"boat_tracker/internal/metrics"
	"boat_tracker/internal/storage"
)

// Config controls batch size and pacing.
type Config struct {
	BatchSize      int           `yaml:"batch_size"`
	Interval       time.Duration `yaml:"interval"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// DefaultConfig uploads up to 50 samples per batch, waits 30s when idle or
// after a failed batch, and retries each batch three times at 1s, 2s and 4s.
func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		Interval:       30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: time.Second,
	}
}

// Store is the part of the record store the uploader reads and acknowledges.
type Store interface {
	Unsent(ctx context.Context, limit int) ([]storage.Sample, error)
	MarkSent(ctx context.Context, ids []int64) error
	Count(ctx context.Context, uploaded *bool) (int64, error)
}

// Sink accepts a batch of samples. A nil error means the whole batch was
// durably accepted.
type Sink interface {
	WriteBatch(ctx context.Context, batch []storage.Sample) error
}

// Uploader runs the drain loop.
type Uploader struct {
	cfg     Config
	store   Store
	sink    Sink
	clock   quartz.Clock
	logger  slog.Logger
	metrics *metrics.Metrics
}

// New returns an uploader. Nothing runs until Run is called.
func New(cfg Config, store Store, sink Sink, clock quartz.Clock, logger slog.Logger, m *metrics.Metrics) *Uploader {
	return &Uploader{cfg: cfg, store: store, sink: sink, clock: clock, logger: logger, metrics: m}
}

// Run uploads until ctx is done. A full successful batch is followed
// immediately by the next one; an empty or failed pass waits Interval.
func (u *Uploader) Run(ctx context.Context) error {
	u.logger.Info(ctx, "uploader started",
		slog.F("batch_size", u.cfg.BatchSize),
		slog.F("interval", u.cfg.Interval),
		slog.F("max_retries", u.cfg.MaxRetries),
	)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := u.UploadBatch(ctx)
		if err != nil && ctx.Err() == nil {
			u.logger.Error(ctx, "upload pass failed", slog.Error(err))
		}
		if err == nil && n > 0 {
			continue
		}

		t := u.clock.NewTimer(u.cfg.Interval, "uploader", "interval")
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// UploadBatch sends the oldest unsent samples and marks them sent once the
// sink accepts them. It returns how many samples were marked.
func (u *Uploader) UploadBatch(ctx context.Context) (int, error) {
	batch, err := u.store.Unsent(ctx, u.cfg.BatchSize)
	if err != nil {
		return 0, xerrors.Errorf("read unsent samples: %w", err)
	}
	defer u.updateBacklog(ctx)
	if len(batch) == 0 {
		u.logger.Debug(ctx, "nothing to upload")
		return 0, nil
	}

	if err := u.submit(ctx, batch); err != nil {
		u.metrics.UploadBatches.WithLabelValues("failed").Inc()
		return 0, xerrors.Errorf("upload %d samples starting at id %d: %w", len(batch), batch[0].ID, err)
	}

	ids := make([]int64, len(batch))
	for i, s := range batch {
		ids[i] = s.ID
	}
	// The sink already has these rows. If marking fails they are sent again
	// on a later pass.
	if err := u.store.MarkSent(ctx, ids); err != nil {
		u.metrics.UploadBatches.WithLabelValues("mark_failed").Inc()
		return 0, xerrors.Errorf("mark %d samples sent: %w", len(ids), err)
	}

	u.metrics.UploadBatches.WithLabelValues("ok").Inc()
	u.metrics.SamplesUploaded.Add(float64(len(ids)))
	u.logger.Info(ctx, "uploaded batch",
		slog.F("count", len(ids)),
		slog.F("first_id", ids[0]),
		slog.F("last_id", ids[len(ids)-1]),
	)
	return len(ids), nil
}

func (u *Uploader) updateBacklog(ctx context.Context) {
	unsent := false
	n, err := u.store.Count(ctx, &unsent)
	if err != nil {
		u.logger.Warn(ctx, "count unsent samples", slog.Error(err))
		return
	}
	u.metrics.Backlog.Set(float64(n))
}

// submit tries the sink once plus up to MaxRetries more times.
func (u *Uploader) submit(ctx context.Context, batch []storage.Sample) error {
	b := u.newBackOff()
	for attempt := 0; ; attempt++ {
		u.metrics.UploadAttempts.Inc()
		err := u.sink.WriteBatch(ctx, batch)
		if err == nil {
			return nil
		}
		if attempt >= u.cfg.MaxRetries || errors.Is(err, context.Canceled) {
			return xerrors.Errorf("after %d attempts: %w", attempt+1, err)
		}

		wait := b.NextBackOff()
		u.logger.Warn(ctx, "upload attempt failed, retrying",
			slog.F("attempt", attempt+1),
			slog.F("backoff", wait),
			slog.Error(err),
		)
		t := u.clock.NewTimer(wait, "uploader", "backoff")
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (u *Uploader) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = u.cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
