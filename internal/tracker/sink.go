package tracker

import (
	"context"
	"sync"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"boat_tracker/internal/storage"
)

// OpenFunc opens a remote sink.
type OpenFunc func(ctx context.Context) (storage.Sink, error)

// lazySink connects to the remote on first use and again after a failed
// write, so the tracker can start with no network.
type lazySink struct {
	open   OpenFunc
	logger slog.Logger

	mu   sync.Mutex
	sink storage.Sink
}

func newLazySink(open OpenFunc, logger slog.Logger) *lazySink {
	return &lazySink{open: open, logger: logger}
}

func (l *lazySink) WriteBatch(ctx context.Context, batch []storage.Sample) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sink == nil {
		sink, err := l.open(ctx)
		if err != nil {
			return xerrors.Errorf("connect remote: %w", err)
		}
		if err := sink.CreateSchema(ctx); err != nil {
			_ = sink.Close()
			return xerrors.Errorf("prepare remote: %w", err)
		}
		l.logger.Info(ctx, "connected to remote sink")
		l.sink = sink
	}

	if err := l.sink.WriteBatch(ctx, batch); err != nil {
		_ = l.sink.Close()
		l.sink = nil
		return err
	}
	return nil
}

func (l *lazySink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		return nil
	}
	err := l.sink.Close()
	l.sink = nil
	return err
}
