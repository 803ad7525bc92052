package telemetry

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/retry"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// DefaultPipePath is where the bus decoder writes its JSON lines.
const DefaultPipePath = "/tmp/canbus_pipe"

// maxLine bounds a single bus message.
const maxLine = 1 << 20

// PipeSource reads line-delimited bus messages from a named pipe.
type PipeSource struct {
	path   string
	feed   *Feed
	logger slog.Logger

	// Reopen delays, growing from floor to ceil across consecutive failures.
	retryFloor time.Duration
	retryCeil  time.Duration
}

// NewPipeSource returns a source reading path. The pipe is created on Run if
// it does not exist.
func NewPipeSource(path string, feed *Feed, logger slog.Logger) *PipeSource {
	if path == "" {
		path = DefaultPipePath
	}
	return &PipeSource{
		path:       path,
		feed:       feed,
		logger:     logger,
		retryFloor: time.Second,
		retryCeil:  30 * time.Second,
	}
}

// Run reads until ctx is done, reopening the pipe after any read error. A
// read that handled at least one line resets the reopen delay.
func (p *PipeSource) Run(ctx context.Context) error {
	if err := ensureFIFO(p.path); err != nil {
		return err
	}

	for r := retry.New(p.retryFloor, p.retryCeil); r.Wait(ctx); {
		lines, err := p.read(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if lines > 0 {
			r.Reset()
		}
		p.logger.Error(ctx, "reading telemetry pipe", slog.F("path", p.path), slog.Error(err))
	}
	return nil
}

// read consumes the pipe until it fails or ctx is done. The pipe is opened
// read-write so the reader never sees EOF when the writer goes away, and the
// descriptor is pollable so closing it unblocks a pending read.
func (p *PipeSource) read(ctx context.Context) (int, error) {
	f, err := os.OpenFile(p.path, os.O_RDWR, 0)
	if err != nil {
		return 0, xerrors.Errorf("open pipe: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer func() {
		if stop() {
			_ = f.Close()
		}
	}()

	p.logger.Info(ctx, "reading telemetry pipe", slog.F("path", p.path))

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	var lines int
	for scanner.Scan() {
		p.feed.Handle(ctx, scanner.Bytes())
		lines++
	}
	if err := scanner.Err(); err != nil {
		return lines, xerrors.Errorf("scan pipe: %w", err)
	}
	return lines, xerrors.New("pipe closed")
}

func ensureFIFO(path string) error {
	st, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := unix.Mkfifo(path, 0o666); err != nil && !errors.Is(err, fs.ErrExist) {
			return xerrors.Errorf("create pipe %s: %w", path, err)
		}
		return nil
	case err != nil:
		return xerrors.Errorf("stat pipe %s: %w", path, err)
	case st.Mode()&fs.ModeNamedPipe == 0:
		return xerrors.Errorf("%s exists and is not a named pipe", path)
	}
	return nil
}
