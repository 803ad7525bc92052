// Package tracker wires the sampler, uploader, telemetry feed and status API
// together and runs them until shutdown.
package tracker

import (
	"context"
	"io"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"boat_tracker/internal/api"
	"boat_tracker/internal/config"
	"boat_tracker/internal/gps"
	"boat_tracker/internal/metrics"
	"boat_tracker/internal/sampler"
	"boat_tracker/internal/storage"
	"boat_tracker/internal/telemetry"
	"boat_tracker/internal/tzoffset"
	"boat_tracker/internal/uploader"
)

// Runner is a long-running unit that stops when its context is done.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Unit is a named Runner.
type Unit struct {
	Name   string
	Runner Runner
}

// Tracker owns the opened resources and the units using them.
type Tracker struct {
	logger  slog.Logger
	units   []Unit
	closers []io.Closer
}

// Options overrides collaborators, mostly for tests. Zero values select the
// production implementations.
type Options struct {
	Clock      quartz.Clock
	Registry   *prometheus.Registry
	GPS        gps.Source
	Resolver   tzoffset.Resolver
	OpenRemote OpenFunc
}

// New opens the local store and builds every unit from cfg. Remote and bus
// connections are made lazily so a vehicle with no network still records.
func New(ctx context.Context, cfg *config.Config, logger slog.Logger, opts Options) (*Tracker, error) {
	t := &Tracker{logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = t.Close()
		}
	}()

	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.New(reg)

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", cfg.Database, err)
	}
	t.closers = append(t.closers, db)

	resolver := opts.Resolver
	if resolver == nil {
		tzf, err := tzoffset.NewTZFResolver()
		if err != nil {
			return nil, xerrors.Errorf("load time zone data: %w", err)
		}
		resolver = tzf
	}

	src := opts.GPS
	if src == nil {
		g := gps.NewGPSD(cfg.GPS.Address, cfg.GPS.MaxAge, clock)
		t.closers = append(t.closers, g)
		src = g
	}

	cache := telemetry.NewCache(cfg.Bus.Timeout)
	feed := telemetry.NewFeed(cache, clock, logger.Named("bus"), m)
	t.add("bus.pipe", telemetry.NewPipeSource(cfg.Bus.Pipe, feed, logger.Named("bus")))

	if cfg.Bus.NATSSubject != "" {
		nc, err := nats.Connect(cfg.Remote.NATS.URL,
			nats.Name("boat-tracker-bus"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, xerrors.Errorf("connect bus %s: %w", cfg.Remote.NATS.URL, err)
		}
		t.closers = append(t.closers, closerFunc(func() error { nc.Close(); return nil }))
		t.add("bus.nats", telemetry.NewNATSSource(nc, cfg.Bus.NATSSubject, feed, logger.Named("bus")))
	}

	t.add("sampler", sampler.New(cfg.Sampler, src, resolver, cache, db, clock, logger.Named("sampler"), m))

	open := opts.OpenRemote
	if open == nil {
		remote := cfg.Remote
		open = func(ctx context.Context) (storage.Sink, error) { return storage.OpenSink(ctx, remote) }
	}
	sink := newLazySink(open, logger.Named("uploader"))
	t.closers = append(t.closers, sink)
	t.add("uploader", uploader.New(cfg.Uploader, db, sink, clock, logger.Named("uploader"), m))

	if cfg.HTTP.Address != "" {
		t.add("api", api.NewStatusServer(db, cache, reg, logger.Named("api"), api.Config{Address: cfg.HTTP.Address, APIKeys: cfg.HTTP.APIKeys}))
	}

	ok = true
	return t, nil
}

func (t *Tracker) add(name string, r Runner) {
	t.units = append(t.units, Unit{Name: name, Runner: r})
}

// Run runs every unit until ctx is done and then releases resources.
func (t *Tracker) Run(ctx context.Context) error {
	defer t.Close()
	return RunUnits(ctx, t.logger, t.units...)
}

// Close releases resources in reverse order of opening.
func (t *Tracker) Close() error {
	var first error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	t.closers = nil
	return first
}

// RunUnits runs units concurrently until ctx is done. A unit that fails
// stops alone; the others keep running. The first failure is returned once
// every unit has stopped.
func RunUnits(ctx context.Context, logger slog.Logger, units ...Unit) error {
	var g errgroup.Group
	for _, u := range units {
		g.Go(func() error {
			err := runUnit(ctx, u)
			if err != nil {
				logger.Error(ctx, "unit stopped", slog.F("unit", u.Name), slog.Error(err))
				return xerrors.Errorf("%s: %w", u.Name, err)
			}
			logger.Debug(ctx, "unit stopped", slog.F("unit", u.Name))
			return nil
		})
	}
	logger.Info(ctx, "tracker running", slog.F("units", len(units)))
	return g.Wait()
}

func runUnit(ctx context.Context, u Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("panic: %v", r)
		}
	}()
	return u.Runner.Run(ctx)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
