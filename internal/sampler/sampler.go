// Package sampler fuses position fixes with cached engine telemetry and
// appends the samples worth keeping to the local store.
package sampler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"boat_tracker/internal/gps"
	"boat_tracker/internal/metrics"
	"boat_tracker/internal/storage"
	"boat_tracker/internal/telemetry"
	"boat_tracker/internal/tzoffset"
)

// Config controls the polling cadence and novelty policy.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Policy       `yaml:",inline"`
}

// DefaultConfig returns the standard cadence: poll every 5s, store on 0.10 mi
// of movement, otherwise every 30s with the engine running or 60s without.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		Policy: Policy{
			MinMilesDelta:      0.10,
			EngineOnHeartbeat:  30 * time.Second,
			EngineOffHeartbeat: 60 * time.Second,
		},
	}
}

// Store is the part of the record store the sampler writes through.
type Store interface {
	Insert(ctx context.Context, s storage.Sample) (int64, error)
	Latest(ctx context.Context) (*storage.Sample, error)
}

// Telemetry reads cached engine signals.
type Telemetry interface {
	Read(name string, now time.Time) (float64, bool)
}

// Sampler runs the capture loop.
type Sampler struct {
	cfg       Config
	source    gps.Source
	resolver  tzoffset.Resolver
	telemetry Telemetry
	store     Store
	clock     quartz.Clock
	logger    slog.Logger
	metrics   *metrics.Metrics
}

// New returns a sampler. Nothing runs until Run is called.
func New(cfg Config, source gps.Source, resolver tzoffset.Resolver, tel Telemetry, store Store,
	clock quartz.Clock, logger slog.Logger, m *metrics.Metrics,
) *Sampler {
	return &Sampler{
		cfg:       cfg,
		source:    source,
		resolver:  resolver,
		telemetry: tel,
		store:     store,
		clock:     clock,
		logger:    logger,
		metrics:   m,
	}
}

// Run connects to the position source and samples every PollInterval until
// ctx is done. Failing to connect is the only error it returns; every other
// failure is logged and the next cycle proceeds.
func (s *Sampler) Run(ctx context.Context) error {
	if err := s.source.Connect(ctx); err != nil {
		s.logger.Error(ctx, "cannot connect to position source, sampler stopping", slog.Error(err))
		return xerrors.Errorf("connect position source: %w", err)
	}
	s.logger.Info(ctx, "sampler started", slog.F("poll_interval", s.cfg.PollInterval))

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.safeCycle(ctx)

		t := s.clock.NewTimer(s.cfg.PollInterval, "sampler", "poll")
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// safeCycle runs one cycle and contains any failure inside it.
func (s *Sampler) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.SamplerCycles.WithLabelValues("error").Inc()
			s.logger.Error(ctx, "sampler cycle panicked", slog.F("panic", r))
		}
	}()

	d, err := s.cycle(ctx)
	switch {
	case err != nil:
		s.metrics.SamplerCycles.WithLabelValues("error").Inc()
		if !errors.Is(err, context.Canceled) {
			s.logger.Error(ctx, "failed to store sample", slog.Error(err))
		}
	case d == Skip:
		s.metrics.SamplerCycles.WithLabelValues("skipped").Inc()
	default:
		s.metrics.SamplerCycles.WithLabelValues("written").Inc()
	}
}

// cycle performs a single capture decision and, if warranted, one insert.
func (s *Sampler) cycle(ctx context.Context) (Decision, error) {
	fix, err := s.source.CurrentFix()
	if err != nil {
		return Skip, xerrors.Errorf("read position: %w", err)
	}
	if !fix.Valid() {
		s.metrics.SamplerSkips.WithLabelValues("no_fix").Inc()
		s.logger.Info(ctx, "GPS data skipped: no valid fix available", slog.F("quality", fix.Quality.String()))
		return Skip, nil
	}

	now := s.clock.Now("sampler", "capture")
	offset, err := s.resolver.Resolve(fix.Latitude, fix.Longitude, now)
	if err != nil {
		s.metrics.SamplerSkips.WithLabelValues("unknown_tz").Inc()
		s.logger.Warn(ctx, "skipping record due to unknown time zone",
			slog.F("lat", fix.Latitude), slog.F("lon", fix.Longitude), slog.Error(err))
		return Skip, nil
	}
	shifted := tzoffset.Shift(now, offset.Seconds)

	rpm := s.read(telemetry.SignalRPM, now)
	engineOn := rpm.Valid && rpm.Float64 > 0

	last, err := s.store.Latest(ctx)
	if err != nil {
		return Skip, xerrors.Errorf("read last sample: %w", err)
	}

	decision, miles := s.cfg.Decide(fix, shifted, engineOn, last)
	if decision == Skip {
		s.metrics.SamplerSkips.WithLabelValues("no_change").Inc()
		s.logger.Debug(ctx, "no significant change", slog.F("miles", miles), slog.F("engine_on", engineOn))
		return Skip, nil
	}

	sample := storage.Sample{
		TZOffset:          offset.String(),
		Timestamp:         shifted,
		Latitude:          fix.Latitude,
		Longitude:         fix.Longitude,
		Altitude:          fix.Altitude,
		RPM:               rpm,
		EngineHours:       s.read(telemetry.SignalEngineHours, now),
		CoolantTemp:       s.read(telemetry.SignalCoolantTemp, now),
		AlternatorVoltage: s.read(telemetry.SignalAlternatorVoltage, now),
	}
	if decision == Heartbeat {
		// Still here: repeat the stored position so the trail shows no motion.
		sample.Latitude = last.Latitude
		sample.Longitude = last.Longitude
		sample.Altitude = last.Altitude
	}

	id, err := s.store.Insert(ctx, sample)
	if err != nil {
		return Skip, xerrors.Errorf("insert %s sample: %w", decision, err)
	}
	s.metrics.SamplesWritten.WithLabelValues(decision.String()).Inc()
	s.logger.Info(ctx, "local DB write",
		slog.F("id", id),
		slog.F("reason", decision.String()),
		slog.F("miles", miles),
		slog.F("lat", sample.Latitude),
		slog.F("lon", sample.Longitude),
		slog.F("alt", sample.Altitude),
		slog.F("tz_offset", sample.TZOffset),
		slog.F("rpm", nullString(sample.RPM)),
		slog.F("engine_hours", nullString(sample.EngineHours)),
		slog.F("coolant_temp", nullString(sample.CoolantTemp)),
		slog.F("alternator_voltage", nullString(sample.AlternatorVoltage)),
	)
	return decision, nil
}

func (s *Sampler) read(signal string, now time.Time) sql.NullFloat64 {
	v, ok := s.telemetry.Read(signal, now)
	return sql.NullFloat64{Float64: v, Valid: ok}
}

func nullString(v sql.NullFloat64) any {
	if !v.Valid {
		return "unknown"
	}
	return v.Float64
}
