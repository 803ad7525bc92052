package storage

import (
	"context"
	"database/sql"

	"golang.org/x/xerrors"
)

// DefaultRemoteTable is the destination table or collection name.
const DefaultRemoteTable = "gps_data"

// Sink names accepted by OpenSink.
const (
	SinkClickHouse = "clickhouse"
	SinkPostgres   = "postgres"
	SinkNATS       = "nats"
)

// RemoteConfig selects and configures the remote sink.
type RemoteConfig struct {
	Sink       string           `yaml:"sink"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	NATS       NATSConfig       `yaml:"nats"`
}

// DefaultRemoteConfig returns a configuration with default local development settings.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Sink: SinkClickHouse,
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "boat",
			User:     "default",
			Password: "",
			Table:    DefaultRemoteTable,
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "boat",
			User:     "boat",
			Password: "boat",
			Table:    DefaultRemoteTable,
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Stream:  "GPS_DATA",
			Subject: "boat.gps_data",
		},
	}
}

// Sink is a remote store accepting atomic batches of samples.
type Sink interface {
	WriteBatch(ctx context.Context, samples []Sample) error
	CreateSchema(ctx context.Context) error
	Close() error
}

// OpenSink opens the sink named by cfg.Sink.
func OpenSink(ctx context.Context, cfg RemoteConfig) (Sink, error) {
	var (
		sink Sink
		err  error
	)
	switch cfg.Sink {
	case SinkClickHouse:
		sink, err = OpenClickHouse(ctx, cfg.ClickHouse)
	case SinkPostgres:
		sink, err = OpenPostgres(ctx, cfg.Postgres)
	case SinkNATS:
		sink, err = OpenNATS(ctx, cfg.NATS)
	default:
		return nil, xerrors.Errorf("unknown sink %q", cfg.Sink)
	}
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", cfg.Sink, err)
	}
	return sink, nil
}

// RemoteRecord is the document shape sent to message-oriented sinks. The
// local id and upload flag are deliberately omitted.
type RemoteRecord struct {
	TZOffset          string   `json:"tz_offset"`
	Timestamp         float64  `json:"utc_shifted_tstamp"`
	Latitude          float64  `json:"latitude"`
	Longitude         float64  `json:"longitude"`
	Altitude          float64  `json:"altitude"`
	RPM               *float64 `json:"rpm"`
	EngineHours       *float64 `json:"engine_hours"`
	CoolantTemp       *float64 `json:"coolant_temp"`
	AlternatorVoltage *float64 `json:"alternator_voltage"`
}

// RemoteRecords converts samples to their remote document form.
func RemoteRecords(samples []Sample) []RemoteRecord {
	out := make([]RemoteRecord, len(samples))
	for i, s := range samples {
		out[i] = RemoteRecord{
			TZOffset:          s.TZOffset,
			Timestamp:         s.Timestamp,
			Latitude:          s.Latitude,
			Longitude:         s.Longitude,
			Altitude:          s.Altitude,
			RPM:               nullable(s.RPM),
			EngineHours:       nullable(s.EngineHours),
			CoolantTemp:       nullable(s.CoolantTemp),
			AlternatorVoltage: nullable(s.AlternatorVoltage),
		}
	}
	return out
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
