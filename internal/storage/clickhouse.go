package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"golang.org/x/xerrors"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// ClickHouseSink appends uploaded samples to a ClickHouse table.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, xerrors.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, xerrors.Errorf("ping clickhouse: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = DefaultRemoteTable
	}
	return &ClickHouseSink{conn: conn, table: table}, nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

// CreateSchema creates the destination table. Row ids are generated by the
// server; no client-side key is sent.
func (s *ClickHouseSink) CreateSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		doc_id              UUID DEFAULT generateUUIDv4(),
		tz_offset           LowCardinality(String),
		utc_shifted_tstamp  Float64,
		latitude            Float64,
		longitude           Float64,
		altitude            Float64,
		rpm                 Nullable(Float64),
		engine_hours        Nullable(Float64),
		coolant_temp        Nullable(Float64),
		alternator_voltage  Nullable(Float64),
		received_at         DateTime64(3) DEFAULT now64(3)
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(received_at)
	ORDER BY (utc_shifted_tstamp, doc_id)`

	if err := s.conn.Exec(ctx, q); err != nil {
		return xerrors.Errorf("create schema: %w", err)
	}
	return nil
}

// WriteBatch inserts all samples as a single block. ClickHouse applies a
// block atomically, so the batch is either fully accepted or not at all.
func (s *ClickHouseSink) WriteBatch(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO `+s.table+` (tz_offset, utc_shifted_tstamp, latitude, longitude, altitude,
			rpm, engine_hours, coolant_temp, alternator_voltage)
	`)
	if err != nil {
		return xerrors.Errorf("prepare batch: %w", err)
	}

	for _, r := range samples {
		err := batch.Append(r.TZOffset, r.Timestamp, r.Latitude, r.Longitude, r.Altitude,
			nullable(r.RPM), nullable(r.EngineHours), nullable(r.CoolantTemp), nullable(r.AlternatorVoltage))
		if err != nil {
			_ = batch.Abort()
			return xerrors.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return xerrors.Errorf("send batch: %w", err)
	}

	return nil
}

// Count returns the number of rows in the destination table.
func (s *ClickHouseSink) Count(ctx context.Context) (uint64, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, "SELECT count() FROM "+s.table)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
