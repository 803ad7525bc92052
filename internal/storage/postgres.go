package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/xerrors"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// PostgresSink appends uploaded samples to a PostgreSQL table.
type PostgresSink struct {
	pool  *pgxpool.Pool
	table string
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresSink, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, xerrors.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 2
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, xerrors.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Errorf("ping postgres: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = DefaultRemoteTable
	}
	return &PostgresSink{pool: pool, table: table}, nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

// CreateSchema creates the destination table.
func (s *PostgresSink) CreateSchema(ctx context.Context) error {
	ident := pgx.Identifier{s.table}.Sanitize()
	schema := `
	CREATE TABLE IF NOT EXISTS ` + ident + ` (
		doc_id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tz_offset           TEXT NOT NULL,
		utc_shifted_tstamp  DOUBLE PRECISION NOT NULL,
		latitude            DOUBLE PRECISION NOT NULL,
		longitude           DOUBLE PRECISION NOT NULL,
		altitude            DOUBLE PRECISION NOT NULL,
		rpm                 DOUBLE PRECISION,
		engine_hours        DOUBLE PRECISION,
		coolant_temp        DOUBLE PRECISION,
		alternator_voltage  DOUBLE PRECISION,
		received_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{"idx_" + s.table + "_tstamp"}.Sanitize() + `
		ON ` + ident + `(utc_shifted_tstamp);
	`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return xerrors.Errorf("create schema: %w", err)
	}
	return nil
}

var postgresColumns = []string{
	"tz_offset", "utc_shifted_tstamp", "latitude", "longitude", "altitude",
	"rpm", "engine_hours", "coolant_temp", "alternator_voltage",
}

// WriteBatch copies all samples inside one transaction.
func (s *PostgresSink) WriteBatch(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return xerrors.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, postgresColumns,
		pgx.CopyFromSlice(len(samples), func(i int) ([]any, error) {
			r := samples[i]
			return []any{
				r.TZOffset, r.Timestamp, r.Latitude, r.Longitude, r.Altitude,
				nullable(r.RPM), nullable(r.EngineHours), nullable(r.CoolantTemp), nullable(r.AlternatorVoltage),
			}, nil
		}))
	if err != nil {
		return xerrors.Errorf("copy samples: %w", err)
	}
	if n != int64(len(samples)) {
		return xerrors.Errorf("copied %d of %d samples", n, len(samples))
	}

	if err := tx.Commit(ctx); err != nil {
		return xerrors.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the number of rows in the destination table.
func (s *PostgresSink) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{s.table}.Sanitize()).Scan(&n)
	return n, err
}
