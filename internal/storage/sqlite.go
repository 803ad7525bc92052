// Package storage provides the durable local sample store and the remote
// sinks samples are replicated to.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"golang.org/x/xerrors"

	_ "modernc.org/sqlite"
)

// Sample is one captured row. Every field but Uploaded is fixed at insert.
type Sample struct {
	ID        int64
	TZOffset  string  // UTC±HH:MM in effect at capture.
	Timestamp float64 // Shifted capture time, see package tzoffset.
	Latitude  float64
	Longitude float64
	Altitude  float64

	// Engine telemetry is absent (not zero) when the signal was missing or stale.
	RPM               sql.NullFloat64
	EngineHours       sql.NullFloat64
	CoolantTemp       sql.NullFloat64
	AlternatorVoltage sql.NullFloat64

	Uploaded bool
}

// DB wraps the SQLite database holding captured samples.
type DB struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	// busy_timeout applies per connection, so it goes in the DSN rather than
	// a one-off PRAGMA on whichever pooled connection runs it.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, xerrors.Errorf("open database: %w", err)
	}

	// Enable WAL mode so the uploader can read while the sampler writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("enable WAL: %w", err)
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("create schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// createSchema creates the samples table and its indices. The table and
// column names match databases written by earlier releases.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS gps_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tz_offset TEXT,
		utc_shifted_tstamp REAL,
		latitude REAL,
		longitude REAL,
		altitude REAL,
		rpm REAL,
		engine_hours REAL,
		coolant_temp REAL,
		alternator_voltage REAL,
		uploaded INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_gps_data_tstamp ON gps_data(utc_shifted_tstamp, id);
	CREATE INDEX IF NOT EXISTS idx_gps_data_unsent ON gps_data(uploaded, id);
	`

	_, err := db.Exec(schema)
	return err
}

const sampleColumns = `id, tz_offset, utc_shifted_tstamp, latitude, longitude, altitude,
	rpm, engine_hours, coolant_temp, alternator_voltage, uploaded`

// Insert appends a sample in a single statement and returns its id. The
// Uploaded field of s is ignored; new rows are always unsent.
func (d *DB) Insert(ctx context.Context, s Sample) (int64, error) {
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO gps_data (tz_offset, utc_shifted_tstamp, latitude, longitude, altitude,
			rpm, engine_hours, coolant_temp, alternator_voltage, uploaded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, s.TZOffset, s.Timestamp, s.Latitude, s.Longitude, s.Altitude,
		s.RPM, s.EngineHours, s.CoolantTemp, s.AlternatorVoltage)
	if err != nil {
		return 0, xerrors.Errorf("insert sample: %w", err)
	}

	return result.LastInsertId()
}

// Latest returns the most recent sample by shifted timestamp, ties broken by
// id, or nil when the store is empty.
func (d *DB) Latest(ctx context.Context) (*Sample, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+sampleColumns+` FROM gps_data
		ORDER BY utc_shifted_tstamp DESC, id DESC LIMIT 1`)
	s, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("latest sample: %w", err)
	}
	return &s, nil
}

// Unsent returns up to limit samples not yet uploaded, in ascending id order.
func (d *DB) Unsent(ctx context.Context, limit int) ([]Sample, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := d.db.QueryContext(ctx, `SELECT `+sampleColumns+` FROM gps_data
		WHERE uploaded = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Errorf("query unsent: %w", err)
	}
	return collect(rows)
}

// MarkSent flags the given ids as uploaded. Ids that are already uploaded or
// do not exist are ignored, so repeated calls are harmless.
func (d *DB) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("begin mark sent: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE gps_data SET uploaded = 1 WHERE uploaded = 0 AND id IN (`+placeholders+`)`,
		args...); err != nil {
		return xerrors.Errorf("mark sent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Errorf("commit mark sent: %w", err)
	}
	return nil
}

// Count returns the number of samples, optionally filtered by upload state.
func (d *DB) Count(ctx context.Context, uploaded *bool) (int64, error) {
	query := "SELECT COUNT(*) FROM gps_data"
	var args []any
	if uploaded != nil {
		query += " WHERE uploaded = ?"
		args = append(args, boolInt(*uploaded))
	}

	var n int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, xerrors.Errorf("count samples: %w", err)
	}
	return n, nil
}

// RangeParams filters an ordered scan of the store.
type RangeParams struct {
	Uploaded *bool // Filter on upload state when set.
	Limit    int   // Max rows; zero means no limit.
}

// Range returns samples ordered by shifted timestamp ascending.
func (d *DB) Range(ctx context.Context, p RangeParams) ([]Sample, error) {
	query := `SELECT ` + sampleColumns + ` FROM gps_data`
	var args []any
	if p.Uploaded != nil {
		query += " WHERE uploaded = ?"
		args = append(args, boolInt(*p.Uploaded))
	}
	query += " ORDER BY utc_shifted_tstamp ASC, id ASC"
	if p.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, p.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Errorf("query range: %w", err)
	}
	return collect(rows)
}

// UploadStats summarises replication progress.
type UploadStats struct {
	LastUploaded sql.NullFloat64 // Shifted timestamp of newest uploaded sample.
	Pending      int64           // Samples awaiting upload.
	LastPending  sql.NullFloat64 // Shifted timestamp of newest unsent sample.
}

// UploadStats returns replication progress counters.
func (d *DB) UploadStats(ctx context.Context) (*UploadStats, error) {
	stats := &UploadStats{}

	row := d.db.QueryRowContext(ctx, "SELECT MAX(utc_shifted_tstamp) FROM gps_data WHERE uploaded = 1")
	if err := row.Scan(&stats.LastUploaded); err != nil {
		return nil, xerrors.Errorf("last uploaded: %w", err)
	}

	row = d.db.QueryRowContext(ctx, "SELECT COUNT(*), MAX(utc_shifted_tstamp) FROM gps_data WHERE uploaded = 0")
	if err := row.Scan(&stats.Pending, &stats.LastPending); err != nil {
		return nil, xerrors.Errorf("pending: %w", err)
	}

	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(row scanner) (Sample, error) {
	var s Sample
	var tz sql.NullString
	var ts, lat, lon, alt sql.NullFloat64
	var uploaded sql.NullInt64

	err := row.Scan(&s.ID, &tz, &ts, &lat, &lon, &alt,
		&s.RPM, &s.EngineHours, &s.CoolantTemp, &s.AlternatorVoltage, &uploaded)
	if err != nil {
		return Sample{}, err
	}

	s.TZOffset = tz.String
	s.Timestamp = ts.Float64
	s.Latitude = lat.Float64
	s.Longitude = lon.Float64
	s.Altitude = alt.Float64
	s.Uploaded = uploaded.Int64 == 1
	return s, nil
}

func collect(rows *sql.Rows) ([]Sample, error) {
	defer func() { _ = rows.Close() }()

	var samples []Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, xerrors.Errorf("scan row: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
