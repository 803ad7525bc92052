package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boat_tracker/internal/gps"
	"boat_tracker/internal/storage"
)

func seedDB(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "track.db")
	db, err := storage.Open(path)
	require.NoError(t, err)
	defer db.Close()

	base := time.Date(2025, 8, 1, 6, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := db.Insert(ctx, storage.Sample{
			TZOffset:  "UTC+01:00",
			Timestamp: float64(base.Add(time.Duration(i) * time.Minute).Unix()),
			Latitude:  50.0 + float64(i)*0.01,
			Longitude: -5.0,
			RPM:       sql.NullFloat64{Float64: 1000, Valid: true},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, db.MarkSent(ctx, ids[:1]))
	return path
}

func TestDump(t *testing.T) {
	path := seedDB(t)

	var out bytes.Buffer
	require.NoError(t, dispatch(context.Background(), "dump", []string{path}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "id\ttz_offset\tutc_shifted_tstamp"))
	assert.Contains(t, lines[1], "2025-08-01 06:00:00")

	out.Reset()
	require.NoError(t, dispatch(context.Background(), "dump", []string{path, "1"}, &out))
	lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[1], "\t1"))

	err := dispatch(context.Background(), "dump", []string{path, "maybe"}, &out)
	require.ErrorIs(t, err, errUsage)
}

func TestDumpEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	var out bytes.Buffer
	require.NoError(t, dispatch(context.Background(), "dump", []string{path}, &out))
	assert.Equal(t, "(No records)\n", out.String())
}

func TestStats(t *testing.T) {
	path := seedDB(t)

	var out bytes.Buffer
	require.NoError(t, dispatch(context.Background(), "stats", []string{path}, &out))
	assert.Equal(t, "Time of last uploaded record:\t2025-08-01 06:00:00\n"+
		"Number of records to upload:\t2\n"+
		"Time of last record:\t\t2025-08-01 06:02:00\n", out.String())
}

func TestExport(t *testing.T) {
	path := seedDB(t)

	var out bytes.Buffer
	require.NoError(t, dispatch(context.Background(), "kml", []string{path}, &out))
	assert.Contains(t, out.String(), "<LineString>")
	assert.Contains(t, out.String(), "-5.000000,50.020000,0.0")

	file := filepath.Join(t.TempDir(), "track.geojson")
	require.NoError(t, dispatch(context.Background(), "kml", []string{path, "--format", "geojson", "--output", file}, &out))
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"LineString"`)

	require.ErrorIs(t, dispatch(context.Background(), "kml", []string{path, "--format", "gpx"}, &out), errUsage)
}

func TestDispatchUsage(t *testing.T) {
	var out bytes.Buffer
	require.ErrorIs(t, dispatch(context.Background(), "fly", nil, &out), errUsage)
	require.ErrorIs(t, dispatch(context.Background(), "stats", nil, &out), errUsage)

	require.NoError(t, dispatch(context.Background(), "help", nil, &out))
	assert.Contains(t, out.String(), "snapshot")
}

func TestWriteFix(t *testing.T) {
	var out bytes.Buffer
	writeFix(&out, gps.Fix{Quality: gps.Quality2D, Latitude: 50.1, Longitude: -5.2, Speed: 1})
	assert.Equal(t, "Fix Status: 2D Fix\n"+
		"Latitude: 50.1, Longitude: -5.2\n"+
		"Speed: 1.9 knots\n"+
		"Heading: 0°\n", out.String())
}
