package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boat_tracker/internal/metrics"
)

func newTestFeed(t *testing.T) (*Feed, *Cache) {
	t.Helper()
	cache := NewCache(time.Hour)
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	return NewFeed(cache, quartz.NewReal(), logger, metrics.New(prometheus.NewRegistry())), cache
}

func TestPipeSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "canbus_pipe")
	feed, cache := newTestFeed(t)
	src := NewPipeSource(path, feed, slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, err := os.Stat(path)
		return err == nil && st.Mode()&os.ModeNamedPipe != 0
	}, 5*time.Second, 10*time.Millisecond)

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = w.WriteString(`{"PGNname":"Engine RPM","value":900}` + "\n" +
		`{"PGNname":"Coolant Temperature","value":77}` + "\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Eventually(t, func() bool {
		_, rpm := cache.Read(SignalRPM, time.Now())
		_, temp := cache.Read(SignalCoolantTemp, time.Now())
		return rpm && temp
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipe source did not stop")
	}
}

func TestPipeSourceReopensPromptlyAfterTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "canbus_pipe")
	feed, cache := newTestFeed(t)
	src := NewPipeSource(path, feed, slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))
	// Without a reset every reopen would wait a full minute.
	src.retryFloor = time.Minute
	src.retryCeil = time.Minute

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, err := os.Stat(path)
		return err == nil && st.Mode()&os.ModeNamedPipe != 0
	}, 5*time.Second, 10*time.Millisecond)

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer w.Close()

	// An oversized line fails the scan after a good line was handled.
	writeErr := make(chan error, 1)
	go func() {
		_, err := w.WriteString(`{"PGNname":"Engine RPM","value":900}` + "\n" +
			strings.Repeat("x", maxLine+1024) + "\n" +
			`{"PGNname":"Coolant Temperature","value":77}` + "\n")
		writeErr <- err
	}()

	require.Eventually(t, func() bool {
		_, rpm := cache.Read(SignalRPM, time.Now())
		_, temp := cache.Read(SignalCoolantTemp, time.Now())
		return rpm && temp
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, <-writeErr)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipe source did not stop")
	}
}

func TestEnsureFIFORejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not_a_pipe")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.Error(t, ensureFIFO(path))
}

func TestNATSSource(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Timeout(time.Second))
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, cache := newTestFeed(t)
	subject := "boat.canbus.test"
	src := NewNATSSource(conn, subject, feed, slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	require.Eventually(t, func() bool {
		_ = conn.Publish(subject, []byte(`{"PGNname":"Engine RPM","value":650}`))
		_ = conn.Flush()
		_, ok := cache.Read(SignalRPM, time.Now())
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
