package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"boat_tracker/internal/metrics"
)

// ErrMalformed is returned for bus messages that cannot be applied.
var ErrMalformed = errors.New("malformed bus message")

// Message is one decoded bus reading.
type Message struct {
	Name      string
	Value     float64
	Timestamp time.Time
}

// wireMessage is the line-delimited JSON shape written by the bus decoder.
type wireMessage struct {
	Name      string   `json:"PGNname"`
	Value     *float64 `json:"value"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// Decode parses a single JSON line. A missing timestamp defaults to received.
func Decode(line []byte, received time.Time) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(line, &w); err != nil {
		return Message{}, xerrors.Errorf("decode %q: %v: %w", line, err, ErrMalformed)
	}
	if w.Name == "" {
		return Message{}, xerrors.Errorf("missing PGNname: %w", ErrMalformed)
	}
	if w.Value == nil {
		return Message{}, xerrors.Errorf("signal %q has no value: %w", w.Name, ErrMalformed)
	}

	ts := received
	if w.Timestamp != nil {
		sec, frac := math.Modf(*w.Timestamp)
		ts = time.Unix(int64(sec), int64(frac*1e9))
	}

	return Message{Name: w.Name, Value: *w.Value, Timestamp: ts}, nil
}

// Feed applies raw bus payloads to a cache. Sources hand it whatever bytes
// they receive; each non-empty line is decoded independently so one bad line
// never drops its neighbours.
type Feed struct {
	cache   *Cache
	clock   quartz.Clock
	logger  slog.Logger
	metrics *metrics.Metrics
}

// NewFeed returns a feed writing into cache.
func NewFeed(cache *Cache, clock quartz.Clock, logger slog.Logger, m *metrics.Metrics) *Feed {
	return &Feed{cache: cache, clock: clock, logger: logger, metrics: m}
}

// Handle decodes every line in data and updates the cache. It returns the
// number of lines applied.
func (f *Feed) Handle(ctx context.Context, data []byte) int {
	now := f.clock.Now("telemetry", "receive")
	applied := 0
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		msg, err := Decode(line, now)
		if err != nil {
			f.metrics.BusMessages.WithLabelValues("malformed").Inc()
			f.logger.Warn(ctx, "dropping bus message", slog.F("line", string(line)), slog.Error(err))
			continue
		}
		f.cache.Update(msg.Name, msg.Value, msg.Timestamp)
		f.metrics.BusMessages.WithLabelValues("applied").Inc()
		applied++
	}
	return applied
}
