package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/xerrors"
)

// NATSConfig holds JetStream sink settings.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
}

// NATSSink publishes each batch as one JetStream message and waits for the
// server acknowledgement.
type NATSSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  string
	subject string
}

// OpenNATS connects to NATS and prepares a JetStream context.
func OpenNATS(ctx context.Context, cfg NATSConfig) (*NATSSink, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("boat-tracker-uploader"),
		nats.PingInterval(20*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, xerrors.Errorf("nats connect %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, xerrors.Errorf("nats jetstream init: %w", err)
	}

	stream, subject := cfg.Stream, cfg.Subject
	if stream == "" {
		stream = "GPS_DATA"
	}
	if subject == "" {
		subject = "boat.gps_data"
	}
	return &NATSSink{nc: nc, js: js, stream: stream, subject: subject}, nil
}

// Close drains and closes the connection.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}

// CreateSchema ensures the stream capturing the subject exists.
func (s *NATSSink) CreateSchema(ctx context.Context) error {
	_, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      s.stream,
		Subjects:  []string{s.subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		return xerrors.Errorf("create stream %s: %w", s.stream, err)
	}
	return nil
}

// WriteBatch publishes the batch as a JSON array. The stream assigns the
// sequence number; no deduplication id is sent.
func (s *NATSSink) WriteBatch(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	data, err := json.Marshal(RemoteRecords(samples))
	if err != nil {
		return xerrors.Errorf("marshal batch: %w", err)
	}
	if _, err := s.js.Publish(ctx, s.subject, data); err != nil {
		return xerrors.Errorf("publish batch: %w", err)
	}
	return nil
}
