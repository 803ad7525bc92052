package telemetry

import (
	"context"
	"errors"

	"cdr.dev/slog/v3"
	"github.com/nats-io/nats.go"
	"golang.org/x/xerrors"
)

// NATSSource receives bus messages published on a NATS subject. Each message
// body may carry one or more JSON lines.
type NATSSource struct {
	conn    *nats.Conn
	subject string
	feed    *Feed
	logger  slog.Logger
}

// NewNATSSource subscribes to subject on an existing connection when run.
func NewNATSSource(conn *nats.Conn, subject string, feed *Feed, logger slog.Logger) *NATSSource {
	return &NATSSource{conn: conn, subject: subject, feed: feed, logger: logger}
}

// Run subscribes and blocks until ctx is done. Reconnects are handled by the
// NATS client.
func (n *NATSSource) Run(ctx context.Context) error {
	sub, err := n.conn.Subscribe(n.subject, func(m *nats.Msg) {
		n.feed.Handle(ctx, m.Data)
	})
	if err != nil {
		return xerrors.Errorf("subscribe %s: %w", n.subject, err)
	}
	n.logger.Info(ctx, "subscribed to telemetry subject", slog.F("subject", n.subject))

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return xerrors.Errorf("unsubscribe %s: %w", n.subject, err)
	}
	return nil
}
