package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/agrimrv/backend/internal/domain/anchor"
)

type publishConn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher publishes anchor transitions on <prefix>.<to_state>.
type NATSPublisher struct {
	conn   publishConn
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("agrimrv-anchor"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("connected to NATS", "url", url)
	p := newPublisher(nc, prefix, logger)
	p.nc = nc
	return p, nil
}

func newPublisher(conn publishConn, prefix string, logger *slog.Logger) *NATSPublisher {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "agrimrv.anchor"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

func (p *NATSPublisher) Subject(to anchor.State) string {
	return p.prefix + "." + string(to)
}

func (p *NATSPublisher) Publish(_ context.Context, ev anchor.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal anchor event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.To), data); err != nil {
		return fmt.Errorf("failed to publish anchor event: %w", err)
	}
	p.logger.Debug("anchor event published", "record_id", ev.RecordID, "to", ev.To)
	return nil
}

// Close flushes buffered messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
	p.logger.Info("NATS connection closed")
}
