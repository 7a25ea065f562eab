package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/modset/internal/logfields"
)

// NATSPublisher publishes build events to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the NATS server at url and publishes to
// subject.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("events subject is required")
	}
	conn, err := nats.Connect(url,
		nats.Name("modset-coordinator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	slog.Info("NATS event publisher connected",
		slog.String("url", conn.ConnectedUrl()),
		slog.String("subject", subject))
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Publish emits one event. The timestamp is stamped here so callers do
// not have to.
func (p *NATSPublisher) Publish(event BuildEvent) error {
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal build event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish build event: %w", err)
	}

	slog.Debug("Published build event",
		slog.String("event", string(event.Type)),
		logfields.JobID(event.JobID))
	return nil
}

// Close drains the connection so queued events flush before shutdown.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
