// Package events publishes verdicts to NATS for downstream consumers.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/veil-waf/veil-netflow/internal/db"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// Publisher sends each verdict as JSON on <subject>.<operation>, for example
// verdicts.flow.binary.
type Publisher struct {
	conn    Conn
	subject string
	logger  *slog.Logger
}

// Connect dials url and returns a Publisher on subject.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("veil-netflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("connected to nats", "url", url, "subject", subject)
	return NewPublisher(nc, subject, logger), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, subject string, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, subject: subject, logger: logger}
}

// Subject returns the subject a verdict of operation is published on.
func (p *Publisher) Subject(operation string) string {
	return p.subject + "." + operation
}

// Publish sends one verdict. NATS buffers while reconnecting, so an error
// here means the connection is closed or the buffer is full.
func (p *Publisher) Publish(v *db.VerdictEntry) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	if err := p.conn.Publish(p.Subject(v.Operation), data); err != nil {
		return fmt.Errorf("publish verdict %s: %w", v.ID, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", "err", err)
	}
}
