// Package relay republishes ingested faults on NATS, one subject per severity.
package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"faultgate/internal/fault"

	"github.com/nats-io/nats.go"
)

// DefaultSubject prefixes every relayed fault
const DefaultSubject = "faultgate.faults"

// Connect dials the NATS server at url with reconnects enabled
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")

	nc, err := nats.Connect(url,
		nats.Name("faultgate"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Publisher implements storage.Recorder on top of a NATS connection
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewPublisher creates a publisher. An empty subject uses DefaultSubject.
func NewPublisher(conn *nats.Conn, subject string, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With("component", "relay"),
	}
}

// Record publishes msg on <subject>.<severity>
func (p *Publisher) Record(msg json.RawMessage) bool {
	subject := SubjectFor(p.subject, msg)
	if err := p.conn.Publish(subject, msg); err != nil {
		p.logger.Error("Failed to publish fault", "subject", subject, "error", err)
		return false
	}
	p.logger.Debug("Fault published", "subject", subject)
	return true
}

// Name implements storage.Namer
func (p *Publisher) Name() string {
	return "nats"
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

// SubjectFor returns prefix.<severity>, or prefix.unknown when the message
// carries no usable severity.
func SubjectFor(prefix string, msg json.RawMessage) string {
	return prefix + "." + subjectToken(fault.Severity(msg))
}

func subjectToken(severity string) string {
	if severity == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, severity)
}
