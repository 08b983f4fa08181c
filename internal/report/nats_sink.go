package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// publisher is the subset of *nats.Conn used by NATSSink
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every report as JSON on a NATS subject
type NATSSink struct {
	conn    *nats.Conn
	pub     publisher
	subject string
}

// NewNATSSink connects to the NATS server at url
func NewNATSSink(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("ccs-service"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return &NATSSink{conn: nc, pub: nc, subject: subject}, nil
}

// Name implements Sink
func (s *NATSSink) Name() string { return "nats" }

// Emit implements Sink
func (s *NATSSink) Emit(_ context.Context, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("failed to publish report on %s: %w", s.subject, err)
	}
	return nil
}

// Close flushes pending reports and closes the connection
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
