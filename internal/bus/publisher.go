// Package bus publishes bridge events to NATS.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/saker-ai/julius-bridge/internal/config"
	"github.com/saker-ai/julius-bridge/internal/protocol"
)

const defaultPrefix = "julius"

// Publisher wraps a NATS connection.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// Connect dials the configured servers.
func Connect(ctx context.Context, cfg config.BusConfig, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	options := []nats.Option{
		nats.Name("julius-bridge"),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", conn.ConnectedUrl()))
		}),
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if prefix == "" {
		prefix = defaultPrefix
	}
	logger.Info("connected to NATS", zap.String("servers", url), zap.String("prefix", prefix))
	return &Publisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(event protocol.Event) string {
	switch event.Type {
	case protocol.EventSentence:
		return p.prefix + ".sentence"
	case protocol.EventDocument:
		tag := strings.ToLower(event.Tag)
		if tag == "" {
			tag = "unknown"
		}
		return p.prefix + ".document." + tag
	default:
		return p.prefix + "." + event.Type
	}
}

// Publish sends event as JSON.
func (p *Publisher) Publish(event protocol.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(event), data); err != nil {
		return fmt.Errorf("publish %s: %w", p.Subject(event), err)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.logger.Info("closing NATS connection")
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
