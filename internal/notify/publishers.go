package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig configures a NATS connection.
type NATSConfig struct {
	URL           string
	ClientName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NATSPublisher publishes to NATS subjects named after channels. The event
// name travels in the "Event" header.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// ConnectNATS dials the NATS server in cfg.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a connected publisher or a non-nil error.
func ConnectNATS(cfg NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}
	logger.Info("connected to nats", zap.String("url", cfg.URL))
	return NewNATSPublisher(nc, cfg.SubjectPrefix), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn, subjectPrefix string) *NATSPublisher {
	return &NATSPublisher{conn: nc, prefix: subjectPrefix}
}

// Publish sends payload and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, channel, event string, payload []byte) error {
	msg := nats.NewMsg(p.prefix + channel)
	msg.Header.Set("Event", event)
	msg.Data = payload
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", msg.Subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// LogPublisher writes notifications to the log. It stands in for a real
// broker in development.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the message at debug level.
func (p *LogPublisher) Publish(_ context.Context, channel, event string, payload []byte) error {
	p.logger.Debug("battle notification",
		zap.String("channel", channel),
		zap.String("event", event),
		zap.Int("bytes", len(payload)),
	)
	return nil
}
