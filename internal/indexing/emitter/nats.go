package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	logger "log/slog"

	"github.com/nats-io/nats.go"

	"github.com/vietddude/chainscan/internal/core/domain"
)

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL               string        `yaml:"url" mapstructure:"url"`
	SubjectPrefix     string        `yaml:"subject_prefix" mapstructure:"subject_prefix"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	ReconnectAttempts int           `yaml:"reconnect_attempts" mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`
}

// NATSEmitter publishes events as JSON on "<prefix>.<chain>.<event type>".
type NATSEmitter struct {
	conn   *nats.Conn
	prefix string
	log    logger.Logger
}

// NewNATSEmitter connects to NATS.
func NewNATSEmitter(cfg NATSConfig) (*NATSEmitter, error) {
	log := *logger.Default()
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "chainscan"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name("chainscan"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectDelay),
		nats.MaxReconnects(cfg.ReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("Connected to NATS", "url", conn.ConnectedUrl())

	return &NATSEmitter{conn: conn, prefix: cfg.SubjectPrefix, log: log}, nil
}

// Subject returns the subject an event is published on.
func Subject(prefix string, event *domain.Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, event.Chain, event.EventType)
}

func (e *NATSEmitter) Emit(ctx context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := e.conn.Publish(Subject(e.prefix, event), payload); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (e *NATSEmitter) Close() error {
	return e.conn.Drain()
}
