package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject events are published on.
const DefaultSubject = "pawl.events"

// NATSConfig configures a NATSBus.
type NATSConfig struct {
	URL     string
	Subject string
	Name    string // client connection name
	Logger  *slog.Logger
}

// NATSBus publishes events as JSON on a NATS subject and delivers events
// published by other processes on that subject to local subscribers. Local
// subscribers also see locally published events; the connection is opened
// with NoEcho so those are not delivered twice.
type NATSBus struct {
	local   *InMemoryBus
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  *slog.Logger
}

// NewNATSBus connects to cfg.URL and subscribes to cfg.Subject.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Name == "" {
		cfg.Name = "pawl"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.NoEcho(),
		nats.Timeout(5*time.Second),
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
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}

	b := &NATSBus{
		local:   NewInMemoryBus(),
		conn:    conn,
		subject: cfg.Subject,
		logger:  logger,
	}
	b.sub, err = conn.Subscribe(cfg.Subject, b.receive)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats: subscribe %s: %w", cfg.Subject, err)
	}
	return b, nil
}

func (b *NATSBus) receive(msg *nats.Msg) {
	ev, err := decodeEvent(msg.Data)
	if err != nil {
		b.logger.Warn("nats: dropping undecodable event", "subject", msg.Subject, "err", err)
		return
	}
	if err := b.local.Publish(context.Background(), ev); err != nil {
		b.logger.Warn("nats: local delivery failed", "event", ev.Type, "err", err)
	}
}

// Publish delivers ev locally, then sends it on the subject.
func (b *NATSBus) Publish(ctx context.Context, ev *Event) error {
	localErr := b.local.Publish(ctx, ev)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: marshal event: %w", err)
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", b.subject, err)
	}
	return localErr
}

// Subscribe registers a local handler for local and remote events.
func (b *NATSBus) Subscribe(handler Handler) (unsubscribe func()) {
	return b.local.Subscribe(handler)
}

// History returns recently seen events, local and remote.
func (b *NATSBus) History(limit int) ([]*Event, error) {
	return b.local.History(limit)
}

// Close drains the subscription and closes the connection.
func (b *NATSBus) Close() error {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("nats: drain: %w", err)
	}
	return nil
}

func decodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event has no type")
	}
	return &ev, nil
}
