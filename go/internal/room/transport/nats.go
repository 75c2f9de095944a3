package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds connection settings for NATS.
type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS connection settings
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "planning-poker",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// ConnectNATS dials NATS with reconnect handling and logging.
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSChannel fans messages out over core NATS subjects.
type NATSChannel struct {
	nc *nats.Conn
}

func NewNATSChannel(nc *nats.Conn) *NATSChannel {
	return &NATSChannel{nc: nc}
}

var subjectReplacer = strings.NewReplacer(":", ".", "*", "_", ">", "_", " ", "_", "\t", "_")

// Subject maps a channel name such as planning-poker:abc to planning-poker.abc.
func Subject(channel string) string {
	return subjectReplacer.Replace(channel)
}

func (c *NATSChannel) Publish(_ context.Context, channel string, data []byte) error {
	if err := c.nc.Publish(Subject(channel), data); err != nil {
		return fmt.Errorf("publish to %s: %w", Subject(channel), err)
	}
	return nil
}

func (c *NATSChannel) Subscribe(_ context.Context, channel string, handler Handler) (Subscription, error) {
	sub, err := c.nc.Subscribe(Subject(channel), func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", Subject(channel), err)
	}
	return subscriptionFunc(sub.Unsubscribe), nil
}
