package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesync/go/internal/timer"
)

// NATSConfig holds the connection settings for the optional NATS status feed.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns the default NATS publisher configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "timer.status",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSPublisher mirrors every status broadcast onto a NATS subject per access
// code, so other processes can follow timers without holding an HTTP stream.
// It implements timer.Broadcaster and is composed with the hub via
// timer.MultiBroadcaster.
type NATSPublisher struct {
	nc            *nats.Conn
	subjectPrefix string
}

func NewNATSPublisher(config NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSPublisher{
		nc:            nc,
		subjectPrefix: config.SubjectPrefix,
	}, nil
}

// Broadcast publishes the status payload. Failures are logged, never surfaced:
// the NATS feed degrades delivery, not control operations.
func (p *NATSPublisher) Broadcast(accessCode string, status timer.Status) {
	payload, err := json.Marshal(status)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal status for NATS")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, accessCode)
	if err := p.nc.Publish(subject, payload); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to publish status to NATS")
	}
}

// Close flushes pending publishes and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("failed to drain NATS connection")
	}
}
