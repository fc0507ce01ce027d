// Package publisher implements the broker's publisher client: a
// configurable-rate event generator that dials the broker's ingress port
// and streams BrokerMessage{EVENT} frames, pacing sends with
// golang.org/x/time/rate.
package publisher

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"eventbroker/internal/model"
	"eventbroker/internal/wire"
)

// Generator produces the next event to publish. Implementations are
// expected to vary payloads so subscriptions exercised in testing see a
// realistic mix of categories and field values.
type Generator interface {
	Next() model.Event
}

// Config configures a publisher client.
type Config struct {
	BrokerAddr   string
	EventsPerSec float64
}

// Client publishes events at a configured rate until ctx is cancelled. A failed send drops the event and increments SendErrors;
// there are no retries.
type Client struct {
	conn      net.Conn
	limiter   *rate.Limiter
	log       zerolog.Logger
	generator Generator

	EventsSent atomic.Int64
	SendErrors atomic.Int64
}

// New dials the broker's publisher ingress port.
func New(cfg Config, generator Generator, log zerolog.Logger) (*Client, error) {
	conn, err := net.Dial("tcp", cfg.BrokerAddr)
	if err != nil {
		return nil, fmt.Errorf("publisher: dial ingress port: %w", err)
	}
	return &Client{
		conn:      conn,
		limiter:   rate.NewLimiter(rate.Limit(cfg.EventsPerSec), maxBurst(cfg.EventsPerSec)),
		log:       log.With().Str("component", "publisher").Logger(),
		generator: generator,
	}, nil
}

func maxBurst(eventsPerSec float64) int {
	burst := int(eventsPerSec)
	if burst < 1 {
		burst = 1
	}
	return burst
}

// Run blocks, generating and sending events at the configured rate until
// ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil // context cancelled
		}

		ev := c.generator.Next()
		if ev.EventID == "" {
			ev.EventID = uuid.NewString()
		}
		ev.Timestamp = time.Now().UnixMilli()

		if err := c.send(ev); err != nil {
			c.SendErrors.Add(1)
			c.log.Warn().Err(err).Msg("publisher: send failed, dropping event")
			continue
		}
		c.EventsSent.Add(1)
	}
}

func (c *Client) send(ev model.Event) error {
	return wire.WriteMessage(c.conn, wire.BrokerMessage{
		MessageID: uuid.NewString(),
		Timestamp: ev.Timestamp,
		Type:      wire.MessageTypeEvent,
		Event:     &ev,
	})
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
