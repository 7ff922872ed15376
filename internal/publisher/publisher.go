// Package publisher hands decoded tracker events to the message broker.
// Events go out as JSON on the subject <protocol>.<event_type>.<device_id>,
// so consumers can bind wildcard patterns like "h02.*.*" or "*.location.*".
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"tracklink/decoder/internal/protocol"
)

// ErrExhausted means every publish attempt failed and the event is lost.
// Callers log and drop: a tracker event has no natural re-delivery once
// the device has moved on.
var ErrExhausted = errors.New("publish retries exhausted")

const maxBackoff = 5 * time.Second

// broker is the slice of nats.Conn the publisher needs; tests substitute a
// function-backed fake.
type broker interface {
	Publish(subject string, data []byte) error
}

// Publisher serializes events and publishes them with bounded exponential
// backoff. It is shared by every connection session; each session retries
// on its own goroutine, so one session's backoff never blocks another.
type Publisher struct {
	conn        broker
	nc          *nats.Conn
	maxAttempts int
	backoffBase time.Duration
}

// Connect dials the broker. With startupFatal the caller gets the dial
// error immediately; otherwise the connection is established in the
// background and publishes buffer until it is up. Reconnection after a
// drop is handled inside the nats client in both cases.
func Connect(url string, maxAttempts int, backoffBase time.Duration, startupFatal bool) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("tracklink-decoder"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("[pub] broker disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[pub] broker reconnected: %s", nc.ConnectedUrl())
		}),
	}
	if !startupFatal {
		opts = append(opts, nats.RetryOnFailedConnect(true))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("broker connect: %w", err)
	}
	log.Printf("[pub] connected to broker at %s", url)

	return &Publisher{conn: nc, nc: nc, maxAttempts: maxAttempts, backoffBase: backoffBase}, nil
}

// New wraps an existing broker connection; used by tests.
func New(conn broker, maxAttempts int, backoffBase time.Duration) *Publisher {
	return &Publisher{conn: conn, maxAttempts: maxAttempts, backoffBase: backoffBase}
}

// Publish sends one event under its routing key. Transient broker failures
// are retried with doubling delays up to the attempt ceiling; the ceiling
// surfaces as ErrExhausted. Context cancellation stops the retry loop.
func (p *Publisher) Publish(ctx context.Context, ev protocol.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serialize %s event: %w", ev.Type, err)
	}

	subject := ev.RoutingKey()
	delay := p.backoffBase

	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if delay *= 2; delay > maxBackoff {
				delay = maxBackoff
			}
		}

		if lastErr = p.conn.Publish(subject, body); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %v", ErrExhausted, subject, p.maxAttempts, lastErr)
}

// Close flushes buffered messages and drops the broker connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		log.Printf("[pub] drain: %v", err)
		p.nc.Close()
	}
}
