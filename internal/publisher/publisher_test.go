package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tracklink/decoder/internal/protocol"
)

// flakyBroker fails the first failures calls, then accepts everything.
type flakyBroker struct {
	failures int
	calls    int
	subjects []string
	bodies   [][]byte
}

func (b *flakyBroker) Publish(subject string, data []byte) error {
	b.calls++
	if b.calls <= b.failures {
		return errors.New("broker unavailable")
	}
	b.subjects = append(b.subjects, subject)
	b.bodies = append(b.bodies, data)
	return nil
}

func testEvent() protocol.Event {
	return protocol.Event{
		DeviceID:  "865012345678901",
		Protocol:  "h02",
		Type:      protocol.EventLocation,
		Timestamp: time.Date(2020, 5, 13, 13, 38, 15, 0, time.UTC),
		Payload:   map[string]float64{"lat": 22.5, "lng": 114.0},
	}
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	broker := &flakyBroker{failures: 2}
	pub := New(broker, 5, time.Millisecond)

	if err := pub.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	if broker.calls != 3 {
		t.Errorf("broker saw %d attempts, want 3 (two retries)", broker.calls)
	}
	if len(broker.subjects) != 1 {
		t.Fatalf("delivered %d messages, want exactly 1", len(broker.subjects))
	}
	if broker.subjects[0] != "h02.location.865012345678901" {
		t.Errorf("subject = %q", broker.subjects[0])
	}

	var envelope struct {
		DeviceID  string    `json:"device_id"`
		Protocol  string    `json:"protocol"`
		EventType string    `json:"event_type"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(broker.bodies[0], &envelope); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if envelope.DeviceID != "865012345678901" || envelope.Protocol != "h02" || envelope.EventType != "location" {
		t.Errorf("envelope = %+v", envelope)
	}
}

func TestPublishExhausted(t *testing.T) {
	broker := &flakyBroker{failures: 100}
	pub := New(broker, 3, time.Millisecond)

	err := pub.Publish(context.Background(), testEvent())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Publish() error = %v, want ErrExhausted", err)
	}
	if broker.calls != 3 {
		t.Errorf("broker saw %d attempts, want the configured ceiling of 3", broker.calls)
	}
}

func TestPublishStopsOnCancel(t *testing.T) {
	broker := &flakyBroker{failures: 100}
	pub := New(broker, 10, time.Hour) // backoff long enough to never elapse

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Publish(ctx, testEvent()) }()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Publish() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Publish() did not return after cancellation")
	}

	if broker.calls != 1 {
		t.Errorf("broker saw %d attempts after cancel, want 1", broker.calls)
	}
}
