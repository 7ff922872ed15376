package protocol

import (
	"fmt"
	"time"
)

// EventType is the canonical category of a decoded tracker event.
// Values are lowercase because they become routing key tokens.
type EventType string

const (
	EventLocation     EventType = "location"
	EventHeartbeat    EventType = "heartbeat"
	EventAlarm        EventType = "alarm"
	EventStatusChange EventType = "status_change"
)

// Event is the canonical decoded unit produced by a protocol decoder.
// Events are constructed once by the decoder and never mutated after.
type Event struct {
	// DeviceID is the tracker hardware identifier (usually the IMEI).
	DeviceID string `json:"device_id"`

	// Protocol is the slug of the decoder that produced the event.
	Protocol string `json:"protocol"`

	// Type of the event (location, heartbeat, alarm, ...).
	Type EventType `json:"event_type"`

	// Timestamp is the device time when the frame carries one,
	// otherwise the receipt time. Always UTC.
	Timestamp time.Time `json:"timestamp"`

	// Payload holds the event-type-specific decoded content.
	Payload interface{} `json:"payload"`
}

// RoutingKey returns the broker subject for the event:
// <protocol_slug>.<event_type>.<device_id>, e.g. "h02.location.865...901".
// Consumers bind with wildcards such as "h02.*.*" or "*.location.*".
func (e Event) RoutingKey() string {
	return fmt.Sprintf("%s.%s.%s", e.Protocol, e.Type, e.DeviceID)
}
