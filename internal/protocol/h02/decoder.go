// Package h02 decodes the H02 tracker protocol, an ASCII protocol where
// every frame is delimited by the "*HQ" vendor prefix and a '#' terminator,
// with comma-separated fields in between.
package h02

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"tracklink/decoder/internal/protocol"
)

const (
	framePrefix = "*HQ"
	frameSuffix = byte('#')

	// More than enough for any H02 frame; anything longer is not a
	// tracking device.
	maxFrameLen = 512
)

// H02 message type identifiers.
const (
	msgLocation  = "V1"
	msgAlarm     = "V2"
	msgHeartbeat = "HTBT"
)

// H02 alarm codes sent in the trailing field of a V2 report.
var alarmCodes = map[string]string{
	"0": "sos",
	"1": "power_cut",
	"2": "low_battery",
	"3": "overspeed",
	"4": "geofence",
}

type Decoder struct{}

func New() *Decoder { return &Decoder{} }

func (d *Decoder) Slug() string     { return "h02" }
func (d *Decoder) MaxFrameLen() int { return maxFrameLen }

// Hint scans for the '*' start marker and the '#' terminator. Bytes before
// the start marker are line noise and get skipped.
func (d *Decoder) Hint(buf []byte) protocol.Hint {
	start := bytes.IndexByte(buf, '*')
	if start < 0 {
		return protocol.Skip(len(buf))
	}
	if start > 0 {
		return protocol.Skip(start)
	}
	end := bytes.IndexByte(buf, frameSuffix)
	if end < 0 {
		return protocol.NeedMore(1)
	}
	return protocol.Ready(end + 1)
}

// Decode parses one complete *HQ...# frame. Every H02 frame carries the
// device IMEI as its first field, so identity resolves on the first frame.
func (d *Decoder) Decode(frame []byte, now time.Time) (*protocol.Decoded, error) {
	if len(frame) < len(framePrefix)+2 || frame[len(frame)-1] != frameSuffix {
		return nil, fmt.Errorf("%w: not a *HQ...# frame", protocol.ErrMalformedField)
	}
	if !bytes.HasPrefix(frame, []byte(framePrefix)) {
		return nil, fmt.Errorf("%w: missing %s prefix", protocol.ErrMalformedField, framePrefix)
	}

	inner := string(frame[len(framePrefix) : len(frame)-1])

	var parts []string
	for _, p := range strings.Split(inner, ",") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: cannot read message type", protocol.ErrMalformedField)
	}

	imei := parts[0]
	if imei == "" {
		return nil, fmt.Errorf("%w: empty imei field", protocol.ErrMalformedField)
	}

	switch parts[1] {
	case msgLocation:
		return d.decodeLocation(imei, parts)
	case msgAlarm:
		return d.decodeAlarm(imei, parts)
	case msgHeartbeat:
		return d.decodeHeartbeat(imei, now)
	default:
		return nil, fmt.Errorf("%w: %q", protocol.ErrUnsupportedSubtype, parts[1])
	}
}

func (d *Decoder) decodeLocation(imei string, parts []string) (*protocol.Decoded, error) {
	payload, err := parseLocation(parts)
	if err != nil {
		return nil, err
	}

	return &protocol.Decoded{
		DeviceID: imei,
		Events: []protocol.Event{{
			DeviceID:  imei,
			Protocol:  d.Slug(),
			Type:      protocol.EventLocation,
			Timestamp: payload.Timestamp,
			Payload:   payload,
		}},
	}, nil
}

// decodeAlarm handles V2 reports: the V1 location layout with an alarm code
// appended. Trackers that omit the code still raised an alarm, so the code
// falls back to "unspecified".
func (d *Decoder) decodeAlarm(imei string, parts []string) (*protocol.Decoded, error) {
	location, err := parseLocation(parts)
	if err != nil {
		return nil, err
	}

	alarm := "unspecified"
	if len(parts) > 12 {
		if name, ok := alarmCodes[parts[12]]; ok {
			alarm = name
		} else {
			alarm = "unknown_" + parts[12]
		}
	}

	return &protocol.Decoded{
		DeviceID: imei,
		Events: []protocol.Event{{
			DeviceID:  imei,
			Protocol:  d.Slug(),
			Type:      protocol.EventAlarm,
			Timestamp: location.Timestamp,
			Payload:   AlarmPayload{LocationPayload: *location, Alarm: alarm},
		}},
	}, nil
}

func (d *Decoder) decodeHeartbeat(imei string, now time.Time) (*protocol.Decoded, error) {
	return &protocol.Decoded{
		DeviceID: imei,
		Events: []protocol.Event{{
			DeviceID:  imei,
			Protocol:  d.Slug(),
			Type:      protocol.EventHeartbeat,
			Timestamp: now.UTC(),
			Payload:   HeartbeatPayload{IMEI: imei},
		}},
	}, nil
}
