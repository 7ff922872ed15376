// Package gt06 decodes the GT06 tracker protocol, a binary protocol framed
// as 0x78 0x78 | length | protocol number | body | serial | CRC-ITU |
// 0x0D 0x0A. The device identity travels only in the login frame, so data
// frames rely on the session to know which device they belong to.
package gt06

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"tracklink/decoder/internal/protocol"
)

const (
	startByte = 0x78
	stopByte1 = 0x0D
	stopByte2 = 0x0A

	// start(2) + length(1) + length-counted content + stop(2); the length
	// byte covers protocol number through CRC.
	frameOverhead = 5

	maxFrameLen = 261 // length byte caps content at 256
)

// GT06 message protocol numbers.
const (
	msgLogin     = 0x01
	msgLocation  = 0x12
	msgHeartbeat = 0x13
	msgAlarm     = 0x16
)

// GT06 alarm codes from the alarm/language word of an 0x16 report.
var alarmCodes = map[byte]string{
	0x01: "sos",
	0x02: "power_cut",
	0x04: "vibration",
	0x10: "fence_in",
	0x11: "fence_out",
	0x20: "low_battery",
	0x40: "overspeed",
}

// LocationPayload is the decoded content of an 0x12 location report.
type LocationPayload struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Speed      float64   `json:"speed"`
	Course     int       `json:"course"`
	Satellites int       `json:"satellites"`
	Fixed      bool      `json:"fixed"`
	Timestamp  time.Time `json:"timestamp"`
}

// HeartbeatPayload carries the device status from an 0x13 keep-alive.
type HeartbeatPayload struct {
	ACC             bool `json:"acc"`
	Charging        bool `json:"charging"`
	Defense         bool `json:"defense"`
	GPSTracking     bool `json:"gps_tracking"`
	OilDisconnected bool `json:"oil_disconnected"`
	VoltageLevel    int  `json:"voltage_level"`
	GSMSignal       int  `json:"gsm_signal"`
}

// AlarmPayload is an 0x16 report: a location plus the alarm that raised it.
type AlarmPayload struct {
	LocationPayload
	Alarm string `json:"alarm"`
}

type Decoder struct{}

func New() *Decoder { return &Decoder{} }

func (d *Decoder) Slug() string     { return "gt06" }
func (d *Decoder) MaxFrameLen() int { return maxFrameLen }

// Hint scans for the 0x78 0x78 start marker and sizes the frame from the
// length byte. Noise before the marker is skipped one candidate at a time.
func (d *Decoder) Hint(buf []byte) protocol.Hint {
	start := bytes.IndexByte(buf, startByte)
	if start < 0 {
		return protocol.Skip(len(buf))
	}
	if start > 0 {
		return protocol.Skip(start)
	}
	if len(buf) < 2 {
		return protocol.NeedMore(1)
	}
	if buf[1] != startByte {
		return protocol.Skip(1)
	}
	if len(buf) < 3 {
		return protocol.NeedMore(1)
	}
	total := frameOverhead + int(buf[2])
	if len(buf) < total {
		return protocol.NeedMore(total - len(buf))
	}
	return protocol.Ready(total)
}

func (d *Decoder) Decode(frame []byte, now time.Time) (*protocol.Decoded, error) {
	if len(frame) < frameOverhead+5 || frame[0] != startByte || frame[1] != startByte {
		return nil, fmt.Errorf("%w: not a gt06 frame", protocol.ErrMalformedField)
	}
	if frame[len(frame)-2] != stopByte1 || frame[len(frame)-1] != stopByte2 {
		return nil, fmt.Errorf("%w: missing 0x0D 0x0A stop bytes", protocol.ErrMalformedField)
	}

	length := int(frame[2])
	if frameOverhead+length != len(frame) || length < 5 {
		return nil, fmt.Errorf("%w: length byte %d does not match frame size %d",
			protocol.ErrMalformedField, length, len(frame))
	}

	proto := frame[3]
	body := frame[4 : len(frame)-6]
	serial := binary.BigEndian.Uint16(frame[len(frame)-6 : len(frame)-4])
	wireCRC := binary.BigEndian.Uint16(frame[len(frame)-4 : len(frame)-2])

	if got := crcITU(frame[2 : len(frame)-4]); got != wireCRC {
		err := fmt.Errorf("%w: got 0x%04X, frame carries 0x%04X", protocol.ErrChecksumMismatch, got, wireCRC)
		if proto == msgLogin {
			// A corrupt login leaves the session without an identity,
			// which is unrecoverable for this connection.
			return nil, &protocol.IdentityError{Err: err}
		}
		return nil, err
	}

	switch proto {
	case msgLogin:
		return d.decodeLogin(body, serial)
	case msgHeartbeat:
		return d.decodeHeartbeat(body, serial, now)
	case msgLocation:
		return d.decodeLocation(body)
	case msgAlarm:
		return d.decodeAlarm(body, serial)
	default:
		return nil, fmt.Errorf("%w: protocol number 0x%02X", protocol.ErrUnsupportedSubtype, proto)
	}
}

func (d *Decoder) decodeLogin(body []byte, serial uint16) (*protocol.Decoded, error) {
	if len(body) < 8 {
		return nil, &protocol.IdentityError{
			Err: fmt.Errorf("%w: login body has %d bytes, need 8", protocol.ErrMalformedField, len(body)),
		}
	}

	// The IMEI is BCD-packed into 8 bytes with a leading zero nibble.
	imei := strings.TrimPrefix(hex.EncodeToString(body[:8]), "0")

	return &protocol.Decoded{
		DeviceID: imei,
		Ack:      d.ack(msgLogin, serial),
	}, nil
}

func (d *Decoder) decodeHeartbeat(body []byte, serial uint16, now time.Time) (*protocol.Decoded, error) {
	if len(body) < 3 {
		return nil, fmt.Errorf("%w: heartbeat body has %d bytes, need 3", protocol.ErrMalformedField, len(body))
	}

	info := body[0]
	payload := HeartbeatPayload{
		Defense:         info&0x01 != 0,
		ACC:             info&0x02 != 0,
		Charging:        info&0x04 != 0,
		GPSTracking:     info&0x40 != 0,
		OilDisconnected: info&0x80 != 0,
		VoltageLevel:    int(body[1]),
		GSMSignal:       int(body[2]),
	}

	return &protocol.Decoded{
		Events: []protocol.Event{{
			Protocol:  d.Slug(),
			Type:      protocol.EventHeartbeat,
			Timestamp: now.UTC(),
			Payload:   payload,
		}},
		Ack: d.ack(msgHeartbeat, serial),
	}, nil
}

func (d *Decoder) decodeLocation(body []byte) (*protocol.Decoded, error) {
	payload, err := d.parseLocation(body)
	if err != nil {
		return nil, err
	}

	return &protocol.Decoded{
		Events: []protocol.Event{{
			Protocol:  d.Slug(),
			Type:      protocol.EventLocation,
			Timestamp: payload.Timestamp,
			Payload:   payload,
		}},
	}, nil
}

// decodeAlarm reuses the location layout; the alarm code sits in the
// next-to-last body byte (the last is the language), after the optional
// LBS block whose length varies by model.
func (d *Decoder) decodeAlarm(body []byte, serial uint16) (*protocol.Decoded, error) {
	payload, err := d.parseLocation(body)
	if err != nil {
		return nil, err
	}
	if len(body) < 20 {
		return nil, fmt.Errorf("%w: alarm body has %d bytes", protocol.ErrMalformedField, len(body))
	}

	code := body[len(body)-2]
	alarm, ok := alarmCodes[code]
	if !ok {
		alarm = fmt.Sprintf("unknown_0x%02x", code)
	}

	return &protocol.Decoded{
		Events: []protocol.Event{{
			Protocol:  d.Slug(),
			Type:      protocol.EventAlarm,
			Timestamp: payload.Timestamp,
			Payload:   AlarmPayload{LocationPayload: payload, Alarm: alarm},
		}},
		Ack: d.ack(msgAlarm, serial),
	}, nil
}

// Location block layout: datetime(6) gps-info(1) lat(4) lng(4) speed(1)
// course/status(2). Coordinates come scaled by 30000 minutes.
func (d *Decoder) parseLocation(body []byte) (LocationPayload, error) {
	if len(body) < 18 {
		return LocationPayload{}, fmt.Errorf("%w: location body has %d bytes, need 18",
			protocol.ErrMalformedField, len(body))
	}

	ts, err := parseDateTime(body[:6])
	if err != nil {
		return LocationPayload{}, err
	}

	satellites := int(body[6] & 0x0F)

	lat := float64(binary.BigEndian.Uint32(body[7:11])) / 30000.0 / 60.0
	lng := float64(binary.BigEndian.Uint32(body[11:15])) / 30000.0 / 60.0

	word := binary.BigEndian.Uint16(body[16:18])
	if word&0x0400 == 0 {
		lat = -lat // bit 10 clear: southern hemisphere
	}
	if word&0x0800 != 0 {
		lng = -lng // bit 11 set: western hemisphere
	}

	return LocationPayload{
		Lat:        lat,
		Lng:        lng,
		Speed:      float64(body[15]),
		Course:     int(word & 0x03FF),
		Satellites: satellites,
		Fixed:      word&0x1000 != 0,
		Timestamp:  ts,
	}, nil
}

func parseDateTime(b []byte) (time.Time, error) {
	year := 2000 + int(b[0])
	month := int(b[1])
	day := int(b[2])
	hour, minute, second := int(b[3]), int(b[4]), int(b[5])

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: datetime % X out of range", protocol.ErrMalformedField, b)
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), nil
}

// ack builds the server response: the protocol number and request serial
// echoed back inside a minimal frame.
func (d *Decoder) ack(proto byte, serial uint16) []byte {
	frame := []byte{startByte, startByte, 0x05, proto, byte(serial >> 8), byte(serial)}
	crc := crcITU(frame[2:])
	frame = append(frame, byte(crc>>8), byte(crc), stopByte1, stopByte2)
	return frame
}

// crcITU is the CRC-16/X-25 used by GT06: reflected 0x8408 polynomial,
// 0xFFFF initial value and final complement.
func crcITU(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}
