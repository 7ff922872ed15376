package gt06

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"tracklink/decoder/internal/protocol"
)

var receiptTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// buildFrame assembles a well-formed GT06 frame around body.
func buildFrame(t *testing.T, proto byte, body []byte, serial uint16) []byte {
	t.Helper()

	frame := []byte{startByte, startByte, byte(len(body) + 5), proto}
	frame = append(frame, body...)
	frame = append(frame, byte(serial>>8), byte(serial))
	crc := crcITU(frame[2:])
	frame = append(frame, byte(crc>>8), byte(crc), stopByte1, stopByte2)
	return frame
}

// locationBody encodes 2020-05-13 13:38:15, 9 satellites, 22.5N 114.0E,
// 60 km/h, course 90, gps fixed.
func locationBody() []byte {
	body := []byte{20, 5, 13, 13, 38, 15, 0xC9}
	body = binary.BigEndian.AppendUint32(body, uint32(22.5*60*30000))
	body = binary.BigEndian.AppendUint32(body, uint32(114.0*60*30000))
	body = append(body, 60)
	// bit 12 fixed, bit 10 north, course 90
	body = binary.BigEndian.AppendUint16(body, 0x1400|90)
	return body
}

func TestDecodeLogin(t *testing.T) {
	imei := []byte{0x08, 0x65, 0x20, 0x50, 0x30, 0x33, 0x00, 0x11}
	frame := buildFrame(t, msgLogin, imei, 0x0003)

	decoded, err := New().Decode(frame, receiptTime)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded.DeviceID != "865205030330011" {
		t.Errorf("DeviceID = %q, want BCD imei without leading zero", decoded.DeviceID)
	}
	if len(decoded.Events) != 0 {
		t.Errorf("login produced %d events, want 0", len(decoded.Events))
	}

	// The ack echoes the protocol number and request serial.
	want := buildFrame(t, msgLogin, nil, 0x0003)
	if !bytes.Equal(decoded.Ack, want) {
		t.Errorf("Ack = % X, want % X", decoded.Ack, want)
	}
}

func TestDecodeHeartbeat(t *testing.T) {
	// gps tracking + charging + acc set
	frame := buildFrame(t, msgHeartbeat, []byte{0x46, 0x04, 0x03, 0x00, 0x01}, 0x0010)

	decoded, err := New().Decode(frame, receiptTime)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded.DeviceID != "" {
		t.Errorf("DeviceID = %q, heartbeat carries no identity", decoded.DeviceID)
	}
	if decoded.Ack == nil {
		t.Error("heartbeat not acked")
	}

	ev := decoded.Events[0]
	if ev.Type != protocol.EventHeartbeat || ev.DeviceID != "" {
		t.Errorf("event = %+v", ev)
	}
	if !ev.Timestamp.Equal(receiptTime) {
		t.Errorf("Timestamp = %v, want receipt time", ev.Timestamp)
	}

	payload := ev.Payload.(HeartbeatPayload)
	if !payload.GPSTracking || !payload.Charging || !payload.ACC {
		t.Errorf("terminal info flags = %+v", payload)
	}
	if payload.Defense || payload.OilDisconnected {
		t.Errorf("unset flags reported: %+v", payload)
	}
	if payload.VoltageLevel != 4 || payload.GSMSignal != 3 {
		t.Errorf("voltage/gsm = %d/%d", payload.VoltageLevel, payload.GSMSignal)
	}
}

func TestDecodeLocation(t *testing.T) {
	frame := buildFrame(t, msgLocation, locationBody(), 0x0021)

	decoded, err := New().Decode(frame, receiptTime)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded.Ack != nil {
		t.Errorf("location frames are not acked, got % X", decoded.Ack)
	}

	ev := decoded.Events[0]
	if ev.Type != protocol.EventLocation || ev.Protocol != "gt06" {
		t.Errorf("event envelope = %+v", ev)
	}

	payload := ev.Payload.(LocationPayload)
	if payload.Lat != 22.5 || payload.Lng != 114.0 {
		t.Errorf("coordinates = %v, %v, want 22.5, 114.0", payload.Lat, payload.Lng)
	}
	if payload.Speed != 60 || payload.Course != 90 || payload.Satellites != 9 || !payload.Fixed {
		t.Errorf("payload = %+v", payload)
	}

	want := time.Date(2020, 5, 13, 13, 38, 15, 0, time.UTC)
	if !payload.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", payload.Timestamp, want)
	}
}

func TestDecodeLocationSouthWest(t *testing.T) {
	body := locationBody()
	// clear north bit, set west bit
	binary.BigEndian.PutUint16(body[16:18], 0x1800|90)
	frame := buildFrame(t, msgLocation, body, 0x0021)

	decoded, err := New().Decode(frame, receiptTime)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}

	payload := decoded.Events[0].Payload.(LocationPayload)
	if payload.Lat != -22.5 || payload.Lng != -114.0 {
		t.Errorf("coordinates = %v, %v, want -22.5, -114.0", payload.Lat, payload.Lng)
	}
}

func TestDecodeAlarm(t *testing.T) {
	body := append(locationBody(), 0x46, 0x04, 0x03, 0x01, 0x01) // alarm 0x01 = sos
	frame := buildFrame(t, msgAlarm, body, 0x0030)

	decoded, err := New().Decode(frame, receiptTime)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded.Ack == nil {
		t.Error("alarm not acked")
	}

	ev := decoded.Events[0]
	if ev.Type != protocol.EventAlarm {
		t.Fatalf("Type = %v", ev.Type)
	}
	payload := ev.Payload.(AlarmPayload)
	if payload.Alarm != "sos" {
		t.Errorf("Alarm = %q, want sos", payload.Alarm)
	}
	if payload.Lat != 22.5 {
		t.Errorf("Lat = %v", payload.Lat)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	frame := buildFrame(t, msgLocation, locationBody(), 0x0021)
	frame[10] ^= 0xFF

	decoded, err := New().Decode(frame, receiptTime)
	if !errors.Is(err, protocol.ErrChecksumMismatch) {
		t.Fatalf("Decode() error = %v, want ErrChecksumMismatch", err)
	}
	if decoded != nil {
		t.Error("corrupted frame produced a result")
	}
	if protocol.IsIdentityCritical(err) {
		t.Error("corrupt location frame must not be identity-critical")
	}
}

func TestDecodeCorruptLoginIsIdentityCritical(t *testing.T) {
	frame := buildFrame(t, msgLogin, []byte{0x08, 0x65, 0x20, 0x50, 0x30, 0x33, 0x00, 0x11}, 0x0003)
	frame[5] ^= 0xFF

	_, err := New().Decode(frame, receiptTime)
	if !errors.Is(err, protocol.ErrChecksumMismatch) {
		t.Fatalf("Decode() error = %v, want ErrChecksumMismatch", err)
	}
	if !protocol.IsIdentityCritical(err) {
		t.Error("corrupt login frame must be identity-critical")
	}
}

func TestDecodeUnsupportedSubtype(t *testing.T) {
	frame := buildFrame(t, 0x8A, []byte{0x00}, 0x0001)

	_, err := New().Decode(frame, receiptTime)
	if !errors.Is(err, protocol.ErrUnsupportedSubtype) {
		t.Fatalf("Decode() error = %v, want ErrUnsupportedSubtype", err)
	}
}

func TestHint(t *testing.T) {
	d := New()
	frame := buildFrame(t, msgHeartbeat, []byte{0x46, 0x04, 0x03, 0x00, 0x01}, 0x0010)

	tests := []struct {
		name string
		buf  []byte
		want protocol.Hint
	}{
		{"pure noise", []byte{0x01, 0x02, 0x03}, protocol.Skip(3)},
		{"noise before start", append([]byte{0x00, 0x00}, frame...), protocol.Skip(2)},
		{"lone start byte", []byte{startByte}, protocol.NeedMore(1)},
		{"false start", []byte{startByte, 0x00, startByte}, protocol.Skip(1)},
		{"no length yet", []byte{startByte, startByte}, protocol.NeedMore(1)},
		{"partial frame", frame[:6], protocol.NeedMore(len(frame) - 6)},
		{"complete frame", frame, protocol.Ready(len(frame))},
		{"frame plus tail", append(append([]byte{}, frame...), 0x78), protocol.Ready(len(frame))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Hint(tt.buf); got != tt.want {
				t.Errorf("Hint(% X) = %+v, want %+v", tt.buf, got, tt.want)
			}
		})
	}
}

func TestCRCITU(t *testing.T) {
	// Known CRC-16/X-25 check value for "123456789".
	if got := crcITU([]byte("123456789")); got != 0x906E {
		t.Errorf("crcITU = 0x%04X, want 0x906E", got)
	}
}
