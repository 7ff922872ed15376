package h02

import (
	"fmt"
	"strconv"
	"time"

	"tracklink/decoder/internal/protocol"
)

// LocationPayload is the decoded content of a V1 location report.
type LocationPayload struct {
	// Latitude in decimal degrees (-90..90).
	Lat float64 `json:"lat"`

	// Longitude in decimal degrees (-180..180).
	Lng float64 `json:"lng"`

	// Speed in km/h (the wire carries knots).
	Speed float64 `json:"speed"`

	// Vehicle and tracker status flags.
	Status Status `json:"status"`

	// Direction in degrees, 0 = north.
	Direction int `json:"direction"`

	// Device date and time sent by the tracker, UTC.
	Timestamp time.Time `json:"timestamp"`
}

// HeartbeatPayload is the content of an HTBT keep-alive.
type HeartbeatPayload struct {
	IMEI string `json:"imei"`
}

// AlarmPayload is a V2 report: a location plus the alarm that triggered it.
type AlarmPayload struct {
	LocationPayload
	Alarm string `json:"alarm"`
}

// V1/V2 field layout after splitting on commas:
// imei, type, hhmmss, validity, lat, N/S, lng, E/W, speed, direction,
// ddmmyy, status[, alarm]
func parseLocation(parts []string) (*LocationPayload, error) {
	if len(parts) < 12 {
		return nil, fmt.Errorf("%w: incomplete location message (%d fields)",
			protocol.ErrMalformedField, len(parts))
	}

	if parts[3] != "A" {
		// "V" means the GPS module has no fix; the report carries no
		// usable position.
		return nil, fmt.Errorf("%w: data valid bit is %q, no gps fix",
			protocol.ErrMalformedField, parts[3])
	}

	lat, err := parseCoordinate(parts[4], 2)
	if err != nil {
		return nil, err
	}
	if parts[5] == "S" || parts[5] == "s" {
		lat = -lat
	}

	lng, err := parseCoordinate(parts[6], 3)
	if err != nil {
		return nil, err
	}
	if parts[7] == "W" || parts[7] == "w" {
		lng = -lng
	}

	knots, err := strconv.ParseFloat(parts[8], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: speed %q", protocol.ErrMalformedField, parts[8])
	}

	direction, err := strconv.Atoi(parts[9])
	if err != nil {
		return nil, fmt.Errorf("%w: direction %q", protocol.ErrMalformedField, parts[9])
	}

	ts, err := parseTimestamp(parts[10], parts[2])
	if err != nil {
		return nil, err
	}

	status, err := parseStatus(parts[11])
	if err != nil {
		return nil, err
	}

	return &LocationPayload{
		Lat:       lat,
		Lng:       lng,
		Speed:     knots * 1.852,
		Status:    status,
		Direction: direction,
		Timestamp: ts,
	}, nil
}

// parseCoordinate converts the H02 degree-minute format to decimal degrees.
// The first degreeDigits characters are whole degrees, the rest is minutes:
// "2027.93290" -> 20 degrees + 27.93290 minutes = 20.465548.
func parseCoordinate(s string, degreeDigits int) (float64, error) {
	if len(s) < degreeDigits {
		return 0, fmt.Errorf("%w: coordinate %q has fewer than %d degree digits",
			protocol.ErrMalformedField, s, degreeDigits)
	}

	degrees, err := strconv.ParseFloat(s[:degreeDigits], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: coordinate degrees %q", protocol.ErrMalformedField, s)
	}

	if degreeDigits == 2 && (degrees < -90 || degrees >= 90) {
		return 0, fmt.Errorf("%w: latitude %v out of bounds", protocol.ErrMalformedField, degrees)
	}
	if degreeDigits == 3 && (degrees < -180 || degrees >= 180) {
		return 0, fmt.Errorf("%w: longitude %v out of bounds", protocol.ErrMalformedField, degrees)
	}

	minutes := 0.0
	if rest := s[degreeDigits:]; rest != "" {
		minutes, err = strconv.ParseFloat(rest, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: coordinate minutes %q", protocol.ErrMalformedField, rest)
		}
	}
	if minutes < 0 || minutes >= 60 {
		return 0, fmt.Errorf("%w: coordinate minutes %v out of bounds", protocol.ErrMalformedField, minutes)
	}

	return degrees + minutes/60.0, nil
}

// parseTimestamp combines the ddmmyy date and hhmmss time fields.
func parseTimestamp(date, clock string) (time.Time, error) {
	if len(date) < 6 {
		return time.Time{}, fmt.Errorf("%w: date %q outside ddmmyy format", protocol.ErrMalformedField, date)
	}
	if len(clock) < 6 {
		return time.Time{}, fmt.Errorf("%w: time %q outside hhmmss format", protocol.ErrMalformedField, clock)
	}

	fields := [6]int{}
	for i, s := range []string{date[:2], date[2:4], date[4:6], clock[:2], clock[2:4], clock[4:6]} {
		v, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp field %q", protocol.ErrMalformedField, s)
		}
		fields[i] = v
	}

	day, month, year := fields[0], fields[1], fields[2]
	hour, minute, second := fields[3], fields[4], fields[5]

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: timestamp %s %s out of range", protocol.ErrMalformedField, date, clock)
	}

	return time.Date(2000+year, time.Month(month), day, hour, minute, second, 0, time.UTC), nil
}
