package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Frame-level decode errors. All of these are scoped to a single frame:
// the session logs them and keeps reading, unless the error is wrapped in
// an IdentityError.
var (
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrUnsupportedSubtype = errors.New("unsupported message subtype")
	ErrMalformedField     = errors.New("malformed field")
)

// Stream-level errors returned by the FrameBuffer. Both are fatal to the
// connection that produced the bytes.
var (
	ErrFrameTooLarge = errors.New("frame exceeds protocol maximum length")
	ErrUnframeable   = errors.New("stream cannot be framed")
)

// IdentityError marks a decode failure on a frame the protocol needs to
// establish session identity (e.g. a corrupt login frame). Sessions treat
// it as fatal instead of frame-scoped.
type IdentityError struct {
	Err error
}

func (e *IdentityError) Error() string { return "identity frame: " + e.Err.Error() }
func (e *IdentityError) Unwrap() error { return e.Err }

// IsIdentityCritical reports whether err carries an IdentityError anywhere
// in its chain.
func IsIdentityCritical(err error) bool {
	var ie *IdentityError
	return errors.As(err, &ie)
}

// HintKind classifies what the decoder saw at the head of the buffer.
type HintKind int

const (
	// HintNeedMore: no complete frame yet, wait for at least N more bytes.
	HintNeedMore HintKind = iota

	// HintReady: a complete frame of N bytes sits at the head of the buffer.
	HintReady

	// HintSkip: the first N bytes are noise before any frame start marker
	// and must be discarded.
	HintSkip

	// HintInvalid: the buffer is unrecoverably malformed.
	HintInvalid
)

// Hint tells the FrameBuffer how to advance through the byte stream.
type Hint struct {
	Kind HintKind
	N    int
}

func NeedMore(n int) Hint   { return Hint{Kind: HintNeedMore, N: n} }
func Ready(length int) Hint { return Hint{Kind: HintReady, N: length} }
func Skip(n int) Hint       { return Hint{Kind: HintSkip, N: n} }
func Invalid() Hint         { return Hint{Kind: HintInvalid} }

// Decoded is the result of decoding one frame.
type Decoded struct {
	// DeviceID extracted from the frame, empty when the frame carries
	// no identity (the session keeps whatever identity it already has).
	DeviceID string

	// Events decoded from the frame, zero or more.
	Events []Event

	// Ack holds bytes to write back to the tracker, nil when the
	// protocol defines no response for this frame type.
	Ack []byte
}

// Decoder turns protocol frames into canonical events. Implementations are
// stateless pure functions over a single frame and are shared across all
// concurrent connections; any cross-frame state lives in the session.
type Decoder interface {
	// Slug is the stable lowercase protocol identifier used in routing keys.
	Slug() string

	// MaxFrameLen is the largest valid frame size for the protocol. A byte
	// run longer than this without a complete frame kills the connection.
	MaxFrameLen() int

	// Hint inspects the head of the unconsumed buffer and reports frame
	// boundaries. It must not mutate the buffer.
	Hint(buf []byte) Hint

	// Decode consumes one complete frame. now is the receipt time, used
	// when the frame carries no device timestamp.
	Decode(frame []byte, now time.Time) (*Decoded, error)
}

// Registry maps listening ports to the decoder responsible for them.
// Built once at startup, read-only afterwards.
type Registry struct {
	byPort map[int]Decoder
}

func NewRegistry() *Registry {
	return &Registry{byPort: make(map[int]Decoder)}
}

// Register binds a port to a decoder. Registering the same port twice is a
// configuration bug and returns an error.
func (r *Registry) Register(port int, dec Decoder) error {
	if prev, ok := r.byPort[port]; ok {
		return fmt.Errorf("port %d already registered to protocol %q", port, prev.Slug())
	}
	r.byPort[port] = dec
	return nil
}

// Decoder returns the decoder bound to port.
func (r *Registry) Decoder(port int) (Decoder, bool) {
	dec, ok := r.byPort[port]
	return dec, ok
}

// Ports returns all registered ports.
func (r *Registry) Ports() []int {
	ports := make([]int, 0, len(r.byPort))
	for p := range r.byPort {
		ports = append(ports, p)
	}
	return ports
}
