package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"tracklink/decoder/internal/cache"
	"tracklink/decoder/internal/protocol"
	"tracklink/decoder/internal/publisher"
)

const (
	// The read buffer size for tracker connections. More than enough for
	// every supported protocol; a device sending larger reads than this is
	// very unlikely to be a tracker.
	readBufferSize = 512

	// How many undecodable frames a connection may send before it is
	// dropped as noise or abuse.
	invalidFrameLimit = 10
)

// EventSink receives decoded events; satisfied by publisher.Publisher.
type EventSink interface {
	Publish(ctx context.Context, ev protocol.Event) error
}

// State tracks the session lifecycle.
type State int

const (
	StateAwaitingIdentity State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingIdentity:
		return "awaiting_identity"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// SessionParams wires a Session to its collaborators.
type SessionParams struct {
	ConnID            string
	Conn              net.Conn
	Decoder           protocol.Decoder
	Sink              EventSink
	Store             *cache.Store
	IdleTimeout       time.Duration
	AlarmPublishFatal bool
}

// Session owns one tracker connection: it frames the byte stream, decodes
// frames, writes protocol acks, and forwards events to the publisher.
// All mutable per-connection state lives here; nothing is shared between
// sessions except the sink and the registry store.
type Session struct {
	ConnID   string
	ClientIP string

	conn        net.Conn
	dec         protocol.Decoder
	frames      *protocol.FrameBuffer
	sink        EventSink
	store       *cache.Store
	idleTimeout time.Duration
	alarmFatal  bool

	// now is swapped out by tests to drive the idle clock.
	now func() time.Time

	mu            sync.RWMutex
	state         State
	deviceID      string
	lastActive    time.Time
	invalidFrames int
}

func NewSession(p SessionParams) *Session {
	clientIP := ""
	if addr := p.Conn.RemoteAddr(); addr != nil {
		clientIP = addr.String()
	}
	now := time.Now
	return &Session{
		ConnID:      p.ConnID,
		ClientIP:    clientIP,
		conn:        p.Conn,
		dec:         p.Decoder,
		frames:      protocol.NewFrameBuffer(p.Decoder),
		sink:        p.Sink,
		store:       p.Store,
		idleTimeout: p.IdleTimeout,
		alarmFatal:  p.AlarmPublishFatal,
		now:         now,
		lastActive:  now(),
	}
}

// Run reads the connection until EOF, error, idle timeout or shutdown.
// Frames are decoded and their events published in the order the bytes
// arrived; a decode error drops that frame's output but keeps the
// session alive unless it is identity-critical.
func (s *Session) Run(ctx context.Context) {
	defer s.close()

	// Force a blocked read to return when shutdown is signalled.
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buffer := make([]byte, readBufferSize)

	for {
		select {
		case <-ctx.Done():
			s.setState(StateClosing)
			return
		default:
		}

		s.conn.SetReadDeadline(s.now().Add(s.idleTimeout))
		n, err := s.conn.Read(buffer)
		if err != nil {
			var ne net.Error
			switch {
			case ctx.Err() != nil:
				log.Printf("[tcp] %s: closing for shutdown", s.ConnID)
			case errors.As(err, &ne) && ne.Timeout() && s.idleExpired(s.now()):
				log.Printf("[tcp] %s: idle for over %s, closing (device %q)",
					s.ConnID, s.idleTimeout, s.DeviceID())
			case errors.Is(err, io.EOF):
				log.Printf("[tcp] %s: closed by peer", s.ConnID)
			default:
				log.Printf("[tcp] %s: read error: %v", s.ConnID, err)
			}
			s.setState(StateClosing)
			return
		}

		s.touch()

		frames, ferr := s.frames.Push(buffer[:n])
		for _, frame := range frames {
			if !s.handleFrame(ctx, frame) {
				s.setState(StateClosing)
				return
			}
		}
		if ferr != nil {
			log.Printf("[tcp] %s: unrecoverable stream from device %q: %v",
				s.ConnID, s.DeviceID(), ferr)
			s.setState(StateClosing)
			return
		}
	}
}

// handleFrame decodes one frame. Returns false when the session must close.
func (s *Session) handleFrame(ctx context.Context, frame []byte) bool {
	decoded, err := s.dec.Decode(frame, s.now())
	if err != nil {
		s.mu.Lock()
		s.invalidFrames++
		invalid := s.invalidFrames
		s.mu.Unlock()

		log.Printf("[tcp] %s: dropping %s frame from device %q: %v",
			s.ConnID, s.dec.Slug(), s.DeviceID(), err)

		if protocol.IsIdentityCritical(err) {
			return false
		}
		if invalid >= invalidFrameLimit {
			log.Printf("[tcp] %s: %d undecodable frames, closing", s.ConnID, invalid)
			return false
		}
		return true
	}

	if decoded.DeviceID != "" {
		s.identify(ctx, decoded.DeviceID)
	}

	if decoded.Ack != nil {
		// Acks must reach the tracker in request order, so write inline.
		// A failed write is an unrecoverable connection state.
		if _, err := s.conn.Write(decoded.Ack); err != nil {
			log.Printf("[tcp] %s: failed to write ack: %v", s.ConnID, err)
			return false
		}
	}

	for _, ev := range decoded.Events {
		if !s.publish(ctx, ev) {
			return false
		}
	}

	s.store.TouchSession(ctx, s.DeviceID())
	return true
}

// identify transitions AwaitingIdentity -> Active on the first frame that
// carries a device id. Later frames with an id are a TTL refresh only.
func (s *Session) identify(ctx context.Context, deviceID string) {
	s.mu.Lock()
	if s.deviceID != "" {
		s.mu.Unlock()
		return
	}
	s.deviceID = deviceID
	s.state = StateActive
	s.mu.Unlock()

	log.Printf("[tcp] %s: identified as device %s (%s)", s.ConnID, deviceID, s.dec.Slug())
	s.store.RegisterSession(ctx, deviceID, s.ConnID, s.ClientIP)
}

// publish forwards one event to the sink. Events decoded before the
// session has an identity are withheld: they must never go out with an
// empty device_id. Publish failure is event loss, not connection loss,
// except an exhausted alarm when so configured.
func (s *Session) publish(ctx context.Context, ev protocol.Event) bool {
	if ev.DeviceID == "" {
		deviceID := s.DeviceID()
		if deviceID == "" {
			log.Printf("[tcp] %s: withholding %s %s event, identity unresolved",
				s.ConnID, s.dec.Slug(), ev.Type)
			return true
		}
		ev.DeviceID = deviceID
	}

	if err := s.sink.Publish(ctx, ev); err != nil {
		log.Printf("[tcp] %s: dropping %s %s event from device %s: %v",
			s.ConnID, ev.Protocol, ev.Type, ev.DeviceID, err)
		if s.alarmFatal && ev.Type == protocol.EventAlarm && errors.Is(err, publisher.ErrExhausted) {
			log.Printf("[tcp] %s: alarm publish exhausted, closing session", s.ConnID)
			return false
		}
		return true
	}

	if ev.Type == protocol.EventLocation || ev.Type == protocol.EventAlarm {
		s.store.StoreShadow(ctx, ev)
	}
	return true
}

func (s *Session) close() {
	s.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.store.RemoveSession(ctx, s.DeviceID())

	s.setState(StateClosed)
	log.Printf("[tcp] %s: connection closed", s.ConnID)
}

// idleExpired reports whether the session has been quiet past the idle
// window as of now.
func (s *Session) idleExpired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastActive) >= s.idleTimeout
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// DeviceID returns the identified device, empty before the handshake.
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SessionInfo is the ops-endpoint view of a live session.
type SessionInfo struct {
	ConnID     string    `json:"conn_id"`
	DeviceID   string    `json:"device_id"`
	Protocol   string    `json:"protocol"`
	ClientIP   string    `json:"client_ip"`
	State      string    `json:"state"`
	LastActive time.Time `json:"last_active"`
}

func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ConnID:     s.ConnID,
		DeviceID:   s.deviceID,
		Protocol:   s.dec.Slug(),
		ClientIP:   s.ClientIP,
		State:      s.state.String(),
		LastActive: s.lastActive,
	}
}
