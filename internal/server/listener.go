package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"tracklink/decoder/internal/protocol"
)

// Listener binds one (port, protocol) pair and hands every accepted
// connection to the supervisor as an independent session.
type Listener struct {
	port int
	dec  protocol.Decoder
	sup  *Supervisor
	ln   net.Listener
}

func newListener(port int, dec protocol.Decoder, sup *Supervisor) *Listener {
	return &Listener{port: port, dec: dec, sup: sup}
}

func (l *Listener) start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", l.port))
	if err != nil {
		return fmt.Errorf("bind %s listener on :%d: %w", l.dec.Slug(), l.port, err)
	}
	l.ln = ln

	log.Printf("[tcp] %s listener started on :%d", l.dec.Slug(), l.port)
	go l.acceptLoop(ctx)
	return nil
}

// acceptLoop accepts until shutdown. One session's stall never blocks
// another: each connection runs on its own goroutine.
func (l *Listener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Printf("[tcp] %s listener on :%d stopped", l.dec.Slug(), l.port)
				return
			}
			log.Printf("[tcp] %s listener accept error: %v", l.dec.Slug(), err)
			continue
		}
		l.sup.startSession(ctx, conn, l.dec)
	}
}

func (l *Listener) close() {
	if l.ln != nil {
		l.ln.Close()
	}
}
