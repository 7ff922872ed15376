package server

import (
	"context"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tracklink/decoder/internal/cache"
	"tracklink/decoder/internal/config"
	"tracklink/decoder/internal/protocol"
)

// Supervisor starts one listener per registered port, owns the shared
// publisher and registry handles, and coordinates graceful shutdown.
type Supervisor struct {
	cfg      *config.Config
	registry *protocol.Registry
	sink     EventSink
	store    *cache.Store

	listeners []*Listener
	sessions  sync.Map // ConnID -> *Session
	wg        sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Config, registry *protocol.Registry, sink EventSink, store *cache.Store) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:      cfg,
		registry: registry,
		sink:     sink,
		store:    store,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds every registered listener and the ops HTTP server. A bind
// failure unwinds the listeners already started and is returned to the
// caller as an unrecoverable startup error.
func (s *Supervisor) Start() error {
	ports := s.registry.Ports()
	sort.Ints(ports)

	for _, port := range ports {
		dec, _ := s.registry.Decoder(port)
		l := newListener(port, dec, s)
		if err := l.start(s.ctx); err != nil {
			s.Stop()
			return err
		}
		s.listeners = append(s.listeners, l)
	}

	go s.serveHTTP(s.ctx)
	return nil
}

func (s *Supervisor) startSession(ctx context.Context, conn net.Conn, dec protocol.Decoder) {
	sess := NewSession(SessionParams{
		ConnID:            s.cfg.NodeID + "-" + uuid.NewString(),
		Conn:              conn,
		Decoder:           dec,
		Sink:              s.sink,
		Store:             s.store,
		IdleTimeout:       s.cfg.IdleTimeout,
		AlarmPublishFatal: s.cfg.AlarmPublishFatal,
	})

	log.Printf("[tcp] %s: new %s connection from %s", sess.ConnID, dec.Slug(), sess.ClientIP)
	s.sessions.Store(sess.ConnID, sess)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sessions.Delete(sess.ConnID)
		sess.Run(ctx)
	}()
}

// Stop closes the listeners, signals every session to drain, and waits up
// to the configured grace period before forcing sockets closed.
func (s *Supervisor) Stop() {
	log.Println("[tcp] shutting down")
	s.cancel()
	for _, l := range s.listeners {
		l.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.DrainGrace):
		log.Printf("[tcp] drain grace of %s expired, forcing sessions closed", s.cfg.DrainGrace)
		s.sessions.Range(func(_, v interface{}) bool {
			v.(*Session).conn.Close()
			return true
		})
		<-done
	}

	log.Println("[tcp] all sessions closed")
}

// SessionInfos snapshots every live session for the ops endpoint.
func (s *Supervisor) SessionInfos() []SessionInfo {
	infos := make([]SessionInfo, 0)
	s.sessions.Range(func(_, v interface{}) bool {
		infos = append(infos, v.(*Session).Info())
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnID < infos[j].ConnID })
	return infos
}
