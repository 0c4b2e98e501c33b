package rudp

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServerOption configures a Server at construction.
type ServerOption func(*Server)

// WithServerSubstrate overrides the default UDP substrate (used by tests to
// supply an InMemorySubstrate).
func WithServerSubstrate(s Substrate) ServerOption {
	return func(srv *Server) { srv.substrate = s }
}

// WithServerLogger overrides the server's zerolog.Logger.
func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(srv *Server) { srv.log = l }
}

// WithServerEngineFactory overrides the reliability engine constructor
// (used by tests to avoid pulling in the real ARQ engine).
func WithServerEngineFactory(f EngineFactory) ServerOption {
	return func(srv *Server) { srv.engineFactory = f }
}

// Server is the demux and listener (§4.5): one substrate socket shared by
// every accepted connection, one registry keyed by remote address, one
// monitor goroutine doing ingress dispatch and maintenance. The per-Server
// session_id counter is local to this Server, not global to the process
// (Design Notes, §9).
type Server struct {
	mu       sync.Mutex
	status   SessionStatus // StatusInit until ListenAt, then StatusListen, then StatusExit
	registry map[string]*Session
	nextID   uint32

	substrate     Substrate
	engineFactory EngineFactory
	log           zerolog.Logger

	monitorDone chan struct{}

	metrics *serverMetrics
}

// NewServer creates an unbound Server. Call ListenAt before Accept.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		status:        StatusInit,
		registry:      make(map[string]*Session),
		engineFactory: NewKCPEngine,
		log:           zerolog.Nop(),
		metrics:       newServerMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.substrate == nil {
		s.substrate = &UDPSubstrate{}
	}
	return s
}

// ListenAt binds addr and starts the monitor goroutine (§4.5).
func (s *Server) ListenAt(addr string) error {
	s.mu.Lock()
	if s.status != StatusInit {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	if err := s.substrate.Bind(addr); err != nil {
		return err
	}

	s.mu.Lock()
	s.status = StatusListen
	s.mu.Unlock()

	s.monitorDone = make(chan struct{})
	go s.monitor()
	s.log.Info().Str("address", s.substrate.Address()).Msg("rudp: listening")
	return nil
}

// Address returns the bound local address, or "" if not yet listening.
func (s *Server) Address() string {
	return s.substrate.Address()
}

// Accept blocks, cooperatively sleeping in TickInterval steps, until some
// registry entry reaches Handshake, then atomically promotes it to
// Connected and returns the shared Session reference. It returns ErrClosed
// once the server is no longer listening (§4.5, §9).
//
// A connection's Handshake->Connected promotion happens here rather than in
// the monitor loop's NewSession handling, so that a peer retransmitting
// NewSession before the application calls Accept sees the same
// AcceptSession reply idempotently (§8 invariant 4, §9 REDESIGN note).
func (s *Server) Accept() (*Session, error) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		if s.status != StatusListen {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		for _, sess := range s.registry {
			sess.mu.Lock()
			if sess.status == StatusHandshake {
				sess.status = StatusConnected
				sess.mu.Unlock()
				s.mu.Unlock()
				return sess, nil
			}
			sess.mu.Unlock()
		}
		s.mu.Unlock()

		<-ticker.C
	}
}

// Close stops accepting, evicts every registered session, and releases the
// substrate. Idempotent.
func (s *Server) Close() {
	s.mu.Lock()
	prev := s.status
	s.status = StatusExit
	s.mu.Unlock()

	if prev == StatusInit || prev == StatusExit {
		return
	}

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.registry))
	for _, sess := range s.registry {
		sessions = append(sessions, sess)
	}
	s.registry = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.markExit()
	}

	if s.monitorDone != nil {
		<-s.monitorDone
	}
	s.substrate.Close()
}

// monitor is the server's single background goroutine (§4.5, §5): one 10ms
// tick loop doing an ingress-dispatch pass followed by a maintenance pass,
// for as long as the server is Listen.
func (s *Server) monitor() {
	defer close(s.monitorDone)

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	buf := make([]byte, EnvelopeSize)

	for range ticker.C {
		s.mu.Lock()
		listening := s.status == StatusListen
		s.mu.Unlock()
		if !listening {
			return
		}

		// Ingress pass: drain every datagram queued this tick.
		for {
			n, from := s.substrate.RecvFrom(buf)
			if n <= 0 {
				break
			}
			env, err := DecodeEnvelope(buf[:n])
			if err != nil {
				s.metrics.malformed.Inc()
				continue
			}
			s.dispatch(env, from)
		}

		s.maintain()
	}
}

// dispatch implements the ingress table of §4.5.
func (s *Server) dispatch(env Envelope, from string) {
	s.mu.Lock()
	sess, known := s.registry[from]
	s.mu.Unlock()

	switch env.Type {
	case MsgNewSession:
		if known {
			// Idempotent: a retransmitted NewSession from an address
			// already registered just gets AcceptSession again (§8
			// invariant 4), regardless of the session's current state.
			s.sendControl(from, sess.SessionID(), MsgAcceptSession, nil)
			return
		}
		s.admit(from)

	case MsgCloseSession:
		if known {
			sess.markExitPending()
		}
		// unknown peer: ignored, nothing to close.

	case MsgData:
		if known {
			sess.input(env.Data())
			sess.touchHeartbeat(time.Now())
		}
		// unknown peer: a Data envelope with no matching session is
		// silently dropped; it cannot be answered without a session_id.

	case MsgHeartbeat:
		if known {
			sess.touchHeartbeat(time.Now())
			s.sendControl(from, sess.SessionID(), MsgHeartbeat, nil)
		}

	default:
		// AcceptSession/RejectSession arriving at a server, or anything
		// else out of range, is ignored (a server never receives its own
		// replies back).
	}
}

// admit registers a brand-new Handshake-state Session for a first-seen
// NewSession and replies AcceptSession. The engine is created immediately,
// wired to this connection's output, so segments arriving before the
// application calls Accept are not lost (§4.2 REDESIGN note, §9).
func (s *Server) admit(from string) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	sess := newSession(id, s.substrate.Address(), from, false, s.log)
	engine := s.engineFactory(id)
	sess.engine = engine
	sess.transmit = func(t MsgType, payload []byte) { s.sendControl(from, id, t, payload) }
	sess.onExit = func() { s.evict(from) }
	sess.touchHeartbeat(time.Now())
	engine.SetOutput(func(segment []byte) { s.sendData(from, id, segment) })

	s.mu.Lock()
	s.registry[from] = sess
	s.mu.Unlock()

	s.metrics.sessionsAccepted.Inc()
	s.log.Debug().Uint32("session_id", id).Str("peer", from).Msg("rudp: session admitted")
	s.sendControl(from, id, MsgAcceptSession, nil)
}

// maintain is the per-tick maintenance pass (§4.5, the Timer/Liveness
// Engine, §6): drive every live engine's timers, flush Closed connections
// once more before evicting them, evict on heartbeat timeout, and reap
// anything already marked Exit.
func (s *Server) maintain() {
	now := time.Now()
	nowMs := uint32(now.UnixMilli())

	s.mu.Lock()
	peers := make([]string, 0, len(s.registry))
	for addr := range s.registry {
		peers = append(peers, addr)
	}
	s.mu.Unlock()

	for _, addr := range peers {
		s.mu.Lock()
		sess, ok := s.registry[addr]
		s.mu.Unlock()
		if !ok {
			continue
		}

		switch sess.Status() {
		case StatusHandshake, StatusConnected:
			sess.tick(nowMs)
			if sess.heartbeatAge(now) >= HeartbeatTimeout {
				s.metrics.heartbeatEvictions.Inc()
				s.log.Debug().Uint32("session_id", sess.SessionID()).Str("peer", addr).
					Msg("rudp: evicting connection on heartbeat timeout")
				sess.markExitPending()
			}

		case StatusClosed:
			sess.tick(nowMs) // one last flush of any queued retransmits
			sess.markExitPending()

		case StatusExit:
			sess.markExit() // idempotent: actually runs eviction (engine release, onExit) once
		}
	}
}

// evict removes addr's registry entry. Called exactly once per session, by
// Session.runExit via the onExit hook installed in admit.
func (s *Server) evict(addr string) {
	s.mu.Lock()
	delete(s.registry, addr)
	s.mu.Unlock()
}

func (s *Server) sendControl(to string, sessionID uint32, t MsgType, payload []byte) {
	var env Envelope
	env.Type = t
	env.SessionID = sessionID
	if payload != nil {
		env.PayloadSize = uint32(len(payload))
		copy(env.Payload[:], payload)
	}
	s.substrate.SendTo(env.Bytes(), to)
}

func (s *Server) sendData(to string, sessionID uint32, segment []byte) {
	env := NewDataEnvelope(sessionID, segment)
	s.substrate.SendTo(env.Bytes(), to)
}
