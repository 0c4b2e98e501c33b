package rudp

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SessionStatus is the lifecycle state of a Session (§3).
type SessionStatus int

const (
	StatusInit SessionStatus = iota
	StatusHandshake
	StatusListen // server only; never set on a Session, only on Server itself
	StatusConnected
	StatusClosed
	StatusExit
)

func (s SessionStatus) String() string {
	switch s {
	case StatusInit:
		return "Init"
	case StatusHandshake:
		return "Handshake"
	case StatusListen:
		return "Listen"
	case StatusConnected:
		return "Connected"
	case StatusClosed:
		return "Closed"
	case StatusExit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// Session is the application-facing handle for a logical connection (§3,
// §4.3). A Session may be shared between the server's registry and an
// application goroutine; the registry is authoritative over its lifecycle
// (Design Notes, §9): eviction never invalidates a Session reference,
// it only moves it to Exit, after which Send/Recv/Close observably fail
// or no-op.
//
// A single mutex (guarding {status, last-heartbeat, engine}, per §4.6)
// makes every operation below linearizable with respect to the owning
// monitor loop's input/update calls.
type Session struct {
	mu sync.Mutex

	sessionID   uint32
	localAddr   string
	remoteAddr  string
	reportLocal bool // Address() reports localAddr instead of remoteAddr (client-side quirk, §4.3)

	status        SessionStatus
	engine        Engine
	lastHeartbeat time.Time

	// transmit sends a control envelope of the given type and payload to
	// the peer. Supplied by the owner (Client or Server) since only they
	// know how to reach the substrate.
	transmit func(t MsgType, payload []byte)

	// onExit is invoked exactly once, the moment the session enters Exit.
	// The server uses it to evict the registry entry.
	onExit func()
	exited bool

	log zerolog.Logger
}

func newSession(sessionID uint32, local, remote string, reportLocal bool, log zerolog.Logger) *Session {
	return &Session{
		sessionID:   sessionID,
		localAddr:   local,
		remoteAddr:  remote,
		reportLocal: reportLocal,
		status:      StatusHandshake,
		log:         log,
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SessionID returns the server-assigned session identifier.
func (s *Session) SessionID() uint32 {
	return s.sessionID
}

// Address returns the peer address for a server-side Session, or the
// local (bound) address for a client-side Session (§4.3).
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reportLocal {
		return s.localAddr
	}
	return s.remoteAddr
}

// Send enqueues data for reliable delivery, all-or-nothing. It returns the
// number of bytes accepted, or -1 if the session is not Connected or the
// engine rejects the message.
func (s *Session) Send(data []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnected {
		return -1
	}
	if err := s.engine.Send(data); err != nil {
		s.log.Debug().Err(err).Msg("send rejected by engine")
		return -1
	}
	return len(data)
}

// Recv copies the next fully-received message into buf. It returns the
// message length, 0 if none is available yet, or -1 if the session is not
// Connected.
func (s *Session) Recv(buf []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnected {
		return -1
	}
	return s.engine.Recv(buf)
}

// Close transitions a Connected session to Closed, sending one
// CloseSession envelope immediately. It is idempotent: calling it from any
// state other than Connected is a no-op (§4.3, §8 invariant 6).
func (s *Session) Close() {
	s.mu.Lock()
	if s.status != StatusConnected {
		s.mu.Unlock()
		return
	}
	s.status = StatusClosed
	tx := s.transmit
	sid := s.sessionID
	s.mu.Unlock()

	if tx != nil {
		tx(MsgCloseSession, nil)
	}
	s.log.Debug().Uint32("session_id", sid).Msg("session closed locally")
}

// input feeds a received segment to the engine. Per §9, this is accepted
// in Handshake (so segments arriving immediately after AcceptSession are
// not lost before the application calls Accept) and in Connected, and
// silently ignored otherwise.
func (s *Session) input(segment []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusHandshake && s.status != StatusConnected {
		return
	}
	s.engine.Input(segment)
}

// tick drives the engine's timers for a maintenance/monitor pass while the
// session is in Handshake, Connected or Closed, holding the session mutex
// for the duration of the engine call.
func (s *Session) tick(nowMs uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alive := s.status == StatusHandshake || s.status == StatusConnected || s.status == StatusClosed
	if alive && s.engine != nil {
		s.engine.Update(nowMs)
	}
}

// touchHeartbeat records fresh evidence of peer liveness.
func (s *Session) touchHeartbeat(now time.Time) {
	s.mu.Lock()
	s.lastHeartbeat = now
	s.mu.Unlock()
}

func (s *Session) heartbeatAge(now time.Time) time.Duration {
	s.mu.Lock()
	last := s.lastHeartbeat
	s.mu.Unlock()
	if last.IsZero() {
		return 0
	}
	return now.Sub(last)
}

// promote moves Handshake -> Connected, installing engine if the session
// has none yet.
func (s *Session) promote(engine Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusHandshake {
		return
	}
	if s.engine == nil {
		s.engine = engine
	}
	s.status = StatusConnected
}

// markPeerClosed transitions to Closed on receipt of the peer's
// CloseSession, without emitting a reply (the peer already knows it is
// closing). Used by the client side, where there is no registry to evict
// from; §4.4's state diagram has CloseSession land on Closed, not Exit.
func (s *Session) markPeerClosed() {
	s.mu.Lock()
	s.status = StatusClosed
	s.mu.Unlock()
}

// markExitPending transitions to Exit without invoking onExit immediately,
// so the owner's own maintenance pass evicts it on its own schedule (server
// ingress step, §4.5: CloseSession from a known peer marks the connection
// Exit, to be evicted on the next maintenance tick rather than inline).
func (s *Session) markExitPending() {
	s.mu.Lock()
	s.status = StatusExit
	s.mu.Unlock()
}

// markExit forces Exit, e.g. on substrate failure, malformed envelope, or
// liveness timeout, and runs the exit hook (engine release, onExit) if it
// has not run yet, including for a session markExitPending already moved
// to Exit.
func (s *Session) markExit() {
	s.mu.Lock()
	s.status = StatusExit
	s.mu.Unlock()
	s.runExit()
}

// closeFlushDue reports whether this session is Closed. It changes no
// state.
func (s *Session) closeFlushDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusClosed
}

func (s *Session) runExit() {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return
	}
	s.exited = true
	fn := s.onExit
	eng := s.engine
	s.mu.Unlock()

	if eng != nil {
		eng.Release()
	}
	if fn != nil {
		fn()
	}
}
