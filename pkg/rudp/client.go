package rudp

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Tick and timeout constants (§6).
const (
	TickInterval      = 10 * time.Millisecond
	HandshakeTimeout  = 3000 * time.Millisecond
	HeartbeatInterval = 10000 * time.Millisecond // client -> server, when idle
	HeartbeatTimeout  = 30000 * time.Millisecond // server eviction
)

// ClientOption configures a Client at construction.
type ClientOption func(*Client)

// WithClientSubstrate overrides the default UDP substrate (used by tests
// to supply an InMemorySubstrate).
func WithClientSubstrate(s Substrate) ClientOption {
	return func(c *Client) { c.substrate = s }
}

// WithClientLogger overrides the client's zerolog.Logger.
func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithClientEngineFactory overrides the reliability engine constructor
// (used by tests to avoid pulling in the real ARQ engine).
func WithClientEngineFactory(f EngineFactory) ClientOption {
	return func(c *Client) { c.engineFactory = f }
}

// Client drives the Init -> Handshake -> Connected -> Closed/Exit state
// machine on one Session (§4.4). One Client owns exactly one Session and
// exactly one monitor goroutine.
type Client struct {
	mu        sync.Mutex
	status    SessionStatus
	substrate Substrate
	remote    string
	session   *Session

	engineFactory EngineFactory
	log           zerolog.Logger

	monitorDone chan struct{}
	lastSend    time.Time
}

// NewClient creates an unconnected Client in state Init.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		status:        StatusInit,
		engineFactory: NewKCPEngine,
		log:           zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.substrate == nil {
		c.substrate = &UDPSubstrate{}
	}
	return c
}

// Dial binds (if necessary) and connects to remote, blocking until the
// handshake completes, is rejected, or HandshakeTimeout elapses (§4.4).
func (c *Client) Dial(remote string) error {
	c.mu.Lock()
	if c.status != StatusInit {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if c.substrate.Address() == "" {
		if err := c.substrate.Bind(""); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.remote = remote
	c.status = StatusHandshake
	c.session = newSession(0, c.substrate.Address(), remote, true, c.log)
	c.session.status = StatusHandshake
	c.session.transmit = c.sendControl
	c.mu.Unlock()

	c.monitorDone = make(chan struct{})
	connected := make(chan bool, 1)
	go c.monitor(connected)

	deadline := time.NewTimer(HandshakeTimeout + TickInterval)
	defer deadline.Stop()

	select {
	case ok := <-connected:
		if !ok {
			return ErrHandshakeReject
		}
		return nil
	case <-deadline.C:
		c.mu.Lock()
		stillHandshake := c.status == StatusHandshake
		if stillHandshake {
			c.status = StatusExit
		}
		c.mu.Unlock()
		if stillHandshake {
			return ErrHandshakeTimeout
		}
		// a result arrived exactly as the timer fired; re-check once more
		select {
		case ok := <-connected:
			if !ok {
				return ErrHandshakeReject
			}
			return nil
		default:
			return ErrHandshakeTimeout
		}
	}
}

// Session returns the client's single Session, valid once Dial returns
// successfully.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// State returns the client's current lifecycle state (supplemental
// accessor, see SPEC_FULL.md Part 4).
func (c *Client) State() SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// monitor is the client's single background goroutine (§4.4, §5): a
// cooperative 10ms tick loop that drives the handshake retry, the engine,
// heartbeats, and teardown. There is exactly one per Client.
func (c *Client) monitor(connected chan<- bool) {
	defer close(c.monitorDone)

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	buf := make([]byte, EnvelopeSize)
	handshakeDeadline := time.Now().Add(HandshakeTimeout)
	reported := false

	report := func(ok bool) {
		if !reported {
			reported = true
			connected <- ok
		}
	}

	for range ticker.C {
		c.mu.Lock()
		status := c.status
		c.mu.Unlock()

		switch status {
		case StatusHandshake:
			if time.Now().After(handshakeDeadline) {
				// No report here: Dial's own deadline timer returns
				// ErrHandshakeTimeout.
				c.mu.Lock()
				c.status = StatusExit
				c.mu.Unlock()
				return
			}

			c.sendControl(MsgNewSession, nil)

			n, from := c.substrate.RecvFrom(buf)
			if n < 0 {
				c.mu.Lock()
				c.status = StatusExit
				c.mu.Unlock()
				report(false)
				return
			}
			if n == 0 {
				continue
			}
			if from != c.remote {
				c.mu.Lock()
				c.status = StatusExit
				c.mu.Unlock()
				report(false)
				return
			}

			env, err := DecodeEnvelope(buf[:n])
			if err != nil {
				c.mu.Lock()
				c.status = StatusExit
				c.mu.Unlock()
				report(false)
				return
			}

			switch env.Type {
			case MsgAcceptSession:
				c.mu.Lock()
				c.session.sessionID = env.SessionID
				c.session.engine = c.engineFactory(env.SessionID)
				c.session.engine.SetOutput(c.onEngineOutput)
				c.session.status = StatusConnected
				c.session.touchHeartbeat(time.Now())
				c.status = StatusConnected
				c.mu.Unlock()
				c.lastSend = time.Now()
				report(true)
			case MsgRejectSession:
				c.mu.Lock()
				c.status = StatusInit
				c.session.status = StatusInit
				c.mu.Unlock()
				report(false)
				return
			default:
				c.mu.Lock()
				c.status = StatusExit
				c.mu.Unlock()
				report(false)
				return
			}

		case StatusConnected:
			now := time.Now()
			c.session.tick(uint32(now.UnixMilli()))

			if now.Sub(c.lastSend) >= HeartbeatInterval {
				c.sendControl(MsgHeartbeat, nil)
				c.lastSend = now
			}

			n, from := c.substrate.RecvFrom(buf)
			if n < 0 {
				c.session.markExit()
				c.mu.Lock()
				c.status = StatusExit
				c.mu.Unlock()
				return
			}
			if n == 0 {
				continue
			}
			if from != c.remote {
				c.session.markExit()
				c.mu.Lock()
				c.status = StatusExit
				c.mu.Unlock()
				return
			}

			env, err := DecodeEnvelope(buf[:n])
			if err != nil {
				c.session.markExit()
				c.mu.Lock()
				c.status = StatusExit
				c.mu.Unlock()
				return
			}

			switch env.Type {
			case MsgCloseSession:
				c.mu.Lock()
				c.status = StatusClosed
				c.mu.Unlock()
				c.session.markPeerClosed()
			case MsgData:
				c.session.input(env.Data())
			case MsgHeartbeat:
				c.session.touchHeartbeat(now)
			default:
				c.session.markExit()
				c.mu.Lock()
				c.status = StatusExit
				c.mu.Unlock()
				return
			}

		case StatusClosed, StatusExit:
			return
		}
	}
}

// onEngineOutput wraps an outgoing ARQ segment in a Data envelope and
// sends it to the remote address (§4.4, client output callback).
func (c *Client) onEngineOutput(segment []byte) {
	env := NewDataEnvelope(c.session.sessionID, segment)
	buf := env.Bytes()
	c.substrate.SendTo(buf, c.remote)
	c.lastSend = time.Now()
}

// sendControl sends a zero-payload (or small-payload) control envelope to
// the server.
func (c *Client) sendControl(t MsgType, payload []byte) {
	var env Envelope
	env.Type = t
	if c.session != nil {
		env.SessionID = c.session.sessionID
	}
	if payload != nil {
		env.PayloadSize = uint32(len(payload))
		copy(env.Payload[:], payload)
	}
	c.substrate.SendTo(env.Bytes(), c.remote)
}

// Close sends a CloseSession envelope (if Connected), flushes the engine
// once more, transitions to Closed, and closes the substrate (§4.4).
// Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	status := c.status
	if status != StatusInit {
		c.status = StatusClosed
	}
	c.mu.Unlock()

	if status == StatusInit {
		return
	}
	if status == StatusConnected {
		c.session.Close()                               // emits CloseSession, transitions session to Closed
		c.session.tick(uint32(time.Now().UnixMilli())) // best-effort flush
	}
	if c.monitorDone != nil {
		<-c.monitorDone
	}
	c.substrate.Close()
}
