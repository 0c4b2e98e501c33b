package rudp

import (
	"fmt"

	kcp "github.com/xtaci/kcp-go/v5"
)

// Engine is the external reliability-engine contract (§4.2): a per-session
// ARQ black box. Its job — retransmission, ordering, fragmentation,
// congestion behavior — is explicitly out of this module's scope; any
// KCP-style implementation satisfying this contract works. Engine is not
// safe for concurrent use; the owner (Session) serializes every call,
// including the output callback, behind its own mutex (§4.6).
type Engine interface {
	// SetOutput installs the callback invoked with outgoing segment bytes
	// during Send and Update.
	SetOutput(fn func(segment []byte))

	// Input feeds a received segment into the engine. Per the REDESIGN
	// decision in §9, this is accepted in both Handshake and Connected
	// states so that segments arriving immediately after AcceptSession
	// are not lost.
	Input(segment []byte)

	// Send enqueues a message for reliable, ordered delivery. The engine
	// segments it internally according to its configured MTU.
	Send(message []byte) error

	// Recv dequeues the next fully-reassembled message into buf. It
	// returns 0 if none is ready yet; the distinction between "nothing
	// yet" and "not connected" is made by Session, not Engine (§9).
	Recv(buf []byte) int

	// Update drives retransmission and flush timers for the given
	// millisecond tick, invoking the output callback with any segments
	// that need to go out now.
	Update(nowMs uint32)

	// Release tears down engine resources. Idempotent.
	Release()
}

// EngineFactory constructs a fresh Engine bound to sessionID, configured
// with the fixed parameters mandated by §6 (nodelay on, 10ms interval,
// resend threshold 2, no congestion window, 128/128 windows, 1400 MTU).
// Client and Server call this once per handshake; tests may
// substitute a fake factory to avoid pulling in the real ARQ engine.
type EngineFactory func(sessionID uint32) Engine

// NewKCPEngine adapts github.com/xtaci/kcp-go/v5's KCP type to the Engine
// contract. This is the default, production EngineFactory.
func NewKCPEngine(sessionID uint32) Engine {
	e := &kcpEngine{}
	e.kcp = kcp.NewKCP(sessionID, func(buf []byte, size int) {
		if e.output == nil {
			return
		}
		seg := make([]byte, size)
		copy(seg, buf[:size])
		e.output(seg)
	})
	e.kcp.NoDelay(1, 10, 2, 1)
	e.kcp.WndSize(128, 128)
	e.kcp.SetMtu(1400)
	return e
}

type kcpEngine struct {
	kcp    *kcp.KCP
	output func([]byte)
}

func (e *kcpEngine) SetOutput(fn func([]byte)) { e.output = fn }

func (e *kcpEngine) Input(segment []byte) {
	e.kcp.Input(segment, true, false)
}

func (e *kcpEngine) Send(message []byte) error {
	if ret := e.kcp.Send(message); ret < 0 {
		return fmt.Errorf("rudp: engine rejected message (code %d)", ret)
	}
	return nil
}

func (e *kcpEngine) Recv(buf []byte) int {
	n := e.kcp.Recv(buf)
	if n < 0 {
		return 0
	}
	return n
}

func (e *kcpEngine) Update(nowMs uint32) {
	_ = nowMs // the engine tracks its own monotonic clock internally
	e.kcp.Update()
}

func (e *kcpEngine) Release() {
	e.kcp = nil
}
