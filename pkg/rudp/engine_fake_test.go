package rudp

import "sync"

// fakeEngine is a trivial stand-in for the real ARQ engine, used by tests
// that exercise the Session/Client/Server layer without depending on the
// external reliability engine's own retransmission timing (§4.2: any
// implementation satisfying the Engine contract is interchangeable). It
// treats every Send as already reliable and ordered: the "segment" on the
// wire is the message itself, forwarded to the output callback unchanged.
type fakeEngine struct {
	mu     sync.Mutex
	output func([]byte)
	inbox  [][]byte
}

func newFakeEngine(uint32) Engine { return &fakeEngine{} }

func (e *fakeEngine) SetOutput(fn func([]byte)) {
	e.mu.Lock()
	e.output = fn
	e.mu.Unlock()
}

func (e *fakeEngine) Input(segment []byte) {
	cp := make([]byte, len(segment))
	copy(cp, segment)
	e.mu.Lock()
	e.inbox = append(e.inbox, cp)
	e.mu.Unlock()
}

func (e *fakeEngine) Send(message []byte) error {
	e.mu.Lock()
	out := e.output
	e.mu.Unlock()
	if out != nil {
		cp := make([]byte, len(message))
		copy(cp, message)
		out(cp)
	}
	return nil
}

func (e *fakeEngine) Recv(buf []byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inbox) == 0 {
		return 0
	}
	n := copy(buf, e.inbox[0])
	e.inbox = e.inbox[1:]
	return n
}

func (e *fakeEngine) Update(nowMs uint32) {}

func (e *fakeEngine) Release() {}
