package rudp

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// Substrate is a pluggable duplex datagram endpoint (§4.1). It is the sole
// extension point of this package: any type satisfying it — UDP, an
// in-memory queue, or something else — can carry the protocol. Addresses
// are opaque strings; implementations must never leak their underlying
// address type across the interface.
//
// Implementations must be non-blocking and must preserve datagram
// boundaries. They need not deliver datagrams in order, and need not
// deliver them at all — the reliability engine compensates.
type Substrate interface {
	// Bind assigns addr to this endpoint. An empty addr requests an
	// ephemeral address. Returns ErrAddressInUse if addr is already bound
	// by another endpoint on the same substrate.
	Bind(addr string) error

	// Address returns the bound address, or "" if not yet bound.
	Address() string

	// SendTo sends buf to addr, returning the number of bytes accepted,
	// or -1 on substrate failure (including sending to one's own bound
	// address).
	SendTo(buf []byte, addr string) int

	// RecvFrom copies the next queued datagram into buf and returns its
	// length and origin address. Returns (0, "") if nothing is queued,
	// and (-1, "") on substrate failure. Must not block.
	RecvFrom(buf []byte) (n int, from string)

	// Close idempotently tears down the endpoint.
	Close() error
}

// memHub is a process-global address-to-queue registry backing
// InMemorySubstrate. It is the thing that makes the substrate abstraction
// testable without a kernel network stack (§4.1).
type memHub struct {
	mu  sync.Mutex
	reg map[string]*InMemorySubstrate
}

var defaultMemHub = &memHub{reg: make(map[string]*InMemorySubstrate)}

type memDatagram struct {
	from string
	data []byte
}

// InMemorySubstrate is a Substrate implementation backed by a
// process-global address-to-queue map, as described in §4.1. It is meant
// for tests and for composing pure-Go simulations of session behavior
// under loss, reordering, and partition — the scenarios in §8 are all
// expressed against it.
type InMemorySubstrate struct {
	hub *memHub

	mu     sync.Mutex
	addr   string
	closed bool
	queue  chan memDatagram

	// Drop, if set, is consulted for every datagram addressed to this
	// endpoint (on the sender's side, before it is queued) and for every
	// datagram this endpoint sends. Returning true drops the datagram.
	// Tests use this to simulate loss and partition (§8 scenarios B, C, E).
	drop func(from, to string, data []byte) bool

	mu2 sync.Mutex // guards drop
}

const memQueueDepth = 256

// NewInMemorySubstrate creates an unbound in-memory substrate on the
// default process-global hub.
func NewInMemorySubstrate() *InMemorySubstrate {
	return &InMemorySubstrate{hub: defaultMemHub, queue: make(chan memDatagram, memQueueDepth)}
}

// SetDrop installs a predicate consulted for every datagram sent to this
// endpoint's address; returning true silently drops it. A nil predicate
// disables dropping. Tests use this to emulate partitions and lossy links.
func (s *InMemorySubstrate) SetDrop(fn func(from, to string, data []byte) bool) {
	s.mu2.Lock()
	defer s.mu2.Unlock()
	s.drop = fn
}

func (s *InMemorySubstrate) shouldDrop(from, to string, data []byte) bool {
	s.mu2.Lock()
	fn := s.drop
	s.mu2.Unlock()
	return fn != nil && fn(from, to, data)
}

func (s *InMemorySubstrate) Bind(addr string) error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if addr == "" {
		for {
			addr = "mem:" + randHex(8)
			if _, taken := s.hub.reg[addr]; !taken {
				break
			}
		}
	} else if _, taken := s.hub.reg[addr]; taken {
		return ErrAddressInUse
	}

	s.mu.Lock()
	s.addr = addr
	s.closed = false
	s.mu.Unlock()

	s.hub.reg[addr] = s
	return nil
}

func (s *InMemorySubstrate) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *InMemorySubstrate) SendTo(buf []byte, addr string) int {
	s.mu.Lock()
	from, closed := s.addr, s.closed
	s.mu.Unlock()
	if closed || from == "" || from == addr {
		return -1
	}

	s.hub.mu.Lock()
	dst, ok := s.hub.reg[addr]
	s.hub.mu.Unlock()
	if !ok {
		return -1 // no endpoint bound at addr: reported as a substrate failure
	}

	if s.shouldDrop(from, addr, buf) || dst.shouldDrop(from, addr, buf) {
		return len(buf) // accepted by the substrate, dropped in flight
	}

	cp := make([]byte, len(buf))
	copy(cp, buf)

	select {
	case dst.queue <- memDatagram{from: from, data: cp}:
	default:
		// queue full: behaves like a switch dropping a packet under load
	}
	return len(buf)
}

func (s *InMemorySubstrate) RecvFrom(buf []byte) (int, string) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return -1, ""
	}

	select {
	case dg := <-s.queue:
		n := copy(buf, dg.data)
		return n, dg.from
	default:
		return 0, ""
	}
}

func (s *InMemorySubstrate) Close() error {
	s.mu.Lock()
	addr := s.addr
	s.closed = true
	s.mu.Unlock()

	if addr != "" {
		s.hub.mu.Lock()
		delete(s.hub.reg, addr)
		s.hub.mu.Unlock()
	}
	return nil
}

func randHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is not something a 10ms tick loop can
		// recover from; fall back to a counter-derived value so tests
		// still get distinct addresses.
		return fmt.Sprintf("%016x", addrFallbackCounter.add())
	}
	return hex.EncodeToString(b)
}

var addrFallbackCounter counter64

type counter64 struct {
	mu sync.Mutex
	n  uint64
}

func (c *counter64) add() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}
