package rudp

import (
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*Server, *InMemorySubstrate) {
	t.Helper()
	sub := NewInMemorySubstrate()
	srv := NewServer(WithServerSubstrate(sub), WithServerEngineFactory(newFakeEngine))
	if err := srv.ListenAt(""); err != nil {
		t.Fatalf("ListenAt: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv, sub
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	sub := NewInMemorySubstrate()
	cl := NewClient(WithClientSubstrate(sub), WithClientEngineFactory(newFakeEngine))
	t.Cleanup(cl.Close)
	return cl
}

// Scenario A (§8): a client dials a server over the in-memory substrate,
// sends a message, and receives it echoed back.
func TestScenarioEcho(t *testing.T) {
	srv, _ := newTestServer(t)

	accepted := make(chan *Session, 1)
	go func() {
		sess, err := srv.Accept()
		if err != nil {
			return
		}
		accepted <- sess
	}()

	cl := newTestClient(t)
	if err := cl.Dial(srv.Address()); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var serverSess *Session
	select {
	case serverSess = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted")
	}

	clientSess := cl.Session()
	if clientSess.Send([]byte("hello")) < 0 {
		t.Fatal("client Send failed")
	}

	buf := make([]byte, MaxPayloadSize)
	n := recvWithRetry(t, serverSess, buf)
	if string(buf[:n]) != "hello" {
		t.Fatalf("server recv = %q, want %q", buf[:n], "hello")
	}

	if serverSess.Send(buf[:n]) < 0 {
		t.Fatal("server Send failed")
	}

	n = recvWithRetry(t, clientSess, buf)
	if string(buf[:n]) != "hello" {
		t.Fatalf("client recv echo = %q, want %q", buf[:n], "hello")
	}
}

// Scenario B (§8): the first NewSession datagram is dropped; the client's
// retry (every tick throughout the handshake window, §9 REDESIGN note)
// still reaches Connected well within HandshakeTimeout.
func TestScenarioHandshakeRetransmit(t *testing.T) {
	srv, srvSub := newTestServer(t)

	var dropped atomic.Bool
	srvSub.SetDrop(func(from, to string, data []byte) bool {
		if dropped.CompareAndSwap(false, true) {
			return true
		}
		return false
	})

	go func() { _, _ = srv.Accept() }()

	cl := newTestClient(t)
	if err := cl.Dial(srv.Address()); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if cl.State() != StatusConnected {
		t.Fatalf("client state = %v, want Connected", cl.State())
	}
}

// Scenario C (§8): every datagram is dropped; Dial fails with
// ErrHandshakeTimeout after HandshakeTimeout elapses.
func TestScenarioHandshakeTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises the full HandshakeTimeout window")
	}

	sub := NewInMemorySubstrate()
	if err := sub.Bind(""); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer sub.Close()
	sub.SetDrop(func(from, to string, data []byte) bool { return true })

	cl := NewClient(WithClientSubstrate(NewInMemorySubstrate()), WithClientEngineFactory(newFakeEngine))
	start := time.Now()
	err := cl.Dial(sub.Address())
	if err != ErrHandshakeTimeout {
		t.Fatalf("Dial err = %v, want ErrHandshakeTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < HandshakeTimeout {
		t.Fatalf("Dial returned after %v, want >= %v", elapsed, HandshakeTimeout)
	}
}

// Scenario D (§8): a NewSession retransmitted after AcceptSession has
// already been sent gets AcceptSession again, idempotently, without a
// second registry entry.
func TestScenarioIdempotentNewSession(t *testing.T) {
	srv, srvSub := newTestServer(t)
	go func() { _, _ = srv.Accept() }()

	peer := NewInMemorySubstrate()
	if err := peer.Bind(""); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer peer.Close()

	send := func() {
		var env Envelope
		env.Type = MsgNewSession
		peer.SendTo(env.Bytes(), srv.Address())
	}

	send()
	time.Sleep(5 * TickInterval)
	send()
	time.Sleep(5 * TickInterval)

	buf := make([]byte, EnvelopeSize)
	var ids []uint32
	for i := 0; i < 2; i++ {
		n, _ := peer.RecvFrom(buf)
		if n <= 0 {
			t.Fatalf("expected two AcceptSession replies, got %d", i)
		}
		env, err := DecodeEnvelope(buf[:n])
		if err != nil {
			t.Fatalf("DecodeEnvelope: %v", err)
		}
		if env.Type != MsgAcceptSession {
			t.Fatalf("reply %d type = %v, want AcceptSession", i, env.Type)
		}
		ids = append(ids, env.SessionID)
	}
	if ids[0] != ids[1] {
		t.Fatalf("session ids differ across retries: %d != %d", ids[0], ids[1])
	}

	srv.mu.Lock()
	n := len(srv.registry)
	srv.mu.Unlock()
	if n != 1 {
		t.Fatalf("registry has %d entries, want 1", n)
	}
}

// Scenario F (§8): after a client closes gracefully, the server's Session
// reference observably stops accepting/returning data rather than
// panicking or hanging.
func TestScenarioGracefulClose(t *testing.T) {
	srv, _ := newTestServer(t)

	accepted := make(chan *Session, 1)
	go func() {
		sess, err := srv.Accept()
		if err != nil {
			return
		}
		accepted <- sess
	}()

	cl := newTestClient(t)
	if err := cl.Dial(srv.Address()); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var serverSess *Session
	select {
	case serverSess = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted")
	}

	cl.Close()

	buf := make([]byte, MaxPayloadSize)
	if !waitUntil(time.Second, func() bool { return serverSess.Recv(buf) < 0 }) {
		t.Fatal("server session never observed peer close")
	}
	if serverSess.Send([]byte("x")) >= 0 {
		t.Fatal("Send on a closed session should fail")
	}
}

func recvWithRetry(t *testing.T, sess *Session, buf []byte) int {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if n := sess.Recv(buf); n > 0 {
			return n
		} else if n < 0 {
			t.Fatalf("Recv returned -1 (session not connected)")
		}
		time.Sleep(TickInterval)
	}
	t.Fatal("Recv timed out")
	return 0
}

func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(TickInterval)
	}
	return false
}
