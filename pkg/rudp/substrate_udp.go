package rudp

import (
	"net"
	"sync"
)

// udpQueueDepth bounds how many received datagrams UDPSubstrate buffers
// between ticks before it starts dropping them, the same way a kernel
// socket buffer would under load.
const udpQueueDepth = 256

// UDPSubstrate is the production Substrate (§4.1): one *net.UDPConn, one
// background goroutine blocked in ReadFromUDP feeding a bounded channel, so
// that RecvFrom itself never blocks the monitor loop's tick. It owns a
// single socket, with its bind/close bookkeeping guarded by a mutex.
type UDPSubstrate struct {
	mu         sync.Mutex
	conn       *net.UDPConn
	closing    bool
	readerDone chan struct{}

	queue chan memDatagram
}

// NewUDPSubstrate creates an unbound production substrate.
func NewUDPSubstrate() *UDPSubstrate {
	return &UDPSubstrate{queue: make(chan memDatagram, udpQueueDepth)}
}

func (u *UDPSubstrate) Bind(addr string) error {
	u.mu.Lock()
	if u.conn != nil {
		u.mu.Unlock()
		return ErrAddressInUse
	}
	u.mu.Unlock()

	network := "udp"
	laddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return err
	}

	if u.queue == nil {
		u.queue = make(chan memDatagram, udpQueueDepth)
	}

	u.mu.Lock()
	u.conn = conn
	u.closing = false
	u.readerDone = make(chan struct{})
	u.mu.Unlock()

	tuneUDPConn(conn)

	go u.readLoop(conn, u.readerDone)
	return nil
}

func (u *UDPSubstrate) readLoop(conn *net.UDPConn, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, EnvelopeSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])

		select {
		case u.queue <- memDatagram{from: from.String(), data: cp}:
		default:
			// queue full: behaves like a kernel dropping a packet under load
		}
	}
}

func (u *UDPSubstrate) Address() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return ""
	}
	return u.conn.LocalAddr().String()
}

func (u *UDPSubstrate) SendTo(buf []byte, addr string) int {
	u.mu.Lock()
	conn, closing := u.conn, u.closing
	u.mu.Unlock()
	if conn == nil || closing {
		return -1
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return -1
	}
	if raddr.String() == conn.LocalAddr().String() {
		return -1 // sending to one's own bound address
	}
	n, err := conn.WriteToUDP(buf, raddr)
	if err != nil {
		return -1
	}
	return n
}

func (u *UDPSubstrate) RecvFrom(buf []byte) (int, string) {
	u.mu.Lock()
	closing := u.closing
	u.mu.Unlock()
	if closing {
		return -1, ""
	}

	select {
	case dg := <-u.queue:
		n := copy(buf, dg.data)
		return n, dg.from
	default:
		return 0, ""
	}
}

func (u *UDPSubstrate) Close() error {
	u.mu.Lock()
	conn := u.conn
	done := u.readerDone
	u.closing = true
	u.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	if done != nil {
		<-done
	}
	return err
}
