//go:build unix

package rudp

import (
	"net"

	"golang.org/x/sys/unix"
)

// udpSocketBufferBytes is sized for the engine's 128-segment send/receive
// windows at the 1400-byte MTU mandated by §6, with headroom for bursts
// under loss-triggered retransmission.
const udpSocketBufferBytes = 4 * 1024 * 1024

// tuneUDPConn raises the kernel socket buffers past their usually-small
// defaults, the same per-OS knob-turning the teacher's main_windows.go
// applies to the console instead of the network stack.
func tuneUDPConn(conn *net.UDPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, udpSocketBufferBytes)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, udpSocketBufferBytes)
	})
}
