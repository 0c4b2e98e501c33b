//go:build !unix

package rudp

import "net"

// tuneUDPConn is a no-op outside unix: there is no portable SO_RCVBUF/
// SO_SNDBUF knob to turn via golang.org/x/sys on other platforms here.
func tuneUDPConn(conn *net.UDPConn) {}
