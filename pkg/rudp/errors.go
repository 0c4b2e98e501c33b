package rudp

import "errors"

// Error taxonomy (§7). Internal state transitions never panic. Dial,
// ListenAt, Accept and Substrate.Bind return these sentinels (UDPSubstrate
// can also return errors from the net package); Session.Send and
// Session.Recv report failure as -1 rather than as an error value.
var (
	// ErrSubstrateFailure means send_to/recv_from on the packet substrate
	// returned an unrecoverable error. The owning session moves to Exit.
	ErrSubstrateFailure = errors.New("rudp: substrate failure")

	// ErrHandshakeTimeout means Dial did not reach Connected within
	// kHandshakeTimeout.
	ErrHandshakeTimeout = errors.New("rudp: handshake timeout")

	// ErrHandshakeReject is returned by Dial when the handshake ends before
	// its deadline without reaching Connected: the server replied
	// RejectSession, or a substrate failure, a datagram from another
	// address, or a malformed or unexpected envelope ended it. Dial does
	// not return a separate error for those other causes. The current
	// server implementation never sends RejectSession.
	ErrHandshakeReject = errors.New("rudp: handshake rejected by peer")

	// ErrPeerClosed means the peer sent CloseSession.
	ErrPeerClosed = errors.New("rudp: peer closed session")

	// ErrLivenessTimeout means the server evicted the connection after
	// kHeartbeatTimeout of silence.
	ErrLivenessTimeout = errors.New("rudp: liveness timeout")

	// ErrMalformedEnvelope means a datagram was the wrong size, had an
	// unknown message type, or arrived from an unexpected address.
	ErrMalformedEnvelope = errors.New("rudp: malformed envelope")

	// ErrNotConnected means Send/Recv was called outside the Connected
	// state.
	ErrNotConnected = errors.New("rudp: session is not connected")

	// ErrClosed means the operation was attempted on a Client or Server
	// that has already been destroyed.
	ErrClosed = errors.New("rudp: closed")

	// ErrAddressInUse means Bind was called with an address already bound
	// by another endpoint on the same substrate, or on a UDPSubstrate that
	// is already bound.
	ErrAddressInUse = errors.New("rudp: address already in use")
)
