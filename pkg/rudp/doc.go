// Package rudp implements a reliable, ordered, message-oriented session
// transport layered over an unreliable datagram substrate (UDP, or any
// pluggable packet carrier satisfying the Substrate interface).
//
// It provides a connection-oriented abstraction — Listen/Accept on the
// server, Dial on the client, and bidirectional Send/Recv of discrete
// message payloads — with retransmission, ordering, flow control,
// heartbeats, and graceful shutdown, on top of a substrate that only
// guarantees best-effort datagram delivery.
//
// The per-session ARQ (retransmission, ordering, congestion avoidance) is
// delegated to a pluggable Engine; the default is backed by
// github.com/xtaci/kcp-go/v5. Encryption, authentication, multi-path, and
// NAT traversal are out of scope; compose them at the Substrate layer if
// needed.
package rudp
