package rudp

import "encoding/binary"

// MsgType identifies the kind of a control envelope (§6).
type MsgType uint8

const (
	MsgNewSession    MsgType = 0
	MsgAcceptSession MsgType = 1
	MsgRejectSession MsgType = 2
	MsgCloseSession  MsgType = 3
	MsgData          MsgType = 4
	MsgHeartbeat     MsgType = 5
)

func (t MsgType) String() string {
	switch t {
	case MsgNewSession:
		return "NewSession"
	case MsgAcceptSession:
		return "AcceptSession"
	case MsgRejectSession:
		return "RejectSession"
	case MsgCloseSession:
		return "CloseSession"
	case MsgData:
		return "Data"
	case MsgHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

const (
	// MaxPayloadSize is the largest meaningful payload a Data envelope may
	// carry (§6).
	MaxPayloadSize = 1024

	envelopeTypeSize       = 1
	envelopeSessionIDSize  = 4
	envelopePayloadLenSize = 4

	// EnvelopeSize is the fixed wire size of every control envelope:
	// 1 (type) + 4 (session_id) + 4 (payload_size) + 1024 (payload) = 1033.
	EnvelopeSize = envelopeTypeSize + envelopeSessionIDSize + envelopePayloadLenSize + MaxPayloadSize
)

// Envelope is the fixed-layout control/data record framed over every
// substrate datagram (§3, §6). The wire format is little-endian
// regardless of host architecture, so heterogeneous peers interoperate.
type Envelope struct {
	Type        MsgType
	SessionID   uint32
	PayloadSize uint32
	Payload     [MaxPayloadSize]byte
}

// NewDataEnvelope builds a Data envelope carrying b, which must fit within
// MaxPayloadSize.
func NewDataEnvelope(sessionID uint32, b []byte) Envelope {
	var e Envelope
	e.Type = MsgData
	e.SessionID = sessionID
	e.PayloadSize = uint32(len(b))
	copy(e.Payload[:], b)
	return e
}

// Data returns the meaningful payload bytes (PayloadSize of them).
func (e *Envelope) Data() []byte {
	n := e.PayloadSize
	if n > MaxPayloadSize {
		n = MaxPayloadSize
	}
	return e.Payload[:n]
}

// Encode writes the wire representation of e into buf, which must be at
// least EnvelopeSize bytes, and returns the number of bytes written.
func (e *Envelope) Encode(buf []byte) int {
	buf[0] = byte(e.Type)
	binary.LittleEndian.PutUint32(buf[1:5], e.SessionID)
	binary.LittleEndian.PutUint32(buf[5:9], e.PayloadSize)
	copy(buf[9:EnvelopeSize], e.Payload[:])
	return EnvelopeSize
}

// Bytes allocates and returns the wire representation of e.
func (e *Envelope) Bytes() []byte {
	buf := make([]byte, EnvelopeSize)
	e.Encode(buf)
	return buf
}

// DecodeEnvelope parses buf as a control envelope. Any size other than
// EnvelopeSize, any payload_size exceeding MaxPayloadSize, or any unknown
// msg_type is malformed and must be dropped by the caller (§7,
// MalformedEnvelope).
func DecodeEnvelope(buf []byte) (Envelope, error) {
	var e Envelope
	if len(buf) != EnvelopeSize {
		return e, ErrMalformedEnvelope
	}

	t := MsgType(buf[0])
	if t > MsgHeartbeat {
		return e, ErrMalformedEnvelope
	}

	sz := binary.LittleEndian.Uint32(buf[5:9])
	if sz > MaxPayloadSize {
		return e, ErrMalformedEnvelope
	}

	e.Type = t
	e.SessionID = binary.LittleEndian.Uint32(buf[1:5])
	e.PayloadSize = sz
	copy(e.Payload[:], buf[9:EnvelopeSize])
	return e, nil
}
