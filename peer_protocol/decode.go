package peer_protocol

import (
	"bytes"
	"encoding/binary"
)

var handshakePrefix = []byte(Protocol[:handshakeHead])

// Decodes the first message in b. It never fails: input that doesn't hold a well-formed message
// decodes to Empty or Invalid. Byte slices in the result are copies, so b may be reused.
//
// A framed message whose length prefix fits in b but whose payload is wrong for its type is
// Invalid with the frame's length, not len(b): bytes after the frame are left for the next call,
// so a caller walking a buffer skips exactly the bad frame. Truncated input, where no frame
// boundary is known, is Invalid with len(b).
func Decode(b []byte) Message {
	n := len(b)
	if n == 0 {
		return Empty()
	}
	if n < keepaliveLen {
		return Invalid(n)
	}
	if binary.BigEndian.Uint32(b) == 0 {
		return Keepalive()
	}
	if n < lengthLen+typeLen {
		return Invalid(n)
	}
	// The handshake has no length header. Its first bytes read as a length far beyond anything
	// allowed, so there's no overlap with framed messages.
	if bytes.HasPrefix(b, handshakePrefix) {
		if n < HandshakeLen {
			return Invalid(n)
		}
		var h Handshake
		if h.UnmarshalBinary(b[:HandshakeLen]) != nil {
			return Invalid(HandshakeLen)
		}
		return MakeHandshake(h)
	}
	length := uint64(binary.BigEndian.Uint32(b))
	end := lengthLen + length
	if end > uint64(n) {
		return Invalid(n)
	}
	frame := b[:end]
	t := MessageType(frame[lengthLen])
	payload := frame[lengthLen+typeLen:]
	if !t.payloadOk(len(payload)) {
		return Invalid(len(frame))
	}
	msg := Message{Type: t}
	switch t {
	case Choke, Unchoke, Interested, NotInterested:
	case Have:
		msg.Index = readInteger(payload)
	case Request, Cancel:
		msg.Index = readInteger(payload[0:])
		msg.Begin = readInteger(payload[4:])
		msg.Length = readInteger(payload[8:])
	case Bitfield:
		msg.Bitfield = BitField(bytes.Clone(payload))
	case Piece:
		msg.Index = readInteger(payload[0:])
		msg.Begin = readInteger(payload[4:])
		msg.Piece = bytes.Clone(payload[minPieceLen:])
	case Port:
		msg.Port = binary.BigEndian.Uint16(payload)
	case Extended:
		msg.ExtendedID = payload[0]
		msg.ExtendedPayload = bytes.Clone(payload[1:])
	}
	return msg
}
