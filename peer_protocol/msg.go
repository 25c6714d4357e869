package peer_protocol

import (
	"encoding"
	"errors"
	"fmt"

	"github.com/anacrolix/missinggo/v2/panicif"
)

// Which variant of Message is populated. Framed messages are further discriminated by Type.
type Kind uint8

const (
	// A length-prefixed message with a type byte.
	KindFramed Kind = iota
	// Nothing was available to decode.
	KindEmpty
	// Bytes that don't form a well-formed message. Message.InvalidLen holds how many were seen.
	KindInvalid
	KindKeepalive
	KindHandshake
)

func (k Kind) String() string {
	switch k {
	case KindFramed:
		return "framed"
	case KindEmpty:
		return "empty"
	case KindInvalid:
		return "invalid"
	case KindKeepalive:
		return "keepalive"
	case KindHandshake:
		return "handshake"
	}
	return fmt.Sprintf("kind %d", uint8(k))
}

// This is a lazy union representing all the possible fields for messages. Kind says which variant
// is in use, and Type which framed message when Kind is KindFramed.
type Message struct {
	Piece           []byte
	Bitfield        BitField
	ExtendedPayload []byte
	Handshake       Handshake

	Index, Begin, Length Integer
	InvalidLen           int
	Port                 uint16
	Kind                 Kind
	Type                 MessageType
	ExtendedID           byte
}

var _ interface {
	encoding.BinaryMarshaler
} = Message{}

func Keepalive() Message {
	return Message{Kind: KindKeepalive}
}

func Empty() Message {
	return Message{Kind: KindEmpty}
}

func Invalid(n int) Message {
	return Message{Kind: KindInvalid, InvalidLen: n}
}

func MakeHandshake(h Handshake) Message {
	return Message{Kind: KindHandshake, Handshake: h}
}

func MakeHave(index Integer) Message {
	return Message{Type: Have, Index: index}
}

func MakeBitfield(bf BitField) Message {
	return Message{Type: Bitfield, Bitfield: bf}
}

func MakeRequestMessage(piece, offset, length Integer) Message {
	return Message{Type: Request, Index: piece, Begin: offset, Length: length}
}

func MakeCancelMessage(piece, offset, length Integer) Message {
	return Message{Type: Cancel, Index: piece, Begin: offset, Length: length}
}

func MakePieceMessage(piece, offset Integer, data []byte) Message {
	return Message{Type: Piece, Index: piece, Begin: offset, Piece: data}
}

func MakePortMessage(port uint16) Message {
	return Message{Type: Port, Port: port}
}

func MakeExtendedMessage(id byte, payload []byte) Message {
	return Message{Type: Extended, ExtendedID: id, ExtendedPayload: payload}
}

func (msg Message) IsFramed(t MessageType) bool {
	return msg.Kind == KindFramed && msg.Type == t
}

// The block a Request, Cancel or Piece refers to. For Piece the length is the data length.
func (msg Message) RequestSpec() RequestSpec {
	length := msg.Length
	if msg.Type == Piece {
		length = Integer(len(msg.Piece))
	}
	return RequestSpec{Index: msg.Index, Begin: msg.Begin, Length: length}
}

func (msg Message) payloadLen() int {
	switch msg.Type {
	case Choke, Unchoke, Interested, NotInterested:
		return 0
	case Have:
		return indexLen
	case Request, Cancel:
		return requestLen
	case Bitfield:
		return len(msg.Bitfield)
	case Piece:
		return minPieceLen + len(msg.Piece)
	case Port:
		return portLen
	case Extended:
		return 1 + len(msg.ExtendedPayload)
	}
	return 0
}

// Number of bytes the message occupies on the wire. For Invalid it's how many bytes were seen, so
// a buffer holding several messages can be walked by this amount.
func (msg Message) Len() int {
	switch msg.Kind {
	case KindEmpty:
		return 0
	case KindInvalid:
		return msg.InvalidLen
	case KindKeepalive:
		return keepaliveLen
	case KindHandshake:
		return HandshakeLen
	}
	return lengthLen + typeLen + msg.payloadLen()
}

var ErrEncodeInvalid = errors.New("invalid message can't be encoded")

// Appends the wire form of msg to b.
func (msg Message) AppendBinary(b []byte) ([]byte, error) {
	switch msg.Kind {
	case KindEmpty:
		return b, nil
	case KindInvalid:
		return b, ErrEncodeInvalid
	case KindKeepalive:
		return appendInteger(b, 0), nil
	case KindHandshake:
		return msg.Handshake.AppendBinary(b), nil
	case KindFramed:
	default:
		return b, fmt.Errorf("unknown message kind %v", msg.Kind)
	}
	if !msg.Type.Known() {
		return b, fmt.Errorf("unknown message type: %v", msg.Type)
	}
	if msg.Type == Bitfield && len(msg.Bitfield) == 0 {
		return b, errors.New("empty bitfield")
	}
	b = appendInteger(b, Integer(typeLen+msg.payloadLen()))
	b = append(b, byte(msg.Type))
	switch msg.Type {
	case Choke, Unchoke, Interested, NotInterested:
	case Have:
		b = appendInteger(b, msg.Index)
	case Request, Cancel:
		for _, i := range []Integer{msg.Index, msg.Begin, msg.Length} {
			b = appendInteger(b, i)
		}
	case Bitfield:
		b = append(b, msg.Bitfield...)
	case Piece:
		b = appendInteger(b, msg.Index)
		b = appendInteger(b, msg.Begin)
		b = append(b, msg.Piece...)
	case Port:
		b = append(b, byte(msg.Port>>8), byte(msg.Port))
	case Extended:
		b = append(b, msg.ExtendedID)
		b = append(b, msg.ExtendedPayload...)
	}
	return b, nil
}

func (msg Message) MarshalBinary() ([]byte, error) {
	return msg.AppendBinary(make([]byte, 0, msg.Len()))
}

func (msg Message) MustMarshalBinary() []byte {
	b, err := msg.MarshalBinary()
	panicif.Err(err)
	return b
}

func (msg Message) String() string {
	switch msg.Kind {
	case KindInvalid:
		return fmt.Sprintf("invalid(%d)", msg.InvalidLen)
	case KindHandshake:
		return fmt.Sprintf("handshake(%v)", msg.Handshake.InfoHash)
	case KindFramed:
	default:
		return msg.Kind.String()
	}
	switch msg.Type {
	case Have:
		return fmt.Sprintf("have(%d)", msg.Index)
	case Request, Cancel:
		return fmt.Sprintf("%v(%d, %d, %d)", msg.Type, msg.Index, msg.Begin, msg.Length)
	case Piece:
		return fmt.Sprintf("piece(%d, %d, %d bytes)", msg.Index, msg.Begin, len(msg.Piece))
	case Bitfield:
		return fmt.Sprintf("bitfield(%d pieces set)", msg.Bitfield.Count())
	case Port:
		return fmt.Sprintf("port(%d)", msg.Port)
	case Extended:
		return fmt.Sprintf("extended(%d, %d bytes)", msg.ExtendedID, len(msg.ExtendedPayload))
	}
	return msg.Type.String()
}

type RequestSpec struct {
	Index, Begin, Length Integer
}

func (me RequestSpec) String() string {
	return fmt.Sprintf("{%d %d %d}", me.Index, me.Begin, me.Length)
}
