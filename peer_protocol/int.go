package peer_protocol

import (
	"encoding/binary"
)

// Wire integers are 4-byte big-endian.
type Integer uint32

func (i Integer) Int() int {
	return int(i)
}

func (i Integer) Int64() int64 {
	return int64(i)
}

func (i Integer) Uint32() uint32 {
	return uint32(i)
}

func readInteger(b []byte) Integer {
	return Integer(binary.BigEndian.Uint32(b))
}

func appendInteger(b []byte, i Integer) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(i))
}
