package peer_protocol

import (
	"fmt"
	"math/bits"
)

// Bitmap over piece indices as it appears on the wire. Bit i lives in byte i/8 at position
// 7-i%8. The length is fixed when it's made and is never grown by Set.
type BitField []byte

func NewBitField(numPieces int) BitField {
	return make(BitField, (numPieces+7)/8)
}

func (bf BitField) Has(i int) bool {
	if i < 0 || i/8 >= len(bf) {
		return false
	}
	return bf[i/8]&(1<<(7-uint(i%8))) != 0
}

// Returns false if i is outside the bitfield, in which case nothing changes.
func (bf BitField) Set(i int) bool {
	if i < 0 || i/8 >= len(bf) {
		return false
	}
	bf[i/8] |= 1 << (7 - uint(i%8))
	return true
}

func (bf BitField) Clear(i int) bool {
	if i < 0 || i/8 >= len(bf) {
		return false
	}
	bf[i/8] &^= 1 << (7 - uint(i%8))
	return true
}

// Number of set bits.
func (bf BitField) Count() (n int) {
	for _, b := range bf {
		n += bits.OnesCount8(b)
	}
	return
}

func (bf BitField) Clone() BitField {
	if bf == nil {
		return nil
	}
	return append(BitField(nil), bf...)
}

// Checks a remote bitfield against the torrent's piece count. BEP 3 says clients should drop
// peers that send a wrongly sized bitfield or set the spare bits.
func (bf BitField) Validate(numPieces int) error {
	if want := (numPieces + 7) / 8; len(bf) != want {
		return fmt.Errorf("bitfield has %d bytes, want %d", len(bf), want)
	}
	for i := numPieces; i < 8*len(bf); i++ {
		if bf.Has(i) {
			return fmt.Errorf("spare bit %d set", i)
		}
	}
	return nil
}

func (bf BitField) String() string {
	return fmt.Sprintf("%x", []byte(bf))
}
