package infohash

import (
	"crypto/sha1"
	"encoding"
	"encoding/hex"
	"fmt"
)

const Size = 20

// 20-byte SHA1 hash of a v1 info dictionary. Used as torrent identity and as the handshake
// payload.
type T [Size]byte

var (
	_ fmt.Stringer             = T{}
	_ encoding.TextMarshaler   = T{}
	_ encoding.TextUnmarshaler = (*T)(nil)
)

func (t T) Bytes() []byte {
	return t[:]
}

func (t T) AsString() string {
	return string(t[:])
}

func (t T) String() string {
	return hex.EncodeToString(t[:])
}

func (t T) IsZero() bool {
	return t == T{}
}

func (t *T) FromHexString(s string) error {
	if len(s) != 2*Size {
		return fmt.Errorf("infohash hex has length %d, want %d", len(s), 2*Size)
	}
	_, err := hex.Decode(t[:], []byte(s))
	return err
}

func (t *T) UnmarshalText(b []byte) error {
	return t.FromHexString(string(b))
}

func (t T) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Copies exactly Size bytes from b. Shorter or longer input is rejected.
func FromBytes(b []byte) (t T, err error) {
	if len(b) != Size {
		err = fmt.Errorf("infohash has %d bytes, want %d", len(b), Size)
		return
	}
	copy(t[:], b)
	return
}

func HashBytes(b []byte) T {
	return sha1.Sum(b)
}
