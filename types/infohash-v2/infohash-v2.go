package infohash_v2

import (
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"fmt"

	"github.com/peerwire/torrent/types/infohash"
)

const Size = sha256.Size

// 32-byte SHA2-256 hash of a v2 info dictionary. See BEP 52.
type T [Size]byte

var (
	_ fmt.Stringer             = T{}
	_ encoding.TextMarshaler   = T{}
	_ encoding.TextUnmarshaler = (*T)(nil)
)

func (t T) Bytes() []byte {
	return t[:]
}

func (t T) String() string {
	return hex.EncodeToString(t[:])
}

func (t *T) FromHexString(s string) error {
	if len(s) != 2*Size {
		return fmt.Errorf("v2 infohash hex has length %d, want %d", len(s), 2*Size)
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

// Truncates to 20 bytes, which is what goes in handshakes, trackers and the DHT.
func (t T) ToShort() (short infohash.T) {
	copy(short[:], t[:infohash.Size])
	return
}

func HashBytes(b []byte) T {
	return sha256.Sum256(b)
}
