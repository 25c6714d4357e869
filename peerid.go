package torrent

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/anacrolix/missinggo/v2/panicif"
)

type PeerID [20]byte

func (me PeerID) String() string {
	if me[0] == '-' && me[7] == '-' {
		return string(me[:8]) + hex.EncodeToString(me[8:])
	}
	return hex.EncodeToString(me[:])
}

const peerIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// The fingerprint (BEP 20, like "-PW0100-") followed by random alphanumerics to fill 20 bytes.
func GeneratePeerID(fingerprint string) (ret PeerID) {
	n := copy(ret[:], fingerprint)
	max := big.NewInt(int64(len(peerIDAlphabet)))
	for i := n; i < len(ret); i++ {
		j, err := rand.Int(rand.Reader, max)
		panicif.Err(err)
		ret[i] = peerIDAlphabet[j.Int64()]
	}
	return
}
