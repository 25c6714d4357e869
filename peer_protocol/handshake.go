package peer_protocol

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/peerwire/torrent/types/infohash"
)

type ExtensionBit uint

// https://www.bittorrent.org/beps/bep_0004.html
const (
	ExtensionBitDht  ExtensionBit = 0  // http://www.bittorrent.org/beps/bep_0005.html
	ExtensionBitFast ExtensionBit = 2  // http://www.bittorrent.org/beps/bep_0006.html
	ExtensionBitLtep ExtensionBit = 20 // http://www.bittorrent.org/beps/bep_0010.html
)

// The 8 reserved handshake bytes. Bit 0 is the last bit of the last byte.
type PeerExtensionBits [8]byte

func NewPeerExtensionBytes(bits ...ExtensionBit) (ret PeerExtensionBits) {
	for _, b := range bits {
		ret.SetBit(b, true)
	}
	return
}

func (pex *PeerExtensionBits) SetBit(bit ExtensionBit, on bool) {
	if on {
		pex[7-bit/8] |= 1 << (bit % 8)
	} else {
		pex[7-bit/8] &^= 1 << (bit % 8)
	}
}

func (pex PeerExtensionBits) GetBit(bit ExtensionBit) bool {
	return pex[7-bit/8]&(1<<(bit%8)) != 0
}

func (pex PeerExtensionBits) SupportsDHT() bool {
	return pex.GetBit(ExtensionBitDht)
}

func (pex PeerExtensionBits) SupportsExtended() bool {
	return pex.GetBit(ExtensionBitLtep)
}

func (pex PeerExtensionBits) String() string {
	var tags []string
	for _, bt := range []struct {
		bit ExtensionBit
		tag string
	}{
		{ExtensionBitLtep, "ltep"},
		{ExtensionBitFast, "fast"},
		{ExtensionBitDht, "dht"},
	} {
		if pex.GetBit(bt.bit) {
			tags = append(tags, bt.tag)
		}
	}
	return fmt.Sprintf("%s (%s)", hex.EncodeToString(pex[:]), strings.Join(tags, ", "))
}

// The fixed 68-byte opening exchange. It has no length prefix.
type Handshake struct {
	Reserved PeerExtensionBits
	InfoHash infohash.T
	PeerID   [20]byte
}

// Handshakes are equal if they're about the same torrent. Reserved bits and peer ids are
// ignored, as the only use of this is checking a peer replied about what we asked for.
func (h Handshake) Equal(other Handshake) bool {
	return h.InfoHash == other.InfoHash
}

func (h Handshake) AppendBinary(b []byte) []byte {
	b = append(b, Protocol...)
	b = append(b, h.Reserved[:]...)
	b = append(b, h.InfoHash[:]...)
	return append(b, h.PeerID[:]...)
}

func (h Handshake) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HandshakeLen)), nil
}

func (h *Handshake) UnmarshalBinary(b []byte) error {
	if len(b) != HandshakeLen {
		return fmt.Errorf("handshake is %d bytes, want %d", len(b), HandshakeLen)
	}
	if string(b[:len(Protocol)]) != Protocol {
		return fmt.Errorf("unexpected protocol string %q", b[:len(Protocol)])
	}
	b = b[len(Protocol):]
	b = b[copy(h.Reserved[:], b):]
	b = b[copy(h.InfoHash[:], b):]
	copy(h.PeerID[:], b)
	return nil
}

func WriteHandshake(w io.Writer, h Handshake) error {
	b, _ := h.MarshalBinary()
	_, err := w.Write(b)
	return err
}

// Reads exactly one handshake in a single hit.
func ReadHandshake(r io.Reader) (h Handshake, err error) {
	var b [HandshakeLen]byte
	_, err = io.ReadFull(r, b[:])
	if err != nil {
		err = fmt.Errorf("reading handshake: %w", err)
		return
	}
	err = h.UnmarshalBinary(b[:])
	return
}
