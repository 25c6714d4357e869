package peer_protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerwire/torrent/types/infohash"
)

func TestHandshakeEqualIgnoresPeerIdAndReserved(t *testing.T) {
	ih := infohash.HashBytes([]byte("a torrent"))
	a := Handshake{InfoHash: ih}
	copy(a.PeerID[:], "-PW0100-aaaaaaaaaaaa")
	b := Handshake{InfoHash: ih, Reserved: NewPeerExtensionBytes(ExtensionBitLtep)}
	copy(b.PeerID[:], "-qB5050-bbbbbbbbbbbb")
	assert.True(t, a.Equal(b))
	b.InfoHash[0]++
	assert.False(t, a.Equal(b))
}

func TestHandshakeWireLayout(t *testing.T) {
	h := Handshake{InfoHash: infohash.HashBytes(nil)}
	copy(h.PeerID[:], "-PW0100-012345678901")
	b, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, HandshakeLen)
	assert.EqualValues(t, 19, b[0])
	assert.Equal(t, "BitTorrent protocol", string(b[1:20]))
	assert.Equal(t, make([]byte, 8), b[20:28])
	assert.Equal(t, h.InfoHash[:], b[28:48])
	assert.Equal(t, "-PW0100-012345678901", string(b[48:]))
}

func TestHandshakeReadWrite(t *testing.T) {
	var buf bytes.Buffer
	h := Handshake{
		Reserved: NewPeerExtensionBytes(ExtensionBitDht),
		InfoHash: infohash.HashBytes([]byte("x")),
	}
	require.NoError(t, WriteHandshake(&buf, h))
	got, err := ReadHandshake(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	_, err = ReadHandshake(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandshakeBadProtocol(t *testing.T) {
	b := MakeHandshake(Handshake{}).MustMarshalBinary()
	b[5] = 'X'
	_, err := ReadHandshake(bytes.NewReader(b))
	assert.Error(t, err)
	// The prefix still matches, so the codec consumes the whole handshake.
	assert.Equal(t, Invalid(HandshakeLen), Decode(b))
}
