package metainfo

import (
	"strings"
	"testing"

	qt "github.com/go-quicktest/qt"

	"github.com/peerwire/torrent/types/infohash"
)

func TestPieceLayout(t *testing.T) {
	info := Info{PieceLength: 16, Length: 40}
	qt.Assert(t, qt.IsNil(info.Validate()))
	qt.Assert(t, qt.Equals(info.NumPieces(), 3))
	qt.Check(t, qt.Equals(info.PieceLen(0), int64(16)))
	qt.Check(t, qt.Equals(info.PieceLen(2), int64(8)))
	qt.Check(t, qt.Equals(info.PieceLen(3), int64(0)))
	qt.Check(t, qt.Equals(info.PieceLen(-1), int64(0)))
	qt.Check(t, qt.Equals(info.PieceOffset(2), int64(32)))

	// An exact multiple has a full last piece.
	info.Length = 48
	qt.Check(t, qt.Equals(info.NumPieces(), 3))
	qt.Check(t, qt.Equals(info.PieceLen(2), int64(16)))
}

func TestInfoValidate(t *testing.T) {
	qt.Check(t, qt.IsNotNil((&Info{PieceLength: 0, Length: 1}).Validate()))
	qt.Check(t, qt.IsNotNil((&Info{PieceLength: 1, Length: 0}).Validate()))
	qt.Check(t, qt.ErrorMatches(
		(&Info{PieceLength: 2, Length: 3, Pieces: make([]byte, 20)}).Validate(),
		"have 20 piece hash bytes for 2 pieces"))
	qt.Check(t, qt.IsNil((&Info{PieceLength: 2, Length: 3, Pieces: make([]byte, 40)}).Validate()))
}

func TestParseInfoHash(t *testing.T) {
	v1 := strings.Repeat("ab", 20)
	ih, err := ParseInfoHash(v1)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.IsTrue(ih.Ok()))
	qt.Check(t, qt.IsFalse(ih.V2.Ok))
	qt.Check(t, qt.Equals(ih.String(), v1))

	v2, err := ParseInfoHash(strings.Repeat("cd", 32))
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.IsTrue(v2.V2.Ok))
	// Truncated for the wire.
	qt.Check(t, qt.Equals(v2.Short().String(), strings.Repeat("cd", 20)))

	_, err = ParseInfoHash("abc")
	qt.Check(t, qt.IsNotNil(err))
	_, err = ParseInfoHash(strings.Repeat("zz", 20))
	qt.Check(t, qt.IsNotNil(err))
}

func TestHybridShortIsV1(t *testing.T) {
	v1 := infohash.HashBytes([]byte("v1"))
	ih := InfoHashHybrid(v1, [32]byte{1})
	qt.Assert(t, qt.Equals(ih.Short(), v1))
	qt.Assert(t, qt.IsFalse(InfoHash{}.Ok()))
	qt.Assert(t, qt.PanicMatches(func() { InfoHash{}.Short() }, "empty InfoHash"))
}

func TestAnnounceListWithSchemes(t *testing.T) {
	al := AnnounceList{
		{"udp://a:1/announce", "http://b/announce"},
		{"udp://a:1/announce", "udp://c:2", "::bad"},
	}
	qt.Check(t, qt.DeepEquals(al.DistinctValues(), []string{"udp://a:1/announce", "http://b/announce", "udp://c:2", "::bad"}))
	qt.Check(t, qt.DeepEquals(al.WithSchemes("udp"), []string{"udp://a:1/announce", "udp://c:2"}))
	qt.Check(t, qt.IsNil(al.WithSchemes("wss")))
	clone := al.Clone()
	clone[0][0] = "changed"
	qt.Check(t, qt.Equals(al[0][0], "udp://a:1/announce"))
}
