package requestStrategy

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	qt "github.com/go-quicktest/qt"

	pp "github.com/peerwire/torrent/peer_protocol"
)

func collect(p Policy, in Input) (ret []int) {
	p.IterPieces(in, func(i int) bool {
		ret = append(ret, i)
		return true
	})
	return
}

func TestInOrderSkipsPiecesPeerLacks(t *testing.T) {
	wanted := roaring.BitmapOf(0, 2, 3, 5, 8)
	peer := pp.NewBitField(9)
	peer.Set(3)
	peer.Set(8)
	peer.Set(1)
	got := collect(InOrder{}, Input{Wanted: wanted, PeerHas: peer.Has})
	qt.Assert(t, qt.DeepEquals(got, []int{3, 8}))
}

func TestInOrderNilPeerHasEverything(t *testing.T) {
	got := collect(InOrder{}, Input{Wanted: roaring.BitmapOf(4, 1)})
	qt.Assert(t, qt.DeepEquals(got, []int{1, 4}))
}

func TestInOrderStops(t *testing.T) {
	var got []int
	InOrder{}.IterPieces(Input{Wanted: roaring.BitmapOf(1, 2, 3)}, func(i int) bool {
		got = append(got, i)
		return false
	})
	qt.Assert(t, qt.DeepEquals(got, []int{1}))
}

func TestPartialFirst(t *testing.T) {
	partial := roaring.BitmapOf(7, 4)
	in := Input{
		Wanted:  roaring.BitmapOf(1, 4, 5, 7, 9),
		PeerHas: func(i int) bool { return i != 5 },
		Partial: func(i int) bool { return partial.ContainsInt(i) },
	}
	qt.Assert(t, qt.DeepEquals(collect(PartialFirst{}, in), []int{4, 7, 1, 9}))
}

func TestChunkSpecs(t *testing.T) {
	qt.Assert(t, qt.DeepEquals(ChunkSpecs(65536, 16384), []ChunkSpec{
		{0, 16384}, {16384, 16384}, {32768, 16384}, {49152, 16384},
	}))
	qt.Assert(t, qt.DeepEquals(ChunkSpecs(1000, 16384), []ChunkSpec{{0, 1000}}))
	qt.Assert(t, qt.DeepEquals(ChunkSpecs(16385, 16384), []ChunkSpec{{0, 16384}, {16384, 1}}))
	qt.Check(t, qt.Equals(NumChunks(0, 16384), 0))
	var sum pp.Integer
	for _, cs := range ChunkSpecs(100000, 16384) {
		sum += cs.Length
	}
	qt.Check(t, qt.Equals(sum, 100000))
}
