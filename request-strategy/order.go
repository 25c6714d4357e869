package requestStrategy

import (
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/multiless"
)

// What a policy gets to choose from.
type Input struct {
	// Pieces not yet had locally, in ascending order. Policies must not modify it.
	Wanted *roaring.Bitmap
	// Whether the peer being requested from has the piece. Nil means it has everything.
	PeerHas func(pieceIndex int) bool
	// Whether some blocks of the piece have already been received. May be nil.
	Partial func(pieceIndex int) bool
}

func (in Input) peerHas(i int) bool {
	return in.PeerHas == nil || in.PeerHas(i)
}

func (in Input) partial(i int) bool {
	return in.Partial != nil && in.Partial(i)
}

// Chooses which piece to take the next block request from. Callers take blocks from the first
// piece that still has one outstanding, so this only has to order candidates.
type Policy interface {
	// Calls f with pieces the peer has that are still wanted, most preferred first, until f
	// returns false.
	IterPieces(in Input, f func(pieceIndex int) bool)
}

// Ascending piece index. The default.
type InOrder struct{}

func (InOrder) IterPieces(in Input, f func(pieceIndex int) bool) {
	it := in.Wanted.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		if !in.peerHas(i) {
			continue
		}
		if !f(i) {
			return
		}
	}
}

// Pieces with blocks already received come before untouched ones, to keep the number of pieces
// held in memory low. Ties go by ascending index.
type PartialFirst struct{}

func pieceOrderLess(i, j int, in Input) bool {
	return multiless.New().Bool(
		in.partial(j), in.partial(i),
	).Int(
		i, j,
	).Less()
}

func (PartialFirst) IterPieces(in Input, f func(pieceIndex int) bool) {
	var candidates []int
	InOrder{}.IterPieces(in, func(i int) bool {
		candidates = append(candidates, i)
		return true
	})
	slices.SortStableFunc(candidates, func(a, b int) int {
		if pieceOrderLess(a, b, in) {
			return -1
		}
		if pieceOrderLess(b, a, in) {
			return 1
		}
		return 0
	})
	for _, i := range candidates {
		if !f(i) {
			return
		}
	}
}
