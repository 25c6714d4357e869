package requestStrategy

import (
	"github.com/anacrolix/missinggo/v2/panicif"

	pp "github.com/peerwire/torrent/peer_protocol"
)

// A block within a piece.
type ChunkSpec struct {
	Begin, Length pp.Integer
}

func NumChunks(pieceLength, chunkSize pp.Integer) int {
	panicif.Eq(chunkSize, 0)
	return int((pieceLength + chunkSize - 1) / chunkSize)
}

// Every chunk is chunkSize long except the last in the piece, which takes the remainder.
func ChunkIndexSpec(index int, pieceLength, chunkSize pp.Integer) ChunkSpec {
	ret := ChunkSpec{pp.Integer(index) * chunkSize, chunkSize}
	if ret.Begin+ret.Length > pieceLength {
		ret.Length = pieceLength - ret.Begin
	}
	return ret
}

func ChunkSpecs(pieceLength, chunkSize pp.Integer) []ChunkSpec {
	ret := make([]ChunkSpec, NumChunks(pieceLength, chunkSize))
	for i := range ret {
		ret[i] = ChunkIndexSpec(i, pieceLength, chunkSize)
	}
	return ret
}
