package torrent

import (
	"errors"
	"fmt"
	"slices"

	g "github.com/anacrolix/generics"

	pp "github.com/peerwire/torrent/peer_protocol"
	requestStrategy "github.com/peerwire/torrent/request-strategy"
)

// A sub-range of a piece, the unit of requests and piece messages.
type Block struct {
	Piece  int
	Begin  pp.Integer
	Length pp.Integer
}

func (b Block) RequestMessage() pp.Message {
	return pp.MakeRequestMessage(pp.Integer(b.Piece), b.Begin, b.Length)
}

func (b Block) CancelMessage() pp.Message {
	return pp.MakeCancelMessage(pp.Integer(b.Piece), b.Begin, b.Length)
}

func (b Block) String() string {
	return fmt.Sprintf("block %d+%d:%d", b.Piece, b.Begin, b.Length)
}

func blockFromRequestSpec(rs pp.RequestSpec) Block {
	return Block{
		Piece:  rs.Index.Int(),
		Begin:  rs.Begin,
		Length: rs.Length,
	}
}

var errBadBlock = errors.New("block doesn't match the piece's layout")

// The blocks of one piece and those received so far. Complete is set once, when the assembled piece
// is accepted by storage.
type Piece struct {
	Index  int
	Length pp.Integer
	Blocks []requestStrategy.ChunkSpec

	// Keyed by block offset. Dropped once the piece is complete.
	received map[pp.Integer][]byte
	complete bool
}

func newPiece(index int, length, blockSize pp.Integer) *Piece {
	return &Piece{
		Index:  index,
		Length: length,
		Blocks: requestStrategy.ChunkSpecs(length, blockSize),
	}
}

func (p *Piece) blockIndex(begin pp.Integer) (int, bool) {
	return slices.BinarySearchFunc(p.Blocks, begin, func(cs requestStrategy.ChunkSpec, begin pp.Integer) int {
		return int(int64(cs.Begin) - int64(begin))
	})
}

// Receiving the same block again replaces it.
func (p *Piece) addBlock(begin pp.Integer, data []byte) error {
	i, ok := p.blockIndex(begin)
	if !ok || p.Blocks[i].Length.Int() != len(data) {
		return fmt.Errorf("%w: piece %d offset %d length %d", errBadBlock, p.Index, begin, len(data))
	}
	if p.received == nil {
		p.received = make(map[pp.Integer][]byte, len(p.Blocks))
	}
	p.received[begin] = slices.Clone(data)
	return nil
}

func (p *Piece) numReceived() int {
	return len(p.received)
}

func (p *Piece) haveAllBlocks() bool {
	return len(p.received) == len(p.Blocks)
}

func (p *Piece) Complete() bool {
	return p.complete
}

// Only valid once haveAllBlocks.
func (p *Piece) assemble() []byte {
	ret := make([]byte, 0, p.Length)
	for _, cs := range p.Blocks {
		ret = append(ret, p.received[cs.Begin]...)
	}
	return ret
}

// First block not yet received that isn't excluded by skip.
func (p *Piece) iterMissing(skip func(Block) bool, f func(Block) bool) bool {
	if p.complete {
		return true
	}
	for _, cs := range p.Blocks {
		if _, ok := p.received[cs.Begin]; ok {
			continue
		}
		b := Block{Piece: p.Index, Begin: cs.Begin, Length: cs.Length}
		if skip != nil && skip(b) {
			continue
		}
		if !f(b) {
			return false
		}
	}
	return true
}

func (p *Piece) firstMissing() (ret g.Option[Block]) {
	p.iterMissing(nil, func(b Block) bool {
		ret.Set(b)
		return false
	})
	return
}
