package torrent

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/sync"

	"github.com/peerwire/torrent/metainfo"
	pp "github.com/peerwire/torrent/peer_protocol"
	requestStrategy "github.com/peerwire/torrent/request-strategy"
	"github.com/peerwire/torrent/storage"
)

// Collects blocks into pieces for one torrent and hands completed pieces to storage. A piece is
// only had once storage accepts it. If that fails, its blocks are kept and the write is attempted
// again by RetryPersist or the next block that arrives for it. Safe for concurrent use.
type Assembler struct {
	mu sync.Mutex

	info      *metainfo.Info
	blockSize pp.Integer
	store     storage.PieceStore
	policy    requestStrategy.Policy

	pieces []*Piece
	have   pp.BitField
	// Pieces not yet had, for the policy to scan in order.
	incomplete *roaring.Bitmap

	complete chansync.SetOnce
}

func NewAssembler(info *metainfo.Info, blockSize pp.Integer, store storage.PieceStore) (*Assembler, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("validating info: %w", err)
	}
	if blockSize == 0 {
		return nil, errors.New("zero block size")
	}
	if info.PieceLength > int64(^pp.Integer(0)) {
		return nil, fmt.Errorf("piece length %d too large", info.PieceLength)
	}
	a := &Assembler{
		info:       info,
		blockSize:  blockSize,
		store:      store,
		policy:     requestStrategy.InOrder{},
		have:       pp.NewBitField(info.NumPieces()),
		incomplete: roaring.New(),
	}
	a.pieces = make([]*Piece, info.NumPieces())
	for i := range a.pieces {
		a.pieces[i] = newPiece(i, pp.Integer(info.PieceLen(i)), blockSize)
	}
	a.incomplete.AddRange(0, uint64(len(a.pieces)))
	return a, nil
}

// Replaces the default InOrder policy.
func (a *Assembler) SetPolicy(p requestStrategy.Policy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policy = p
}

func (a *Assembler) NumPieces() int {
	return len(a.pieces)
}

// The blocks piece index is split into.
func (a *Assembler) Blocks(index int) (ret []Block) {
	if index < 0 || index >= len(a.pieces) {
		return nil
	}
	for _, cs := range a.pieces[index].Blocks {
		ret = append(ret, Block{Piece: index, Begin: cs.Begin, Length: cs.Length})
	}
	return
}

func (a *Assembler) checkIndex(index int) error {
	if index < 0 || index >= len(a.pieces) {
		return fmt.Errorf("%w: %d of %d", ErrUnknownPiece, index, len(a.pieces))
	}
	return nil
}

// Calls f with blocks not yet received from pieces the peer has, in the policy's order and then
// by offset, until f returns false. skip excludes blocks, such as those already requested
// elsewhere. It may be nil. The Assembler is locked while f runs.
func (a *Assembler) IterMissingBlocks(peerHas pp.BitField, skip func(Block) bool, f func(Block) bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	in := requestStrategy.Input{
		Wanted:  a.incomplete,
		PeerHas: peerHas.Has,
		Partial: func(i int) bool { return a.pieces[i].numReceived() != 0 },
	}
	a.policy.IterPieces(in, func(i int) bool {
		return a.pieces[i].iterMissing(skip, f)
	})
}

// The first block we don't have from the first piece the peer has that we don't. Ascending piece
// index and offset with the default policy.
func (a *Assembler) NextMissingBlock(peerHas pp.BitField) (ret g.Option[Block]) {
	a.IterMissingBlocks(peerHas, nil, func(b Block) bool {
		ret.Set(b)
		return false
	})
	return
}

// Stores a block. Returns true if this completed the piece and storage accepted it. Blocks for
// pieces already had are ignored. A storage failure is returned, and the piece stays incomplete
// with its blocks kept.
func (a *Assembler) AddBlock(index int, begin pp.Integer, data []byte) (completed bool, err error) {
	if err = a.checkIndex(index); err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.pieces[index]
	if p.complete {
		chunksReceivedUnwanted.Add(1)
		return false, nil
	}
	err = p.addBlock(begin, data)
	if err != nil {
		return
	}
	chunksReceived.Add(1)
	if !p.haveAllBlocks() {
		return false, nil
	}
	err = a.persistLocked(p)
	return err == nil, err
}

func (a *Assembler) persistLocked(p *Piece) error {
	panicif.True(p.complete)
	err := a.store.WritePiece(p.Index, p.assemble())
	if err != nil {
		piecePersistFailures.Add(1)
		return fmt.Errorf("persisting piece %d: %w", p.Index, err)
	}
	p.complete = true
	p.received = nil
	a.have.Set(p.Index)
	a.incomplete.Remove(uint32(p.Index))
	piecesCompleted.Add(1)
	if a.incomplete.IsEmpty() {
		a.complete.Set()
	}
	return nil
}

// Attempts storage again for pieces with every block received that previously failed to persist.
// Returns the pieces that completed.
func (a *Assembler) RetryPersist() (completed []int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	it := a.incomplete.Iterator()
	var ready []*Piece
	for it.HasNext() {
		p := a.pieces[it.Next()]
		if p.haveAllBlocks() {
			ready = append(ready, p)
		}
	}
	for _, p := range ready {
		if pErr := a.persistLocked(p); pErr != nil {
			errs = append(errs, pErr)
			continue
		}
		completed = append(completed, p.Index)
	}
	return completed, errors.Join(errs...)
}

// Returns the piece data for serving requests. Only pieces we have are available.
func (a *Assembler) ReadBlock(b Block) ([]byte, error) {
	if err := a.checkIndex(b.Piece); err != nil {
		return nil, err
	}
	if !a.HavePiece(b.Piece) {
		return nil, fmt.Errorf("don't have piece %d", b.Piece)
	}
	data, err := a.store.ReadPiece(b.Piece)
	if err != nil {
		return nil, err
	}
	end := int64(b.Begin) + int64(b.Length)
	if end > int64(len(data)) {
		return nil, fmt.Errorf("%v exceeds piece length %d", b, len(data))
	}
	return data[b.Begin:end], nil
}

func (a *Assembler) HavePiece(index int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.have.Has(index)
}

// A copy of the pieces had, for sending to peers.
func (a *Assembler) Have() pp.BitField {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.have.Clone()
}

func (a *Assembler) NumHave() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.have.Count()
}

// Fraction of pieces had.
func (a *Assembler) Progress() float64 {
	return float64(a.NumHave()) / float64(len(a.pieces))
}

func (a *Assembler) IsComplete() bool {
	return a.complete.IsSet()
}

// Signalled when every piece is had.
func (a *Assembler) Complete() <-chan struct{} {
	return a.complete.Done()
}

// Bytes in pieces had.
func (a *Assembler) BytesCompleted() (n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.pieces {
		if p.complete {
			n += int64(p.Length)
		}
	}
	return
}

// Marks pieces storage already holds with the expected length as had, without checking their
// hashes. Returns how many were marked.
func (a *Assembler) MarkStored() (n int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var candidates []*Piece
	it := a.incomplete.Iterator()
	for it.HasNext() {
		candidates = append(candidates, a.pieces[it.Next()])
	}
	for _, p := range candidates {
		data, readErr := a.store.ReadPiece(p.Index)
		if errors.Is(readErr, storage.ErrPieceNotFound) {
			continue
		}
		if readErr != nil {
			return n, fmt.Errorf("reading piece %d: %w", p.Index, readErr)
		}
		if len(data) != p.Length.Int() {
			continue
		}
		p.complete = true
		p.received = nil
		a.have.Set(p.Index)
		a.incomplete.Remove(uint32(p.Index))
		n++
	}
	if a.incomplete.IsEmpty() {
		a.complete.Set()
	}
	return
}
