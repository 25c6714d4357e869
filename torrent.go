package torrent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	"github.com/peerwire/torrent/metainfo"
	pp "github.com/peerwire/torrent/peer_protocol"
	"github.com/peerwire/torrent/storage"
)

const (
	// Connection attempts to an added peer before it's given up on.
	maxPeerDials   = 3
	peerRedialWait = 5 * time.Second

	defaultPersistRetryInterval = 2 * time.Second
	maxPersistRetryInterval     = time.Minute
)

// Downloads one torrent from its peers and serves the pieces it has. Created by a Session.
type Torrent struct {
	infoHash metainfo.InfoHash
	info     *metainfo.Info
	cfg      *SessionConfig
	local    pp.Handshake
	logger   log.Logger
	store    storage.PieceStore
	asm      *Assembler
	alert    func(Alert)

	tasks  *taskGroup
	closed chansync.SetOnce
	// Signalled after a piece with all its blocks fails to persist.
	persistFailed chan struct{}

	mu    sync.Mutex
	peers map[string]*torrentPeer
	// Which peer each requested block is outstanding with.
	pending map[Block]*torrentPeer
}

type torrentPeer struct {
	*Peer
	inbound bool
	// Guarded by Torrent.mu.
	requests map[Block]struct{}
}

// Protocol state for one connection, owned by the goroutine running it.
type connState struct {
	peerHas        pp.BitField
	peerChoking    bool
	peerInterested bool
	amChoking      bool
	amInterested   bool
}

func newTorrent(
	ctx context.Context,
	ih metainfo.InfoHash,
	info *metainfo.Info,
	store storage.PieceStore,
	cfg *SessionConfig,
	alert func(Alert),
) (*Torrent, error) {
	asm, err := NewAssembler(info, cfg.BlockSize, store)
	if err != nil {
		return nil, err
	}
	if cfg.RequestPolicy != nil {
		asm.SetPolicy(cfg.RequestPolicy)
	}
	t := &Torrent{
		infoHash: ih,
		info:     info,
		cfg:      cfg,
		local: pp.Handshake{
			Reserved: cfg.Extensions,
			InfoHash: ih.Short(),
			PeerID:   cfg.PeerID,
		},
		logger:  cfg.Logger.WithNames("torrent", ih.Short().String()),
		store:   store,
		asm:     asm,
		alert:   alert,
		tasks:   newTaskGroup(ctx),
		peers:   make(map[string]*torrentPeer),
		pending: make(map[Block]*torrentPeer),

		persistFailed: make(chan struct{}, 1),
	}
	t.tasks.Go(t.retryPersists)
	return t, nil
}

func (t *Torrent) InfoHash() metainfo.InfoHash {
	return t.infoHash
}

func (t *Torrent) Info() *metainfo.Info {
	return t.info
}

func (t *Torrent) Assembler() *Assembler {
	return t.asm
}

func (t *Torrent) NumPeers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

func (t *Torrent) String() string {
	return t.infoHash.String()
}

// Starts connecting to the peers at addrs. Peers already known are skipped.
func (t *Torrent) AddPeers(addrs []string) (added int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.IsSet() {
		return
	}
	for _, addr := range addrs {
		if _, ok := t.peers[addr]; ok {
			continue
		}
		tp := &torrentPeer{
			Peer:     NewPeer(addr, t.local, t.cfg.ConnConfig),
			requests: make(map[Block]struct{}),
		}
		t.peers[addr] = tp
		added++
		t.tasks.Go(func(ctx context.Context) error {
			t.dialPeer(ctx, tp)
			return nil
		})
	}
	return
}

// Takes over a Conn accepted by the session whose handshake was for this torrent. Our handshake
// has to be sent before anything else.
func (t *Torrent) addInboundConn(c *Conn) error {
	if err := c.Send(pp.MakeHandshake(t.local)); err != nil {
		c.Close()
		return fmt.Errorf("replying to handshake: %w", err)
	}
	addr := c.RemoteAddr().String()
	tp := &torrentPeer{
		Peer:     NewPeer(addr, t.local, t.cfg.ConnConfig),
		inbound:  true,
		requests: make(map[Block]struct{}),
	}
	tp.Attach(c)
	t.mu.Lock()
	if t.closed.IsSet() {
		t.mu.Unlock()
		c.Close()
		return ErrSessionClosed
	}
	if old, ok := t.peers[addr]; ok {
		old.Close()
	}
	t.peers[addr] = tp
	t.tasks.Go(func(ctx context.Context) error {
		err := t.runConn(ctx, tp, c)
		t.peerEnded(tp, err)
		t.removePeer(tp)
		return nil
	})
	t.mu.Unlock()
	return nil
}

func (t *Torrent) removePeer(tp *torrentPeer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peers[tp.Addr] == tp {
		delete(t.peers, tp.Addr)
	}
	tp.Close()
}

func (t *Torrent) dialPeer(ctx context.Context, tp *torrentPeer) {
	defer t.removePeer(tp)
	for attempt := range maxPeerDials {
		if attempt != 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(peerRedialWait):
			}
		}
		c, err := tp.Connect(ctx)
		if err == nil {
			err = t.runConn(ctx, tp, c)
		}
		if ctx.Err() != nil || t.asm.IsComplete() {
			return
		}
		t.peerEnded(tp, err)
		if errors.Is(err, ErrHandshakeMismatch) {
			return
		}
	}
}

func (t *Torrent) peerEnded(tp *torrentPeer, err error) {
	if err == nil || t.tasks.ctx.Err() != nil {
		return
	}
	t.logger.Levelf(log.Debug, "peer %v ended: %v", tp.Addr, err)
	t.alert(PeerFailed{InfoHash: t.infoHash, Addr: tp.Addr, Err: err})
}

// Runs the protocol over c until it closes or ctx is done.
func (t *Torrent) runConn(ctx context.Context, tp *torrentPeer, c *Conn) error {
	defer c.Close()
	defer t.dropRequests(tp)
	cs := connState{
		peerHas:     pp.NewBitField(t.asm.NumPieces()),
		peerChoking: true,
		amChoking:   true,
	}
	if have := t.asm.Have(); have.Count() != 0 {
		if err := c.Send(pp.MakeBitfield(have)); err != nil {
			return err
		}
	}
	for {
		msg, err := c.Recv(ctx)
		if err != nil {
			return err
		}
		err = t.handleMessage(tp, c, &cs, msg)
		if err != nil {
			return err
		}
		err = t.updateInterest(c, &cs)
		if err != nil {
			return err
		}
		err = t.fillRequests(tp, c, &cs)
		if err != nil {
			return err
		}
	}
}

func (t *Torrent) handleMessage(tp *torrentPeer, c *Conn, cs *connState, msg pp.Message) error {
	switch msg.Kind {
	case pp.KindKeepalive, pp.KindEmpty:
		return nil
	case pp.KindInvalid:
		t.logger.Levelf(log.Debug, "%v sent %v", tp.Addr, msg)
		return nil
	case pp.KindHandshake:
		t.logger.Levelf(log.Debug, "%v sent another handshake", tp.Addr)
		return nil
	}
	switch msg.Type {
	case pp.Choke:
		cs.peerChoking = true
		// Requests are discarded by a choking peer.
		t.dropRequests(tp)
	case pp.Unchoke:
		cs.peerChoking = false
	case pp.Interested:
		cs.peerInterested = true
		if cs.amChoking {
			if err := c.Send(pp.Message{Type: pp.Unchoke}); err != nil {
				return err
			}
			cs.amChoking = false
		}
	case pp.NotInterested:
		cs.peerInterested = false
	case pp.Have:
		if msg.Index.Int() >= t.asm.NumPieces() {
			return fmt.Errorf("peer has piece %d of %d", msg.Index, t.asm.NumPieces())
		}
		cs.peerHas.Set(msg.Index.Int())
	case pp.Bitfield:
		if err := msg.Bitfield.Validate(t.asm.NumPieces()); err != nil {
			return fmt.Errorf("bad bitfield: %w", err)
		}
		cs.peerHas = msg.Bitfield.Clone()
	case pp.Request:
		return t.serveRequest(tp, c, cs, blockFromRequestSpec(msg.RequestSpec()))
	case pp.Cancel:
		// Requests are served as they arrive, so there's nothing queued to cancel.
	case pp.Piece:
		return t.receiveBlock(tp, blockFromRequestSpec(msg.RequestSpec()), msg.Piece)
	case pp.Port, pp.Extended:
		t.logger.Levelf(log.Debug, "ignoring %v from %v", msg, tp.Addr)
	}
	return nil
}

func (t *Torrent) serveRequest(tp *torrentPeer, c *Conn, cs *connState, b Block) error {
	if cs.amChoking {
		return nil
	}
	if b.Length > t.cfg.BlockSize*2 {
		return fmt.Errorf("%v requested %v, longer than we allow", tp.Addr, b)
	}
	data, err := t.asm.ReadBlock(b)
	if err != nil {
		requestsReceivedMissing.Add(1)
		t.logger.Levelf(log.Debug, "can't serve %v to %v: %v", b, tp.Addr, err)
		return nil
	}
	return c.Send(pp.MakePieceMessage(pp.Integer(b.Piece), b.Begin, data))
}

func (t *Torrent) receiveBlock(tp *torrentPeer, b Block, data []byte) error {
	t.mu.Lock()
	if t.pending[b] == tp {
		delete(t.pending, b)
	}
	delete(tp.requests, b)
	t.mu.Unlock()
	completed, err := t.asm.AddBlock(b.Piece, b.Begin, data)
	if err != nil {
		if errors.Is(err, ErrUnknownPiece) || errors.Is(err, errBadBlock) {
			return fmt.Errorf("%v sent bad block: %w", tp.Addr, err)
		}
		select {
		case t.persistFailed <- struct{}{}:
		default:
		}
		t.alert(PersistFailed{InfoHash: t.infoHash, Piece: b.Piece, Err: err})
		return nil
	}
	if completed {
		t.pieceCompleted(b.Piece)
	}
	return nil
}

func (t *Torrent) pieceCompleted(piece int) {
	t.alert(PieceCompleted{
		InfoHash:       t.infoHash,
		Piece:          piece,
		NumHave:        t.asm.NumHave(),
		NumPieces:      t.asm.NumPieces(),
		BytesCompleted: t.asm.BytesCompleted(),
	})
	t.broadcast(pp.MakeHave(pp.Integer(piece)))
	if t.asm.IsComplete() {
		t.logger.Levelf(log.Info, "completed")
		t.alert(TorrentCompleted{InfoHash: t.infoHash, Length: t.info.TotalLength()})
	}
}

// Pieces that failed to persist already have every block, so no block arrival will offer them
// again. This re-offers them to storage, backing off while it keeps failing.
func (t *Torrent) retryPersists(ctx context.Context) error {
	interval := t.cfg.PersistRetryInterval
	if interval <= 0 {
		interval = defaultPersistRetryInterval
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.persistFailed:
		}
		for delay := interval; ; delay = min(2*delay, maxPersistRetryInterval) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			completed, err := t.asm.RetryPersist()
			for _, piece := range completed {
				t.pieceCompleted(piece)
			}
			if err == nil {
				break
			}
			t.logger.Levelf(log.Warning, "retrying persist after %v: %v", delay, err)
		}
	}
}

// Sends msg on every open conn.
func (t *Torrent) broadcast(msg pp.Message) {
	t.mu.Lock()
	var conns []*Conn
	for _, tp := range t.peers {
		if c := tp.Conn(); c != nil && c.State() == ConnOpen {
			conns = append(conns, c)
		}
	}
	t.mu.Unlock()
	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			t.logger.Levelf(log.Debug, "sending %v to %v: %v", msg, c.RemoteAddr(), err)
		}
	}
}

func (t *Torrent) updateInterest(c *Conn, cs *connState) error {
	want := t.asm.NextMissingBlock(cs.peerHas).Ok
	if want == cs.amInterested {
		return nil
	}
	msg := pp.Message{Type: pp.NotInterested}
	if want {
		msg.Type = pp.Interested
	}
	if err := c.Send(msg); err != nil {
		return err
	}
	cs.amInterested = want
	return nil
}

// Tops up outstanding requests to the peer with blocks nobody else has been asked for.
func (t *Torrent) fillRequests(tp *torrentPeer, c *Conn, cs *connState) error {
	if cs.peerChoking || !cs.amInterested {
		return nil
	}
	var toSend []Block
	t.mu.Lock()
	room := t.cfg.MaxRequestsPerPeer - len(tp.requests)
	if room > 0 {
		t.asm.IterMissingBlocks(cs.peerHas, func(b Block) bool {
			_, ok := t.pending[b]
			return ok
		}, func(b Block) bool {
			t.pending[b] = tp
			tp.requests[b] = struct{}{}
			toSend = append(toSend, b)
			return len(toSend) < room
		})
	}
	t.mu.Unlock()
	for _, b := range toSend {
		if err := c.Send(b.RequestMessage()); err != nil {
			return err
		}
	}
	return nil
}

// Makes the peer's outstanding requests available to other peers.
func (t *Torrent) dropRequests(tp *torrentPeer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for b := range tp.requests {
		if t.pending[b] == tp {
			delete(t.pending, b)
		}
	}
	clear(tp.requests)
}

// Stops all peers and waits for them, then closes storage.
func (t *Torrent) Close() error {
	t.mu.Lock()
	if !t.closed.Set() {
		t.mu.Unlock()
		return nil
	}
	t.tasks.Cancel()
	for _, tp := range t.peers {
		tp.Close()
	}
	t.mu.Unlock()
	t.tasks.Wait()
	return t.store.Close()
}
