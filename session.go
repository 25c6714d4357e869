package torrent

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/dht/v2/krpc"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	"github.com/peerwire/torrent/dht"
	"github.com/peerwire/torrent/metainfo"
	pp "github.com/peerwire/torrent/peer_protocol"
	"github.com/peerwire/torrent/storage"
	"github.com/peerwire/torrent/tracker"
	"github.com/peerwire/torrent/tracker/udp"
	"github.com/peerwire/torrent/types/infohash"
)

var (
	errDhtDisabled      = errors.New("dht disabled")
	errTrackersDisabled = errors.New("trackers disabled")
	errUnknownTorrent   = errors.New("unknown torrent")
)

// Owns a TCP listener for peer connections and a UDP socket shared by DHT and UDP trackers. It's
// driven by commands and reports through alerts. Closing the command channel, or calling Close,
// tears everything down.
type Session struct {
	cfg    *SessionConfig
	logger log.Logger

	tcp net.Listener
	udp net.PacketConn

	// Nil if the DHT is disabled.
	dht        *dht.Client
	udpTracker *udp.Client
	transports tracker.Transports

	commands chan Command
	alerts   chan Alert

	tasks    *taskGroup
	released chansync.SetOnce
	err      error
	// Closed by us if we made it.
	ownedStorage storage.ClientImplCloser

	mu       sync.Mutex
	torrents map[infohash.T]*sessionTorrent
}

type sessionTorrent struct {
	*Torrent
	trackers metainfo.AnnounceList
}

func NewSession(cfg *SessionConfig) (s *Session, err error) {
	if cfg == nil {
		cfg = NewDefaultSessionConfig()
	}
	if cfg.PeerID == (PeerID{}) {
		cfg.PeerID = GeneratePeerID(cfg.Bep20)
	}
	setRateLimiterBurstIfZero(cfg.DownloadRateLimiter, defaultDownloadRateLimiterBurst)
	s = &Session{
		cfg:      cfg,
		logger:   cfg.Logger.WithNames("session"),
		commands: make(chan Command, cfg.CommandBufferLen),
		alerts:   make(chan Alert, cfg.AlertBufferLen),
		torrents: make(map[infohash.T]*sessionTorrent),
	}
	if cfg.DefaultStorage == nil {
		s.ownedStorage = storage.NewMap()
		cfg.DefaultStorage = s.ownedStorage
	}
	s.tcp, s.udp, err = listenAll(cfg.ListenHost, cfg.ListenPort)
	if err != nil {
		return nil, err
	}
	if !cfg.NoDHT {
		id := cfg.DhtNodeId
		if id == (krpc.ID{}) {
			rand.Read(id[:])
		}
		s.dht = dht.NewClient(id, s.udp, cfg.Logger)
		s.dht.Version = cfg.DhtClientVersion
	}
	s.udpTracker = udp.NewClient(s.udp, cfg.Logger)
	s.transports = tracker.Transports{
		"udp": tracker.UdpAnnouncer{
			Client:   s.udpTracker,
			Resolver: cfg.TrackerResolver,
		},
	}
	s.tasks = newTaskGroup(context.Background())
	s.tasks.Go(s.commandLoop)
	s.tasks.Go(s.udpLoop)
	s.tasks.Go(s.acceptLoop)
	s.tasks.Go(func(ctx context.Context) error {
		<-ctx.Done()
		s.tcp.Close()
		s.udp.Close()
		return nil
	})
	go func() {
		s.err = s.tasks.Wait()
		close(s.alerts)
		if s.ownedStorage != nil {
			s.ownedStorage.Close()
		}
		s.released.Set()
	}()
	s.logger.Levelf(log.Info, "listening on tcp %v and udp %v as %v", s.tcp.Addr(), s.udp.LocalAddr(), cfg.PeerID)
	return s, nil
}

// Binds TCP and then UDP on the same port. When the port is picked by the system it might not be
// free for UDP, so that's retried a few times.
func listenAll(host string, port int) (tcp net.Listener, udp net.PacketConn, err error) {
	tries := 1
	if port == 0 {
		tries = 5
	}
	for range tries {
		tcp, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return
		}
		tcpPort := tcp.Addr().(*net.TCPAddr).Port
		udp, err = net.ListenPacket("udp", net.JoinHostPort(host, strconv.Itoa(tcpPort)))
		if err == nil {
			return
		}
		tcp.Close()
	}
	err = fmt.Errorf("listening on udp: %w", err)
	return
}

// Closing it shuts the session down. Don't close it and call Do or Close.
func (s *Session) Commands() chan<- Command {
	return s.commands
}

// Queues a command, waiting for room in the command channel.
func (s *Session) Do(ctx context.Context, cmd Command) error {
	select {
	case <-s.tasks.Done():
		return ErrSessionClosed
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.tasks.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed after the session has shut down.
func (s *Session) Alerts() <-chan Alert {
	return s.alerts
}

// Alerts are dropped once shutdown starts, so producers never block teardown.
func (s *Session) alert(a Alert) {
	alertsSent.Add(alertName(a), 1)
	select {
	case s.alerts <- a:
	case <-s.tasks.Done():
	}
}

func (s *Session) commandLoop(ctx context.Context) error {
	defer s.closeTorrents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-s.commands:
			if !ok {
				s.logger.Levelf(log.Debug, "command channel closed")
				s.tasks.Cancel()
				return nil
			}
			if err := s.handleCommand(ctx, cmd); err != nil {
				s.logger.Levelf(log.Debug, "%T: %v", cmd, err)
				s.alert(CommandFailed{Command: cmd, Err: err})
			}
		}
	}
}

func (s *Session) closeTorrents() {
	s.mu.Lock()
	ts := s.torrents
	s.torrents = nil
	s.mu.Unlock()
	for _, t := range ts {
		t.Close()
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd Command) error {
	switch cmd := cmd.(type) {
	case AddTorrent:
		return s.addTorrent(ctx, cmd)
	case DropTorrent:
		t, err := s.removeTorrent(cmd.InfoHash)
		if err != nil {
			return err
		}
		s.tasks.Go(func(context.Context) error {
			if err := t.Close(); err != nil {
				s.logger.Levelf(log.Warning, "closing %v: %v", t, err)
			}
			return nil
		})
	case AddPeers:
		t, err := s.torrent(cmd.InfoHash)
		if err != nil {
			return err
		}
		t.AddPeers(cmd.Addrs)
	case Announce:
		return s.announce(cmd)
	case DhtPing:
		if s.dht == nil {
			return errDhtDisabled
		}
		s.tasks.Go(func(ctx context.Context) error {
			id, err := s.dht.Ping(ctx, cmd.Addr)
			s.alert(DhtPong{Addr: cmd.Addr, ID: id, Err: err})
			return nil
		})
	default:
		return fmt.Errorf("unhandled command %T", cmd)
	}
	return nil
}

func (s *Session) addTorrent(ctx context.Context, cmd AddTorrent) error {
	if !cmd.InfoHash.Ok() {
		return errors.New("no info hash")
	}
	if cmd.Info == nil {
		return errors.New("no info")
	}
	short := cmd.InfoHash.Short()
	s.mu.Lock()
	_, exists := s.torrents[short]
	s.mu.Unlock()
	if exists {
		return fmt.Errorf("torrent %v already added", cmd.InfoHash)
	}
	impl := cmd.Storage
	if impl == nil {
		impl = s.cfg.DefaultStorage
	}
	store, err := impl.OpenTorrent(cmd.Info, cmd.InfoHash)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	t, err := newTorrent(ctx, cmd.InfoHash, cmd.Info, store, s.cfg, s.alert)
	if err != nil {
		store.Close()
		return err
	}
	if cmd.TrustStorage {
		n, err := t.asm.MarkStored()
		if err != nil {
			t.Close()
			return err
		}
		t.logger.Levelf(log.Info, "%d of %d pieces in storage", n, t.asm.NumPieces())
	}
	s.mu.Lock()
	s.torrents[short] = &sessionTorrent{Torrent: t, trackers: cmd.Trackers.Clone()}
	s.mu.Unlock()
	s.alert(TorrentAdded{InfoHash: cmd.InfoHash, NumPieces: cmd.Info.NumPieces(), Length: cmd.Info.TotalLength()})
	t.AddPeers(cmd.Peers)
	if len(cmd.Trackers) != 0 && !s.cfg.DisableTrackers {
		return s.announce(Announce{InfoHash: cmd.InfoHash, Event: tracker.Started})
	}
	return nil
}

func (s *Session) torrent(ih metainfo.InfoHash) (*sessionTorrent, error) {
	if !ih.Ok() {
		return nil, errUnknownTorrent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.torrents[ih.Short()]
	if !ok {
		return nil, fmt.Errorf("%w: %v", errUnknownTorrent, ih)
	}
	return t, nil
}

func (s *Session) removeTorrent(ih metainfo.InfoHash) (*sessionTorrent, error) {
	t, err := s.torrent(ih)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	delete(s.torrents, ih.Short())
	s.mu.Unlock()
	return t, nil
}

func (s *Session) schemes() (ret []string) {
	for k := range s.transports {
		ret = append(ret, k)
	}
	return
}

func (s *Session) announce(cmd Announce) error {
	if s.cfg.DisableTrackers {
		return errTrackersDisabled
	}
	t, err := s.torrent(cmd.InfoHash)
	if err != nil {
		return err
	}
	urls := []string{cmd.Tracker}
	if cmd.Tracker == "" {
		urls = t.trackers.WithSchemes(s.schemes()...)
	}
	if len(urls) == 0 {
		return errors.New("no trackers to announce to")
	}
	completed := t.asm.BytesCompleted()
	req := tracker.AnnounceRequest{
		InfoHash:   t.infoHash.Short(),
		PeerId:     s.cfg.PeerID,
		Downloaded: completed,
		Left:       t.info.TotalLength() - completed,
		Event:      cmd.Event,
		NumWant:    -1,
		Port:       uint16(s.tcp.Addr().(*net.TCPAddr).Port),
	}
	for _, u := range urls {
		s.tasks.Go(func(ctx context.Context) error {
			res, err := s.transports.Announce(ctx, u, req)
			s.alert(AnnounceResult{InfoHash: t.infoHash, Tracker: u, Response: res, Err: err})
			if err == nil && len(res.Peers) != 0 {
				addrs := make([]string, 0, len(res.Peers))
				for _, p := range res.Peers {
					addrs = append(addrs, p.String())
				}
				t.AddPeers(addrs)
			}
			return nil
		})
	}
	return nil
}

// Hands each datagram to whichever protocol it looks like.
func (s *Session) udpLoop(ctx context.Context) error {
	var b [1 << 16]byte
	for {
		n, addr, err := s.udp.ReadFrom(b[:])
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Levelf(log.Warning, "reading udp: %v", err)
			return fmt.Errorf("reading udp: %w", err)
		}
		udpDatagramsRead.Add(1)
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		source := udpAddr.AddrPort()
		s.handleDatagram(ctx, b[:n], netip.AddrPortFrom(source.Addr().Unmap(), source.Port()))
	}
}

func (s *Session) handleDatagram(ctx context.Context, b []byte, source netip.AddrPort) {
	switch {
	case dht.LooksLikeMsg(b):
		if s.dht == nil {
			udpDatagramsUnclaimed.Add(1)
			return
		}
		if err := s.dht.Handle(ctx, source, b); err != nil {
			s.logger.Levelf(log.Debug, "handling dht message from %v: %v", source, err)
		}
	case udp.LooksLikeResponse(b):
		ok, err := s.udpTracker.Handle(ctx, source, b)
		if err != nil {
			s.logger.Levelf(log.Debug, "handling tracker response from %v: %v", source, err)
		}
		if !ok {
			udpDatagramsUnclaimed.Add(1)
		}
	default:
		udpDatagramsUnclaimed.Add(1)
	}
}

func (s *Session) acceptLoop(ctx context.Context) error {
	for {
		nc, err := s.tcp.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Levelf(log.Warning, "accepting: %v", err)
			return fmt.Errorf("accepting: %w", err)
		}
		s.tasks.Go(func(ctx context.Context) error {
			s.handleInbound(ctx, Accept(nc, s.cfg.ConnConfig))
			return nil
		})
	}
}

// The first message on an accepted conn must be a handshake for a torrent we have.
func (s *Session) handleInbound(ctx context.Context, c *Conn) {
	if s.cfg.HandshakeTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}
	msg, err := c.Recv(ctx)
	if err == nil && msg.Kind != pp.KindHandshake {
		err = fmt.Errorf("expected handshake, got %v", msg)
	}
	if err != nil {
		s.logger.Levelf(log.Debug, "inbound %v: %v", c.RemoteAddr(), wrapTimeout(err, "handshake"))
		c.Close()
		return
	}
	s.mu.Lock()
	t, ok := s.torrents[msg.Handshake.InfoHash]
	s.mu.Unlock()
	if !ok {
		handshakeMismatches.Add(1)
		s.logger.Levelf(log.Debug, "inbound %v wants unknown torrent %v", c.RemoteAddr(), msg.Handshake.InfoHash)
		c.Close()
		return
	}
	if err := t.addInboundConn(c); err != nil {
		s.logger.Levelf(log.Debug, "inbound %v: %v", c.RemoteAddr(), err)
	}
}

func (s *Session) Addr() net.Addr {
	return s.tcp.Addr()
}

func (s *Session) UDPAddr() net.Addr {
	return s.udp.LocalAddr()
}

func (s *Session) PeerID() PeerID {
	return s.cfg.PeerID
}

// Nil if the DHT is disabled.
func (s *Session) DhtClient() *dht.Client {
	return s.dht
}

func (s *Session) Torrent(ih metainfo.InfoHash) (*Torrent, bool) {
	t, err := s.torrent(ih)
	if err != nil {
		return nil, false
	}
	return t.Torrent, true
}

// Waits for the session to shut down and returns why it did, if not by request.
func (s *Session) Wait() error {
	<-s.released.Done()
	return s.err
}

func (s *Session) Close() error {
	s.tasks.Cancel()
	return s.Wait()
}
