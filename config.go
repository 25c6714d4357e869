package torrent

import (
	"net"
	"time"

	"github.com/anacrolix/dht/v2/krpc"
	"github.com/anacrolix/log"
	"golang.org/x/time/rate"

	"github.com/peerwire/torrent/dht"
	pp "github.com/peerwire/torrent/peer_protocol"
	requestStrategy "github.com/peerwire/torrent/request-strategy"
	"github.com/peerwire/torrent/storage"
	"github.com/peerwire/torrent/version"
)

// Settings for individual peer connections.
type ConnConfig struct {
	// Bounds establishing the TCP connection.
	DialTimeout time.Duration
	// Bounds sending our handshake, and separately reading theirs. Zero means no limit.
	HandshakeTimeout time.Duration
	// Bounds each write to the peer, including keep-alives.
	WriteTimeout time.Duration
	// How often to send keep-alives. Zero disables them.
	KeepAliveInterval time.Duration
	// Decoded messages waiting for the receiver. The reader stops reading from the socket while
	// it's full.
	MessageBufferLen int
	// Longest message accepted from a peer. Anything longer ends the connection.
	MaxMessageLength pp.Integer
	// Shared by all connections. Nil means unlimited.
	DownloadRateLimiter *rate.Limiter
	// Reserved bits in handshakes we send.
	Extensions pp.PeerExtensionBits
	Logger     log.Logger
}

type SessionDhtConfig struct {
	// Don't answer or send DHT queries.
	NoDHT bool `long:"disable-dht"`
	// Sent as "v" in queries.
	DhtClientVersion string
	// Random if zero.
	DhtNodeId krpc.ID
}

type SessionTrackerConfig struct {
	// Don't announce to trackers. This only leaves DHT and added peers.
	DisableTrackers bool `long:"disable-trackers"`
	// Used to look up UDP tracker hostnames. Defaults to net.DefaultResolver.
	TrackerResolver *net.Resolver
}

// Probably not safe to modify this after it's given to a Session.
type SessionConfig struct {
	ConnConfig
	SessionDhtConfig
	SessionTrackerConfig

	// Address to bind the TCP listener and UDP socket to. Empty means all interfaces.
	ListenHost string `long:"listen-host"`
	// The UDP socket takes the same port as the TCP listener. Zero picks one.
	ListenPort int `long:"listen-port"`
	// Generated from Bep20 if zero.
	PeerID PeerID
	// BEP 20 fingerprint at the start of generated peer ids.
	Bep20 string

	// Commands queued before Session.Do blocks.
	CommandBufferLen int
	// Alerts queued before the session blocks delivering them.
	AlertBufferLen int

	// Size of block requests. The last block of a piece may be shorter.
	BlockSize pp.Integer
	// Block requests outstanding to a single peer.
	MaxRequestsPerPeer int
	// Picks pieces to request. Defaults to requestStrategy.InOrder.
	RequestPolicy requestStrategy.Policy
	// Where completed pieces are written. Defaults to in-memory storage.
	DefaultStorage storage.ClientImplCloser
	// First wait before offering a piece that failed to persist to storage again. Doubles on each
	// further failure, up to a minute.
	PersistRetryInterval time.Duration
}

func NewDefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		ConnConfig: ConnConfig{
			DialTimeout:       8 * time.Second,
			HandshakeTimeout:  8 * time.Second,
			WriteTimeout:      4 * time.Second,
			KeepAliveInterval: 14 * time.Second,
			MessageBufferLen:  1024,
			MaxMessageLength:  2 << 20,
			Extensions:        pp.NewPeerExtensionBytes(),
			Logger:            log.Default,
		},
		SessionDhtConfig: SessionDhtConfig{
			DhtClientVersion: dht.DefaultClientVersion,
		},
		Bep20:              version.DefaultBep20Prefix,
		CommandBufferLen:   4,
		AlertBufferLen:     16,
		BlockSize:          pp.DefaultBlockSize,
		MaxRequestsPerPeer: 16,
		RequestPolicy:      requestStrategy.InOrder{},

		PersistRetryInterval: defaultPersistRetryInterval,
	}
}
