package torrent

import (
	"net/netip"

	"github.com/peerwire/torrent/metainfo"
	"github.com/peerwire/torrent/storage"
	"github.com/peerwire/torrent/tracker"
)

// Requests to a Session. Results and failures come back as alerts.
type Command interface {
	isCommand()
}

type AddTorrent struct {
	InfoHash metainfo.InfoHash
	Info     *metainfo.Info
	Trackers metainfo.AnnounceList
	// Overrides SessionConfig.DefaultStorage.
	Storage storage.ClientImpl
	// Consider pieces storage already holds as had, as when seeding existing data. Piece hashes
	// aren't checked.
	TrustStorage bool
	// Peers to connect to straight away.
	Peers []string
}

type DropTorrent struct {
	InfoHash metainfo.InfoHash
}

type AddPeers struct {
	InfoHash metainfo.InfoHash
	Addrs    []string
}

// Announces to Tracker, or every tracker of the torrent the session has a transport for if it's
// empty. Returned peers are added to the torrent.
type Announce struct {
	InfoHash metainfo.InfoHash
	Tracker  string
	Event    tracker.AnnounceEvent
}

type DhtPing struct {
	Addr netip.AddrPort
}

func (AddTorrent) isCommand()  {}
func (DropTorrent) isCommand() {}
func (AddPeers) isCommand()    {}
func (Announce) isCommand()    {}
func (DhtPing) isCommand()     {}
