package torrent

import (
	"fmt"
	"net/netip"

	"github.com/anacrolix/dht/v2/krpc"
	"github.com/dustin/go-humanize"

	"github.com/peerwire/torrent/metainfo"
	"github.com/peerwire/torrent/tracker"
)

// Notifications from a Session. They're the only way failures below the session are reported.
type Alert interface {
	fmt.Stringer
	isAlert()
}

type TorrentAdded struct {
	InfoHash  metainfo.InfoHash
	NumPieces int
	Length    int64
}

type PieceCompleted struct {
	InfoHash metainfo.InfoHash
	Piece    int
	// Pieces had, including this one.
	NumHave   int
	NumPieces int
	// Bytes in pieces had.
	BytesCompleted int64
}

type TorrentCompleted struct {
	InfoHash metainfo.InfoHash
	Length   int64
}

// A connection to a peer failed or ended with an error.
type PeerFailed struct {
	InfoHash metainfo.InfoHash
	Addr     string
	Err      error
}

// Storage refused a complete piece. Its blocks are kept for a retry.
type PersistFailed struct {
	InfoHash metainfo.InfoHash
	Piece    int
	Err      error
}

type AnnounceResult struct {
	InfoHash metainfo.InfoHash
	Tracker  string
	Response tracker.AnnounceResponse
	Err      error
}

type DhtPong struct {
	Addr netip.AddrPort
	ID   krpc.ID
	Err  error
}

type CommandFailed struct {
	Command Command
	Err     error
}

func (TorrentAdded) isAlert()     {}
func (PieceCompleted) isAlert()   {}
func (TorrentCompleted) isAlert() {}
func (PeerFailed) isAlert()       {}
func (PersistFailed) isAlert()    {}
func (AnnounceResult) isAlert()   {}
func (DhtPong) isAlert()          {}
func (CommandFailed) isAlert()    {}

func (me TorrentAdded) String() string {
	return fmt.Sprintf("added %v: %d pieces, %s", me.InfoHash, me.NumPieces, humanize.Bytes(uint64(me.Length)))
}

func (me PieceCompleted) String() string {
	return fmt.Sprintf(
		"%v: piece %d completed, %d/%d pieces (%s)",
		me.InfoHash, me.Piece, me.NumHave, me.NumPieces, humanize.Bytes(uint64(me.BytesCompleted)))
}

func (me TorrentCompleted) String() string {
	return fmt.Sprintf("%v: completed %s", me.InfoHash, humanize.Bytes(uint64(me.Length)))
}

func (me PeerFailed) String() string {
	return fmt.Sprintf("%v: peer %v failed: %v", me.InfoHash, me.Addr, me.Err)
}

func (me PersistFailed) String() string {
	return fmt.Sprintf("%v: persisting piece %d: %v", me.InfoHash, me.Piece, me.Err)
}

func (me AnnounceResult) String() string {
	if me.Err != nil {
		return fmt.Sprintf("%v: announce to %v: %v", me.InfoHash, me.Tracker, me.Err)
	}
	return fmt.Sprintf(
		"%v: announced to %v: %d peers, %d seeders, %d leechers, interval %ds",
		me.InfoHash, me.Tracker, len(me.Response.Peers), me.Response.Seeders, me.Response.Leechers,
		me.Response.Interval)
}

func (me DhtPong) String() string {
	if me.Err != nil {
		return fmt.Sprintf("dht ping %v: %v", me.Addr, me.Err)
	}
	return fmt.Sprintf("dht pong from %v (%x)", me.Addr, me.ID[:])
}

func (me CommandFailed) String() string {
	return fmt.Sprintf("%T failed: %v", me.Command, me.Err)
}

func alertName(a Alert) string {
	return fmt.Sprintf("%T", a)
}
