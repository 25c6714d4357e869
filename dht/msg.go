package dht

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/anacrolix/dht/v2/krpc"
	"github.com/anacrolix/torrent/bencode"
)

// Sent in the "v" key of outbound messages.
const DefaultClientVersion = "rT01"

// Query names from BEP 5.
const (
	QueryPing         = "ping"
	QueryFindNode     = "find_node"
	QueryGetPeers     = "get_peers"
	QueryAnnouncePeer = "announce_peer"
)

// A KRPC message with the client version key, which krpc.Msg doesn't carry.
type Msg struct {
	krpc.Msg
	V string `bencode:"v,omitempty"`
}

// Transaction ids are 4 bytes holding a big-endian integer.
func EncodeTransactionID(id uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return string(b[:])
}

// Returns false for ids we could not have issued.
func DecodeTransactionID(t string) (uint32, bool) {
	if len(t) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32([]byte(t)), true
}

// KRPC messages are bencoded dictionaries. This is how a datagram on a socket shared with the UDP
// tracker protocol is recognized.
func LooksLikeMsg(b []byte) bool {
	return len(b) > 0 && b[0] == 'd'
}

func (m Msg) Encode() ([]byte, error) {
	return bencode.Marshal(m)
}

func DecodeMsg(b []byte) (m Msg, err error) {
	err = bencode.Unmarshal(b, &m)
	return
}

func (m Msg) String() string {
	switch m.Y {
	case "q":
		return fmt.Sprintf("query %q t=%x", m.Q, m.T)
	case "r":
		return fmt.Sprintf("response t=%x", m.T)
	case "e":
		return fmt.Sprintf("error t=%x %v", m.T, m.E)
	}
	return fmt.Sprintf("msg y=%q t=%x", m.Y, m.T)
}

// The sender's node id, from the arguments or the return dictionary.
func (m Msg) SenderID() (id krpc.ID, ok bool) {
	switch m.Y {
	case "q":
		if m.A != nil {
			return m.A.ID, true
		}
	case "r":
		if m.R != nil {
			return m.R.ID, true
		}
	}
	return
}

// The error carried by an "e" message, or nil.
func (m Msg) Err() error {
	if m.Y != "e" {
		return nil
	}
	if m.E == nil {
		return Error{Code: 0, Msg: "error reply without error"}
	}
	return Error{Code: m.E.Code, Msg: m.E.Msg}
}

func nodeAddr(addr netip.AddrPort) krpc.NodeAddr {
	return krpc.NodeAddr{
		IP:   addr.Addr().Unmap().AsSlice(),
		Port: int(addr.Port()),
	}
}
