package udp

import (
	"fmt"
	"net/netip"

	"github.com/anacrolix/dht/v2/krpc"
)

// Marshalled as binary by the UDP client, so be careful making changes.
type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerId     [20]byte
	Downloaded int64
	Left       int64
	Uploaded   int64
	// Apparently this is optional. None can be used for announces done at
	// regular intervals.
	Event     AnnounceEvent
	IPAddress uint32
	Key       int32
	NumWant   int32 // How many peer addresses are desired. -1 for default.
	Port      uint16
} // 82 bytes

type AnnounceEvent int32

const (
	None AnnounceEvent = iota
	Completed
	Started
	Stopped
)

func (me *AnnounceEvent) UnmarshalText(text []byte) error {
	for key, str := range announceEventStrings {
		if string(text) == str {
			*me = AnnounceEvent(key)
			return nil
		}
	}
	return fmt.Errorf("unknown event")
}

var announceEventStrings = []string{"", "completed", "started", "stopped"}

func (e AnnounceEvent) String() string {
	// See BEP 3, "event". Return a safe default in case event values are not sanitized.
	if e < 0 || int(e) >= len(announceEventStrings) {
		return ""
	}
	return announceEventStrings[e]
}

type AnnounceResponseHeader struct {
	Interval int32
	Leechers int32
	Seeders  int32
}

// Compact IPv4 peers: 4 address bytes then a 2 byte port, big-endian. A trailing partial entry is
// ignored.
func UnmarshalPeers(b []byte) ([]netip.AddrPort, error) {
	var nas krpc.CompactIPv4NodeAddrs
	err := nas.UnmarshalBinary(b[:len(b)-len(b)%6])
	if err != nil {
		return nil, err
	}
	ret := make([]netip.AddrPort, 0, len(nas))
	for _, na := range nas {
		ip, ok := netip.AddrFromSlice(na.IP)
		if !ok {
			continue
		}
		ret = append(ret, netip.AddrPortFrom(ip.Unmap(), uint16(na.Port)))
	}
	return ret, nil
}

func MarshalPeers(peers []netip.AddrPort) ([]byte, error) {
	nas := make(krpc.CompactIPv4NodeAddrs, 0, len(peers))
	for _, p := range peers {
		if !p.Addr().Unmap().Is4() {
			return nil, fmt.Errorf("peer %v isn't IPv4", p)
		}
		nas = append(nas, krpc.NodeAddr{IP: p.Addr().Unmap().AsSlice(), Port: int(p.Port())})
	}
	return nas.MarshalBinary()
}
