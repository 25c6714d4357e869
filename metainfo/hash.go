package metainfo

import (
	"fmt"

	g "github.com/anacrolix/generics"

	"github.com/peerwire/torrent/types/infohash"
	infohash_v2 "github.com/peerwire/torrent/types/infohash-v2"
)

type Hash = infohash.T

// Identity of a torrent. Exactly one of the members is set for a pure v1 or v2 torrent, and both
// for a hybrid. The zero value is invalid.
type InfoHash struct {
	V1 g.Option[infohash.T]
	V2 g.Option[infohash_v2.T]
}

func InfoHashV1(h infohash.T) InfoHash {
	return InfoHash{V1: g.Some(h)}
}

func InfoHashV2(h infohash_v2.T) InfoHash {
	return InfoHash{V2: g.Some(h)}
}

func InfoHashHybrid(v1 infohash.T, v2 infohash_v2.T) InfoHash {
	return InfoHash{V1: g.Some(v1), V2: g.Some(v2)}
}

func (ih InfoHash) Ok() bool {
	return ih.V1.Ok || ih.V2.Ok
}

// The 20 bytes that go on the wire in handshakes, tracker announces and DHT queries. Hybrids use
// the v1 hash, pure v2 torrents use the truncated v2 hash.
func (ih InfoHash) Short() infohash.T {
	if ih.V1.Ok {
		return ih.V1.Value
	}
	if ih.V2.Ok {
		return ih.V2.Value.ToShort()
	}
	panic("empty InfoHash")
}

func (ih InfoHash) String() string {
	switch {
	case ih.V1.Ok && ih.V2.Ok:
		return fmt.Sprintf("%v+%v", ih.V1.Value, ih.V2.Value)
	case ih.V1.Ok:
		return ih.V1.Value.String()
	case ih.V2.Ok:
		return ih.V2.Value.String()
	default:
		return "<none>"
	}
}

// Parses 40 hex characters as v1 or 64 as v2.
func ParseInfoHash(s string) (ih InfoHash, err error) {
	switch len(s) {
	case 2 * infohash.Size:
		var h infohash.T
		err = h.FromHexString(s)
		ih = InfoHashV1(h)
	case 2 * infohash_v2.Size:
		var h infohash_v2.T
		err = h.FromHexString(s)
		ih = InfoHashV2(h)
	default:
		err = fmt.Errorf("infohash hex has unexpected length %d", len(s))
	}
	return
}
