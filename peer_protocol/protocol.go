package peer_protocol

import (
	"fmt"
)

type MessageType byte

const (
	Protocol = "\x13BitTorrent protocol"
)

const (
	Choke         MessageType = iota
	Unchoke                   // 1
	Interested                // 2
	NotInterested             // 3
	Have                      // 4
	Bitfield                  // 5
	Request                   // 6
	Piece                     // 7
	Cancel                    // 8
	Port                      // 9

	// BEP 10
	Extended MessageType = 20
)

const (
	// Default and maximum commonly accepted request length.
	DefaultBlockSize = 1 << 14

	HandshakeLen = 68

	keepaliveLen  = 4
	lengthLen     = 4
	typeLen       = 1
	indexLen      = 4
	requestLen    = 12
	portLen       = 2
	minPieceLen   = 8
	handshakeHead = 5
)

// What a type byte requires of the payload that follows it. Exact payload sizes are checked
// against exact, variable ones against min. Types that aren't in the table decode as Invalid.
type payloadRule struct {
	name  string
	exact int
	min   int
}

var payloadRules = map[MessageType]payloadRule{
	Choke:         {"choke", 0, -1},
	Unchoke:       {"unchoke", 0, -1},
	Interested:    {"interested", 0, -1},
	NotInterested: {"not interested", 0, -1},
	Have:          {"have", indexLen, -1},
	Bitfield:      {"bitfield", -1, 1},
	Request:       {"request", requestLen, -1},
	Piece:         {"piece", -1, minPieceLen},
	Cancel:        {"cancel", requestLen, -1},
	Port:          {"port", portLen, -1},
	Extended:      {"extended", -1, 1},
}

func (mt MessageType) String() string {
	if r, ok := payloadRules[mt]; ok {
		return r.name
	}
	return fmt.Sprintf("unknown type %d", byte(mt))
}

// Whether this is a type byte the codec understands.
func (mt MessageType) Known() bool {
	_, ok := payloadRules[mt]
	return ok
}

func (mt MessageType) payloadOk(n int) bool {
	r, ok := payloadRules[mt]
	if !ok {
		return false
	}
	if r.exact >= 0 {
		return n == r.exact
	}
	return n >= r.min
}
