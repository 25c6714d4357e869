package torrent

import (
	"expvar"
)

func init() {
	torrent.Set("message types received", &messageTypesReceived)
	torrent.Set("message types sent", &messageTypesSent)
	torrent.Set("alerts", &alertsSent)
}

// Process-wide counters. They may be attached to a Session someday.
var (
	torrent              = expvar.NewMap("torrent")
	messageTypesReceived expvar.Map
	messageTypesSent     expvar.Map
	alertsSent           expvar.Map

	receivedKeepalives = expvar.NewInt("receivedKeepalives")
	sentKeepalives     = expvar.NewInt("sentKeepalives")
	// Frames that didn't decode to anything meaningful.
	receivedInvalidMessages = expvar.NewInt("receivedInvalidMessages")
	handshakeMismatches     = expvar.NewInt("handshakeMismatches")
	connsOpened             = expvar.NewInt("connsOpened")
	connsClosed             = expvar.NewInt("connsClosed")

	chunksReceived          = expvar.NewInt("chunksReceived")
	chunksReceivedUnwanted  = expvar.NewInt("chunksReceivedUnwanted")
	piecesCompleted         = expvar.NewInt("piecesCompleted")
	piecePersistFailures    = expvar.NewInt("piecePersistFailures")
	requestsReceivedMissing = expvar.NewInt("requestsReceivedForMissingPieces")

	udpDatagramsRead      = expvar.NewInt("sessionUdpDatagramsRead")
	udpDatagramsUnclaimed = expvar.NewInt("sessionUdpDatagramsUnclaimed")
)
