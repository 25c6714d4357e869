package dht

import (
	"expvar"
)

func init() {
	expvars.Set("datagrams handled", &datagramsHandled)
	expvars.Set("undecodable datagrams", &undecodableDatagrams)
	expvars.Set("unmatched responses", &unmatchedResponses)
	expvars.Set("datagrams written", &datagramsWritten)
	expvars.Set("failed announces", &failedAnnounces)
}

// Counters for every Client in the process. Query counts are added to expvars by name.
var (
	expvars = expvar.NewMap("dht")

	datagramsHandled     expvar.Int
	undecodableDatagrams expvar.Int
	unmatchedResponses   expvar.Int
	datagramsWritten     expvar.Int
	failedAnnounces      expvar.Int
)
