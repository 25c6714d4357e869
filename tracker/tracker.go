package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"net/url"

	"github.com/peerwire/torrent/tracker/udp"
)

type (
	AnnounceRequest = udp.AnnounceRequest
	AnnounceEvent   = udp.AnnounceEvent
)

const (
	None      = udp.None
	Completed = udp.Completed // The local peer just completed the torrent.
	Started   = udp.Started   // The local peer has just resumed this torrent.
	Stopped   = udp.Stopped   // The local peer is leaving the swarm.
)

type AnnounceResponse struct {
	Interval int32 // Minimum seconds the local peer should wait before next announce.
	Leechers int32
	Seeders  int32
	Peers    []netip.AddrPort
}

var ErrBadScheme = errors.New("unknown scheme")

// Something that can announce to trackers at URLs of a given scheme.
type Announcer interface {
	Announce(ctx context.Context, u *url.URL, req AnnounceRequest) (AnnounceResponse, error)
}

// Announcers by URL scheme.
type Transports map[string]Announcer

func (me Transports) Announce(ctx context.Context, trackerUrl string, req AnnounceRequest) (
	ret AnnounceResponse, err error,
) {
	u, err := url.Parse(trackerUrl)
	if err != nil {
		return
	}
	a, ok := me[u.Scheme]
	if !ok {
		err = fmt.Errorf("%w: %q", ErrBadScheme, u.Scheme)
		return
	}
	return a.Announce(ctx, u, req)
}
