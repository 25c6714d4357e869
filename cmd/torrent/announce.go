package main

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/peerwire/torrent"
	"github.com/peerwire/torrent/metainfo"
	"github.com/peerwire/torrent/tracker"
	"github.com/peerwire/torrent/tracker/udp"
	"github.com/peerwire/torrent/version"
)

type AnnounceCmd struct {
	Event    tracker.AnnounceEvent
	Port     uint16        `default:"42069"`
	Timeout  time.Duration `default:"15s"`
	Tracker  string        `arg:"positional,required"`
	InfoHash string        `arg:"positional,required"`
}

// A udp.Client on its own socket, with a goroutine feeding it responses until ctx is done.
func newUdpTrackerClient(ctx context.Context) (*udp.Client, error) {
	pc, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	cl := udp.NewClient(pc, sessionLogger())
	context.AfterFunc(ctx, func() { pc.Close() })
	go func() {
		var b [0x10000]byte
		for {
			n, addr, err := pc.ReadFrom(b[:])
			if err != nil {
				return
			}
			if udp.LooksLikeResponse(b[:n]) {
				cl.Handle(ctx, addr.(*net.UDPAddr).AddrPort(), b[:n])
			}
		}
	}()
	return cl, nil
}

func announce(flags AnnounceCmd) error {
	ih, err := metainfo.ParseInfoHash(flags.InfoHash)
	if err != nil {
		return fmt.Errorf("parsing info hash: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()
	cl, err := newUdpTrackerClient(ctx)
	if err != nil {
		return err
	}
	transports := tracker.Transports{"udp": tracker.UdpAnnouncer{Client: cl}}
	started := time.Now()
	res, err := transports.Announce(ctx, flags.Tracker, tracker.AnnounceRequest{
		InfoHash: ih.Short(),
		PeerId:   torrent.GeneratePeerID(version.DefaultBep20Prefix),
		Left:     math.MaxInt64,
		Event:    flags.Event,
		NumWant:  -1,
		Port:     flags.Port,
	})
	if err != nil {
		return fmt.Errorf("announcing: %w", err)
	}
	fmt.Printf("announced to %v in %v\n", flags.Tracker, time.Since(started))
	fmt.Printf("interval %v, %d seeders, %d leechers\n", time.Duration(res.Interval)*time.Second, res.Seeders, res.Leechers)
	for _, p := range res.Peers {
		fmt.Println(p)
	}
	return nil
}
