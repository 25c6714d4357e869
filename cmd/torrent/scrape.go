package main

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"time"

	"github.com/peerwire/torrent/metainfo"
	"github.com/peerwire/torrent/tracker/udp"
)

type ScrapeCmd struct {
	Timeout    time.Duration `default:"15s"`
	Tracker    string        `arg:"positional,required"`
	InfoHashes []string      `arg:"positional,required"`
}

func scrape(flags ScrapeCmd) error {
	u, err := url.Parse(flags.Tracker)
	if err != nil {
		return err
	}
	if u.Scheme != "udp" {
		return fmt.Errorf("can only scrape udp trackers, not %q", u.Scheme)
	}
	var ihs []udp.InfoHash
	for _, s := range flags.InfoHashes {
		ih, err := metainfo.ParseInfoHash(s)
		if err != nil {
			return fmt.Errorf("parsing info hash %q: %w", s, err)
		}
		ihs = append(ihs, ih.Short())
	}
	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()
	udpAddr, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", u.Hostname())
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddrPort(net.JoinHostPort(udpAddr[0].Unmap().String(), u.Port()))
	if err != nil {
		return err
	}
	cl, err := newUdpTrackerClient(ctx)
	if err != nil {
		return err
	}
	res, err := cl.Scrape(ctx, addr, ihs)
	if err != nil {
		return fmt.Errorf("scraping: %w", err)
	}
	for i, r := range res {
		fmt.Printf("%x: %d seeders, %d completed, %d leechers\n", ihs[i], r.Seeders, r.Completed, r.Leechers)
	}
	return nil
}
