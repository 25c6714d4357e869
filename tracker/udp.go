package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"

	"github.com/peerwire/torrent/tracker/udp"
)

// Announces over BEP 15 through a udp.Client sharing some other socket.
type UdpAnnouncer struct {
	Client *udp.Client
	// Defaults to net.DefaultResolver.
	Resolver *net.Resolver
	// Fills in AnnounceRequest.IPAddress when it's unset.
	ClientIp4 netip.Addr
}

var _ Announcer = UdpAnnouncer{}

func (me UdpAnnouncer) resolve(ctx context.Context, u *url.URL) (addr netip.AddrPort, err error) {
	port, err := strconv.ParseUint(u.Port(), 10, 16)
	if err != nil {
		err = fmt.Errorf("parsing port: %w", err)
		return
	}
	host := u.Hostname()
	if ip, parseErr := netip.ParseAddr(host); parseErr == nil {
		return netip.AddrPortFrom(ip.Unmap(), uint16(port)), nil
	}
	r := me.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	// Compact peer lists are IPv4 only.
	ips, err := r.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return
	}
	if len(ips) == 0 {
		err = fmt.Errorf("no addresses for %q", host)
		return
	}
	return netip.AddrPortFrom(ips[0].Unmap(), uint16(port)), nil
}

func (me UdpAnnouncer) Announce(ctx context.Context, u *url.URL, req AnnounceRequest) (
	res AnnounceResponse, err error,
) {
	addr, err := me.resolve(ctx, u)
	if err != nil {
		err = fmt.Errorf("resolving %v: %w", u.Host, err)
		return
	}
	if req.IPAddress == 0 && me.ClientIp4.Is4() {
		ip4 := me.ClientIp4.As4()
		req.IPAddress = binary.BigEndian.Uint32(ip4[:])
	}
	h, peers, err := me.Client.Announce(ctx, addr, req)
	if err != nil {
		return
	}
	res.Interval = h.Interval
	res.Leechers = h.Leechers
	res.Seeders = h.Seeders
	res.Peers = peers
	return
}
