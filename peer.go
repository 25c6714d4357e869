package torrent

import (
	"context"
	"sync/atomic"

	pp "github.com/peerwire/torrent/peer_protocol"
)

// A remote peer of a torrent. It holds at most one Conn at a time. Reconnecting dials a new Conn
// and swaps it in, closing the old one.
type Peer struct {
	Addr string

	local pp.Handshake
	cfg   ConnConfig
	conn  atomic.Pointer[Conn]
}

func NewPeer(addr string, local pp.Handshake, cfg ConnConfig) *Peer {
	return &Peer{
		Addr:  addr,
		local: local,
		cfg:   cfg,
	}
}

// The current Conn, or nil.
func (p *Peer) Conn() *Conn {
	return p.conn.Load()
}

// Dials a fresh Conn and swaps it in. The previous Conn, if any, is closed once replaced. On
// failure the previous Conn is left alone.
func (p *Peer) Connect(ctx context.Context) (*Conn, error) {
	c, err := Dial(ctx, p.Addr, p.local, p.cfg)
	if err != nil {
		return nil, err
	}
	p.swap(c)
	return c, nil
}

// Adopts an accepted Conn.
func (p *Peer) Attach(c *Conn) {
	p.swap(c)
}

func (p *Peer) swap(c *Conn) {
	if old := p.conn.Swap(c); old != nil && old != c {
		old.Close()
	}
}

func (p *Peer) Close() error {
	if c := p.conn.Swap(nil); c != nil {
		return c.Close()
	}
	return nil
}
