package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/peerwire/torrent"
)

type DhtPingCmd struct {
	Timeout time.Duration `default:"20s"`
	Nodes   []string      `arg:"positional,required" help:"node addresses, like router.bittorrent.com:6881"`
}

func dhtPing(flags DhtPingCmd) error {
	cfg := torrent.NewDefaultSessionConfig()
	cfg.Logger = sessionLogger()
	s, err := torrent.NewSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()
	started := time.Now()
	pending := 0
	for _, n := range flags.Nodes {
		addr, err := net.ResolveUDPAddr("udp4", n)
		if err != nil {
			return fmt.Errorf("resolving %q: %w", n, err)
		}
		if err := s.Do(ctx, torrent.DhtPing{Addr: addr.AddrPort()}); err != nil {
			return err
		}
		pending++
	}
	for pending > 0 {
		select {
		case a, ok := <-s.Alerts():
			if !ok {
				return s.Wait()
			}
			pong, ok := a.(torrent.DhtPong)
			if !ok {
				continue
			}
			pending--
			if pong.Err != nil {
				fmt.Printf("%v: %v\n", pong.Addr, pong.Err)
				continue
			}
			fmt.Printf("%v: %x after %v\n", pong.Addr, pong.ID[:], time.Since(started))
		case <-ctx.Done():
			return fmt.Errorf("%d pings unanswered: %w", pending, ctx.Err())
		}
	}
	return nil
}
