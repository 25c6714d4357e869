package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/peerwire/torrent"
	"github.com/peerwire/torrent/metainfo"
	"github.com/peerwire/torrent/storage"
)

type DownloadCmd struct {
	Length       int64    `arg:"required" help:"total length of the torrent data"`
	PieceLength  int64    `default:"262144"`
	Peer         []string `arg:"separate" help:"addresses of some starting peers"`
	Tracker      []string `arg:"separate" help:"udp tracker to announce to"`
	Db           string   `default:"." help:"directory for the piece database"`
	Seed         bool     `help:"serve pieces already in the database, and keep going after completion"`
	ListenPort   int      `default:"42069"`
	DownloadRate string   `help:"max bytes per second down from peers, like 1MB"`
	Dht          bool     `default:"true"`
	InfoHash     string   `arg:"positional,required"`
}

func download(flags DownloadCmd) error {
	ih, err := metainfo.ParseInfoHash(flags.InfoHash)
	if err != nil {
		return fmt.Errorf("parsing info hash: %w", err)
	}
	info := &metainfo.Info{
		Name:        ih.String(),
		PieceLength: flags.PieceLength,
		Length:      flags.Length,
	}
	if err := info.Validate(); err != nil {
		return err
	}
	cfg := torrent.NewDefaultSessionConfig()
	cfg.Logger = sessionLogger()
	cfg.ListenPort = flags.ListenPort
	cfg.NoDHT = !flags.Dht
	if flags.DownloadRate != "" {
		n, err := humanize.ParseBytes(flags.DownloadRate)
		if err != nil {
			return fmt.Errorf("parsing download rate: %w", err)
		}
		cfg.DownloadRateLimiter = rate.NewLimiter(rate.Limit(n), 0)
	}
	db, err := storage.NewBoltDB(flags.Db)
	if err != nil {
		return fmt.Errorf("opening piece database: %w", err)
	}
	defer db.Close()
	cfg.DefaultStorage = db
	s, err := torrent.NewSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	add := torrent.AddTorrent{
		InfoHash:     ih,
		Info:         info,
		TrustStorage: flags.Seed,
		Peers:        flags.Peer,
	}
	if len(flags.Tracker) != 0 {
		add.Trackers = metainfo.AnnounceList{flags.Tracker}
	}
	err = s.Do(ctx, add)
	if err != nil {
		return err
	}
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Levelf(log.Info, "close signal received")
			return s.Close()
		case a, ok := <-s.Alerts():
			if !ok {
				return s.Wait()
			}
			switch a := a.(type) {
			case torrent.PieceCompleted:
				fmt.Printf("%v: %s/%s, %d/%d pieces\n",
					time.Since(start).Truncate(time.Millisecond),
					humanize.Bytes(uint64(a.BytesCompleted)),
					humanize.Bytes(uint64(info.TotalLength())),
					a.NumHave, a.NumPieces)
			case torrent.TorrentCompleted:
				fmt.Printf("downloaded %s in %v\n", humanize.Bytes(uint64(a.Length)), time.Since(start))
				if !flags.Seed {
					return s.Close()
				}
			case torrent.TorrentAdded:
				if t, ok := s.Torrent(ih); ok && t.Assembler().IsComplete() {
					fmt.Printf("seeding %s on %v\n", humanize.Bytes(uint64(a.Length)), s.Addr())
				}
			default:
				fmt.Println(a)
			}
		}
	}
}
