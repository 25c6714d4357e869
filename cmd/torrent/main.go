// Command-line access to a peerwire session and the protocols around it.
//
// Example runs:
// $ torrent download --length 1048576 --peer 127.0.0.1:42069 0123456789abcdef0123456789abcdef01234567
// $ torrent announce udp://tracker.opentrackr.org:1337/announce 0123456789abcdef0123456789abcdef01234567
// $ torrent dht-ping router.bittorrent.com:6881
package main

import (
	"fmt"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/log"

	"github.com/peerwire/torrent/version"
)

var logger = log.Default.WithNames("main")

var flags struct {
	Debug bool

	*DownloadCmd `arg:"subcommand:download"`
	*AnnounceCmd `arg:"subcommand:announce"`
	*ScrapeCmd   `arg:"subcommand:scrape"`
	*DhtPingCmd  `arg:"subcommand:dht-ping"`
	*VersionCmd  `arg:"subcommand:version"`
}

type VersionCmd struct{}

func sessionLogger() log.Logger {
	if flags.Debug {
		return log.Default
	}
	return log.Default.FilterLevel(log.Info)
}

func main() {
	if err := mainErr(); err != nil {
		logger.Levelf(log.Error, "error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	p := arg.MustParse(&flags)
	switch {
	case flags.DownloadCmd != nil:
		return download(*flags.DownloadCmd)
	case flags.AnnounceCmd != nil:
		return announce(*flags.AnnounceCmd)
	case flags.ScrapeCmd != nil:
		return scrape(*flags.ScrapeCmd)
	case flags.DhtPingCmd != nil:
		return dhtPing(*flags.DhtPingCmd)
	case flags.VersionCmd != nil:
		fmt.Printf("Client description: %q\n", version.DefaultClientDescription)
		fmt.Printf("Peer id prefix: %q\n", version.DefaultBep20Prefix)
		return nil
	default:
		p.Fail(fmt.Sprintf("unexpected subcommand: %v", p.Subcommand()))
		panic("unreachable")
	}
}
