package udp

import (
	"bytes"
	"fmt"
)

type InfoHash = [20]byte

type ScrapeRequest []InfoHash

type ScrapeResponse []ScrapeInfohashResult

type ScrapeInfohashResult struct {
	// I'm not sure why the fields are named differently for HTTP scrapes.
	// https://www.bittorrent.org/beps/bep_0048.html
	Seeders   int32
	Completed int32
	Leechers  int32
}

func unmarshalScrapeResponse(body []byte, requested int) (out ScrapeResponse, err error) {
	r := bytes.NewReader(body)
	for r.Len() != 0 {
		var item ScrapeInfohashResult
		err = Read(r, &item)
		if err != nil {
			return
		}
		out = append(out, item)
	}
	if len(out) > requested {
		err = fmt.Errorf("got %v results but expected %v", len(out), requested)
	}
	return
}
