/*
Package torrent implements the core of a BitTorrent engine: peer wire connections, piece assembly,
and a Session that ties them to DHT and UDP tracker traffic on a shared socket.

Simple example:

	s, _ := torrent.NewSession(nil)
	defer s.Close()
	s.Do(ctx, torrent.AddTorrent{InfoHash: ih, Info: info, Peers: []string{"127.0.0.1:42069"}})
	for a := range s.Alerts() {
		if _, ok := a.(torrent.TorrentCompleted); ok {
			break
		}
	}
*/
package torrent
