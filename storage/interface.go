package storage

import (
	"github.com/peerwire/torrent/metainfo"
)

type ClientImplCloser interface {
	ClientImpl
	Close() error
}

// Represents data storage for an unspecified torrent.
type ClientImpl interface {
	OpenTorrent(info *metainfo.Info, infoHash metainfo.InfoHash) (PieceStore, error)
}

// Where completed pieces go. A piece is only handed over once all its blocks are present, and the
// caller considers it had only after WritePiece returns nil. A failed write may be retried with the
// same data.
type PieceStore interface {
	WritePiece(index int, data []byte) error
	// Returns the data of a piece previously written. ErrPieceNotFound if there isn't any.
	ReadPiece(index int) ([]byte, error)
	Close() error
}
