package metainfo

import (
	"fmt"
)

// The parts of the info dictionary the engine needs. Producing this (bencode parsing of .torrent
// files and magnet metadata exchange) happens elsewhere.
type Info struct {
	Name        string
	PieceLength int64
	// Sum of all file lengths.
	Length int64
	// Concatenated 20-byte piece hashes, if the producer has them. Verification is the producer's
	// concern; the engine only uses the count.
	Pieces []byte
}

func (info *Info) Validate() error {
	if info.PieceLength <= 0 {
		return fmt.Errorf("bad piece length %d", info.PieceLength)
	}
	if info.Length <= 0 {
		return fmt.Errorf("bad total length %d", info.Length)
	}
	if info.Pieces != nil && len(info.Pieces) != 20*info.NumPieces() {
		return fmt.Errorf("have %d piece hash bytes for %d pieces", len(info.Pieces), info.NumPieces())
	}
	return nil
}

func (info *Info) TotalLength() int64 {
	return info.Length
}

func (info *Info) NumPieces() int {
	if info.PieceLength == 0 {
		return 0
	}
	return int((info.Length + info.PieceLength - 1) / info.PieceLength)
}

// The final piece is whatever remains after the full pieces, or a full piece if that is zero.
func (info *Info) PieceLen(index int) int64 {
	if index < 0 || index >= info.NumPieces() {
		return 0
	}
	if index == info.NumPieces()-1 {
		if rem := info.Length % info.PieceLength; rem != 0 {
			return rem
		}
	}
	return info.PieceLength
}

// Byte offset of the piece within the torrent's concatenated file data.
func (info *Info) PieceOffset(index int) int64 {
	return int64(index) * info.PieceLength
}
