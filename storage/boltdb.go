package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/peerwire/torrent/metainfo"
)

var piecesBucketKey = []byte("pieces")

type boltDBClient struct {
	db *bbolt.DB
}

type boltDBTorrent struct {
	cl        *boltDBClient
	ih        metainfo.Hash
	numPieces int
}

// Stores whole pieces in a single bbolt database in dir, keyed by info hash and piece index.
func NewBoltDB(dir string) (ClientImplCloser, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(dir, "bolt.db"), 0o600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	db.NoSync = true
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(piecesBucketKey)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltDBClient{db}, nil
}

func (me *boltDBClient) Close() error {
	return me.db.Close()
}

func (me *boltDBClient) OpenTorrent(info *metainfo.Info, infoHash metainfo.InfoHash) (PieceStore, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("validating info: %w", err)
	}
	return &boltDBTorrent{me, infoHash.Short(), info.NumPieces()}, nil
}

func (me *boltDBTorrent) key(index int) (ret [24]byte) {
	copy(ret[:], me.ih[:])
	binary.BigEndian.PutUint32(ret[20:], uint32(index))
	return
}

func (me *boltDBTorrent) WritePiece(index int, data []byte) error {
	if index < 0 || index >= me.numPieces {
		return fmt.Errorf("piece index %d out of range [0, %d)", index, me.numPieces)
	}
	key := me.key(index)
	return me.cl.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(piecesBucketKey).Put(key[:], data)
	})
}

func (me *boltDBTorrent) ReadPiece(index int) (ret []byte, err error) {
	key := me.key(index)
	err = me.cl.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(piecesBucketKey).Get(key[:])
		if v == nil {
			return fmt.Errorf("%w: %d", ErrPieceNotFound, index)
		}
		// Values are only valid for the life of the transaction.
		ret = bytes.Clone(v)
		return nil
	})
	return
}

func (boltDBTorrent) Close() error { return nil }
