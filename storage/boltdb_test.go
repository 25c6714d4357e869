package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerwire/torrent/metainfo"
	"github.com/peerwire/torrent/storage"
	"github.com/peerwire/torrent/types/infohash"
)

func testPieceStore(t *testing.T, cl storage.ClientImplCloser) {
	info := &metainfo.Info{Name: "test", PieceLength: 4, Length: 10}
	ih := metainfo.InfoHashV1(infohash.HashBytes([]byte("test")))
	ps, err := cl.OpenTorrent(info, ih)
	require.NoError(t, err)
	defer ps.Close()

	_, err = ps.ReadPiece(0)
	assert.ErrorIs(t, err, storage.ErrPieceNotFound)

	data := []byte("abcd")
	require.NoError(t, ps.WritePiece(0, data))
	data[0] = 'z'
	require.NoError(t, ps.WritePiece(2, []byte("ef")))
	assert.Error(t, ps.WritePiece(3, []byte("x")))
	assert.Error(t, ps.WritePiece(-1, []byte("x")))

	b, err := ps.ReadPiece(0)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(b))
	b, err = ps.ReadPiece(2)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(b))

	// Rewrites replace.
	require.NoError(t, ps.WritePiece(0, []byte("wxyz")))
	b, err = ps.ReadPiece(0)
	require.NoError(t, err)
	assert.Equal(t, "wxyz", string(b))

	// Other torrents don't see the data.
	other, err := cl.OpenTorrent(info, metainfo.InfoHashV1(infohash.HashBytes([]byte("other"))))
	require.NoError(t, err)
	_, err = other.ReadPiece(0)
	assert.ErrorIs(t, err, storage.ErrPieceNotFound)

	_, err = cl.OpenTorrent(&metainfo.Info{PieceLength: 0, Length: 1}, ih)
	assert.Error(t, err)
}

func TestBoltPieceStore(t *testing.T) {
	cl, err := storage.NewBoltDB(t.TempDir())
	require.NoError(t, err)
	defer cl.Close()
	testPieceStore(t, cl)
}

func TestMapPieceStore(t *testing.T) {
	cl := storage.NewMap()
	defer cl.Close()
	testPieceStore(t, cl)
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	info := &metainfo.Info{PieceLength: 4, Length: 4}
	ih := metainfo.InfoHashV1(infohash.HashBytes([]byte("persist")))
	cl, err := storage.NewBoltDB(dir)
	require.NoError(t, err)
	ps, err := cl.OpenTorrent(info, ih)
	require.NoError(t, err)
	require.NoError(t, ps.WritePiece(0, []byte("data")))
	require.NoError(t, cl.Close())

	cl, err = storage.NewBoltDB(dir)
	require.NoError(t, err)
	defer cl.Close()
	ps, err = cl.OpenTorrent(info, ih)
	require.NoError(t, err)
	b, err := ps.ReadPiece(0)
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
}
