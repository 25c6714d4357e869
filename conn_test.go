package torrent

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pp "github.com/peerwire/torrent/peer_protocol"
)

func testConnConfig() ConnConfig {
	cfg := NewDefaultSessionConfig().ConnConfig
	cfg.DialTimeout = time.Second
	cfg.HandshakeTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.KeepAliveInterval = 0
	cfg.Logger = log.Default
	return cfg
}

func testHandshake(ihByte byte) pp.Handshake {
	return pp.Handshake{
		InfoHash: [20]byte{ihByte},
		PeerID:   GeneratePeerID("-TT0000-"),
	}
}

// Accepts one connection and runs f on it.
func serveOne(t *testing.T, f func(nc net.Conn)) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		nc, err := l.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		f(nc)
	}()
	return l.Addr().String()
}

func TestDialHandshakeAndReceive(t *testing.T) {
	local := testHandshake(1)
	remote := testHandshake(1)
	remote.Reserved.SetBit(pp.ExtensionBitDht, true)
	done := make(chan struct{})
	addr := serveOne(t, func(nc net.Conn) {
		h, err := pp.ReadHandshake(nc)
		assert.NoError(t, err)
		assert.Equal(t, local, h)
		assert.NoError(t, pp.WriteHandshake(nc, remote))
		nc.Write(pp.MakeHave(3).MustMarshalBinary())
		nc.Write(pp.Message{Type: pp.Choke}.MustMarshalBinary())
		nc.Write(pp.Keepalive().MustMarshalBinary())
		<-done
	})
	defer close(done)
	c, err := Dial(context.Background(), addr, local, testConnConfig())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, ConnOpen, c.State())
	assert.Equal(t, remote.PeerID, c.PeerHandshake().PeerID)
	assert.True(t, c.PeerHandshake().Reserved.SupportsDHT())

	ctx := context.Background()
	msg, err := c.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, msg.IsFramed(pp.Have))
	assert.EqualValues(t, 3, msg.Index)
	msg, err = c.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, msg.IsFramed(pp.Choke))
	msg, err = c.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, pp.KindKeepalive, msg.Kind)
}

func TestDialHandshakeMismatch(t *testing.T) {
	addr := serveOne(t, func(nc net.Conn) {
		pp.ReadHandshake(nc)
		pp.WriteHandshake(nc, testHandshake(2))
	})
	_, err := Dial(context.Background(), addr, testHandshake(1), testConnConfig())
	require.ErrorIs(t, err, ErrHandshakeMismatch)
}

func TestDialHandshakeTimeout(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	addr := serveOne(t, func(nc net.Conn) {
		<-done
	})
	cfg := testConnConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond
	_, err := Dial(context.Background(), addr, testHandshake(1), cfg)
	require.ErrorIs(t, err, ErrTimeout)
	var te TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "handshake read", te.Op)
	var ne net.Error
	require.True(t, errors.As(err, &ne))
	assert.True(t, ne.Timeout())
}

// A peer slow to take our handshake doesn't eat into the time allowed for theirs.
func TestHandshakeStepsTimedSeparately(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	cfg := testConnConfig()
	cfg.HandshakeTimeout = 500 * time.Millisecond
	local := testHandshake(1)
	go func() {
		time.Sleep(350 * time.Millisecond)
		if _, err := pp.ReadHandshake(b); err != nil {
			return
		}
		time.Sleep(350 * time.Millisecond)
		pp.WriteHandshake(b, local)
	}()
	c := newConn(a, cfg)
	defer a.Close()
	started := time.Now()
	require.NoError(t, c.initiateHandshake(context.Background(), local))
	assert.Greater(t, time.Since(started), cfg.HandshakeTimeout)
	assert.Equal(t, local, c.PeerHandshake())
}

func TestHandshakeWriteTimeout(t *testing.T) {
	// Pipe writes block until the other end reads, which it never does.
	a, b := net.Pipe()
	defer b.Close()
	defer a.Close()
	cfg := testConnConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond
	c := newConn(a, cfg)
	err := c.initiateHandshake(context.Background(), testHandshake(1))
	require.ErrorIs(t, err, ErrTimeout)
	var te TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "handshake write", te.Op)
}

func TestDialContextCancelled(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	addr := serveOne(t, func(nc net.Conn) {
		<-done
	})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := Dial(ctx, addr, testHandshake(1), testConnConfig())
	require.ErrorIs(t, err, context.Canceled)
}

func TestAcceptedHandshakeIsFirstMessage(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	remote := testHandshake(7)
	go func() {
		nc, err := net.Dial("tcp", l.Addr().String())
		if err != nil {
			return
		}
		defer nc.Close()
		pp.WriteHandshake(nc, remote)
		nc.Write(pp.Message{Type: pp.Interested}.MustMarshalBinary())
		// Wait for our reply so the conn stays up until the test is done with it.
		pp.ReadHandshake(nc)
	}()
	nc, err := l.Accept()
	require.NoError(t, err)
	c := Accept(nc, testConnConfig())
	defer c.Close()
	assert.Equal(t, ConnOpen, c.State())
	ctx := context.Background()
	msg, err := c.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, pp.KindHandshake, msg.Kind)
	assert.Equal(t, remote, msg.Handshake)
	msg, err = c.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, msg.IsFramed(pp.Interested))
	require.NoError(t, c.Send(pp.MakeHandshake(testHandshake(7))))
}

func TestRemoteCloseEndsConn(t *testing.T) {
	a, b := net.Pipe()
	c := Accept(a, testConnConfig())
	b.Write(pp.MakeHave(1).MustMarshalBinary())
	b.Close()
	msg, err := c.Recv(context.Background())
	require.NoError(t, err)
	assert.True(t, msg.IsFramed(pp.Have))
	_, err = c.Recv(context.Background())
	require.ErrorIs(t, err, ErrDeliveryClosed)
	select {
	case <-c.Closed():
	case <-time.After(5 * time.Second):
		t.Fatal("conn didn't close")
	}
	require.NoError(t, c.Close())
	assert.Equal(t, ConnClosed, c.State())
	assert.ErrorIs(t, c.Send(pp.Message{Type: pp.Unchoke}), ErrConnClosed)
}

func TestCloseStopsTasks(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	cfg := testConnConfig()
	cfg.KeepAliveInterval = time.Hour
	c := Accept(a, cfg)
	require.NoError(t, c.Close())
	// Idempotent.
	require.NoError(t, c.Close())
	_, ok := <-c.Messages()
	assert.False(t, ok)
	assert.Error(t, c.Err())
	assert.ErrorIs(t, c.Send(pp.Message{Type: pp.Unchoke}), ErrConnClosed)
}

func TestSendTimeout(t *testing.T) {
	// Pipe writes block until the other end reads, which it never does.
	a, b := net.Pipe()
	defer b.Close()
	cfg := testConnConfig()
	cfg.WriteTimeout = 20 * time.Millisecond
	c := Accept(a, cfg)
	err := c.Send(pp.MakeHave(1))
	require.ErrorIs(t, err, ErrTimeout)
	var te TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "send", te.Op)
	<-c.Closed()
}

func TestFullMessageBufferStallsReader(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	cfg := testConnConfig()
	cfg.MessageBufferLen = 1
	c := Accept(a, cfg)
	defer c.Close()
	const n = 50
	written := make(chan error, 1)
	go func() {
		for i := range n {
			if _, err := b.Write(pp.MakeHave(pp.Integer(i)).MustMarshalBinary()); err != nil {
				written <- err
				return
			}
		}
		written <- nil
	}()
	// The reader stops taking from the pipe once the buffer is full, so the writer blocks.
	select {
	case err := <-written:
		t.Fatalf("writer finished with nothing received: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	for i := range n {
		msg, err := c.Recv(context.Background())
		require.NoError(t, err)
		require.True(t, msg.IsFramed(pp.Have), "%v", msg)
		require.EqualValues(t, i, msg.Index)
	}
	require.NoError(t, <-written)
	assert.Equal(t, ConnOpen, c.State())
}

func TestKeepalivesSent(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	cfg := testConnConfig()
	cfg.KeepAliveInterval = 10 * time.Millisecond
	c := Accept(a, cfg)
	defer c.Close()
	dec := pp.Decoder{R: bufio.NewReader(b)}
	for range 2 {
		var msg pp.Message
		require.NoError(t, dec.Decode(&msg))
		assert.Equal(t, pp.KindKeepalive, msg.Kind)
	}
}

func TestMessageTooLongEndsConn(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	cfg := testConnConfig()
	cfg.MaxMessageLength = 100
	c := Accept(a, cfg)
	go b.Write(pp.MakePieceMessage(0, 0, make([]byte, 200)).MustMarshalBinary())
	_, err := c.Recv(context.Background())
	require.ErrorIs(t, err, ErrDeliveryClosed)
	assert.ErrorIs(t, err, pp.ErrMessageTooLong)
}

func TestPeerReconnectSwapsConn(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		for {
			nc, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer nc.Close()
				h, err := pp.ReadHandshake(nc)
				if err != nil {
					return
				}
				pp.WriteHandshake(nc, h)
				var b [1]byte
				nc.Read(b[:])
			}()
		}
	}()
	p := NewPeer(l.Addr().String(), testHandshake(1), testConnConfig())
	assert.Nil(t, p.Conn())
	first, err := p.Connect(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, p.Conn())
	second, err := p.Connect(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Same(t, second, p.Conn())
	// The replaced conn is closed, never reopened.
	<-first.Closed()
	assert.Equal(t, ConnClosed, first.State())
	assert.Equal(t, ConnOpen, second.State())
	require.NoError(t, p.Close())
	assert.Nil(t, p.Conn())
	assert.Equal(t, ConnClosed, second.State())
}
