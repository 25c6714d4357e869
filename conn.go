package torrent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	pp "github.com/peerwire/torrent/peer_protocol"
)

type ConnState int32

const (
	ConnConnecting ConnState = iota
	ConnOpen
	ConnClosed
)

func (me ConnState) String() string {
	switch me {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	}
	return fmt.Sprintf("conn state %d", int32(me))
}

// A peer wire connection over one stream. Once open, a reader decodes incoming messages onto a
// bounded channel and a pinger writes keep-alives. Closed is terminal: reconnecting means making a
// new Conn.
type Conn struct {
	cfg    ConnConfig
	nc     net.Conn
	logger log.Logger

	state  atomic.Int32
	closed chansync.SetOnce
	// Released once the socket is closed after the tasks have stopped.
	released chansync.SetOnce

	// Serializes frames from Send and the pinger.
	writeMu sync.Mutex

	msgs chan pp.Message
	// Why the reader stopped. Set before msgs is closed.
	readErr error
	tasks   *taskGroup

	peerHandshake pp.Handshake
}

func newConn(nc net.Conn, cfg ConnConfig) *Conn {
	c := &Conn{
		cfg:  cfg,
		nc:   nc,
		msgs: make(chan pp.Message, cfg.MessageBufferLen),
	}
	c.logger = cfg.Logger.WithNames("conn", nc.RemoteAddr().String())
	return c
}

// Connects to addr and exchanges handshakes. The peer must reply about local.InfoHash, or
// ErrHandshakeMismatch is returned. Connecting, sending our handshake and reading theirs each have
// their own timeout, reported as TimeoutError.
func Dial(ctx context.Context, addr string, local pp.Handshake, cfg ConnConfig) (*Conn, error) {
	d := net.Dialer{Timeout: cfg.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %v: %w", addr, wrapTimeout(err, "dial"))
	}
	c := newConn(nc, cfg)
	err = c.initiateHandshake(ctx, local)
	if err != nil {
		c.closed.Set()
		c.state.Store(int32(ConnClosed))
		nc.Close()
		c.released.Set()
		return nil, err
	}
	c.open()
	return c, nil
}

// Wraps an inbound connection. It's open immediately: the peer's handshake arrives as the first
// message, and the caller replies with Send.
func Accept(nc net.Conn, cfg ConnConfig) *Conn {
	c := newConn(nc, cfg)
	c.open()
	return c
}

// Each handshake step gets HandshakeTimeout to itself, but never beyond the context deadline.
func (c *Conn) handshakeDeadline(ctx context.Context) (ret time.Time) {
	if c.cfg.HandshakeTimeout != 0 {
		ret = time.Now().Add(c.cfg.HandshakeTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (ret.IsZero() || ctxDeadline.Before(ret)) {
		ret = ctxDeadline
	}
	return
}

func (c *Conn) initiateHandshake(ctx context.Context, local pp.Handshake) error {
	// Abandon the handshake if the context goes first.
	stop := context.AfterFunc(ctx, func() {
		c.nc.SetDeadline(time.Unix(1, 0))
	})
	defer stop()
	// Deadlines are set after the AfterFunc is registered, so a cancellation racing with them is
	// caught by checking ctx afterwards.
	if err := c.nc.SetWriteDeadline(c.handshakeDeadline(ctx)); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := pp.WriteHandshake(c.nc, local)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("writing handshake: %w", wrapTimeout(err, "handshake write"))
	}
	if err := c.nc.SetReadDeadline(c.handshakeDeadline(ctx)); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.peerHandshake, err = pp.ReadHandshake(c.nc)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return wrapTimeout(err, "handshake read")
	}
	if !stop() {
		return ctx.Err()
	}
	if !c.peerHandshake.Equal(local) {
		handshakeMismatches.Add(1)
		return fmt.Errorf("%w: got %v, want %v", ErrHandshakeMismatch, c.peerHandshake.InfoHash, local.InfoHash)
	}
	c.logger.Levelf(log.Debug, "handshake completed, peer id %q, reserved %v", c.peerHandshake.PeerID, c.peerHandshake.Reserved)
	return c.nc.SetDeadline(time.Time{})
}

func (c *Conn) open() {
	c.state.Store(int32(ConnOpen))
	connsOpened.Add(1)
	c.tasks = newTaskGroup(context.Background())
	c.tasks.Go(c.readLoop)
	if c.cfg.KeepAliveInterval > 0 {
		c.tasks.Go(c.pingLoop)
	}
	go func() {
		err := c.tasks.Wait()
		c.logger.WithDefaultLevel(log.Debug).Printf("conn tasks ended: %v", err)
		c.Close()
	}()
}

func (c *Conn) readLoop(ctx context.Context) (err error) {
	defer func() {
		c.readErr = err
		close(c.msgs)
	}()
	br := bufio.NewReader(rateLimitReader(ctx, c.nc, c.cfg.DownloadRateLimiter))
	dec := pp.Decoder{
		R:         br,
		MaxLength: c.cfg.MaxMessageLength,
	}
	for {
		var msg pp.Message
		// Length prefixes never start with the handshake's first byte at any length we'd accept,
		// so an inbound handshake can be told apart from a frame.
		if b, peekErr := br.Peek(1); peekErr == nil && b[0] == pp.Protocol[0] {
			msg.Handshake, err = pp.ReadHandshake(br)
			if err != nil {
				return
			}
			msg = pp.MakeHandshake(msg.Handshake)
		} else {
			err = dec.Decode(&msg)
			if err != nil {
				return
			}
		}
		countReceived(msg)
		select {
		case c.msgs <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func countReceived(msg pp.Message) {
	switch msg.Kind {
	case pp.KindKeepalive:
		receivedKeepalives.Add(1)
	case pp.KindInvalid:
		receivedInvalidMessages.Add(1)
	case pp.KindFramed:
		messageTypesReceived.Add(msg.Type.String(), 1)
	}
}

var keepaliveBytes = pp.Keepalive().MustMarshalBinary()

func (c *Conn) pingLoop(ctx context.Context) error {
	t := time.NewTicker(c.cfg.KeepAliveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		c.writeMu.Lock()
		err := c.write(keepaliveBytes, "keepalive")
		c.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("sending keepalive: %w", err)
		}
		sentKeepalives.Add(1)
	}
}

// Must hold writeMu.
func (c *Conn) write(b []byte, op string) error {
	if c.closed.IsSet() {
		return ErrConnClosed
	}
	if c.cfg.WriteTimeout != 0 {
		c.nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	_, err := c.nc.Write(b)
	if err != nil && c.closed.IsSet() {
		return ErrConnClosed
	}
	return wrapTimeout(err, op)
}

// Writes msg to the peer, failing with ErrConnClosed unless the Conn is open, or a TimeoutError if
// the write overruns. A failed write may leave a partial frame on the wire, so the Conn is closed.
func (c *Conn) Send(msg pp.Message) error {
	if c.State() != ConnOpen {
		return ErrConnClosed
	}
	b, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	err = c.write(b, "send")
	c.writeMu.Unlock()
	if err != nil {
		if !errors.Is(err, ErrConnClosed) {
			c.logger.Levelf(log.Debug, "closing after failed send of %v: %v", msg, err)
			c.Close()
		}
		return err
	}
	if msg.Kind == pp.KindFramed {
		messageTypesSent.Add(msg.Type.String(), 1)
	}
	return nil
}

// Decoded messages in wire order. Closed when the reader stops, after which Err says why.
func (c *Conn) Messages() <-chan pp.Message {
	return c.msgs
}

// Next message from the peer. Once the reader has stopped, the error wraps ErrDeliveryClosed.
func (c *Conn) Recv(ctx context.Context) (pp.Message, error) {
	select {
	case msg, ok := <-c.msgs:
		if !ok {
			return msg, fmt.Errorf("%w: %w", ErrDeliveryClosed, c.readErr)
		}
		return msg, nil
	case <-ctx.Done():
		return pp.Message{}, ctx.Err()
	}
}

func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Signalled when Close starts.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed.Done()
}

// Why the reader stopped. Only meaningful once Messages is closed.
func (c *Conn) Err() error {
	select {
	case <-c.released.Done():
	default:
		return nil
	}
	return c.readErr
}

// The handshake the peer sent when we dialed. Zero for accepted conns, where it comes through
// Messages instead.
func (c *Conn) PeerHandshake() pp.Handshake {
	return c.peerHandshake
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn %v (%v)", c.nc.RemoteAddr(), c.State())
}

// Stops the reader and pinger, waits for them to return, then closes the socket. Subsequent calls
// wait for the first to finish.
func (c *Conn) Close() error {
	if !c.closed.Set() {
		<-c.released.Done()
		return nil
	}
	c.state.Store(int32(ConnClosed))
	var err error
	if c.tasks != nil {
		c.tasks.Cancel()
		// Unblock a reader or writer stuck in the socket.
		c.nc.SetDeadline(time.Unix(1, 0))
		c.tasks.Wait()
		connsClosed.Add(1)
	}
	err = c.nc.Close()
	c.released.Set()
	return err
}
