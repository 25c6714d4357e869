package udp

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	"github.com/peerwire/torrent/transactions"
)

type Writer interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

type Router = transactions.Router[TransactionId, Response]

func NewRouter() *Router {
	return transactions.NewRouter[TransactionId, Response]()
}

// Connection ids are valid for a minute after they're issued.
const connIdLifetime = time.Minute

type connIdEntry struct {
	id     ConnectionId
	issued time.Time
}

// Talks to UDP trackers through a socket it doesn't own. Responses are fed in by the socket's
// owner through the Router, keyed by tracker address and transaction id. Connection ids are kept
// per tracker address.
type Client struct {
	Writer Writer
	Router *Router
	Ids    *transactions.IdIssuer
	Logger log.Logger

	mu      sync.Mutex
	connIds map[netip.AddrPort]connIdEntry

	// Overrides the connection id expiry check in tests.
	shouldReconnectOverride func() bool
}

func NewClient(w Writer, logger log.Logger) *Client {
	return &Client{
		Writer: w,
		Router: NewRouter(),
		Ids:    transactions.NewRandomIdIssuer(),
		Logger: logger.WithNames("udp-tracker"),
	}
}

func (cl *Client) Announce(
	ctx context.Context, addr netip.AddrPort, req AnnounceRequest,
) (
	respHdr AnnounceResponseHeader,
	peers []netip.AddrPort,
	err error,
) {
	respBody, err := cl.request(ctx, addr, ActionAnnounce, mustMarshal(req))
	if err != nil {
		return
	}
	r := bytes.NewBuffer(respBody)
	err = Read(r, &respHdr)
	if err != nil {
		err = fmt.Errorf("reading response header: %w", err)
		return
	}
	peers, err = UnmarshalPeers(r.Bytes())
	if err != nil {
		err = fmt.Errorf("reading response peers: %w", err)
	}
	return
}

func (cl *Client) Scrape(ctx context.Context, addr netip.AddrPort, ihs []InfoHash) (ScrapeResponse, error) {
	respBody, err := cl.request(ctx, addr, ActionScrape, mustMarshal(ScrapeRequest(ihs)))
	if err != nil {
		return nil, err
	}
	return unmarshalScrapeResponse(respBody, len(ihs))
}

func (cl *Client) shouldReconnect(e connIdEntry, ok bool) bool {
	if cl.shouldReconnectOverride != nil {
		return cl.shouldReconnectOverride()
	}
	return !ok || time.Since(e.issued) >= connIdLifetime
}

// This just does the connect request and records the id if it succeeds.
func (cl *Client) doConnectRoundTrip(ctx context.Context, addr netip.AddrPort) (id ConnectionId, err error) {
	respBody, err := cl.request(ctx, addr, ActionConnect, nil)
	if err != nil {
		return
	}
	var connResp ConnectionResponse
	err = binary.Read(bytes.NewReader(respBody), binary.BigEndian, &connResp)
	if err != nil {
		return
	}
	id = connResp.ConnectionId
	if cl.connIds == nil {
		cl.connIds = make(map[netip.AddrPort]connIdEntry)
	}
	cl.connIds[addr] = connIdEntry{id, time.Now()}
	cl.Logger.Levelf(log.Debug, "got connection id %x from %v", id, addr)
	return
}

// Forgets the connection id for addr, so the next request connects again.
func (cl *Client) ForgetConnection(addr netip.AddrPort) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.connIds, addr)
}

func (cl *Client) writeRequest(
	ctx context.Context, addr netip.AddrPort, action Action, body []byte, tId TransactionId, buf *bytes.Buffer,
) (
	err error,
) {
	var connId ConnectionId
	if action == ActionConnect {
		connId = ConnectRequestConnectionId
	} else {
		// We lock here while establishing a connection ID, and then ensuring that the request is
		// written before allowing the connection ID to change again. This is to ensure the server
		// doesn't assign us another ID before we've sent this request.
		cl.mu.Lock()
		defer cl.mu.Unlock()
		e, ok := cl.connIds[addr]
		if cl.shouldReconnect(e, ok) {
			e.id, err = cl.doConnectRoundTrip(ctx, addr)
			if err != nil {
				return fmt.Errorf("connecting: %w", err)
			}
		}
		connId = e.id
	}
	buf.Reset()
	err = Write(buf, RequestHeader{
		ConnectionId:  connId,
		Action:        action,
		TransactionId: tId,
	})
	if err != nil {
		panic(err)
	}
	buf.Write(body)
	_, err = cl.Writer.WriteTo(buf.Bytes(), net.UDPAddrFromAddrPort(addr))
	return
}

func (cl *Client) requestWriter(ctx context.Context, addr netip.AddrPort, action Action, body []byte, tId TransactionId) (err error) {
	var buf bytes.Buffer
	for n := 0; ; n++ {
		err = cl.writeRequest(ctx, addr, action, body, tId, &buf)
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timeout(n)):
		}
	}
}

func (cl *Client) request(ctx context.Context, addr netip.AddrPort, action Action, body []byte) (respBody []byte, err error) {
	target := transactions.NewSingleShot[Response]()
	tId, end := cl.Router.Begin(addr, cl.Ids.Issue, target)
	defer end()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- cl.requestWriter(ctx, addr, action, body, tId)
	}()
	select {
	case dr := <-target.C():
		if dr.Header.Action == action {
			respBody = dr.Body
		} else if dr.Header.Action == ActionError {
			err = ErrorResponse{Message: string(bytes.TrimRight(dr.Body, "\x00"))}
			// Trackers commonly reply "Connection ID missmatch." to stale ids. The connect path
			// holds the lock, so only other actions can reset it.
			if action != ActionConnect {
				cl.ForgetConnection(addr)
			}
		} else {
			err = fmt.Errorf("unexpected response action %v", dr.Header.Action)
		}
	case err = <-writeErr:
		err = fmt.Errorf("write error: %w", err)
	case <-ctx.Done():
		err = ctx.Err()
	}
	return
}

// Routes a datagram that LooksLikeResponse to the request waiting for it. Returns false if nothing
// was waiting.
func (cl *Client) Handle(ctx context.Context, source netip.AddrPort, b []byte) (bool, error) {
	resp, err := ParseResponse(b)
	if err != nil {
		return false, err
	}
	if !cl.Router.DoRedirect(ctx, source, resp.Header.TransactionId, resp) {
		cl.Logger.Levelf(log.Debug, "dropping unmatched %v response from %v", resp.Header.Action, source)
		return false, nil
	}
	return true, nil
}
