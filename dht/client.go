package dht

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/anacrolix/dht/v2/krpc"
	"github.com/anacrolix/log"

	"github.com/peerwire/torrent/transactions"
	"github.com/peerwire/torrent/types/infohash"
)

// Where outbound datagrams go. Usually the session's shared net.PacketConn.
type Writer interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

type Router = transactions.Router[uint32, Msg]

func NewRouter() *Router {
	return transactions.NewRouter[uint32, Msg]()
}

var ErrQueryTimedOut = errors.New("timed out")

// Sends KRPC queries over a socket shared with other protocols, and answers pings. Responses come
// in through Handle, which the socket's owner calls for every datagram that LooksLikeMsg.
type Client struct {
	ID      krpc.ID
	Version string
	Writer  Writer
	Router  *Router
	Ids     *transactions.IdIssuer
	Logger  log.Logger
	// Time between sends of an unanswered query, and after the last send before giving up.
	ResendDelay time.Duration
	MaxSends    int
	// Inbound queries other than ping go here. If nil they're dropped.
	OnQuery func(m Msg, source netip.AddrPort)
}

func NewClient(id krpc.ID, w Writer, logger log.Logger) *Client {
	return &Client{
		ID:          id,
		Version:     DefaultClientVersion,
		Writer:      w,
		Router:      NewRouter(),
		Ids:         transactions.NewRandomIdIssuer(),
		Logger:      logger.WithNames("dht"),
		ResendDelay: 5 * time.Second,
		MaxSends:    3,
	}
}

func (cl *Client) write(b []byte, addr netip.AddrPort) error {
	_, err := cl.Writer.WriteTo(b, net.UDPAddrFromAddrPort(addr))
	if err == nil {
		datagramsWritten.Add(1)
	}
	return err
}

func (cl *Client) send(m Msg, addr netip.AddrPort) error {
	m.V = cl.Version
	b, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encoding %v: %w", m, err)
	}
	return cl.write(b, addr)
}

func (cl *Client) querySender(ctx context.Context, b []byte, addr netip.AddrPort, sendErr chan<- error) {
	defer close(sendErr)
	for n := 0; n < max(cl.MaxSends, 1); n++ {
		if err := cl.write(b, addr); err != nil {
			sendErr <- fmt.Errorf("writing query: %w", err)
			return
		}
		select {
		case <-ctx.Done():
			sendErr <- ctx.Err()
			return
		case <-time.After(cl.ResendDelay):
		}
	}
	sendErr <- ErrQueryTimedOut
}

// Sends a query and waits for its response. The sender id is filled in. An error reply is
// returned as an Error.
func (cl *Client) Query(ctx context.Context, addr netip.AddrPort, q string, a *krpc.MsgArgs) (reply Msg, err error) {
	if a == nil {
		a = &krpc.MsgArgs{}
	}
	a.ID = cl.ID
	target := transactions.NewSingleShot[Msg]()
	id, end := cl.Router.Begin(addr, cl.Ids.Issue, target)
	defer end()
	b, err := Msg{
		Msg: krpc.Msg{
			T: EncodeTransactionID(id),
			Y: "q",
			Q: q,
			A: a,
		},
		V: cl.Version,
	}.Encode()
	if err != nil {
		return
	}
	expvars.Add(fmt.Sprintf("outbound %s queries", q), 1)
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sendErr := make(chan error, 1)
	go cl.querySender(sendCtx, b, addr, sendErr)
	started := time.Now()
	select {
	case reply = <-target.C():
		err = reply.Err()
	case err = <-sendErr:
	case <-ctx.Done():
		err = ctx.Err()
	}
	cl.Logger.Levelf(log.Debug, "%v query to %v returned after %v: %v", q, addr, time.Since(started), err)
	return
}

func (cl *Client) Ping(ctx context.Context, addr netip.AddrPort) (krpc.ID, error) {
	m, err := cl.Query(ctx, addr, QueryPing, nil)
	if err != nil {
		return krpc.ID{}, err
	}
	if m.R == nil {
		return krpc.ID{}, errNoReturn
	}
	return m.R.ID, nil
}

func returnNodes(r *krpc.Return) (ret []krpc.NodeInfo) {
	ret = append(ret, r.Nodes...)
	ret = append(ret, r.Nodes6...)
	return
}

// Returns the nodes closest to target that addr knows of.
func (cl *Client) FindNode(ctx context.Context, addr netip.AddrPort, target krpc.ID) ([]krpc.NodeInfo, error) {
	m, err := cl.Query(ctx, addr, QueryFindNode, &krpc.MsgArgs{Target: target})
	if err != nil {
		return nil, err
	}
	if m.R == nil {
		return nil, errNoReturn
	}
	return returnNodes(m.R), nil
}

type GetPeersResult struct {
	Peers []netip.AddrPort
	Nodes []krpc.NodeInfo
	// Needed for an announce_peer to the same node.
	Token string
}

func (cl *Client) GetPeers(ctx context.Context, addr netip.AddrPort, ih infohash.T) (ret GetPeersResult, err error) {
	m, err := cl.Query(ctx, addr, QueryGetPeers, &krpc.MsgArgs{InfoHash: krpc.ID(ih)})
	if err != nil {
		return
	}
	if m.R == nil {
		err = errNoReturn
		return
	}
	for _, na := range m.R.Values {
		ip, ok := netip.AddrFromSlice(na.IP)
		if !ok || na.Port <= 0 || na.Port > 0xffff {
			continue
		}
		ret.Peers = append(ret.Peers, netip.AddrPortFrom(ip.Unmap(), uint16(na.Port)))
	}
	ret.Nodes = returnNodes(m.R)
	if m.R.Token != nil {
		ret.Token = *m.R.Token
	}
	return
}

// Tells addr we're a peer for ih. The token comes from an earlier GetPeers to the same node.
func (cl *Client) AnnouncePeer(ctx context.Context, addr netip.AddrPort, ih infohash.T, port int, impliedPort bool, token string) error {
	if port == 0 && !impliedPort {
		return ErrNoPort
	}
	if token == "" {
		return ErrBadTokens
	}
	_, err := cl.Query(ctx, addr, QueryAnnouncePeer, &krpc.MsgArgs{
		ImpliedPort: impliedPort,
		InfoHash:    krpc.ID(ih),
		Port:        &port,
		Token:       token,
	})
	if err != nil {
		failedAnnounces.Add(1)
	}
	return err
}

// Processes a datagram that LooksLikeMsg. Responses are routed to their waiting queries, queries
// are answered. Errors are only for datagrams that don't decode.
func (cl *Client) Handle(ctx context.Context, source netip.AddrPort, b []byte) error {
	datagramsHandled.Add(1)
	m, err := DecodeMsg(b)
	if err != nil {
		undecodableDatagrams.Add(1)
		return fmt.Errorf("decoding krpc message: %w", err)
	}
	switch m.Y {
	case "q":
		cl.handleQuery(source, m)
	case "r", "e":
		id, ok := DecodeTransactionID(m.T)
		if !ok || !cl.Router.DoRedirect(ctx, source, id, m) {
			unmatchedResponses.Add(1)
			cl.Logger.Levelf(log.Debug, "dropping unmatched %v from %v", m, source)
		}
	default:
		cl.Logger.Levelf(log.Debug, "dropping %v from %v", m, source)
	}
	return nil
}

func (cl *Client) handleQuery(source netip.AddrPort, m Msg) {
	expvars.Add(fmt.Sprintf("received %s queries", m.Q), 1)
	if m.Q == QueryPing {
		err := cl.send(Msg{Msg: krpc.Msg{
			T:  m.T,
			Y:  "r",
			R:  &krpc.Return{ID: cl.ID},
			IP: nodeAddr(source),
		}}, source)
		if err != nil {
			cl.Logger.Levelf(log.Debug, "error replying to ping from %v: %v", source, err)
		}
		return
	}
	if cl.OnQuery != nil {
		cl.OnQuery(m, source)
		return
	}
	cl.Logger.Levelf(log.Debug, "ignoring %v from %v", m, source)
}

// Replies to a query with an error.
func (cl *Client) SendError(source netip.AddrPort, t string, e Error) error {
	return cl.send(Msg{Msg: krpc.Msg{
		T: t,
		Y: "e",
		E: &krpc.Error{Code: e.Code, Msg: e.Msg},
	}}, source)
}
