package transactions

import (
	"context"
	"expvar"
	"net/netip"

	"github.com/anacrolix/sync"
	"github.com/tidwall/btree"
)

var (
	redirectsDelivered = expvar.NewInt("transactionsRedirectsDelivered")
	redirectsMissed    = expvar.NewInt("transactionsRedirectsMissed")
	redirectsPruned    = expvar.NewInt("transactionsRedirectsPruned")
)

type addrEntry[K comparable, M any] struct {
	addr netip.AddrPort
	txns map[K]*Target[M]
}

// Routes responses arriving on a shared socket to whoever is waiting on the transaction. Entries
// are keyed by remote address, then transaction id. An address with no outstanding transactions
// has no entry. The zero value is not usable, see NewRouter.
type Router[K comparable, M any] struct {
	mu    sync.Mutex
	addrs *btree.BTreeG[*addrEntry[K, M]]
}

func NewRouter[K comparable, M any]() *Router[K, M] {
	return &Router[K, M]{
		addrs: btree.NewBTreeGOptions(func(a, b *addrEntry[K, M]) bool {
			return a.addr.Compare(b.addr) < 0
		}, btree.Options{NoLocks: true}),
	}
}

// IPv4 responses can arrive as IPv4-mapped IPv6 addresses on dual-stack sockets.
func normalizeAddr(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

func (r *Router[K, M]) getLocked(addr netip.AddrPort) (*addrEntry[K, M], bool) {
	return r.addrs.Get(&addrEntry[K, M]{addr: addr})
}

// Returns false if a transaction with the same id is already outstanding for addr, in which case
// nothing changes and the caller should pick another id.
func (r *Router[K, M]) InsertRedirect(addr netip.AddrPort, id K, t *Target[M]) bool {
	addr = normalizeAddr(addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.getLocked(addr)
	if !ok {
		e = &addrEntry[K, M]{addr: addr, txns: make(map[K]*Target[M])}
		r.addrs.Set(e)
	}
	if _, ok := e.txns[id]; ok {
		return false
	}
	e.txns[id] = t
	return true
}

// Cancels a transaction. Returns whether it was outstanding.
func (r *Router[K, M]) RemoveRedirect(addr netip.AddrPort, id K) bool {
	addr = normalizeAddr(addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.removeLocked(addr, id, nil)
	return ok
}

// Removes the transaction, and the address if that was its last. If only is not nil, the entry is
// only removed if it still refers to that target.
func (r *Router[K, M]) removeLocked(addr netip.AddrPort, id K, only *Target[M]) (t *Target[M], ok bool) {
	e, ok := r.getLocked(addr)
	if !ok {
		return
	}
	t, ok = e.txns[id]
	if !ok || (only != nil && t != only) {
		return nil, false
	}
	delete(e.txns, id)
	if len(e.txns) == 0 {
		r.addrs.Delete(e)
	}
	return
}

// Hands msg to the transaction waiting on (addr, id). Returns false if there isn't one, which is
// normal for late or unsolicited responses. Single-shot entries are removed before delivery.
// Multi-shot deliveries block until the receiver takes the message, closes the target, or ctx is
// done. Closed multi-shot targets are pruned instead of delivered to.
func (r *Router[K, M]) DoRedirect(ctx context.Context, addr netip.AddrPort, id K, msg M) bool {
	addr = normalizeAddr(addr)
	r.mu.Lock()
	e, ok := r.getLocked(addr)
	if !ok {
		r.mu.Unlock()
		redirectsMissed.Add(1)
		return false
	}
	t, ok := e.txns[id]
	if !ok {
		r.mu.Unlock()
		redirectsMissed.Add(1)
		return false
	}
	if t.single || t.Closed() {
		r.removeLocked(addr, id, t)
	}
	r.mu.Unlock()
	if !t.single && t.Closed() {
		redirectsPruned.Add(1)
		return true
	}
	// Delivery happens outside the lock, so a slow multi-shot receiver doesn't hold up other
	// transactions.
	if t.deliver(ctx, msg) {
		redirectsDelivered.Add(1)
	} else if !t.single && t.Closed() {
		r.mu.Lock()
		r.removeLocked(addr, id, t)
		r.mu.Unlock()
		redirectsPruned.Add(1)
	}
	return true
}

// Registers t under a fresh id from ids, retrying on collisions. The returned func removes the
// entry if it's still there.
func (r *Router[K, M]) Begin(addr netip.AddrPort, ids func() K, t *Target[M]) (id K, end func()) {
	for {
		id = ids()
		if r.InsertRedirect(addr, id, t) {
			break
		}
	}
	addr = normalizeAddr(addr)
	end = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.removeLocked(addr, id, t)
	}
	return
}

// Number of addresses with outstanding transactions.
func (r *Router[K, M]) NumAddrs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addrs.Len()
}

func (r *Router[K, M]) NumActive() (n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs.Scan(func(e *addrEntry[K, M]) bool {
		n += len(e.txns)
		return true
	})
	return
}

func (r *Router[K, M]) Have(addr netip.AddrPort, id K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.getLocked(normalizeAddr(addr))
	if !ok {
		return false
	}
	_, ok = e.txns[id]
	return ok
}
