package transactions

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/bradfitz/iter"
	qt "github.com/go-quicktest/qt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = netip.MustParseAddrPort("1.2.3.4:6881")
	addrB = netip.MustParseAddrPort("[2001:db8::1]:6881")
)

func TestSingleShotDeliversOnce(t *testing.T) {
	r := NewRouter[uint32, string]()
	target := NewSingleShot[string]()
	require.True(t, r.InsertRedirect(addrA, 7, target))
	assert.True(t, r.DoRedirect(context.Background(), addrA, 7, "hello"))
	assert.Equal(t, "hello", <-target.C())
	assert.False(t, r.Have(addrA, 7))
	assert.False(t, r.DoRedirect(context.Background(), addrA, 7, "again"))
	assert.Len(t, target.C(), 0)
	assert.Equal(t, 0, r.NumAddrs())
}

func TestRedirectUnknown(t *testing.T) {
	r := NewRouter[uint32, string]()
	assert.False(t, r.DoRedirect(context.Background(), addrA, 1, "x"))
	target := NewSingleShot[string]()
	require.True(t, r.InsertRedirect(addrA, 1, target))
	// Same id, different address.
	assert.False(t, r.DoRedirect(context.Background(), addrB, 1, "x"))
	// Same address, different id.
	assert.False(t, r.DoRedirect(context.Background(), addrA, 2, "x"))
	assert.True(t, r.Have(addrA, 1))
	assert.Equal(t, 1, r.NumActive())
	assert.Len(t, target.C(), 0)
}

func TestInsertCollision(t *testing.T) {
	r := NewRouter[uint32, string]()
	first := NewSingleShot[string]()
	require.True(t, r.InsertRedirect(addrA, 1, first))
	assert.False(t, r.InsertRedirect(addrA, 1, NewSingleShot[string]()))
	assert.True(t, r.InsertRedirect(addrB, 1, NewSingleShot[string]()))
	r.DoRedirect(context.Background(), addrA, 1, "first")
	assert.Equal(t, "first", <-first.C())
}

func TestRemovePrunesAddr(t *testing.T) {
	r := NewRouter[uint32, string]()
	require.True(t, r.InsertRedirect(addrA, 1, NewSingleShot[string]()))
	require.True(t, r.InsertRedirect(addrA, 2, NewMultiShot[string](1)))
	qt.Assert(t, qt.Equals(r.NumAddrs(), 1))
	qt.Assert(t, qt.IsTrue(r.RemoveRedirect(addrA, 1)))
	qt.Assert(t, qt.Equals(r.NumAddrs(), 1))
	qt.Assert(t, qt.IsFalse(r.RemoveRedirect(addrA, 1)))
	qt.Assert(t, qt.IsTrue(r.RemoveRedirect(addrA, 2)))
	qt.Assert(t, qt.Equals(r.NumAddrs(), 0))
	qt.Assert(t, qt.IsFalse(r.RemoveRedirect(addrB, 2)))
}

func TestMultiShotKeepsEntry(t *testing.T) {
	r := NewRouter[uint32, int]()
	target := NewMultiShot[int](3)
	require.True(t, r.InsertRedirect(addrA, 5, target))
	for i := range iter.N(3) {
		require.True(t, r.DoRedirect(context.Background(), addrA, 5, i))
	}
	for i := range iter.N(3) {
		assert.Equal(t, i, <-target.C())
	}
	assert.True(t, r.Have(addrA, 5))
}

func TestMultiShotClosedIsPruned(t *testing.T) {
	r := NewRouter[uint32, int]()
	target := NewMultiShot[int](1)
	require.True(t, r.InsertRedirect(addrA, 5, target))
	target.Close()
	assert.True(t, r.DoRedirect(context.Background(), addrA, 5, 1))
	assert.Len(t, target.C(), 0)
	assert.False(t, r.Have(addrA, 5))
	assert.Equal(t, 0, r.NumAddrs())
	assert.False(t, r.DoRedirect(context.Background(), addrA, 5, 2))
}

// A receiver that closes while a delivery is blocked on it unblocks the router.
func TestMultiShotCloseWhileBlocked(t *testing.T) {
	r := NewRouter[uint32, int]()
	target := NewMultiShot[int](0)
	require.True(t, r.InsertRedirect(addrA, 5, target))
	done := make(chan bool)
	go func() {
		done <- r.DoRedirect(context.Background(), addrA, 5, 1)
	}()
	// Other transactions aren't held up meanwhile.
	other := NewSingleShot[int]()
	require.True(t, r.InsertRedirect(addrB, 1, other))
	require.True(t, r.DoRedirect(context.Background(), addrB, 1, 2))
	assert.Equal(t, 2, <-other.C())
	target.Close()
	assert.True(t, <-done)
	assert.False(t, r.Have(addrA, 5))
}

func TestMultiShotContextCancel(t *testing.T) {
	r := NewRouter[uint32, int]()
	target := NewMultiShot[int](0)
	require.True(t, r.InsertRedirect(addrA, 5, target))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, r.DoRedirect(ctx, addrA, 5, 1))
	// Still wanted, just not in time.
	assert.True(t, r.Have(addrA, 5))
}

func TestMappedAddrsMatch(t *testing.T) {
	r := NewRouter[uint32, string]()
	target := NewSingleShot[string]()
	require.True(t, r.InsertRedirect(addrA, 1, target))
	mapped := netip.AddrPortFrom(netip.AddrFrom16(addrA.Addr().As16()), addrA.Port())
	require.True(t, mapped.Addr().Is4In6())
	assert.True(t, r.DoRedirect(context.Background(), mapped, 1, "x"))
}

func TestBeginSkipsCollisions(t *testing.T) {
	r := NewRouter[uint32, string]()
	require.True(t, r.InsertRedirect(addrA, 0, NewSingleShot[string]()))
	require.True(t, r.InsertRedirect(addrA, 1, NewSingleShot[string]()))
	ids := NewIdIssuer(0)
	target := NewSingleShot[string]()
	id, end := r.Begin(addrA, ids.Issue, target)
	assert.EqualValues(t, 2, id)
	assert.Equal(t, 3, r.NumActive())
	end()
	assert.Equal(t, 2, r.NumActive())
	// Ending after the entry was replaced leaves the replacement alone.
	replacement := NewSingleShot[string]()
	require.True(t, r.InsertRedirect(addrA, 2, replacement))
	end()
	assert.True(t, r.Have(addrA, 2))
}

func TestIdIssuerSequence(t *testing.T) {
	ids := NewIdIssuer(^uint32(0))
	qt.Check(t, qt.Equals(ids.Issue(), ^uint32(0)))
	qt.Check(t, qt.Equals(ids.Issue(), 0))
	qt.Check(t, qt.Equals(ids.Issue(), 1))
}
