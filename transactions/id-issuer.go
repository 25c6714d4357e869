package transactions

import (
	"math/rand/v2"
	"sync/atomic"
)

// Hands out 32-bit transaction ids in sequence. Each router user owns one, so tests can start from
// a known value.
type IdIssuer struct {
	next atomic.Uint32
}

func NewIdIssuer(start uint32) *IdIssuer {
	var ret IdIssuer
	ret.next.Store(start)
	return &ret
}

// Starts at a random value so restarts don't reuse ids remote ends may still remember.
func NewRandomIdIssuer() *IdIssuer {
	return NewIdIssuer(rand.Uint32())
}

func (me *IdIssuer) Issue() uint32 {
	return me.next.Add(1) - 1
}
