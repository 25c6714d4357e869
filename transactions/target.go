package transactions

import (
	"context"

	"github.com/anacrolix/chansync"
)

// Where responses for a transaction are delivered. A single-shot target takes exactly one
// response and its router entry goes away with it. A multi-shot target keeps receiving until its
// receiver closes it.
type Target[M any] struct {
	c      chan M
	single bool
	closed chansync.SetOnce
}

func NewSingleShot[M any]() *Target[M] {
	return &Target[M]{
		c:      make(chan M, 1),
		single: true,
	}
}

// Deliveries block once buffer responses are waiting to be received.
func NewMultiShot[M any](buffer int) *Target[M] {
	return &Target[M]{
		c: make(chan M, buffer),
	}
}

func (t *Target[M]) C() <-chan M {
	return t.c
}

func (t *Target[M]) SingleShot() bool {
	return t.single
}

// The receiver is no longer interested. Deliveries in progress are abandoned, and the router drops
// the entry the next time a response arrives for it.
func (t *Target[M]) Close() {
	t.closed.Set()
}

func (t *Target[M]) Closed() bool {
	return t.closed.IsSet()
}

// Returns false if the target was closed before the message could be handed over.
func (t *Target[M]) deliver(ctx context.Context, m M) bool {
	if t.closed.IsSet() {
		return false
	}
	if t.single {
		// The buffer is reserved for the one message.
		select {
		case t.c <- m:
			return true
		default:
			return false
		}
	}
	select {
	case t.c <- m:
		return true
	case <-t.closed.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
