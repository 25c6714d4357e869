package torrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Background tasks owned by something with a lifetime, like a Conn or Session. Tasks get a context
// that's cancelled when the group is cancelled or any task fails, and Wait returns only once they've
// all returned, so nothing outlives its owner.
type taskGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
}

func newTaskGroup(parent context.Context) *taskGroup {
	ctx, cancel := context.WithCancel(parent)
	eg, ctx := errgroup.WithContext(ctx)
	return &taskGroup{
		ctx:    ctx,
		cancel: cancel,
		eg:     eg,
	}
}

func (me *taskGroup) Go(f func(ctx context.Context) error) {
	me.eg.Go(func() error {
		return f(me.ctx)
	})
}

func (me *taskGroup) Cancel() {
	me.cancel()
}

// Closed when the group is cancelled or a task fails.
func (me *taskGroup) Done() <-chan struct{} {
	return me.ctx.Done()
}

// Returns the first error from a task.
func (me *taskGroup) Wait() error {
	err := me.eg.Wait()
	me.cancel()
	return err
}
