package vfs

import (
	"context"

	"github.com/wisnuc/appifi-sub000/pkg/fserror"
)

// post queues fn for the dispatch goroutine. It never blocks and may be
// called from any goroutine, including the dispatch goroutine itself.
func (f *Forest) post(fn func()) {
	f.qmu.Lock()
	f.queue = append(f.queue, fn)
	f.qmu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// drain runs everything queued so far. Work posted while draining is picked
// up by the next drain, which gives "run on next tick" semantics to
// requestSchedule.
func (f *Forest) drain() {
	f.qmu.Lock()
	batch := f.queue
	f.queue = nil
	f.qmu.Unlock()

	for _, fn := range batch {
		fn()
	}
}

// call runs fn on the dispatch goroutine and waits for it.
func (f *Forest) call(ctx context.Context, fn func()) error {
	select {
	case <-f.done:
		return fserror.New(fserror.ErrClosed, "", "forest stopped")
	default:
	}

	finished := make(chan struct{})
	f.post(func() {
		fn()
		close(finished)
	})

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return fserror.New(fserror.ErrClosed, "", "forest stopped")
	}
}

// goWorker runs fn off the dispatch goroutine. Run waits for every worker
// before returning.
func (f *Forest) goWorker(fn func()) {
	f.workers.Add(1)
	go func() {
		defer f.workers.Done()
		fn()
	}()
}
