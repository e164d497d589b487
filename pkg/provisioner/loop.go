package provisioner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/citymesh/meshcfg-go/pkg/nodesetup"
)

// ErrLoopStopped is returned when work is posted to a stopped Loop.
var ErrLoopStopped = errors.New("event loop stopped")

// Loop runs functions one at a time on a single goroutine.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

// NewLoop creates a Loop that buffers up to size pending functions.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = 1
	}
	return &Loop{
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Run executes posted functions until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn. It blocks while the buffer is full and returns false once
// the loop has stopped. Post must not be called from the loop goroutine.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// fn may have been the last task run.
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	}
}

// Schedule runs fn on the loop after d. It implements nodesetup.Scheduler.
func (l *Loop) Schedule(d time.Duration, fn func()) nodesetup.Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if !t.stopped.Load() {
				fn()
			}
		})
	})
	return t
}

// loopTimer is stopped on the loop goroutine, so a callback that was
// already posted checks the flag before running.
type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() {
	t.stopped.Store(true)
	t.timer.Stop()
}

var _ nodesetup.Scheduler = (*Loop)(nil)
