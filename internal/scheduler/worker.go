package scheduler

import (
	"context"
	"time"
)

// Worker kinds.
const (
	KindQueue = "queue"
	KindSync  = "sync"
)

// Worker is the scheduling loop of one channel.
//
// Run must return once ctx is cancelled, checking it at least before every
// unit of work and at the top of every outer cycle, and must wait on ctx in
// every sleep. A stop therefore takes effect after at most the publish that
// is already in flight. A non-nil error ends the run as a fatal failure.
type Worker interface {
	Kind() string
	Run(ctx context.Context, run *Run) error
}

// Run is the handle a worker receives for one start of its channel. It
// exposes the live interval and the channel's status slot.
type Run struct {
	c   *Controller
	st  *channelState
	gen uint64
}

// Channel returns the channel name.
func (r *Run) Channel() string { return r.st.name }

// Interval returns the channel's current interval. Workers re-read it before
// every sleep so that updates apply without a restart.
func (r *Run) Interval() time.Duration {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.st.interval
}

// Report records a status update for the channel. Updates from a run that
// has since been stopped are dropped.
func (r *Run) Report(message, summary string) {
	st := r.st
	st.mu.Lock()
	if st.gen != r.gen || !st.running {
		st.mu.Unlock()
		return
	}
	st.status = message
	st.current = summary
	r.c.notify(st.name, true, message, summary)
	st.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// detach keeps an in-flight publish alive after a stop while still bounding
// it by timeout.
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
