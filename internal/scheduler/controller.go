package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blacktop/pagecast/internal/logutil"
)

var (
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrDuplicateChannel = errors.New("channel already registered")
	ErrAlreadyRunning   = errors.New("channel already running")
	ErrNotRunning       = errors.New("channel not running")
	ErrInvalidInterval  = errors.New("interval must be positive")
)

type channelState struct {
	name   string
	worker Worker

	mu       sync.Mutex
	running  bool
	status   string
	current  string
	interval time.Duration
	gen      uint64
	cancel   context.CancelFunc
}

// Controller owns one worker per channel and starts and stops them.
//
// Start and Stop change the observable state immediately. A stopped worker
// finishes the publish it has in flight, if any, and then exits; whatever it
// reports after the stop is discarded. Starting a channel again right away
// does not wait for that publish, so it may overlap the new run's first one.
type Controller struct {
	mu        sync.RWMutex
	channels  map[string]*channelState
	order     []string
	observers []Reporter
	wg        sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver forwards every status change to r.
func WithObserver(r Reporter) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, r)
	}
}

// NewController returns a Controller with no channels.
func NewController(opts ...Option) *Controller {
	c := &Controller{channels: make(map[string]*channelState)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a channel driven by w, initially stopped.
func (c *Controller) Register(name string, w Worker, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%s: %w", name, ErrInvalidInterval)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrDuplicateChannel)
	}
	c.channels[name] = &channelState{name: name, worker: w, interval: interval}
	c.order = append(c.order, name)
	return nil
}

// Channels returns the channel names in registration order.
func (c *Controller) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Start launches the channel's worker. It returns ErrAlreadyRunning if the
// channel is running.
func (c *Controller) Start(name string) error {
	st, err := c.lookup(name)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.running {
		st.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrAlreadyRunning)
	}
	ctx, cancel := context.WithCancel(context.Background())
	st.gen++
	run := &Run{c: c, st: st, gen: st.gen}
	st.running = true
	st.status = StatusStarting
	st.current = ""
	st.cancel = cancel
	c.notify(name, true, StatusStarting, "")
	st.mu.Unlock()

	logutil.Infof("starting %s %s worker", name, st.worker.Kind())

	c.wg.Add(1)
	go c.execute(ctx, run)
	return nil
}

func (c *Controller) execute(ctx context.Context, run *Run) {
	defer c.wg.Done()

	err := c.runWorker(ctx, run)
	if ctx.Err() != nil {
		return
	}

	// The worker gave up on its own; release the channel so a fresh start works.
	st := run.st
	status := StatusStopped
	if err != nil {
		status = fmt.Sprintf("%s: %v", StatusStopped, err)
		logutil.Errorf("%s worker exited: %v", st.name, err)
	}
	st.mu.Lock()
	if st.gen != run.gen || !st.running {
		st.mu.Unlock()
		return
	}
	st.running = false
	st.status = status
	st.current = ""
	st.cancel()
	c.notify(st.name, false, status, "")
	st.mu.Unlock()
}

func (c *Controller) runWorker(ctx context.Context, run *Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return run.st.worker.Run(ctx, run)
}

// Stop signals the channel's worker to exit. It returns ErrNotRunning if the
// channel is not running.
func (c *Controller) Stop(name string) error {
	st, err := c.lookup(name)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if !st.running {
		st.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrNotRunning)
	}
	st.cancel()
	st.running = false
	st.status = StatusStopped
	st.current = ""
	c.notify(name, false, StatusStopped, "")
	st.mu.Unlock()

	logutil.Infof("stopped %s", name)
	return nil
}

// StartAll starts every stopped channel. Channels already running are left
// alone; other failures are joined.
func (c *Controller) StartAll() error {
	var errs []error
	for _, name := range c.Channels() {
		if err := c.Start(name); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every running channel.
func (c *Controller) StopAll() error {
	var errs []error
	for _, name := range c.Channels() {
		if err := c.Stop(name); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status returns a snapshot of every channel in registration order.
func (c *Controller) Status() []ChannelStatus {
	names := c.Channels()
	out := make([]ChannelStatus, 0, len(names))
	for _, name := range names {
		st, err := c.lookup(name)
		if err != nil {
			continue
		}
		out = append(out, st.snapshot())
	}
	return out
}

// ChannelStatus returns the snapshot of one channel.
func (c *Controller) ChannelStatus(name string) (ChannelStatus, error) {
	st, err := c.lookup(name)
	if err != nil {
		return ChannelStatus{}, err
	}
	return st.snapshot(), nil
}

// Interval returns the channel's interval.
func (c *Controller) Interval(name string) (time.Duration, error) {
	st, err := c.lookup(name)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.interval, nil
}

// SetInterval changes the channel's interval. A running worker picks it up
// at its next sleep.
func (c *Controller) SetInterval(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s: %s: %w", name, d, ErrInvalidInterval)
	}
	st, err := c.lookup(name)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.interval = d
	st.mu.Unlock()
	logutil.Infof("%s interval set to %s", name, d)
	return nil
}

// Shutdown stops every channel and waits for the worker goroutines to exit
// or for ctx to end.
func (c *Controller) Shutdown(ctx context.Context) error {
	stopErr := c.StopAll()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return stopErr
	case <-ctx.Done():
		return errors.Join(stopErr, fmt.Errorf("wait for workers: %w", ctx.Err()))
	}
}

func (c *Controller) lookup(name string) (*channelState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.channels[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownChannel)
	}
	return st, nil
}

// notify runs with the channel's lock held so observers see one channel's
// updates in order. Observers must not call back into the Controller.
func (c *Controller) notify(channel string, running bool, message, summary string) {
	for _, o := range c.observers {
		o.Report(channel, running, message, summary)
	}
}

func (st *channelState) snapshot() ChannelStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	return ChannelStatus{
		Channel:     st.name,
		Kind:        st.worker.Kind(),
		Running:     st.running,
		Status:      st.status,
		CurrentPost: st.current,
		Interval:    st.interval,
	}
}
