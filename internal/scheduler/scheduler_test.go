package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blacktop/pagecast/internal/publish"
	"github.com/blacktop/pagecast/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

type event struct {
	channel string
	running bool
	message string
	summary string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Report(channel string, running bool, message, summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{channel, running, message, summary})
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) has(message string) bool {
	for _, e := range r.snapshot() {
		if e.message == message {
			return true
		}
	}
	return false
}

type fakeLoader struct {
	posts []queue.Post
	err   error
}

func (f *fakeLoader) Load() ([]queue.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]queue.Post(nil), f.posts...), nil
}

type fakePublisher struct {
	mu      sync.Mutex
	calls   []queue.Post
	fail    func(queue.Post) error
	onCall  func()
	release chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, post queue.Post) error {
	if f.onCall != nil {
		f.onCall()
	}
	f.mu.Lock()
	f.calls = append(f.calls, post)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.fail != nil {
		return f.fail(post)
	}
	return nil
}

func (f *fakePublisher) published() []queue.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.Post(nil), f.calls...)
}

func reverse(posts []queue.Post) {
	for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
		posts[i], posts[j] = posts[j], posts[i]
	}
}

var (
	postA = queue.Post{Message: "A", Image: "a.jpg"}
	postB = queue.Post{Message: "B", Image: "b.jpg"}
)

func newQueueController(t *testing.T, pub *fakePublisher, interval time.Duration) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := NewController(WithObserver(rec))
	w := &QueueWorker{
		Queue:     &fakeLoader{posts: []queue.Post{postA, postB}},
		Publisher: pub,
		Shuffle:   reverse,
	}
	require.NoError(t, c.Register("tour", w, interval))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c, rec
}

func TestStopWhenNotRunning(t *testing.T) {
	c, rec := newQueueController(t, &fakePublisher{}, time.Hour)

	err := c.Stop("tour")
	assert.ErrorIs(t, err, ErrNotRunning)

	st, err := c.ChannelStatus("tour")
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Empty(t, rec.snapshot())
}

func TestStartTwiceRunsOneLoop(t *testing.T) {
	pub := &fakePublisher{}
	c, _ := newQueueController(t, pub, time.Hour)

	require.NoError(t, c.Start("tour"))
	assert.ErrorIs(t, c.Start("tour"), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, pub.published(), 1)
}

func TestRunningBeforeFirstPublish(t *testing.T) {
	pub := &fakePublisher{}
	c, rec := newQueueController(t, pub, time.Hour)

	var runningAtPublish atomic.Bool
	pub.onCall = func() {
		st, _ := c.ChannelStatus("tour")
		runningAtPublish.Store(st.Running)
	}

	require.NoError(t, c.Start("tour"))
	st, err := c.ChannelStatus("tour")
	require.NoError(t, err)
	assert.True(t, st.Running)

	require.Eventually(t, func() bool { return rec.has(StatusPosted) }, waitFor, tick)
	assert.True(t, runningAtPublish.Load())

	events := rec.snapshot()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, event{"tour", true, StatusStarting, ""}, events[0])
	assert.Equal(t, "Posting... (Post #1)", events[1].message)
}

func TestQueueRepeatsFixedOrder(t *testing.T) {
	pub := &fakePublisher{}
	c, rec := newQueueController(t, pub, tick)

	require.NoError(t, c.Start("tour"))
	require.Eventually(t, func() bool { return len(pub.published()) >= 4 }, waitFor, tick)
	require.NoError(t, c.Stop("tour"))

	calls := pub.published()
	assert.Equal(t, []queue.Post{postB, postA, postB, postA}, calls[:4])

	var seq []event
	for _, e := range rec.snapshot() {
		if e.message != StatusStarting && e.message != StatusStopped {
			seq = append(seq, e)
		}
	}
	require.GreaterOrEqual(t, len(seq), 6)
	assert.Equal(t, event{"tour", true, "Posting... (Post #1)", "B"}, seq[0])
	assert.Equal(t, event{"tour", true, StatusPosted, ""}, seq[1])
	assert.Equal(t, event{"tour", true, "Posting... (Post #2)", "A"}, seq[2])
	assert.Equal(t, event{"tour", true, StatusPosted, ""}, seq[3])
	assert.Equal(t, event{"tour", true, "Posting... (Post #3)", "B"}, seq[4])
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{fail: func(p queue.Post) error {
		if p.Message == "B" {
			return errors.New("graph api down")
		}
		return nil
	}}
	c, rec := newQueueController(t, pub, tick)

	require.NoError(t, c.Start("tour"))
	require.Eventually(t, func() bool { return len(pub.published()) >= 3 }, waitFor, tick)

	assert.True(t, rec.has(StatusFailed))
	assert.True(t, rec.has(StatusPosted))
	st, _ := c.ChannelStatus("tour")
	assert.True(t, st.Running)
}

func TestLoadFailureEndsRun(t *testing.T) {
	c := NewController()
	loader := &fakeLoader{err: errors.New("no such file")}
	pub := &fakePublisher{}
	require.NoError(t, c.Register("nz", &QueueWorker{Queue: loader, Publisher: pub}, time.Hour))

	require.NoError(t, c.Start("nz"))
	require.Eventually(t, func() bool {
		st, _ := c.ChannelStatus("nz")
		return !st.Running
	}, waitFor, tick)

	st, _ := c.ChannelStatus("nz")
	assert.True(t, strings.HasPrefix(st.Status, StatusStopped+": load queue"), st.Status)
	assert.Empty(t, pub.published())

	loader.err = nil
	loader.posts = []queue.Post{postA}
	require.NoError(t, c.Start("nz"))
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, waitFor, tick)
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestEmptyQueueEndsRun(t *testing.T) {
	c := NewController()
	require.NoError(t, c.Register("nz", &QueueWorker{Queue: &fakeLoader{}, Publisher: &fakePublisher{}}, tick))

	require.NoError(t, c.Start("nz"))
	require.Eventually(t, func() bool {
		st, _ := c.ChannelStatus("nz")
		return !st.Running
	}, waitFor, tick)

	st, _ := c.ChannelStatus("nz")
	assert.Contains(t, st.Status, queue.ErrEmptyQueue.Error())
}

func TestStopDuringPublish(t *testing.T) {
	pub := &fakePublisher{release: make(chan struct{})}
	c, rec := newQueueController(t, pub, tick)

	require.NoError(t, c.Start("tour"))
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, waitFor, tick)

	require.NoError(t, c.Stop("tour"))
	close(pub.release)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, pub.published(), 1)
	assert.False(t, rec.has(StatusPosted), "reports after stop must be dropped")

	st, _ := c.ChannelStatus("tour")
	assert.False(t, st.Running)
	assert.Equal(t, StatusStopped, st.Status)
}

func TestRestartDoesNotWaitForInFlightPublish(t *testing.T) {
	pub := &fakePublisher{release: make(chan struct{})}
	c, _ := newQueueController(t, pub, tick)

	require.NoError(t, c.Start("tour"))
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, waitFor, tick)

	require.NoError(t, c.Stop("tour"))
	require.NoError(t, c.Start("tour"))

	// The old run's publish is still blocked while the new run starts its own.
	require.Eventually(t, func() bool { return len(pub.published()) == 2 }, waitFor, tick)
	close(pub.release)

	require.Eventually(t, func() bool { return len(pub.published()) >= 3 }, waitFor, tick)
	st, _ := c.ChannelStatus("tour")
	assert.True(t, st.Running)
}

func TestSetIntervalValidation(t *testing.T) {
	c, _ := newQueueController(t, &fakePublisher{}, 30*time.Minute)

	assert.ErrorIs(t, c.SetInterval("tour", 0), ErrInvalidInterval)
	assert.ErrorIs(t, c.SetInterval("tour", -5*time.Second), ErrInvalidInterval)
	assert.ErrorIs(t, c.SetInterval("bogus", time.Minute), ErrUnknownChannel)

	d, err := c.Interval("tour")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, d)

	require.NoError(t, c.SetInterval("tour", time.Minute))
	d, _ = c.Interval("tour")
	assert.Equal(t, time.Minute, d)
}

func TestSetIntervalAppliesToRunningWorker(t *testing.T) {
	pub := &fakePublisher{}
	c, _ := newQueueController(t, pub, tick)

	require.NoError(t, c.Start("tour"))
	require.Eventually(t, func() bool { return len(pub.published()) >= 2 }, waitFor, tick)
	require.NoError(t, c.SetInterval("tour", time.Hour))

	time.Sleep(20 * time.Millisecond)
	n := len(pub.published())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(pub.published()))
}

func TestUnknownChannel(t *testing.T) {
	c := NewController()
	assert.ErrorIs(t, c.Start("x"), ErrUnknownChannel)
	assert.ErrorIs(t, c.Stop("x"), ErrUnknownChannel)
	_, err := c.Interval("x")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestRegisterValidation(t *testing.T) {
	c := NewController()
	w := &QueueWorker{Queue: &fakeLoader{}, Publisher: &fakePublisher{}}
	require.NoError(t, c.Register("tour", w, time.Minute))
	assert.ErrorIs(t, c.Register("tour", w, time.Minute), ErrDuplicateChannel)
	assert.ErrorIs(t, c.Register("nz", w, 0), ErrInvalidInterval)
}

func TestStartAllStopAll(t *testing.T) {
	c := NewController()
	pubs := map[string]*fakePublisher{"tour": {}, "nz": {}}
	for _, name := range []string{"tour", "nz"} {
		w := &QueueWorker{Queue: &fakeLoader{posts: []queue.Post{postA}}, Publisher: pubs[name]}
		require.NoError(t, c.Register(name, w, time.Hour))
	}

	require.NoError(t, c.Start("tour"))
	require.NoError(t, c.StartAll())
	for _, st := range c.Status() {
		assert.True(t, st.Running, st.Channel)
	}
	require.Eventually(t, func() bool {
		return len(pubs["tour"].published()) == 1 && len(pubs["nz"].published()) == 1
	}, waitFor, tick)

	require.NoError(t, c.StopAll())
	require.NoError(t, c.StopAll())
	for _, st := range c.Status() {
		assert.False(t, st.Running, st.Channel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
}

type panicWorker struct{}

func (panicWorker) Kind() string { return KindQueue }

func (panicWorker) Run(context.Context, *Run) error { panic("boom") }

func TestWorkerPanicStopsChannelOnly(t *testing.T) {
	c := NewController()
	require.NoError(t, c.Register("bad", panicWorker{}, time.Minute))

	require.NoError(t, c.Start("bad"))
	require.Eventually(t, func() bool {
		st, _ := c.ChannelStatus("bad")
		return !st.Running
	}, waitFor, tick)

	st, _ := c.ChannelStatus("bad")
	assert.Contains(t, st.Status, "worker panic: boom")
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "No message", Summarize(""))
	assert.Equal(t, "short", Summarize("short"))

	long := strings.Repeat("x", 60)
	assert.Equal(t, strings.Repeat("x", 50)+"...", Summarize(long))

	kiwi := strings.Repeat("ā", 51)
	assert.Equal(t, strings.Repeat("ā", 50)+"...", Summarize(kiwi))
}

type fakePoster struct {
	reqs []publish.Request
	res  publish.Result
	err  error
}

func (f *fakePoster) Name() string { return "fake" }

func (f *fakePoster) Post(_ context.Context, req publish.Request) (publish.Result, error) {
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

type mapResolver map[string]string

func (m mapResolver) Path(name string) (string, error) {
	p, ok := m[name]
	if !ok {
		return "", errors.New("image not found")
	}
	return p, nil
}

func TestPosterPublisher(t *testing.T) {
	poster := &fakePoster{}
	p := &PosterPublisher{Poster: poster, Images: mapResolver{"a.jpg": "/srv/images/a.jpg"}}

	require.NoError(t, p.Publish(context.Background(), postA))
	require.Len(t, poster.reqs, 1)
	assert.Equal(t, publish.Request{Message: "A", ImagePath: "/srv/images/a.jpg"}, poster.reqs[0])

	assert.Error(t, p.Publish(context.Background(), postB))
	assert.Len(t, poster.reqs, 1)

	require.NoError(t, p.Publish(context.Background(), queue.Post{Message: "text only"}))
	assert.Equal(t, "", poster.reqs[1].ImagePath)
}

func TestPosterSyncPublisher(t *testing.T) {
	poster := &fakePoster{res: publish.Result{ID: "ig-1"}}
	p := &PosterSyncPublisher{Poster: poster}

	res, err := p.Publish(context.Background(), Item{ID: "1", Message: "hi", MediaKind: MediaPhoto, ImageURL: "https://cdn/x.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "ig-1", res.ID)
	assert.Equal(t, publish.Request{Message: "hi", ImageURL: "https://cdn/x.jpg"}, poster.reqs[0])
}
