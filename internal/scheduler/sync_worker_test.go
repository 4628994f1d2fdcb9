package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blacktop/pagecast/internal/publish"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSeen struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newMemSeen(ids ...string) *memSeen {
	s := &memSeen{ids: map[string]bool{}}
	for _, id := range ids {
		s.ids[id] = true
	}
	return s
}

func (s *memSeen) Contains(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id], nil
}

func (s *memSeen) Add(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = true
	return nil
}

func (s *memSeen) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type fakeSource struct {
	items []Item
	calls atomic.Int32
	err   func(call int32) error
}

func (f *fakeSource) Recent(context.Context) ([]Item, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		if err := f.err(n); err != nil {
			return nil, err
		}
	}
	return f.items, nil
}

type fakeSyncPublisher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeSyncPublisher) Publish(_ context.Context, item Item) (publish.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, item.ID)
	if f.fail[item.ID] {
		return publish.Result{}, errors.New("media container rejected")
	}
	return publish.Result{ID: "ig-" + item.ID}, nil
}

func (f *fakeSyncPublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSyncPublisher) count(id string) int {
	n := 0
	for _, c := range f.published() {
		if c == id {
			n++
		}
	}
	return n
}

var (
	itemX = Item{ID: "X", Message: "already mirrored", MediaKind: MediaPhoto, ImageURL: "https://cdn/x.jpg"}
	itemY = Item{ID: "Y", Message: "fresh from the page", MediaKind: MediaPhoto, ImageURL: "https://cdn/y.jpg"}
)

func startSync(t *testing.T, w *SyncWorker, interval time.Duration) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := NewController(WithObserver(rec))
	require.NoError(t, c.Register("insta", w, interval))
	require.NoError(t, c.Start("insta"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c, rec
}

func TestSyncSkipsSeenItems(t *testing.T) {
	seen := newMemSeen("X")
	src := &fakeSource{items: []Item{itemX, itemY}}
	pub := &fakeSyncPublisher{}
	_, rec := startSync(t, &SyncWorker{Source: src, Seen: seen, Publisher: pub}, tick)

	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, waitFor, tick)

	assert.Equal(t, []string{"Y"}, pub.published())
	assert.Equal(t, []string{"X", "Y"}, seen.list())
	assert.True(t, rec.has("Synced (Post #1)"))
	assert.False(t, rec.has("Synced (Post #2)"))
	assert.True(t, rec.has(StatusChecking))

	for _, e := range rec.snapshot() {
		if e.message == "Synced (Post #1)" {
			assert.Equal(t, "fresh from the page", e.summary)
		}
		if e.message == StatusChecking {
			assert.Empty(t, e.summary)
		}
	}
}

func TestSyncFailedPublishIsRetried(t *testing.T) {
	seen := newMemSeen("X")
	src := &fakeSource{items: []Item{itemX, itemY}}
	pub := &fakeSyncPublisher{fail: map[string]bool{"Y": true}}
	c, rec := startSync(t, &SyncWorker{Source: src, Seen: seen, Publisher: pub}, tick)

	require.Eventually(t, func() bool { return pub.count("Y") >= 2 }, waitFor, tick)

	assert.Equal(t, []string{"X"}, seen.list())
	assert.True(t, rec.has("Failed (item Y)"))
	assert.True(t, rec.has(StatusChecking))
	st, _ := c.ChannelStatus("insta")
	assert.True(t, st.Running)
}

func TestSyncSkipsUnpublishableItems(t *testing.T) {
	video := Item{ID: "V", MediaKind: "video", ImageURL: "https://cdn/v.jpg"}
	noImage := Item{ID: "N", MediaKind: MediaPhoto}
	seen := newMemSeen()
	src := &fakeSource{items: []Item{video, noImage, itemY}}
	pub := &fakeSyncPublisher{}
	startSync(t, &SyncWorker{Source: src, Seen: seen, Publisher: pub}, tick)

	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, waitFor, tick)

	assert.Equal(t, []string{"Y"}, pub.published())
	assert.Equal(t, []string{"Y"}, seen.list())
}

func TestSyncCycleErrorRetriesAfterDelay(t *testing.T) {
	src := &fakeSource{
		items: []Item{itemY},
		err: func(call int32) error {
			if call == 1 {
				return errors.New("graph api: connection reset")
			}
			return nil
		},
	}
	pub := &fakeSyncPublisher{}
	w := &SyncWorker{Source: src, Seen: newMemSeen(), Publisher: pub, RetryDelay: 5 * time.Millisecond}
	c, rec := startSync(t, w, time.Hour)

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, waitFor, tick)

	assert.True(t, rec.has("Error, retrying in 5ms"))
	st, _ := c.ChannelStatus("insta")
	assert.True(t, st.Running)
	assert.Equal(t, StatusChecking, st.Status)
}

func TestSyncStopsBetweenItems(t *testing.T) {
	src := &fakeSource{items: []Item{
		{ID: "1", MediaKind: MediaPhoto, ImageURL: "u1"},
		{ID: "2", MediaKind: MediaPhoto, ImageURL: "u2"},
	}}
	seen := newMemSeen()
	var c *Controller
	pub := &stoppingPublisher{stop: func() { _ = c.Stop("insta") }}
	c = NewController()
	require.NoError(t, c.Register("insta", &SyncWorker{Source: src, Seen: seen, Publisher: pub}, tick))
	require.NoError(t, c.Start("insta"))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.Eventually(t, func() bool { return pub.calls.Load() >= 1 }, waitFor, tick)
	require.NoError(t, c.Shutdown(ctx))

	assert.Equal(t, int32(1), pub.calls.Load())
	assert.Equal(t, []string{"1"}, seen.list(), "the in-flight item is still recorded")
}

type stoppingPublisher struct {
	calls atomic.Int32
	stop  func()
}

func (p *stoppingPublisher) Publish(context.Context, Item) (publish.Result, error) {
	p.calls.Add(1)
	p.stop()
	return publish.Result{}, nil
}

func TestSyncSkipsItemsWithoutID(t *testing.T) {
	blank := Item{ID: "  ", Message: "malformed", MediaKind: MediaPhoto, ImageURL: "https://cdn/b.jpg"}
	padded := Item{ID: " Y ", Message: "fresh from the page", MediaKind: MediaPhoto, ImageURL: "https://cdn/y.jpg"}
	seen := newMemSeen()
	src := &fakeSource{items: []Item{blank, padded}}
	pub := &fakeSyncPublisher{}
	_, rec := startSync(t, &SyncWorker{Source: src, Seen: seen, Publisher: pub}, tick)

	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, waitFor, tick)

	assert.Equal(t, []string{"Y"}, pub.published(), "blank ids never reach the publisher and padded ids publish once")
	assert.Equal(t, []string{"Y"}, seen.list())
	for _, e := range rec.snapshot() {
		assert.NotContains(t, e.message, "Error", "a malformed item must not fail the cycle")
	}
}

func TestSyncDefaultRetryDelayExceedsInterval(t *testing.T) {
	src := &fakeSource{err: func(int32) error { return errors.New("graph api: 500") }}
	w := &SyncWorker{Source: src, Seen: newMemSeen(), Publisher: &fakeSyncPublisher{}}
	c, rec := startSync(t, w, 5*time.Millisecond)

	want := "Error, retrying in " + (5*time.Millisecond + RetryGrace).String()
	require.Eventually(t, func() bool { return rec.has(want) }, waitFor, tick)

	assert.Equal(t, int32(1), src.calls.Load(), "no second cycle before the fallback delay")
	assert.Greater(t, w.retryDelay(time.Hour), time.Hour)

	require.NoError(t, c.SetInterval("insta", 10*time.Minute))
	assert.Equal(t, 10*time.Minute+RetryGrace, w.retryDelay(10*time.Minute))
}
