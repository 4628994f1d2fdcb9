package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/blacktop/pagecast/internal/publish"
)

// RetryGrace is added to the channel interval to get the default pause
// after a failed sync cycle.
const RetryGrace = time.Minute

// MediaPhoto is the media kind the default sync filter accepts.
const MediaPhoto = "photo"

// Item is a post discovered upstream.
type Item struct {
	ID        string
	Message   string
	MediaKind string
	ImageURL  string
}

// Source lists recently available upstream items in upstream order.
type Source interface {
	Recent(ctx context.Context) ([]Item, error)
}

// SeenSet records the items already published. Add must be durable before
// it returns.
type SeenSet interface {
	Contains(ctx context.Context, id string) (bool, error)
	Add(ctx context.Context, id string) error
}

// SyncPublisher publishes one upstream item.
type SyncPublisher interface {
	Publish(ctx context.Context, item Item) (publish.Result, error)
}

// SyncWorker mirrors new upstream items to a target, once each.
type SyncWorker struct {
	Source    Source
	Seen      SeenSet
	Publisher SyncPublisher

	// Accept decides whether an item can be published; defaults to photos
	// with an image URL. Rejected items are not marked seen.
	Accept func(Item) bool
	// RetryDelay is the pause after a failed cycle. Zero means the current
	// interval plus RetryGrace, so a failing upstream is polled less often
	// than a healthy one.
	RetryDelay time.Duration
	// PublishTimeout bounds a single publish; defaults to five minutes.
	PublishTimeout time.Duration
}

// Kind implements Worker.
func (w *SyncWorker) Kind() string { return KindSync }

// Run implements Worker. Failed cycles are retried forever; Run only
// returns when ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context, run *Run) error {
	logger := logutil.With("channel", run.Channel())

	count := 0
	for ctx.Err() == nil {
		if err := w.cycle(ctx, run, &count); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := w.retryDelay(run.Interval())
			logger.Error("sync cycle failed", "err", err, "retry_in", delay)
			run.Report(fmt.Sprintf("Error, retrying in %s", delay), "")
			if sleep(ctx, delay) != nil {
				return nil
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		run.Report(StatusChecking, "")
		if sleep(ctx, run.Interval()) != nil {
			return nil
		}
	}
	return nil
}

func (w *SyncWorker) cycle(ctx context.Context, run *Run, count *int) error {
	logger := logutil.With("channel", run.Channel())

	items, err := w.Source.Recent(ctx)
	if err != nil {
		return fmt.Errorf("list upstream items: %w", err)
	}
	logger.Debug("upstream listed", "items", len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			return nil
		}

		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" {
			logger.Warn("skipping upstream item without id")
			continue
		}

		seen, err := w.Seen.Contains(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("check seen %s: %w", item.ID, err)
		}
		if seen || !w.accept(item) {
			continue
		}

		pctx, cancel := detach(ctx, w.publishTimeout())
		res, err := w.Publisher.Publish(pctx, item)
		if err != nil {
			cancel()
			logger.Error("sync publish failed", "item", item.ID, "err", err)
			run.Report(fmt.Sprintf("%s (item %s)", StatusFailed, item.ID), Summarize(item.Message))
			continue
		}
		err = w.Seen.Add(pctx, item.ID)
		cancel()
		if err != nil {
			return fmt.Errorf("mark %s seen: %w", item.ID, err)
		}

		*count++
		logger.Info("synced", "item", item.ID, "published", res.ID)
		run.Report(syncedStatus(*count), Summarize(item.Message))
	}
	return nil
}

func (w *SyncWorker) accept(item Item) bool {
	if w.Accept != nil {
		return w.Accept(item)
	}
	return item.MediaKind == MediaPhoto && item.ImageURL != ""
}

func (w *SyncWorker) retryDelay(interval time.Duration) time.Duration {
	if w.RetryDelay > 0 {
		return w.RetryDelay
	}
	return interval + RetryGrace
}

func (w *SyncWorker) publishTimeout() time.Duration {
	if w.PublishTimeout > 0 {
		return w.PublishTimeout
	}
	return defaultPublishTimeout
}
