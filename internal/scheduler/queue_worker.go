package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/blacktop/pagecast/internal/queue"
)

const defaultPublishTimeout = 5 * time.Minute

// QueueLoader supplies the posts of one channel.
type QueueLoader interface {
	Load() ([]queue.Post, error)
}

// Publisher publishes one post. A nil error means the post went out.
type Publisher interface {
	Publish(ctx context.Context, post queue.Post) error
}

// QueueWorker publishes a fixed queue of posts in a loop.
//
// The queue is shuffled once per run and that order is then repeated until
// the channel is stopped; a new start reshuffles.
type QueueWorker struct {
	Queue     QueueLoader
	Publisher Publisher

	// Shuffle permutes the posts in place; defaults to math/rand.
	Shuffle func(posts []queue.Post)
	// PublishTimeout bounds a single publish; defaults to five minutes.
	PublishTimeout time.Duration
}

// Kind implements Worker.
func (w *QueueWorker) Kind() string { return KindQueue }

// Run implements Worker. A queue that cannot be loaded ends the run.
func (w *QueueWorker) Run(ctx context.Context, run *Run) error {
	logger := logutil.With("channel", run.Channel())

	posts, err := w.Queue.Load()
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	if len(posts) == 0 {
		return queue.ErrEmptyQueue
	}

	order := append([]queue.Post(nil), posts...)
	w.shuffle(order)
	logger.Info("queue loaded", "posts", len(order))

	timeout := w.PublishTimeout
	if timeout == 0 {
		timeout = defaultPublishTimeout
	}

	count := 0
	for ctx.Err() == nil {
		for _, post := range order {
			if ctx.Err() != nil {
				return nil
			}

			count++
			run.Report(postingStatus(count), Summarize(post.Message))

			pctx, cancel := detach(ctx, timeout)
			err := w.Publisher.Publish(pctx, post)
			cancel()
			if err != nil {
				logger.Error("publish failed", "post", count, "image", post.Image, "err", err)
				run.Report(StatusFailed, "")
			} else {
				logger.Info("published", "post", count, "image", post.Image)
				run.Report(StatusPosted, "")
			}

			if err := sleep(ctx, run.Interval()); err != nil {
				return nil
			}
		}
	}
	return nil
}

func (w *QueueWorker) shuffle(posts []queue.Post) {
	if w.Shuffle != nil {
		w.Shuffle(posts)
		return
	}
	rand.Shuffle(len(posts), func(i, j int) { posts[i], posts[j] = posts[j], posts[i] })
}
