package scheduler

import (
	"context"

	"github.com/blacktop/pagecast/internal/publish"
	"github.com/blacktop/pagecast/internal/queue"
)

// ImageResolver maps a post's image reference onto a local file.
type ImageResolver interface {
	Path(name string) (string, error)
}

// PosterPublisher publishes queue posts through a publish.Poster.
type PosterPublisher struct {
	Poster publish.Poster
	Images ImageResolver
}

// Publish implements Publisher.
func (p *PosterPublisher) Publish(ctx context.Context, post queue.Post) error {
	req := publish.Request{Message: post.Message}
	if post.Image != "" {
		path, err := p.Images.Path(post.Image)
		if err != nil {
			return err
		}
		req.ImagePath = path
	}
	_, err := p.Poster.Post(ctx, req)
	return err
}

// PosterSyncPublisher publishes upstream items through a publish.Poster,
// passing the upstream image by URL.
type PosterSyncPublisher struct {
	Poster publish.Poster
}

// Publish implements SyncPublisher.
func (p *PosterSyncPublisher) Publish(ctx context.Context, item Item) (publish.Result, error) {
	return p.Poster.Post(ctx, publish.Request{Message: item.Message, ImageURL: item.ImageURL})
}
