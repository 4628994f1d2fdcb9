package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/blacktop/pagecast/internal/config"
	"github.com/blacktop/pagecast/internal/graph"
	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/blacktop/pagecast/internal/media"
	"github.com/blacktop/pagecast/internal/metrics"
	"github.com/blacktop/pagecast/internal/publish"
	"github.com/blacktop/pagecast/internal/publish/bluesky"
	"github.com/blacktop/pagecast/internal/publish/facebook"
	"github.com/blacktop/pagecast/internal/publish/instagram"
	"github.com/blacktop/pagecast/internal/publish/mastodon"
	"github.com/blacktop/pagecast/internal/publish/twitter"
	"github.com/blacktop/pagecast/internal/queue"
	"github.com/blacktop/pagecast/internal/scheduler"
	"github.com/blacktop/pagecast/internal/seen"
)

// deps holds what the channel workers share.
type deps struct {
	cfg     *config.Config
	graph   *graph.Client
	images  *media.Library
	seen    *seen.Store
	metrics *metrics.Metrics
	queues  map[string]*queue.File
}

func newGraph(cfg *config.Config) *graph.Client {
	return graph.New(graph.Config{
		BaseURL:           cfg.Graph.BaseURL,
		Version:           cfg.Graph.Version,
		AccessToken:       cfg.Graph.AccessToken,
		Timeout:           cfg.Graph.Timeout.Duration,
		RetryMax:          cfg.Graph.RetryMax,
		RequestsPerMinute: cfg.Graph.RequestsPerMinute,
	})
}

// register builds a worker per configured channel and adds it to ctl.
func (d *deps) register(ctx context.Context, ctl *scheduler.Controller) error {
	var errs []error
	for _, ch := range d.cfg.Channels {
		w, err := d.worker(ctx, ch)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.Name, err))
			continue
		}
		if err := ctl.Register(ch.Name, w, ch.Interval.Duration); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *deps) worker(ctx context.Context, ch config.ChannelConfig) (scheduler.Worker, error) {
	switch ch.Kind {
	case config.KindQueue:
		poster, err := d.pagePoster(ctx, ch)
		if err != nil {
			return nil, err
		}
		q := queue.Open(ch.Queue)
		d.queues[ch.Name] = q
		return &scheduler.QueueWorker{
			Queue:     q,
			Publisher: d.metrics.Publisher(ch.Name, &scheduler.PosterPublisher{Poster: poster, Images: d.images}),
		}, nil

	case config.KindSync:
		feed, err := facebook.NewFeed(d.graph, ch.PageID, ch.PageName, ch.FeedLimit)
		if err != nil {
			return nil, err
		}
		ig, err := instagram.New(d.graph, instagram.Config{
			UserID:        ch.InstagramUserID,
			StaticBaseURL: d.cfg.StaticBaseURL,
			PublishDelay:  ch.PublishDelay.Duration,
		})
		if err != nil {
			return nil, err
		}
		poster, err := d.withMirrors(ctx, ch, ig)
		if err != nil {
			return nil, err
		}
		if rd := ch.RetryDelay.Duration; rd > 0 && rd <= ch.Interval.Duration {
			logutil.Warnf("%s: retry_delay %s is not longer than interval %s; a failing upstream will be polled faster than a healthy one", ch.Name, rd, ch.Interval.Duration)
		}
		return &scheduler.SyncWorker{
			Source:     feed,
			Seen:       d.seen.ForChannel(ch.Name),
			Publisher:  d.metrics.SyncPublisher(ch.Name, &scheduler.PosterSyncPublisher{Poster: poster}),
			RetryDelay: ch.RetryDelay.Duration,
		}, nil

	default:
		return nil, fmt.Errorf("unknown kind %q", ch.Kind)
	}
}

// pagePoster is the Facebook Page target of a queue channel plus its mirrors.
func (d *deps) pagePoster(ctx context.Context, ch config.ChannelConfig) (publish.Poster, error) {
	page, err := facebook.NewPage(d.graph, ch.PageID)
	if err != nil {
		return nil, err
	}
	return d.withMirrors(ctx, ch, page)
}

// withMirrors wraps primary in a Fanout when the channel has mirrors.
func (d *deps) withMirrors(ctx context.Context, ch config.ChannelConfig, primary publish.Poster) (publish.Poster, error) {
	if len(ch.Mirrors) == 0 {
		return primary, nil
	}
	mirrors := make([]publish.Poster, 0, len(ch.Mirrors))
	for _, name := range ch.Mirrors {
		if name == config.MirrorInstagram && primary.Name() == "instagram" {
			continue
		}
		p, err := d.mirror(ctx, ch, name)
		if err != nil {
			return nil, fmt.Errorf("mirror %s: %w", name, err)
		}
		mirrors = append(mirrors, p)
	}
	return &publish.Fanout{
		Primary:   primary,
		Mirrors:   mirrors,
		MirrorErr: d.metrics.MirrorFailed(ch.Name),
	}, nil
}

func (d *deps) mirror(ctx context.Context, ch config.ChannelConfig, name string) (publish.Poster, error) {
	switch name {
	case config.MirrorInstagram:
		p, err := instagram.New(d.graph, instagram.Config{
			UserID:        ch.InstagramUserID,
			StaticBaseURL: d.cfg.StaticBaseURL,
			PublishDelay:  ch.PublishDelay.Duration,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return envPoster(ctx, name)
	}
}

// envPoster builds one of the env-configured social targets.
func envPoster(ctx context.Context, name string) (publish.Poster, error) {
	switch name {
	case config.MirrorMastodon:
		cfg, err := mastodon.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		return mastodon.New(cfg), nil
	case config.MirrorTwitter:
		cfg, err := twitter.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		c, err := twitter.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.MirrorBluesky:
		cfg, err := bluesky.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		c, err := bluesky.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("target %q is not implemented", name)
	}
}
