// Package instagram publishes photos to an Instagram professional account
// through the Graph API content publishing flow.
package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/pagecast/internal/graph"
	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/blacktop/pagecast/internal/publish"
)

const (
	providerName = "instagram"

	// DefaultPublishDelay is the pause between creating a media container and
	// publishing it, giving Instagram time to fetch the image.
	DefaultPublishDelay = 5 * time.Second
)

// Config configures a Poster.
type Config struct {
	UserID string
	// StaticBaseURL is where the admin server exposes /images/, used when a
	// request only carries a local image.
	StaticBaseURL string
	PublishDelay  time.Duration
}

// Poster publishes single-image posts.
type Poster struct {
	graph *graph.Client
	cfg   Config
}

// New returns a Poster for the account in cfg.
func New(g *graph.Client, cfg Config) (*Poster, error) {
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, publish.MissingConfigError{Provider: providerName, Settings: []string{"instagram_user_id"}}
	}
	if g.Token() == "" {
		return nil, publish.MissingConfigError{Provider: providerName, Settings: []string{"graph.access_token"}}
	}
	if cfg.PublishDelay <= 0 {
		cfg.PublishDelay = DefaultPublishDelay
	}
	cfg.StaticBaseURL = strings.TrimRight(cfg.StaticBaseURL, "/")
	return &Poster{graph: g, cfg: cfg}, nil
}

// Name implements publish.Poster.
func (p *Poster) Name() string { return providerName }

// Post creates a media container for the image and publishes it.
func (p *Poster) Post(ctx context.Context, req publish.Request) (publish.Result, error) {
	imageURL := p.imageURL(req)
	if imageURL == "" {
		return publish.Result{}, publish.ValidationError{Provider: providerName, Reason: "a public image URL is required"}
	}

	var created struct {
		ID string `json:"id"`
	}
	form := url.Values{"image_url": {imageURL}, "caption": {req.Message}}
	if err := p.graph.PostForm(ctx, p.cfg.UserID+"/media", form, &created); err != nil {
		return publish.Result{}, fmt.Errorf("create media container: %w", err)
	}
	if created.ID == "" {
		return publish.Result{}, errors.New("create media container: response has no id")
	}
	logutil.Debugf("instagram: container %s created for %s", created.ID, imageURL)

	t := time.NewTimer(p.cfg.PublishDelay)
	select {
	case <-ctx.Done():
		t.Stop()
		return publish.Result{}, ctx.Err()
	case <-t.C:
	}

	var published struct {
		ID string `json:"id"`
	}
	if err := p.graph.PostForm(ctx, p.cfg.UserID+"/media_publish", url.Values{"creation_id": {created.ID}}, &published); err != nil {
		return publish.Result{}, fmt.Errorf("publish media container %s: %w", created.ID, err)
	}
	if published.ID == "" {
		return publish.Result{}, fmt.Errorf("publish media container %s: response has no id", created.ID)
	}

	res := publish.Result{ID: published.ID, ImageURL: imageURL}
	var info struct {
		Permalink string `json:"permalink"`
	}
	if err := p.graph.Get(ctx, published.ID, url.Values{"fields": {"permalink"}}, &info); err != nil {
		logutil.Debugf("instagram: permalink for %s unavailable: %v", published.ID, err)
	}
	res.URL = info.Permalink
	return res, nil
}

func (p *Poster) imageURL(req publish.Request) string {
	if req.ImageURL != "" {
		return req.ImageURL
	}
	if req.ImagePath == "" || p.cfg.StaticBaseURL == "" {
		return ""
	}
	return p.cfg.StaticBaseURL + "/images/" + url.PathEscape(filepath.Base(req.ImagePath))
}
