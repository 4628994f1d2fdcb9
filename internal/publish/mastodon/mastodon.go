// Package mastodon posts statuses to a Mastodon account.
package mastodon

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/blacktop/pagecast/internal/publish"
	mastodonapi "github.com/mattn/go-mastodon"
)

const (
	providerName   = "mastodon"
	requestTimeout = 30 * time.Second
)

// Config holds the server and the account token. The client id and secret
// are only needed for app-level calls.
type Config struct {
	Server       string `env:"PAGECAST_MASTODON_SERVER" required:"true"`
	AccessToken  string `env:"PAGECAST_MASTODON_ACCESS_TOKEN" required:"true"`
	ClientID     string `env:"PAGECAST_MASTODON_CLIENT_ID"`
	ClientSecret string `env:"PAGECAST_MASTODON_CLIENT_SECRET"`
	// Visibility is one of public, unlisted, private or direct. Blank uses
	// the account default.
	Visibility string `env:"PAGECAST_MASTODON_VISIBILITY"`
}

// ConfigFromEnv reads Config from PAGECAST_MASTODON_* variables.
func ConfigFromEnv() (Config, error) {
	return publish.FromEnv[Config](providerName)
}

// Client posts to Mastodon.
type Client struct {
	api        *mastodonapi.Client
	visibility string
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	api := mastodonapi.NewClient(&mastodonapi.Config{
		Server:       cfg.Server,
		AccessToken:  cfg.AccessToken,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})
	api.Timeout = requestTimeout
	return &Client{api: api, visibility: cfg.Visibility}
}

// Name implements publish.Poster.
func (c *Client) Name() string { return providerName }

// Post publishes a status with the request image attached, if any.
func (c *Client) Post(ctx context.Context, req publish.Request) (publish.Result, error) {
	toot := &mastodonapi.Toot{Status: req.Message, Visibility: c.visibility}

	if req.HasImage() {
		img, err := publish.LoadImage(ctx, &http.Client{Timeout: requestTimeout}, providerName, req)
		if err != nil {
			return publish.Result{}, err
		}
		att, err := c.api.UploadMediaFromMedia(ctx, &mastodonapi.Media{
			File:        bytes.NewReader(img.Data),
			Description: req.ImageAlt,
		})
		if err != nil {
			return publish.Result{}, fmt.Errorf("upload media: %w", err)
		}
		toot.MediaIDs = []mastodonapi.ID{att.ID}
	}

	status, err := c.api.PostStatus(ctx, toot)
	if err != nil {
		return publish.Result{}, fmt.Errorf("post status: %w", err)
	}
	return publish.Result{ID: string(status.ID), URL: status.URL}, nil
}
