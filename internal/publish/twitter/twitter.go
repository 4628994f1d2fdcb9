// Package twitter posts to X through the v2 API using OAuth 1.0a user context.
package twitter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/blacktop/pagecast/internal/publish"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"
)

const (
	providerName    = "twitter"
	statusURLFormat = "https://x.com/i/web/status/%s"
	requestTimeout  = 30 * time.Second
)

// Config holds the app and user credentials.
type Config struct {
	APIKey       string `env:"PAGECAST_TWITTER_CONSUMER_KEY" required:"true"`
	APISecret    string `env:"PAGECAST_TWITTER_CONSUMER_SECRET" required:"true"`
	AccessToken  string `env:"PAGECAST_TWITTER_ACCESS_TOKEN" required:"true"`
	AccessSecret string `env:"PAGECAST_TWITTER_ACCESS_TOKEN_SECRET" required:"true"`
	Debug        bool   `env:"PAGECAST_TWITTER_DEBUG"`
}

// ConfigFromEnv reads Config from PAGECAST_TWITTER_* variables.
func ConfigFromEnv() (Config, error) {
	return publish.FromEnv[Config](providerName)
}

// Client posts to X.
type Client struct {
	api  *gotwi.Client
	http *http.Client
}

// New builds a Client from cfg.
func New(_ context.Context, cfg Config) (*Client, error) {
	httpClient := &http.Client{Timeout: requestTimeout}
	api, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           httpClient,
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           cfg.AccessToken,
		OAuthTokenSecret:     cfg.AccessSecret,
		APIKey:               cfg.APIKey,
		APIKeySecret:         cfg.APISecret,
		Debug:                cfg.Debug || logutil.Verbose(),
	})
	if err != nil {
		return nil, fmt.Errorf("create X client: %w", err)
	}
	if !api.IsReady() {
		return nil, fmt.Errorf("%s client not ready", providerName)
	}
	return &Client{api: api, http: httpClient}, nil
}

// Name implements publish.Poster.
func (c *Client) Name() string { return providerName }

// Post tweets the message with the request image attached, if any.
func (c *Client) Post(ctx context.Context, req publish.Request) (publish.Result, error) {
	input := &managetweettypes.CreateInput{Text: gotwi.String(req.Message)}

	if req.HasImage() {
		img, err := publish.LoadImage(ctx, c.http, providerName, req)
		if err != nil {
			return publish.Result{}, err
		}
		mediaID, err := c.upload(ctx, img, req.ImageAlt)
		if err != nil {
			return publish.Result{}, err
		}
		input.Media = &managetweettypes.CreateInputMedia{MediaIDs: []string{mediaID}}
	}

	out, err := managetweet.Create(ctx, c.api, input)
	if err != nil {
		return publish.Result{}, fmt.Errorf("post tweet: %w", apiError(err))
	}

	var res publish.Result
	if out != nil && out.Data.ID != nil {
		res.ID = *out.Data.ID
		res.URL = fmt.Sprintf(statusURLFormat, res.ID)
	}
	logutil.Debugf("tweet posted: id=%s", res.ID)
	return res, nil
}
