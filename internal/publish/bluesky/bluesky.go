// Package bluesky posts to a Bluesky account over XRPC.
package bluesky

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blacktop/pagecast/internal/publish"
	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	providerName   = "bluesky"
	requestTimeout = 30 * time.Second
	postCollection = "app.bsky.feed.post"
	postURLFormat  = "https://bsky.app/profile/%s/post/%s"
	userAgent      = "pagecast/1"
)

// Config holds the account handle, an app password and the PDS to log in to.
type Config struct {
	Handle      string `env:"PAGECAST_BLUESKY_HANDLE" required:"true"`
	AppPassword string `env:"PAGECAST_BLUESKY_APP_PASSWORD" required:"true"`
	PDSURL      string `env:"PAGECAST_BLUESKY_PDS_URL" envDefault:"https://bsky.social"`
}

// ConfigFromEnv reads Config from PAGECAST_BLUESKY_* variables.
func ConfigFromEnv() (Config, error) {
	return publish.FromEnv[Config](providerName)
}

// Client posts to Bluesky with an authenticated session.
type Client struct {
	xrpc *xrpc.Client
	http *http.Client
}

// New logs in to the PDS and returns a Client bound to the session.
func New(ctx context.Context, cfg Config) (*Client, error) {
	httpClient := &http.Client{Timeout: requestTimeout}
	ua := userAgent
	xc := &xrpc.Client{Client: httpClient, Host: cfg.PDSURL, UserAgent: &ua}

	session, err := atproto.ServerCreateSession(ctx, xc, &atproto.ServerCreateSession_Input{
		Identifier: cfg.Handle,
		Password:   cfg.AppPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("%s login: %w", providerName, err)
	}
	xc.Auth = &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	}
	return &Client{xrpc: xc, http: httpClient}, nil
}

// Name implements publish.Poster.
func (c *Client) Name() string { return providerName }

// Post creates a feed post, embedding the request image if there is one.
func (c *Client) Post(ctx context.Context, req publish.Request) (publish.Result, error) {
	post := &bsky.FeedPost{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Text:      req.Message,
	}

	if req.HasImage() {
		img, err := publish.LoadImage(ctx, c.http, providerName, req)
		if err != nil {
			return publish.Result{}, err
		}
		blob, err := atproto.RepoUploadBlob(ctx, c.xrpc, bytes.NewReader(img.Data))
		if err != nil {
			return publish.Result{}, fmt.Errorf("upload blob: %w", err)
		}
		if blob.Blob == nil {
			return publish.Result{}, fmt.Errorf("upload blob: empty response")
		}
		post.Embed = &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{
				Images: []*bsky.EmbedImages_Image{{Alt: req.ImageAlt, Image: blob.Blob}},
			},
		}
	}

	out, err := atproto.RepoCreateRecord(ctx, c.xrpc, &atproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       c.xrpc.Auth.Did,
		Record:     &util.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return publish.Result{}, fmt.Errorf("create record: %w", err)
	}
	return publish.Result{ID: out.Uri, URL: permalink(c.xrpc.Auth.Handle, out.Uri)}, nil
}

// permalink maps an at:// record URI onto its bsky.app URL.
func permalink(handle, uri string) string {
	idx := strings.LastIndex(uri, "/")
	if handle == "" || idx < 0 || idx == len(uri)-1 {
		return ""
	}
	return fmt.Sprintf(postURLFormat, handle, uri[idx+1:])
}
