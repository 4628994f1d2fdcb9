// Package facebook publishes photos to a Facebook Page and reads the page
// feed for mirroring.
package facebook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/blacktop/pagecast/internal/graph"
	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/blacktop/pagecast/internal/media"
	"github.com/blacktop/pagecast/internal/publish"
)

const (
	providerName  = "facebook"
	postURLFormat = "https://www.facebook.com/%s"
)

// Page posts photos with captions to one page.
type Page struct {
	graph  *graph.Client
	pageID string
}

// NewPage returns a poster for pageID.
func NewPage(g *graph.Client, pageID string) (*Page, error) {
	if strings.TrimSpace(pageID) == "" {
		return nil, publish.MissingConfigError{Provider: providerName, Settings: []string{"page_id"}}
	}
	if g.Token() == "" {
		return nil, publish.MissingConfigError{Provider: providerName, Settings: []string{"graph.access_token"}}
	}
	return &Page{graph: g, pageID: pageID}, nil
}

// Name implements publish.Poster.
func (p *Page) Name() string { return providerName }

// Post uploads req.ImagePath to the page with req.Message as its caption.
func (p *Page) Post(ctx context.Context, req publish.Request) (publish.Result, error) {
	if req.ImagePath == "" {
		return publish.Result{}, publish.ValidationError{Provider: providerName, Reason: "a photo is required"}
	}
	f, err := os.Open(req.ImagePath)
	if errors.Is(err, fs.ErrNotExist) {
		return publish.Result{}, publish.ValidationError{Provider: providerName, Reason: "image not found: " + req.ImagePath}
	}
	if err != nil {
		return publish.Result{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	token := p.pageToken(ctx)
	name := filepath.Base(req.ImagePath)

	var out struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	fields := url.Values{"caption": {req.Message}, "access_token": {token}}
	file := graph.File{Field: "source", Name: name, ContentType: media.ContentType(name), Body: f}
	if err := p.graph.PostMultipart(ctx, p.pageID+"/photos", fields, file, &out); err != nil {
		return publish.Result{}, fmt.Errorf("upload photo: %w", err)
	}
	if out.ID == "" {
		return publish.Result{}, errors.New("upload photo: response has no id")
	}

	res := publish.Result{ID: out.ID}
	if out.PostID != "" {
		res.URL = fmt.Sprintf(postURLFormat, out.PostID)
	}
	res.ImageURL, err = p.imageURL(ctx, out.ID, token)
	if err != nil {
		logutil.Warnf("facebook: photo %s posted but its image URL is unavailable: %v", out.ID, err)
	}
	return res, nil
}

// pageToken swaps the user token for the page's own token. When the page is
// not listed, or the lookup fails, the configured token is used as is; it may
// already be a page token.
func (p *Page) pageToken(ctx context.Context) string {
	accounts, err := Accounts(ctx, p.graph)
	if err != nil {
		logutil.Warnf("facebook: %v; using configured token", err)
		return p.graph.Token()
	}
	if a, ok := findByID(accounts, p.pageID); ok && a.AccessToken != "" {
		return a.AccessToken
	}
	logutil.Debugf("facebook: page %s not among managed pages; using configured token", p.pageID)
	return p.graph.Token()
}

// imageURL returns the largest rendition Facebook made of the photo.
func (p *Page) imageURL(ctx context.Context, photoID, token string) (string, error) {
	var info struct {
		Images []struct {
			Source string `json:"source"`
			Width  int    `json:"width"`
		} `json:"images"`
	}
	params := url.Values{"fields": {"images"}, "access_token": {token}}
	if err := p.graph.Get(ctx, photoID, params, &info); err != nil {
		return "", err
	}
	best, width := "", -1
	for _, img := range info.Images {
		if img.Source != "" && img.Width > width {
			best, width = img.Source, img.Width
		}
	}
	if best == "" {
		return "", errors.New("no renditions")
	}
	return best, nil
}
