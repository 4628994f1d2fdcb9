package facebook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/blacktop/pagecast/internal/graph"
	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/blacktop/pagecast/internal/scheduler"
)

const feedFields = "id,message,attachments{media,type}"

// Feed lists a page's recent posts for the sync worker.
type Feed struct {
	graph    *graph.Client
	pageID   string
	pageName string
	limit    int

	mu     sync.Mutex
	lastID string
}

// NewFeed returns a Feed for a page given by id or, when id is empty, by
// name. limit caps the posts per listing; zero keeps the Graph default.
func NewFeed(g *graph.Client, pageID, pageName string, limit int) (*Feed, error) {
	if pageID == "" && pageName == "" {
		return nil, errors.New("facebook feed: page id or page name is required")
	}
	return &Feed{graph: g, pageID: pageID, pageName: pageName, limit: limit}, nil
}

// Recent implements scheduler.Source.
func (f *Feed) Recent(ctx context.Context) ([]scheduler.Item, error) {
	pageID, err := f.resolve(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{"fields": {feedFields}}
	if f.limit > 0 {
		params.Set("limit", strconv.Itoa(f.limit))
	}
	var out struct {
		Data []struct {
			ID          string `json:"id"`
			Message     string `json:"message"`
			Attachments struct {
				Data []struct {
					Type  string `json:"type"`
					Media struct {
						Image struct {
							Src string `json:"src"`
						} `json:"image"`
					} `json:"media"`
				} `json:"data"`
			} `json:"attachments"`
		} `json:"data"`
	}
	if err := f.graph.Get(ctx, pageID+"/posts", params, &out); err != nil {
		return nil, fmt.Errorf("list page posts: %w", err)
	}

	items := make([]scheduler.Item, 0, len(out.Data))
	for _, p := range out.Data {
		item := scheduler.Item{ID: p.ID, Message: p.Message}
		if att := p.Attachments.Data; len(att) > 0 {
			item.MediaKind = att[0].Type
			item.ImageURL = att[0].Media.Image.Src
		}
		items = append(items, item)
	}
	return items, nil
}

// resolve returns the page id to read. A configured id always wins. A name
// is looked up on every call; when that fails the last id it resolved to is
// reused.
func (f *Feed) resolve(ctx context.Context) (string, error) {
	if f.pageID != "" {
		return f.pageID, nil
	}

	id, err := f.lookup(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		f.lastID = id
		return id, nil
	}
	if f.lastID != "" {
		logutil.Warnf("facebook feed: %v; using last known page %s", err, f.lastID)
		return f.lastID, nil
	}
	return "", err
}

func (f *Feed) lookup(ctx context.Context) (string, error) {
	accounts, err := Accounts(ctx, f.graph)
	if err != nil {
		return "", err
	}
	a, ok := findByName(accounts, f.pageName)
	if !ok {
		return "", fmt.Errorf("page %q is not managed by this token", f.pageName)
	}
	return a.ID, nil
}
