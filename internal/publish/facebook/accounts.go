package facebook

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/blacktop/pagecast/internal/graph"
)

// Account is a page the access token can manage.
type Account struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

// Accounts lists the pages behind the client's user token.
func Accounts(ctx context.Context, g *graph.Client) ([]Account, error) {
	var out struct {
		Data []Account `json:"data"`
	}
	params := url.Values{"fields": {"id,name,access_token"}, "limit": {"100"}}
	if err := g.Get(ctx, "me/accounts", params, &out); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return out.Data, nil
}

func findByID(accounts []Account, id string) (Account, bool) {
	for _, a := range accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

func findByName(accounts []Account, name string) (Account, bool) {
	for _, a := range accounts {
		if strings.EqualFold(strings.TrimSpace(a.Name), strings.TrimSpace(name)) {
			return a, true
		}
	}
	return Account{}, false
}
