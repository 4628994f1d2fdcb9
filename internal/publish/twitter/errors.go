package twitter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/resources"
)

// apiError flattens a gotwi error into its human-readable parts.
func apiError(err error) error {
	var gerr *gotwi.GotwiError
	if !errors.As(err, &gerr) || gerr == nil {
		return err
	}
	var parts []string
	for _, s := range []string{gerr.Title, gerr.Detail} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	for _, e := range gerr.APIErrors {
		if e.Message != "" {
			parts = append(parts, e.Message)
		}
	}
	if len(parts) == 0 {
		return err
	}
	return errors.New(strings.Join(parts, "; "))
}

func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		case pe.ResourceType != nil:
			msgs = append(msgs, fmt.Sprint(*pe.ResourceType))
		}
	}
	if len(msgs) == 0 {
		return errors.New("unknown error")
	}
	return errors.New(strings.Join(msgs, "; "))
}
