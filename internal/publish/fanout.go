package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blacktop/pagecast/internal/logutil"
)

// Fanout publishes to a primary target and then mirrors the post to the
// remaining targets. Only the primary decides the outcome; mirror failures
// are logged and surfaced through MirrorErr.
type Fanout struct {
	Primary Poster
	Mirrors []Poster

	// MirrorErr, when set, receives the joined mirror failures of each post.
	MirrorErr func(err error)
}

// Name joins the target names, primary first.
func (f *Fanout) Name() string {
	names := []string{f.Primary.Name()}
	for _, m := range f.Mirrors {
		names = append(names, m.Name())
	}
	return strings.Join(names, "+")
}

// Post publishes req to the primary target and forwards it to each mirror,
// filling ImageURL from the primary result when the primary hosted the image.
func (f *Fanout) Post(ctx context.Context, req Request) (Result, error) {
	res, err := f.Primary.Post(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", f.Primary.Name(), err)
	}
	if len(f.Mirrors) == 0 {
		return res, nil
	}

	mirrored := req
	if res.ImageURL != "" {
		mirrored.ImageURL = res.ImageURL
	}

	var errs []error
	for _, m := range f.Mirrors {
		logutil.Debugf("mirroring to %s", m.Name())
		if _, err := m.Post(ctx, mirrored); err != nil {
			logutil.Warnf("mirror to %s failed: %v", m.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
			continue
		}
		logutil.Debugf("mirrored to %s", m.Name())
	}
	if len(errs) > 0 && f.MirrorErr != nil {
		f.MirrorErr(errors.Join(errs...))
	}

	return res, nil
}

// Dispatch posts req to every poster independently and joins the failures.
// It backs the one-shot CLI where no target is primary.
func Dispatch(ctx context.Context, posters []Poster, req Request, progress func(format string, args ...any)) error {
	if progress == nil {
		progress = func(string, ...any) {}
	}
	var errs []error
	for _, p := range posters {
		progress("posting to %s...\n", p.Name())
		res, err := p.Post(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if res.URL != "" {
			progress("posted to %s: %s\n", p.Name(), res.URL)
		} else {
			progress("posted to %s\n", p.Name())
		}
	}
	return errors.Join(errs...)
}
