package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/blacktop/pagecast/internal/media"
)

// Image is an attachment loaded into memory for targets that upload bytes.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// HasImage reports whether req carries an image by path or by URL.
func (r Request) HasImage() bool {
	return strings.TrimSpace(r.ImagePath) != "" || strings.TrimSpace(r.ImageURL) != ""
}

// LoadImage reads the request's image. A local ImagePath wins; otherwise the
// image is downloaded from ImageURL with client. Uploads larger than
// media.MaxSize are rejected.
func LoadImage(ctx context.Context, client *http.Client, provider string, req Request) (Image, error) {
	if p := strings.TrimSpace(req.ImagePath); p != "" {
		data, err := readLimited(func() (io.ReadCloser, error) { return os.Open(p) })
		if errors.Is(err, fs.ErrNotExist) {
			return Image{}, ValidationError{Provider: provider, Reason: fmt.Sprintf("image %q not found", p)}
		}
		if err != nil {
			return Image{}, imageErr(provider, p, err)
		}
		return newImage(filepath.Base(p), data), nil
	}

	u := strings.TrimSpace(req.ImageURL)
	if u == "" {
		return Image{}, ValidationError{Provider: provider, Reason: "no image"}
	}
	if client == nil {
		client = http.DefaultClient
	}
	data, err := readLimited(func() (io.ReadCloser, error) {
		hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(hreq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return resp.Body, nil
	})
	if err != nil {
		return Image{}, imageErr(provider, u, err)
	}
	name := path.Base(strings.SplitN(u, "?", 2)[0])
	return newImage(name, data), nil
}

func readLimited(open func() (io.ReadCloser, error)) ([]byte, error) {
	rc, err := open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, media.MaxSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > media.MaxSize {
		return nil, media.ErrTooLarge
	}
	return data, nil
}

func imageErr(provider, src string, err error) error {
	if errors.Is(err, media.ErrTooLarge) {
		return ValidationError{Provider: provider, Reason: fmt.Sprintf("%s: %v", src, err)}
	}
	return fmt.Errorf("load image %s: %w", src, err)
}

func newImage(name string, data []byte) Image {
	ct := media.ContentType(name)
	if ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	return Image{Name: name, ContentType: ct, Data: data}
}
