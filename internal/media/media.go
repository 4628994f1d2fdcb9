// Package media stores the images that queued posts reference by file name.
package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxSize is the largest accepted upload.
const MaxSize = 16 << 20

var (
	ErrInvalidName   = errors.New("invalid image name")
	ErrImageNotFound = errors.New("image not found")
	ErrTooLarge      = errors.New("image exceeds 16MB")
)

var allowedExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Library is a flat directory of images.
type Library struct {
	dir string
}

// New returns a Library rooted at dir. The directory is created on first save.
func New(dir string) *Library {
	return &Library{dir: dir}
}

// Dir returns the library directory.
func (l *Library) Dir() string { return l.dir }

// Path returns the location of the named image, which must exist.
func (l *Library) Path(name string) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(l.dir, clean)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return "", fmt.Errorf("%s: %w", path, ErrImageNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("stat image: %w", err)
	}
	return path, nil
}

// Save writes r under name and returns the stored file name. When name is
// already taken the stored name gets a random prefix.
func (l *Library) Save(name string, r io.Reader) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("create images dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(l.dir, clean), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		clean = uuid.NewString()[:8] + "_" + clean
		f, err = os.OpenFile(filepath.Join(l.dir, clean), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, MaxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxSize {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(f.Name())
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("write image: %w", err)
	}
	return clean, nil
}

// ContentType returns the MIME type implied by the image's extension.
func ContentType(name string) string {
	if ct, ok := allowedExt[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func cleanName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || base == ".." || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	if _, ok := allowedExt[strings.ToLower(filepath.Ext(base))]; !ok {
		return "", fmt.Errorf("%q: unsupported extension: %w", name, ErrInvalidName)
	}
	return base, nil
}
