// Package queue stores a channel's pre-authored posts in a JSON file.
//
// The file is a JSON array of {"message", "image_filename"} objects. Every
// write replaces the whole file through a temp file and a rename, and all
// access to one file goes through a single *File so that workers and the
// admin API never interleave a read-modify-write.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrEmptyQueue is returned by Load when the file holds no posts.
	ErrEmptyQueue = errors.New("post queue is empty")
	// ErrPostNotFound is returned for an out-of-range post index.
	ErrPostNotFound = errors.New("post not found")
)

// Post is one pre-authored message with its image.
type Post struct {
	Message string `json:"message"`
	Image   string `json:"image_filename"`
}

// Patch holds the fields an update replaces; nil fields are kept.
type Patch struct {
	Message *string `json:"message"`
	Image   *string `json:"image_filename"`
}

// File is the post queue backed by one JSON file.
type File struct {
	mu   sync.Mutex
	path string
}

// Open returns the queue stored at path. The file is created on first write.
func Open(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Load reads the queue for publishing. A missing, malformed or empty file is
// an error.
func (f *File) Load() ([]Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	posts, err := f.readLocked()
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("%s: %w", f.path, ErrEmptyQueue)
	}
	return posts, nil
}

// List returns all posts, or none when the file does not exist yet.
func (f *File) List() ([]Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	posts, err := f.readLocked()
	if errors.Is(err, os.ErrNotExist) {
		return []Post{}, nil
	}
	return posts, err
}

// Add appends p to the queue.
func (f *File) Add(p Post) (Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	posts, err := f.readLocked()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Post{}, err
	}
	posts = append(posts, p)
	if err := f.writeLocked(posts); err != nil {
		return Post{}, err
	}
	return p, nil
}

// Update applies patch to the post at index.
func (f *File) Update(index int, patch Patch) (Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	posts, err := f.existingLocked(index)
	if err != nil {
		return Post{}, err
	}
	if patch.Message != nil {
		posts[index].Message = *patch.Message
	}
	if patch.Image != nil {
		posts[index].Image = *patch.Image
	}
	if err := f.writeLocked(posts); err != nil {
		return Post{}, err
	}
	return posts[index], nil
}

// Delete removes the post at index.
func (f *File) Delete(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	posts, err := f.existingLocked(index)
	if err != nil {
		return err
	}
	posts = append(posts[:index], posts[index+1:]...)
	return f.writeLocked(posts)
}

func (f *File) existingLocked(index int) ([]Post, error) {
	posts, err := f.readLocked()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(posts) {
		return nil, ErrPostNotFound
	}
	return posts, nil
}

func (f *File) readLocked() ([]Post, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	var posts []Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, fmt.Errorf("parse queue %s: %w", f.path, err)
	}
	return posts, nil
}

func (f *File) writeLocked(posts []Post) error {
	if posts == nil {
		posts = []Post{}
	}
	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create queue dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write queue temp: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace queue: %w", err)
	}
	return nil
}
