package publish

import "context"

// Request defines the payload handed to every target.
type Request struct {
	Message string
	// ImagePath is a local file uploaded by targets that accept binary media.
	ImagePath string
	// ImageURL is a publicly reachable copy of the image. Targets that can
	// only ingest media by URL (Instagram) require it.
	ImageURL string
	ImageAlt string
}

// Result references the item a target created.
type Result struct {
	ID       string
	URL      string
	ImageURL string
}

// Poster abstracts a social network that can publish content.
type Poster interface {
	Name() string
	Post(ctx context.Context, req Request) (Result, error)
}
