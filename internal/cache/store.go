package cache

import (
	"context"
	"errors"
)

// ContentTypePNG is the content type every artifact is stored with.
const ContentTypePNG = "image/png"

// ErrNotFound is returned by Download when no object exists at the key.
var ErrNotFound = errors.New("artifact not found")

// Store is the object store the artifact cache reads and writes.
// Implemented by GCS (prod), Redis and memory (dev/tests).
//
// Upload is write-once: an existing object is left untouched and the call
// succeeds, since any two artifacts for one key are interchangeable.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}
