package media

import (
	"context"
	"io"
)

// BlobStore keeps uploaded bytes and names them with a retrievable URI.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	// URL is the public reference for key. Every URL starts with Prefix.
	URL(key string) string
	Prefix() string
}
