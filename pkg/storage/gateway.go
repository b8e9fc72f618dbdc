package storage

import "context"

// Gateway is the object store holding acquired images
type Gateway interface {
	// EnsureBucket makes sure the configured bucket exists and reports
	// whether uploads can be attempted
	EnsureBucket(ctx context.Context) bool
	// Upload stores data under key, replacing any existing object, and
	// returns the object's public URL
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// PublicURL returns the public URL for key without touching the store
	PublicURL(key string) string
	// Owns reports whether ref is a public URL of this store
	Owns(ref string) bool
}
