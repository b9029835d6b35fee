package storage

import (
	"context"
	"io"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// ObjectStore abstracts the artifact and dataset bucket operations the
// platform needs. Implementations wrap the managed object store; tests use
// the in-memory fake.
type ObjectStore interface {
	// Get streams an object. The caller closes the reader.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Put writes an object.
	Put(ctx context.Context, bucket, key string, body io.Reader) error
	// Copy duplicates an object, possibly across buckets. The copy is
	// atomic from the reader's perspective: the destination either holds
	// the full object or does not exist.
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	// Exists reports whether the key is present.
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// EnsurePrefix creates an empty folder marker so event rules and
	// consoles see the tenant's input prefix immediately.
	EnsurePrefix(ctx context.Context, bucket, prefix string) error
}

// ScopedFactory builds an ObjectStore bound to per-request tenant
// credentials, so uploads can only land under the caller's own prefix.
type ScopedFactory interface {
	WithCredentials(creds domain.ScopedCredentials) ObjectStore
}
