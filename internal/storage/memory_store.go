package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// MemoryStore is an in-memory ObjectStore for tests. Keys are namespaced by
// bucket. It also records copy order so promotion-ordering tests can assert
// the artifact landed before the version advanced.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// CopyHook, when set, runs before each copy and can inject failures.
	CopyHook func(srcBucket, srcKey, dstBucket, dstKey string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

func (m *MemoryStore) WithCredentials(creds domain.ScopedCredentials) ObjectStore {
	return m
}

func (m *MemoryStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%w: get s3://%s/%s: no such key", domain.ErrUpstream, bucket, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Put(ctx context.Context, bucket, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, key)] = data
	return nil
}

func (m *MemoryStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	if m.CopyHook != nil {
		if err := m.CopyHook(srcBucket, srcKey, dstBucket, dstKey); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectKey(srcBucket, srcKey)]
	if !ok {
		return fmt.Errorf("%w: copy source s3://%s/%s missing", domain.ErrUpstream, srcBucket, srcKey)
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	m.objects[objectKey(dstBucket, dstKey)] = copied
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[objectKey(bucket, key)]
	return ok, nil
}

func (m *MemoryStore) EnsurePrefix(ctx context.Context, bucket, prefix string) error {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, prefix)] = nil
	return nil
}

// PutString seeds an object for tests.
func (m *MemoryStore) PutString(bucket, key, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, key)] = []byte(data)
}

// GetString reads an object as a string for assertions.
func (m *MemoryStore) GetString(bucket, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectKey(bucket, key)]
	return string(data), ok
}
