// Package storagetest provides an in-memory storage.Provider for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/autopeer-io/videoupload/internal/videoagent/storage"
)

// Memory is a create-only object store held in memory.
type Memory struct {
	Bucket string

	mu      sync.Mutex
	objects map[string][]byte
	updated map[string]time.Time
	fail    map[string]error
	uploads int
	closed  bool
}

var _ storage.Provider = (*Memory)(nil)

// NewMemory returns an empty store for bucket.
func NewMemory(bucket string) *Memory {
	return &Memory{
		Bucket:  bucket,
		objects: map[string][]byte{},
		updated: map[string]time.Time{},
		fail:    map[string]error{},
	}
}

// Put seeds an object, bypassing the create-only check.
func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.updated[key] = time.Now()
}

// FailOn makes every Upload of key return err.
func (m *Memory) FailOn(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[key] = err
}

// Object returns the stored bytes for key.
func (m *Memory) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

// Keys returns the stored keys in lexical order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Uploads counts successful Upload calls.
func (m *Memory) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Memory) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	failErr := m.fail[key]
	_, exists := m.objects[key]
	m.mu.Unlock()

	if failErr != nil {
		return failErr
	}
	if exists {
		return fmt.Errorf("%s: %w", m.Location(key), storage.ErrPreconditionFailed)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return err
	}
	if size >= 0 && n != size {
		return fmt.Errorf("short upload of %s: read %d of %d bytes", key, n, size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return fmt.Errorf("%s: %w", m.Location(key), storage.ErrPreconditionFailed)
	}
	m.objects[key] = buf.Bytes()
	m.updated[key] = time.Now()
	m.uploads++
	return nil
}

func (m *Memory) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, fmt.Errorf("%s: %w", m.Location(key), storage.ErrObjectNotFound)
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(b)), Updated: m.updated[key]}, nil
}

func (m *Memory) CheckBucket(context.Context) error {
	return nil
}

func (m *Memory) Location(key string) string {
	return "mem://" + m.Bucket + "/" + key
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
