package stores

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store, used by tests and by the "memory://"
// scheme for dry runs.
type MemoryStore struct {
	URL       *url.URL
	Content   map[string][]byte
	Encodings map[string]string
	ModTimes  map[string]time.Time
	Puts      int // Number of completed Put calls.
	mu        sync.RWMutex
}

// NewMemoryStore returns an empty MemoryStore of the URL.
func NewMemoryStore(ep *url.URL) *MemoryStore {
	return &MemoryStore{
		URL:       ep,
		Content:   make(map[string][]byte),
		Encodings: make(map[string]string),
		ModTimes:  make(map[string]time.Time),
	}
}

func (m *MemoryStore) Provider() string { return "memory" }

func (m *MemoryStore) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var _, exists = m.Content[path]
	return exists, nil
}

func (m *MemoryStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var content, exists = m.Content[path]
	if !exists {
		return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (m *MemoryStore) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var buf = make([]byte, contentLength)
	if _, err := content.ReadAt(buf, 0); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read content: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Content[path] = buf
	m.Encodings[path] = contentEncoding
	m.ModTimes[path] = time.Now()
	m.Puts++
	return nil
}

// List invokes |callback| in lexicographic path order.
func (m *MemoryStore) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	m.mu.RLock()
	var paths []string
	for p := range m.Content {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	var modTimes = make(map[string]time.Time, len(paths))
	for _, p := range paths {
		modTimes[p] = m.ModTimes[p]
	}
	m.mu.RUnlock()

	sort.Strings(paths)
	for _, p := range paths {
		if err := callback(strings.TrimPrefix(p, prefix), modTimes[p]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Content, path)
	delete(m.Encodings, path)
	delete(m.ModTimes, path)
	return nil
}

func (m *MemoryStore) IsAuthError(err error) bool { return false }

// Paths returns the sorted paths held by the MemoryStore.
func (m *MemoryStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out = make([]string, 0, len(m.Content))
	for p := range m.Content {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// PutCount returns the number of completed Put calls.
func (m *MemoryStore) PutCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Puts
}

// NewMemory is a Constructor of MemoryStores.
func NewMemory(ep *url.URL) (Store, error) { return NewMemoryStore(ep), nil }
