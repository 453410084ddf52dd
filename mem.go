package relib

import (
	"bytes"
	"context"
	"net/url"
	"sync"
)

func init() {
	// Every "memory://name" URL yields a fresh, empty backend; state is
	// never shared between instances.
	RegisterBackend("memory", func(u *url.URL) (Backend, error) {
		return NewMemBackend(u.Host), nil
	})
}

// MemBackend keeps documents in process memory. It backs CopyStore and
// RefreshMetadata and stands in for real storage in tests.
type MemBackend struct {
	name string

	mu     sync.Mutex
	blobs  map[string][]byte
	staged map[string][]byte
}

// NewMemBackend returns an empty in-memory backend. The name only shows up
// in the origin string.
func NewMemBackend(name string) *MemBackend {
	return &MemBackend{
		name:  name,
		blobs: make(map[string][]byte),
	}
}

func (m *MemBackend) String() string {
	return "memory://" + m.name
}

// BeginBatch starts staging writes; they become visible on CommitBatch.
func (m *MemBackend) BeginBatch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = make(map[string][]byte)
	return nil
}

func (m *MemBackend) Persist(ctx context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged != nil {
		m.staged[name] = bytes.Clone(data)
	} else {
		m.blobs[name] = bytes.Clone(data)
	}
	return nil
}

// Retrieve prefers staged content, so a store re-reading inside its own
// batch sees its own writes.
func (m *MemBackend) Retrieve(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged != nil {
		if data, ok := m.staged[name]; ok {
			return bytes.Clone(data), nil
		}
	}
	data, ok := m.blobs[name]
	if !ok {
		return nil, NewNotFoundError("no document %q in %s", name, m)
	}
	return bytes.Clone(data), nil
}

func (m *MemBackend) CommitBatch(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, data := range m.staged {
		m.blobs[name] = data
	}
	m.staged = nil
	return nil
}
