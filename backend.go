package relib

import (
	"context"
	"fmt"
	"net/url"
	"sync"
)

// Backend persists and retrieves named documents for a table store. Names
// are flat identifiers like "users.json" or "sub/#.users.json"; backends
// map them to files, object keys, or whatever else they store bytes in.
//
// Writes between BeginBatch and CommitBatch belong to one batch; the batch
// is the atomicity boundary, and backends may buffer until commit. The
// store never retries or reorders: it writes in a fixed order and expects
// errors to surface on the failing call or on commit.
type Backend interface {
	fmt.Stringer
	BeginBatch(ctx context.Context) error
	Persist(ctx context.Context, name string, data []byte) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
	CommitBatch(ctx context.Context) error
}

// BackendFactory builds a backend from a parsed URL.
type BackendFactory func(u *url.URL) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
)

// RegisterBackend makes a backend factory available under a URL scheme.
// Backend packages call it from init, so a blank import is enough to make
// a scheme usable. It panics if the factory is nil or the scheme is
// already taken.
func RegisterBackend(scheme string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if factory == nil {
		panic("relib: RegisterBackend factory is nil")
	}
	if _, dup := backends[scheme]; dup {
		panic("relib: RegisterBackend called twice for scheme " + scheme)
	}
	backends[scheme] = factory
}

// CreateBackend builds a backend from a URL like "file:///var/db/conf" or
// "s3://bucket/prefix?region=eu-west-1" using the registered factory for
// the URL's scheme.
func CreateBackend(rawURL string) (Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, NewConfigurationError("invalid backend URL %q: %s", rawURL, err)
	}
	backendsMu.RLock()
	factory, ok := backends[u.Scheme]
	backendsMu.RUnlock()
	if !ok {
		return nil, NewConfigurationError("no backend registered for scheme %q", u.Scheme)
	}
	return factory(u)
}
