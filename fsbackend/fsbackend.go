// Package fsbackend stores table documents as files under a root
// directory. It registers the "file" URL scheme.
package fsbackend

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/relibdb/relib"
)

func init() {
	relib.RegisterBackend("file", func(u *url.URL) (relib.Backend, error) {
		return New(filepath.Join(u.Host, u.Path)), nil
	})
}

// Backend writes each document to root/<name>, creating subdirectories as
// needed. Writes go to a temporary file first and are renamed into place,
// so readers never observe a half-written document.
type Backend struct {
	root string
	fs   afero.Fs
}

// New returns a backend over the OS filesystem.
func New(root string) *Backend {
	return NewWithFs(afero.NewOsFs(), root)
}

// NewWithFs returns a backend over any afero filesystem, which is how
// tests run against memory.
func NewWithFs(fs afero.Fs, root string) *Backend {
	return &Backend{root: root, fs: fs}
}

func (b *Backend) String() string {
	return "file://" + filepath.ToSlash(b.root)
}

func (b *Backend) BeginBatch(ctx context.Context) error {
	return b.fs.MkdirAll(b.root, 0o755)
}

func (b *Backend) Persist(ctx context.Context, name string, data []byte) error {
	full := b.path(name)
	if err := b.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp := full + ".tmp"
	if err := afero.WriteFile(b.fs, tmp, data, 0o644); err != nil {
		return err
	}
	return b.fs.Rename(tmp, full)
}

func (b *Backend) Retrieve(ctx context.Context, name string) ([]byte, error) {
	data, err := afero.ReadFile(b.fs, b.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, relib.NewNotFoundError("no document %q in %s", name, b)
	}
	return data, err
}

func (b *Backend) CommitBatch(ctx context.Context) error {
	return nil
}

func (b *Backend) path(name string) string {
	return filepath.Join(b.root, filepath.FromSlash(name))
}

// Watch calls onChange with the document name whenever a file under the
// root changes, until the context is canceled. The root and its immediate
// subdirectories are watched; temporary files are ignored.
func (b *Backend) Watch(ctx context.Context, onChange func(name string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(b.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(b.root, e.Name())); err != nil {
				return err
			}
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.HasSuffix(event.Name, ".tmp") {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				rel, err := filepath.Rel(b.root, event.Name)
				if err != nil {
					rel = event.Name
				}
				onChange(filepath.ToSlash(rel))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("failed to watch store directory", "err", err)
		}
	}
}
