// Package gitbackend stores table documents in a git working tree and
// commits every batch, giving the store a full change history for free.
// It registers the "git" URL scheme.
package gitbackend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/relibdb/relib"
)

const (
	defaultUserName  = "relib"
	defaultUserEmail = "relib@localhost"
)

func init() {
	// git:///var/db/conf?name=Config+Bot&email=bot@example.com
	relib.RegisterBackend("git", func(u *url.URL) (relib.Backend, error) {
		q := u.Query()
		name := q.Get("name")
		if name == "" {
			name = defaultUserName
		}
		email := q.Get("email")
		if email == "" {
			email = defaultUserEmail
		}
		return New(filepath.Join(u.Host, u.Path), name, email)
	})
}

// Backend is a git-tracked directory. Persist writes into the working
// tree; CommitBatch stages everything written since the last batch and
// commits it, or does nothing when the tree is already clean.
type Backend struct {
	dir    string
	name   string
	email  string
	repo   *gogit.Repository
	staged []string
}

// New opens the repository at dir, initializing a fresh one (with the
// given commit identity in its config) when dir is not a repository yet.
func New(dir, name, email string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = name
		cfg.User.Email = email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open git repo: %w", err)
	}
	return &Backend{dir: dir, name: name, email: email, repo: repo}, nil
}

func (b *Backend) String() string {
	return "git://" + filepath.ToSlash(b.dir)
}

func (b *Backend) BeginBatch(ctx context.Context) error {
	b.staged = nil
	return nil
}

func (b *Backend) Persist(ctx context.Context, name string, data []byte) error {
	full := filepath.Join(b.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return err
	}
	b.staged = append(b.staged, name)
	return nil
}

func (b *Backend) Retrieve(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, filepath.FromSlash(name)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, relib.NewNotFoundError("no document %q in %s", name, b)
	}
	return data, err
}

// CommitBatch stages every document written since the last batch and
// commits. A batch that changed nothing leaves no commit behind.
func (b *Backend) CommitBatch(ctx context.Context) error {
	if len(b.staged) == 0 {
		return nil
	}
	w, err := b.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, name := range b.staged {
		if _, err := w.Add(name); err != nil {
			return fmt.Errorf("failed to stage %q: %w", name, err)
		}
	}
	b.staged = nil

	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	sig := &object.Signature{Name: b.name, Email: b.email, When: time.Now()}
	if _, err := w.Commit("update table store", &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
