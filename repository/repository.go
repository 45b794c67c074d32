package repository

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hippocms/daemon"
)

var (
	ErrSessionClosed = errors.New("session is closed")
	ErrNodeNotFound  = errors.New("node not found")
	ErrNoSource      = errors.New("repository has no source file")
)

// Repository holds the current configuration tree. Reload swaps the whole
// tree at once; sessions always read the latest tree.
type Repository struct {
	mu     sync.RWMutex
	root   *Node
	source string

	open atomic.Int64
}

// New creates a repository over an already built tree.
func New(root *Node) *Repository {
	if root == nil {
		root = NewNode("", nil)
	}
	return &Repository{root: root}
}

// Open loads the repository from a YAML, TOML or JSON file. Reload reads the
// same file again.
func Open(file string) (*Repository, error) {
	root, err := LoadFile(file)
	if err != nil {
		return nil, err
	}
	return &Repository{root: root, source: file}, nil
}

// Source returns the file the repository was opened from.
func (r *Repository) Source() string {
	return r.source
}

// Reload re-reads the source file. On error the current tree is kept.
func (r *Repository) Reload() error {
	if r.source == "" {
		return ErrNoSource
	}
	root, err := LoadFile(r.source)
	if err != nil {
		return err
	}
	r.Replace(root)
	return nil
}

// Replace swaps in a new tree.
func (r *Repository) Replace(root *Node) {
	r.mu.Lock()
	r.root = root
	r.mu.Unlock()
}

// Login opens a session acting as creds.
func (r *Repository) Login(creds daemon.Credentials) (*Session, error) {
	if creds.UserID == "" {
		return nil, daemon.ErrCredentialsEmpty
	}
	r.open.Add(1)
	return &Session{repo: r, userID: creds.UserID}, nil
}

// OpenSessions returns the number of sessions not yet closed.
func (r *Repository) OpenSessions() int {
	return int(r.open.Load())
}

func (r *Repository) node(p string) (*Node, error) {
	r.mu.RLock()
	n := r.root
	r.mu.RUnlock()

	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}
		if n = n.child(part); n == nil {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, p)
		}
	}
	return n, nil
}

// Session reads the repository on behalf of one user.
type Session struct {
	repo   *Repository
	userID string
	closed atomic.Bool
}

var _ daemon.Session = (*Session)(nil)

func (s *Session) UserID() string { return s.userID }

// Impersonate opens a new session acting as creds. The new session is
// independent of s and must be closed on its own.
func (s *Session) Impersonate(creds daemon.Credentials) (daemon.Session, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	return s.repo.Login(creds)
}

func (s *Session) Node(p string) (daemon.ConfigNode, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	n, err := s.repo.node(p)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Close releases the session. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.repo.open.Add(-1)
	}
	return nil
}

// IsLive reports whether the session is still open.
func (s *Session) IsLive() bool {
	return !s.closed.Load()
}
