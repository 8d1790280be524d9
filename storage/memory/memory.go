// Package memory provides an in-process implementation of storage.Repository.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jmcleod/checkoutgate/storage"
)

// Repository keeps settings in memory. Readers load an immutable snapshot
// through an atomic pointer; writers are serialized by a mutex and publish a
// new snapshot, so a reader never sees a partially applied Save.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu      sync.Mutex
	current atomic.Pointer[storage.Settings]
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates an empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Load(_ context.Context) (*storage.Settings, error) {
	s := r.current.Load()
	if s == nil {
		return &storage.Settings{}, nil
	}
	return s.Clone(), nil
}

func (r *Repository) Save(_ context.Context, s *storage.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stored uint64
	if cur := r.current.Load(); cur != nil {
		stored = cur.Version
	}
	if s.Version != stored {
		return storage.ErrCASFailed
	}
	next := s.Clone()
	next.Version = stored + 1
	r.current.Store(next)
	s.Version = next.Version
	return nil
}

func (r *Repository) Delete(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(nil)
	return nil
}
