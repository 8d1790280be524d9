package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/checkoutgate/storage"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("CHECKOUTGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHECKOUTGATE_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("could not connect to postgres: %v", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("could not ensure schema: %v", err)
	}

	// Clean tables for test isolation.
	pool.Exec(ctx, "DELETE FROM checkoutgate_options") //nolint:errcheck

	return NewRepository(pool), func() {
		pool.Exec(ctx, "DELETE FROM checkoutgate_options") //nolint:errcheck
		pool.Close()
	}
}

func TestPostgresStorage(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("EmptyLoad", func(t *testing.T) {
		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if got.HasPassword() || got.Version != 0 {
			t.Errorf("expected zero settings, got %+v", got)
		}
	})

	t.Run("SaveLoad", func(t *testing.T) {
		in := &storage.Settings{ProtectedHosts: []string{"dev.example.com"}, PasswordHash: "hash-1"}
		if err := s.Save(ctx, in); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if got.PasswordHash != "hash-1" || len(got.ProtectedHosts) != 1 || got.Version != 1 {
			t.Errorf("unexpected settings %+v", got)
		}
	})

	t.Run("Save stale version", func(t *testing.T) {
		err := s.Save(ctx, &storage.Settings{PasswordHash: "other"})
		if err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(ctx); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		got, _ := s.Load(ctx)
		if got.HasPassword() {
			t.Errorf("expected no password after delete")
		}
	})
}

func TestPostgresConcurrentFirstSave(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Save(ctx, &storage.Settings{PasswordHash: fmt.Sprintf("hash-%d", i)})
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, storage.ErrCASFailed):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != writers-1 {
		t.Errorf("expected exactly one first save to win, got %d ok and %d conflicts", ok, conflicts)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
}
