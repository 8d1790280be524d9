// Package bbolt provides a BBolt-backed settings repository.
package bbolt

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/checkoutgate/storage"
)

const optionsBucket = "checkoutgate_options"

// Store implements storage.Repository backed by a BBolt database. Each
// option is a key in a single bucket; a Save rewrites every option inside
// one read-write transaction.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(_ context.Context) (*storage.Settings, error) {
	opts := make(map[string][]byte, len(storage.OptionNames))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(optionsBucket))
		if b == nil {
			return nil
		}
		for _, name := range storage.OptionNames {
			if v := b.Get([]byte(name)); v != nil {
				// Values are only valid for the life of the transaction.
				opts[name] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return storage.DecodeOptions(opts)
}

func (s *Store) Save(_ context.Context, settings *storage.Settings) error {
	opts, err := storage.EncodeOptions(settings)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(optionsBucket))
		if err != nil {
			return err
		}
		stored, err := storedVersion(b)
		if err != nil {
			return err
		}
		if stored != settings.Version {
			return storage.ErrCASFailed
		}
		for name, v := range opts {
			if err := b.Put([]byte(name), v); err != nil {
				return fmt.Errorf("writing option %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	settings.Version++
	return nil
}

func (s *Store) Delete(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(optionsBucket))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func storedVersion(b *bbolt.Bucket) (uint64, error) {
	raw := b.Get([]byte(storage.OptionVersion))
	if raw == nil {
		return 0, nil
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decoding stored version: %w", err)
	}
	return v, nil
}
