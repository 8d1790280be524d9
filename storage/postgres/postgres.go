// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Options live in a single name/value table. A Save locks the version row,
// checks it, and upserts every option inside one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/checkoutgate/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Load(ctx context.Context) (*storage.Settings, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, value FROM checkoutgate_options WHERE name = ANY($1)`,
		storage.OptionNames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	opts := make(map[string][]byte, len(storage.OptionNames))
	for rows.Next() {
		var name string
		var value []byte
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		opts[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return storage.DecodeOptions(opts)
}

func (s *Store) Save(ctx context.Context, settings *storage.Settings) error {
	opts, err := storage.EncodeOptions(settings)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stored, err := storedVersion(ctx, tx)
	if err != nil {
		return err
	}
	if stored != settings.Version {
		return storage.ErrCASFailed
	}

	for name, value := range opts {
		_, err := tx.Exec(ctx,
			`INSERT INTO checkoutgate_options (name, value, updated_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (name) DO UPDATE SET value = $2, updated_at = now()`,
			name, value)
		if err != nil {
			return fmt.Errorf("writing option %s: %w", name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	settings.Version++
	return nil
}

func (s *Store) Delete(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkoutgate_options`)
	return err
}

// storedVersion reads and row-locks the version option. The row is seeded
// first so that concurrent first saves serialize on it too.
func storedVersion(ctx context.Context, tx pgx.Tx) (uint64, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO checkoutgate_options (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING`,
		storage.OptionVersion, []byte("0")); err != nil {
		return 0, fmt.Errorf("seeding version: %w", err)
	}
	var raw []byte
	err := tx.QueryRow(ctx,
		`SELECT value FROM checkoutgate_options WHERE name = $1 FOR UPDATE`,
		storage.OptionVersion).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decoding stored version: %w", err)
	}
	return v, nil
}
