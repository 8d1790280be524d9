// Package storage provides the persistence abstraction for gate settings.
//
// Settings are kept as a small set of named options, mirroring how a host
// application stores opaque key-value configuration. A backend must write
// all options of one Save atomically so that readers never observe a
// half-updated configuration.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrNotFound is returned by backends for missing records. Repository.Load
	// never returns it: missing settings load as the zero Settings.
	ErrNotFound = errors.New("not found")
	// ErrCASFailed is returned when a Save is based on a stale version.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// Option names under which settings are persisted.
const (
	OptionProtectedHosts = "protected_hosts"
	OptionPasswordHash   = "password_hash"
	OptionUpdatedAt      = "updated_at"
	OptionVersion        = "version"
)

// OptionNames lists every option a backend persists.
var OptionNames = []string{OptionProtectedHosts, OptionPasswordHash, OptionUpdatedAt, OptionVersion}

// Settings is the administrator-owned gate configuration.
type Settings struct {
	// ProtectedHosts holds normalized host patterns. Empty means no host is
	// protected.
	ProtectedHosts []string `json:"protected_hosts"`
	// PasswordHash is the one-way hash of the shared secret. Empty means no
	// password is configured.
	PasswordHash string    `json:"password_hash"`
	UpdatedAt    time.Time `json:"updated_at"`
	// Version is incremented by every successful Save. A Save must carry the
	// version it was loaded at.
	Version uint64 `json:"version"`
}

// HasPassword reports whether a password hash is configured.
func (s *Settings) HasPassword() bool {
	return s != nil && s.PasswordHash != ""
}

// Clone returns a deep copy of s.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	cp := *s
	cp.ProtectedHosts = append([]string(nil), s.ProtectedHosts...)
	return &cp
}

// Repository is the CredentialStore contract used by the gate.
type Repository interface {
	// Load returns the current settings. A store that has never been written
	// returns the zero Settings and a nil error.
	Load(ctx context.Context) (*Settings, error)
	// Save replaces the stored settings. s.Version must equal the stored
	// version, otherwise ErrCASFailed is returned. On success s.Version is
	// advanced to the newly stored version.
	Save(ctx context.Context, s *Settings) error
	// Delete removes all stored settings.
	Delete(ctx context.Context) error
}

// EncodeOptions serializes settings into option values. The version written
// is s.Version+1.
func EncodeOptions(s *Settings) (map[string][]byte, error) {
	hosts := s.ProtectedHosts
	if hosts == nil {
		hosts = []string{}
	}
	hostsJSON, err := json.Marshal(hosts)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", OptionProtectedHosts, err)
	}
	updated, err := s.UpdatedAt.UTC().MarshalText()
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", OptionUpdatedAt, err)
	}
	return map[string][]byte{
		OptionProtectedHosts: hostsJSON,
		OptionPasswordHash:   []byte(s.PasswordHash),
		OptionUpdatedAt:      updated,
		OptionVersion:        []byte(strconv.FormatUint(s.Version+1, 10)),
	}, nil
}

// DecodeOptions rebuilds settings from option values. Missing options decode
// to their zero values.
func DecodeOptions(opts map[string][]byte) (*Settings, error) {
	s := &Settings{}
	if raw := opts[OptionProtectedHosts]; len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.ProtectedHosts); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", OptionProtectedHosts, err)
		}
	}
	s.PasswordHash = string(opts[OptionPasswordHash])
	if raw := opts[OptionUpdatedAt]; len(raw) > 0 {
		if err := s.UpdatedAt.UnmarshalText(raw); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", OptionUpdatedAt, err)
		}
	}
	if raw := opts[OptionVersion]; len(raw) > 0 {
		v, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", OptionVersion, err)
		}
		s.Version = v
	}
	return s, nil
}
