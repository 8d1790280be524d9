package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/jmcleod/checkoutgate/hostmatch"
	"github.com/jmcleod/checkoutgate/password"
	"github.com/jmcleod/checkoutgate/storage"
)

// Status summarizes how the gate treats a given host.
type Status int

const (
	// StatusOpen means the host is not protected; the route is never challenged.
	StatusOpen Status = iota
	// StatusProtected means the host matches and a password is set.
	StatusProtected
	// StatusMatchedNoPassword means the host matches but no password is set,
	// so the route stays open until one is configured.
	StatusMatchedNoPassword
)

func (s Status) String() string {
	switch s {
	case StatusProtected:
		return "protected"
	case StatusMatchedNoPassword:
		return "matched_no_password"
	default:
		return "open"
	}
}

// SettingsInput is an administrator's save request.
type SettingsInput struct {
	// Hosts are raw host entries; they are sanitized before storing.
	Hosts []string
	// Password is the new plaintext secret. Empty keeps the current hash.
	Password string
}

// Admin is the administrative save path for gate settings.
type Admin struct {
	repo   storage.Repository
	hasher password.Hasher
	now    func() time.Time
}

// NewAdmin returns an Admin writing to repo.
func NewAdmin(repo storage.Repository, hasher password.Hasher) *Admin {
	return &Admin{repo: repo, hasher: hasher, now: time.Now}
}

// Current returns the stored settings.
func (a *Admin) Current(ctx context.Context) (*storage.Settings, error) {
	return a.repo.Load(ctx)
}

// Save replaces the protected host list and, when in.Password is not empty,
// the password hash. An empty password keeps the stored hash.
func (a *Admin) Save(ctx context.Context, in SettingsInput) (*storage.Settings, error) {
	cur, err := a.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	next := cur.Clone()
	next.ProtectedHosts = hostmatch.Sanitize(in.Hosts)
	if in.Password != "" {
		hash, err := a.hasher.Hash(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		next.PasswordHash = hash
	}
	next.UpdatedAt = a.now().UTC()
	if err := a.repo.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("saving settings: %w", err)
	}
	return next, nil
}

// Status reports how the gate treats host under the stored settings.
func (a *Admin) Status(ctx context.Context, host string) (Status, error) {
	s, err := a.repo.Load(ctx)
	if err != nil {
		return StatusOpen, fmt.Errorf("loading settings: %w", err)
	}
	return StatusOf(s, host), nil
}

// StatusOf computes the Status of host under s.
func StatusOf(s *storage.Settings, host string) Status {
	if !hostmatch.IsProtected(host, s.ProtectedHosts) {
		return StatusOpen
	}
	if !s.HasPassword() {
		return StatusMatchedNoPassword
	}
	return StatusProtected
}

// Clear removes all stored settings.
func (a *Admin) Clear(ctx context.Context) error {
	return a.repo.Delete(ctx)
}
