// Package token issues and verifies the self-verifying authentication token
// held by a client after it has entered the gate password.
//
// A token is the pair (signature, expiresAt) serialized as
// "signature|expiresAt". The signature is an HMAC-SHA256 over the stored
// password hash, the site identity and the expiry, keyed with a subkey
// derived from the server secret. Tokens are never stored server-side:
// verification recomputes the signature from current configuration, so
// changing the password or moving the token to another site invalidates it.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/checkoutgate/internal/util"
)

// DefaultTTL is the lifetime of a freshly issued token.
const DefaultTTL = 24 * time.Hour

const (
	separator   = "|"
	signingInfo = "auth-token:v1"
)

var (
	// ErrMalformed indicates the raw token does not have the
	// "signature|expiresAt" shape or the expiry is not a decimal integer.
	ErrMalformed = errors.New("malformed token")
	// ErrEmptySecret is returned when a codec is created without key material.
	ErrEmptySecret = errors.New("empty server secret")
)

// Token is the decoded form of an authentication token.
type Token struct {
	Signature string
	ExpiresAt int64
}

// String returns the wire form "signature|expiresAt".
func (t Token) String() string {
	return t.Signature + separator + strconv.FormatInt(t.ExpiresAt, 10)
}

// Expires returns the expiry as a time.Time.
func (t Token) Expires() time.Time {
	return time.Unix(t.ExpiresAt, 0)
}

// Parse splits a raw token into its parts without checking the signature.
func Parse(raw string) (Token, error) {
	parts := strings.Split(raw, separator)
	if len(parts) != 2 {
		return Token{}, fmt.Errorf("%w: expected 2 parts, got %d", ErrMalformed, len(parts))
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: expiry: %v", ErrMalformed, err)
	}
	return Token{Signature: parts[0], ExpiresAt: exp}, nil
}

// Codec signs and verifies tokens. It is safe for concurrent use; the only
// state it holds is the read-only signing key.
type Codec struct {
	key *memguard.LockedBuffer
}

// NewCodec derives the token signing key from the server secret. The
// derived key is kept in locked, read-only memory until Destroy is called.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	k, err := util.DeriveSubkey(secret, signingInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving token signing key: %w", err)
	}
	buf := memguard.NewBufferFromBytes(k)
	buf.Freeze()
	return &Codec{key: buf}, nil
}

// Destroy wipes the signing key. The codec rejects every token afterwards.
func (c *Codec) Destroy() {
	c.key.Destroy()
}

// Issue mints a token that expires ttl after now.
func (c *Codec) Issue(passwordHash, siteIdentity string, now time.Time, ttl time.Duration) Token {
	exp := now.Add(ttl).Unix()
	return Token{
		Signature: c.sign(passwordHash, siteIdentity, exp),
		ExpiresAt: exp,
	}
}

// Verify reports whether raw is a well-formed, unexpired token whose
// signature matches the current password hash and site identity.
// Any failure yields false.
func (c *Codec) Verify(raw, passwordHash, siteIdentity string, now time.Time) bool {
	if passwordHash == "" || !c.key.IsAlive() {
		return false
	}
	t, err := Parse(raw)
	if err != nil {
		return false
	}
	if t.ExpiresAt < now.Unix() {
		return false
	}
	expected := c.sign(passwordHash, siteIdentity, t.ExpiresAt)
	return hmac.Equal([]byte(expected), []byte(t.Signature))
}

func (c *Codec) sign(passwordHash, siteIdentity string, expiresAt int64) string {
	mac := hmac.New(sha256.New, c.key.Bytes())
	mac.Write([]byte(passwordHash))
	mac.Write([]byte(separator))
	mac.Write([]byte(siteIdentity))
	mac.Write([]byte(separator))
	mac.Write([]byte(strconv.FormatInt(expiresAt, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
