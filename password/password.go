// Package password provides the one-way password hashing capability used to
// store and check the gate secret.
//
// New hashes are argon2id PHC strings:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
//
// with unpadded standard base64 salt and key. bcrypt hashes ($2a$, $2b$,
// $2y$) are still accepted by Verify so that an existing credential keeps
// working until it is re-saved; NeedsRehash reports such hashes.
package password

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/checkoutgate/internal/util"
)

var (
	// ErrEmptyPassword is returned when hashing an empty secret.
	ErrEmptyPassword = errors.New("empty password")
	// ErrUnknownFormat indicates a stored hash uses an unrecognized scheme.
	ErrUnknownFormat = errors.New("unknown password hash format")
	// ErrMalformedHash indicates a stored hash could not be decoded.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Hasher hashes and verifies passwords. Implementations must compare in
// constant time.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}

// Rehasher is a Hasher that can tell when a stored hash should be replaced
// by one of its own.
type Rehasher interface {
	Hasher
	NeedsRehash(hash string) bool
}

// Argon2id is the default Hasher.
type Argon2id struct {
	Params util.Argon2idParams
}

var _ Rehasher = (*Argon2id)(nil)

// NewArgon2id returns a hasher using the given parameters.
func NewArgon2id(params util.Argon2idParams) *Argon2id {
	return &Argon2id{Params: params}
}

// Default returns an argon2id hasher with the default parameters.
func Default() *Argon2id {
	return NewArgon2id(util.DefaultArgon2idParams())
}

// Hash returns a PHC-encoded argon2id hash of secret using a fresh salt.
func (h *Argon2id) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptyPassword
	}
	salt, err := util.RandomBytes(util.Argon2idSaltLen)
	if err != nil {
		return "", err
	}
	key, err := util.DeriveArgon2idKey(secret, salt, h.Params)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)
	return encodePHC(h.Params, salt, key), nil
}

// Verify checks secret against an argon2id or bcrypt hash.
func (h *Argon2id) Verify(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	switch scheme(hash) {
	case schemeArgon2id:
		params, salt, key, err := decodePHC(hash)
		if err != nil {
			return false
		}
		ok, err := util.CompareArgon2idKey(secret, salt, params, key)
		return err == nil && ok
	case schemeBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
	default:
		return false
	}
}

// NeedsRehash reports whether hash was produced by another algorithm or
// with parameters different from h.Params.
func (h *Argon2id) NeedsRehash(hash string) bool {
	if scheme(hash) != schemeArgon2id {
		return true
	}
	params, _, _, err := decodePHC(hash)
	if err != nil {
		return true
	}
	return params != h.Params
}

// Bcrypt hashes with bcrypt. It exists for deployments that must share
// credentials with systems that only understand bcrypt.
type Bcrypt struct {
	Cost int
}

var _ Hasher = (*Bcrypt)(nil)

func (b *Bcrypt) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptyPassword
	}
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(out), nil
}

func (b *Bcrypt) Verify(secret, hash string) bool {
	if secret == "" || scheme(hash) != schemeBcrypt {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

type hashScheme int

const (
	schemeUnknown hashScheme = iota
	schemeArgon2id
	schemeBcrypt
)

func scheme(hash string) hashScheme {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return schemeArgon2id
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return schemeBcrypt
	default:
		return schemeUnknown
	}
}

var b64 = base64.RawStdEncoding

func encodePHC(p util.Argon2idParams, salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Time, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key))
}

func decodePHC(hash string) (util.Argon2idParams, []byte, []byte, error) {
	var p util.Argon2idParams
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, ErrUnknownFormat
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return p, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, parts[2])
	}
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return p, nil, nil, fmt.Errorf("%w: parameter %q", ErrMalformedHash, kv)
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return p, nil, nil, fmt.Errorf("%w: parameter %q", ErrMalformedHash, kv)
		}
		switch k {
		case "m":
			p.MemoryKiB = uint32(n)
		case "t":
			p.Time = uint32(n)
		case "p":
			if n > 255 {
				return p, nil, nil, fmt.Errorf("%w: parallelism %d", ErrMalformedHash, n)
			}
			p.Parallelism = uint8(n)
		default:
			return p, nil, nil, fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, k)
		}
	}
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: key: %v", ErrMalformedHash, err)
	}
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}
