package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const HKDFKeyLength = 32

func HKDF(seed []byte, salt []byte, info []byte) ([]byte, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("hkdf: empty seed")
	}
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, HKDFKeyLength)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}

// DeriveSubkey derives a purpose-bound 32-byte key from a server secret.
// Different purposes always yield independent keys.
func DeriveSubkey(secret []byte, purpose string) ([]byte, error) {
	return HKDF(secret, []byte("checkoutgate"), []byte(purpose))
}
