package util

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2idSaltLen is the salt length used when hashing new passwords.
const Argon2idSaltLen = 16

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

func (p Argon2idParams) validate() error {
	switch {
	case p.Time == 0:
		return errors.New("argon2id time must be at least 1")
	case p.MemoryKiB < 8*uint32(p.Parallelism):
		return errors.New("argon2id memory must be at least 8KiB per lane")
	case p.Parallelism == 0:
		return errors.New("argon2id parallelism must be at least 1")
	case p.KeyLen < 16 || p.KeyLen > 64:
		return fmt.Errorf("argon2id key length must be between 16 and 64 bytes, got %d", p.KeyLen)
	}
	return nil
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

func CompareArgon2idKey(passphrase string, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}
