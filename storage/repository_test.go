package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsRoundTrip(t *testing.T) {
	in := &Settings{
		ProtectedHosts: []string{"dev.example.com", "*.staging.example.com"},
		PasswordHash:   "$argon2id$v=19$m=64,t=1,p=1$c2FsdA$a2V5",
		UpdatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Version:        4,
	}
	opts, err := EncodeOptions(in)
	require.NoError(t, err)
	assert.Equal(t, "5", string(opts[OptionVersion]))

	out, err := DecodeOptions(opts)
	require.NoError(t, err)
	assert.Equal(t, in.ProtectedHosts, out.ProtectedHosts)
	assert.Equal(t, in.PasswordHash, out.PasswordHash)
	assert.True(t, in.UpdatedAt.Equal(out.UpdatedAt))
	assert.Equal(t, uint64(5), out.Version)
}

func TestDecodeEmptyOptions(t *testing.T) {
	s, err := DecodeOptions(map[string][]byte{})
	require.NoError(t, err)
	assert.Empty(t, s.ProtectedHosts)
	assert.False(t, s.HasPassword())
	assert.Zero(t, s.Version)
}

func TestDecodeCorruptOptions(t *testing.T) {
	_, err := DecodeOptions(map[string][]byte{OptionProtectedHosts: []byte("{")})
	assert.Error(t, err)
	_, err = DecodeOptions(map[string][]byte{OptionVersion: []byte("v1")})
	assert.Error(t, err)
}

func TestSettingsClone(t *testing.T) {
	s := &Settings{ProtectedHosts: []string{"a.test"}, PasswordHash: "h"}
	cp := s.Clone()
	cp.ProtectedHosts[0] = "b.test"
	assert.Equal(t, "a.test", s.ProtectedHosts[0])
	assert.Nil(t, (*Settings)(nil).Clone())
	assert.False(t, (*Settings)(nil).HasPassword())
}
