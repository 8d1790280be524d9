package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/checkoutgate/password"
	"github.com/jmcleod/checkoutgate/storage"
	"github.com/jmcleod/checkoutgate/storage/memory"
)

func TestAdminSave(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	admin := NewAdmin(repo, password.NewArgon2id(fastParams))

	s, err := admin.Save(ctx, SettingsInput{
		Hosts:    []string{"https://Dev.Example.com/shop", "dev.example.com", "  localhost:8080 "},
		Password: testSecret,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dev.example.com", "localhost:8080"}, s.ProtectedHosts)
	require.True(t, s.HasPassword())
	assert.NotContains(t, s.PasswordHash, testSecret)
	assert.False(t, s.UpdatedAt.IsZero())
	firstHash := s.PasswordHash

	// Saving with an empty password keeps the stored hash.
	s, err = admin.Save(ctx, SettingsInput{Hosts: []string{"staging.example.com"}})
	require.NoError(t, err)
	assert.Equal(t, firstHash, s.PasswordHash)
	assert.Equal(t, []string{"staging.example.com"}, s.ProtectedHosts)

	cur, err := admin.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, firstHash, cur.PasswordHash)
	assert.Equal(t, uint64(2), cur.Version)

	// A new password replaces it.
	s, err = admin.Save(ctx, SettingsInput{Hosts: nil, Password: "new secret"})
	require.NoError(t, err)
	assert.NotEqual(t, firstHash, s.PasswordHash)
	assert.Empty(t, s.ProtectedHosts)
}

func TestAdminStatus(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	admin := NewAdmin(repo, password.NewArgon2id(fastParams))

	st, err := admin.Status(ctx, testHost)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, st)

	_, err = admin.Save(ctx, SettingsInput{Hosts: []string{"*.example.com"}})
	require.NoError(t, err)
	st, _ = admin.Status(ctx, testHost)
	assert.Equal(t, StatusMatchedNoPassword, st)
	assert.Equal(t, "matched_no_password", st.String())

	_, err = admin.Save(ctx, SettingsInput{Hosts: []string{"*.example.com"}, Password: testSecret})
	require.NoError(t, err)
	st, _ = admin.Status(ctx, testHost)
	assert.Equal(t, StatusProtected, st)
	st, _ = admin.Status(ctx, "shop.example.org")
	assert.Equal(t, StatusOpen, st)

	require.NoError(t, admin.Clear(ctx))
	st, _ = admin.Status(ctx, testHost)
	assert.Equal(t, StatusOpen, st)
}

func TestAdminStatusError(t *testing.T) {
	admin := NewAdmin(failingRepo{}, password.NewArgon2id(fastParams))
	_, err := admin.Status(context.Background(), testHost)
	assert.Error(t, err)
	_, err = admin.Save(context.Background(), SettingsInput{})
	assert.Error(t, err)
}

func TestStatusOfEmptySettings(t *testing.T) {
	assert.Equal(t, StatusOpen, StatusOf(&storage.Settings{}, testHost))
}
