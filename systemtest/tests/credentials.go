package tests

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracity-ops/veracity/internal/credentials"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newCredentialService(t *testing.T, pool *pgxpool.Pool) *credentials.Service {
	t.Helper()
	cipher, err := credentials.NewCipher(testEncryptionKey)
	require.NoError(t, err)
	return credentials.NewService(pool, cipher)
}

func TestCredentialLifecycle(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	svc := newCredentialService(t, pool)

	cred, err := svc.Create(ctx, credentials.CreateParams{
		Name:        "office-vpn",
		EndpointURL: "https://vpn.example.com",
		Secret:      "nb_setup_key_lifecycle",
		Notes:       "main office",
	})
	require.NoError(t, err)
	assert.True(t, cred.Enabled)
	assert.Equal(t, 0, cred.UsageCount)
	assert.Equal(t, 443, cred.EndpointPort)

	// Secret is stored encrypted but reads back decrypted.
	got, err := svc.GetByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "nb_setup_key_lifecycle", got.Secret)

	byName, err := svc.GetByName(ctx, "office-vpn")
	require.NoError(t, err)
	assert.Equal(t, cred.ID, byName.ID)

	var stored []byte
	err = pool.QueryRow(ctx,
		`SELECT secret_ciphertext FROM credentials WHERE id = $1`, cred.ID).Scan(&stored)
	require.NoError(t, err)
	assert.NotContains(t, string(stored), "nb_setup_key_lifecycle")

	// Duplicate names are rejected.
	_, err = svc.Create(ctx, credentials.CreateParams{
		Name:        "office-vpn",
		EndpointURL: "https://other.example.com",
		Secret:      "x12345678",
	})
	assert.ErrorIs(t, err, credentials.ErrNameTaken)

	require.NoError(t, svc.Delete(ctx, cred.ID))
	_, err = svc.GetByID(ctx, cred.ID)
	assert.ErrorIs(t, err, credentials.ErrNotFound)
}

func TestCredentialMarkUsed(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	svc := newCredentialService(t, pool)

	cred, err := svc.Create(ctx, credentials.CreateParams{
		Name:        "usage-cred",
		EndpointURL: "https://vpn.example.com",
		Secret:      "nb_setup_key_usage",
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkUsed(ctx, cred.ID))
	require.NoError(t, svc.MarkUsed(ctx, cred.ID))

	got, err := svc.GetByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
	require.NotNil(t, got.LastUsedAt)

	// Disabled credentials are not counted.
	require.NoError(t, svc.SetEnabled(ctx, cred.ID, false))
	err = svc.MarkUsed(ctx, cred.ID)
	assert.ErrorIs(t, err, credentials.ErrNotFound)

	got, err = svc.GetByID(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
}

func TestCredentialUpdateKeepsSecret(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	svc := newCredentialService(t, pool)

	cred, err := svc.Create(ctx, credentials.CreateParams{
		Name:        "update-cred",
		EndpointURL: "https://vpn.example.com",
		Secret:      "nb_setup_key_update",
	})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, cred.ID, credentials.UpdateParams{
		EndpointURL:  "https://vpn2.example.com",
		EndpointPort: 8443,
		Notes:        "rotated endpoint",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://vpn2.example.com", updated.EndpointURL)
	assert.Equal(t, "nb_setup_key_update", updated.Secret, "empty secret keeps stored value")

	updated, err = svc.Update(ctx, cred.ID, credentials.UpdateParams{
		EndpointURL:  "https://vpn2.example.com",
		EndpointPort: 8443,
		Secret:       "nb_rotated",
	})
	require.NoError(t, err)
	assert.Equal(t, "nb_rotated", updated.Secret)
}
