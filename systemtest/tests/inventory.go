package tests

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracity-ops/veracity/internal/inventory"
)

func TestInventoryRegistration(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	svc := inventory.NewService(pool)

	require.NoError(t, svc.RegisterTargets(ctx, []string{"web-01", "db-02"}))

	servers, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "db-02", servers[0].TargetID)
	require.NotNil(t, servers[0].LastDeployedAt)
	first := *servers[0].LastDeployedAt

	// Re-registering upserts rather than duplicating.
	require.NoError(t, svc.RegisterTargets(ctx, []string{"db-02"}))
	servers, err = svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.False(t, servers[0].LastDeployedAt.Before(first))

	// Facts land on the existing record.
	require.NoError(t, svc.UpdateFacts(ctx, "web-01", "10.0.0.11", "Debian", "12"))
	got, err := svc.GetByID(ctx, servers[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "web-01", got.TargetID)
	assert.Equal(t, "10.0.0.11", got.IPAddress)
	assert.Equal(t, "Debian", got.OSName)

	assert.ErrorIs(t, svc.UpdateFacts(ctx, "ghost-99", "10.0.0.1", "", ""), inventory.ErrServerNotFound)
}
