// Copyright 2025 Jinn Network
//
// Uses a test database when JINN_TEST_DB is set; skips otherwise, following
// the teacher's pkg/database test convention.
package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("JINN_TEST_DB")
	if dsn == "" {
		t.Skip("test database not configured (set JINN_TEST_DB)")
	}
	client, err := NewClient(dsn)
	require.NoError(t, err)
	require.NoError(t, client.Migrate(context.Background()))
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLeaseRepository_InsertThenGet(t *testing.T) {
	client := testClient(t)
	repo := NewLeaseRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, "0xabc"))
	lease, err := repo.Get(ctx, "0xabc")
	require.NoError(t, err)
	require.False(t, lease.Delivered)
}

func TestLeaseRepository_DuplicateInsertIsAlreadyHeld(t *testing.T) {
	client := testClient(t)
	repo := NewLeaseRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, "0xdup"))
	err := repo.Insert(ctx, "0xdup")
	require.ErrorIs(t, err, ErrLeaseAlreadyHeld)
}

func TestLeaseRepository_MarkDeliveredThenIsDelivered(t *testing.T) {
	client := testClient(t)
	repo := NewLeaseRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, "0xdeliver"))
	require.NoError(t, repo.MarkDelivered(ctx, "0xdeliver"))

	delivered, err := repo.IsDelivered(ctx, "0xdeliver")
	require.NoError(t, err)
	require.True(t, delivered)
}

func TestLeaseRepository_IsDeliveredFalseWhenAbsent(t *testing.T) {
	client := testClient(t)
	repo := NewLeaseRepository(client)

	delivered, err := repo.IsDelivered(context.Background(), "0xnever-claimed")
	require.NoError(t, err)
	require.False(t, delivered)
}
