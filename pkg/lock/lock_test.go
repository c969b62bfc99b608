package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/clusterkeeper/pkg/lock"
)

func TestTryAcquireExclusive(t *testing.T) {
	store := lock.NewFakeStore()
	ctx := context.Background()
	now := time.Now()

	res1, err := store.TryAcquire(ctx, "demo", lock.LockClusterInit, "i-1", now)
	require.NoError(t, err)
	assert.True(t, res1.Acquired)

	res2, err := store.TryAcquire(ctx, "demo", lock.LockClusterInit, "i-2", now)
	require.NoError(t, err)
	assert.False(t, res2.Acquired)
	require.NotNil(t, res2.Held)
	assert.Equal(t, "i-1", res2.Held.HolderID)
}

func TestReleaseThenReacquire(t *testing.T) {
	store := lock.NewFakeStore()
	ctx := context.Background()
	now := time.Now()

	_, err := store.TryAcquire(ctx, "demo", lock.LockRestore, "i-1", now)
	require.NoError(t, err)

	require.NoError(t, store.Release(ctx, "demo", lock.LockRestore))

	res, err := store.TryAcquire(ctx, "demo", lock.LockRestore, "i-2", now)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestIsStale(t *testing.T) {
	now := time.Now()
	rec := lock.Record{CreatedAt: now.Add(-2 * time.Hour)}
	assert.True(t, lock.IsStale(rec, now, lock.StaleTTL(lock.LockRestore)))

	fresh := lock.Record{CreatedAt: now.Add(-10 * time.Second)}
	assert.False(t, lock.IsStale(fresh, now, lock.StaleTTL(lock.LockRestore)))
}

func TestMemberLifecycle(t *testing.T) {
	store := lock.NewFakeStore()
	ctx := context.Background()
	now := time.Now()

	rec := lock.Record{
		ClusterName: "demo",
		LockID:      lock.MemberKey("i-1"),
		HolderID:    "i-1",
		Status:      lock.StatusActive,
		CreatedAt:   now,
	}
	require.NoError(t, store.PutMember(ctx, rec))

	got, err := store.QueryByInstance(ctx, "demo", "i-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, lock.StatusActive, got.Status)

	require.NoError(t, store.UpdateMemberStatus(ctx, "demo", rec.LockID, lock.StatusRemoved, "req-1", now))

	got, err = store.GetMember(ctx, "demo", rec.LockID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, lock.StatusRemoved, got.Status)
	assert.Equal(t, "req-1", got.RequestID)
}
