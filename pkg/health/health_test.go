package health_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/clusterkeeper/internal/retry"
	"github.com/wisbric/clusterkeeper/pkg/health"
	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/objectstore"
	"github.com/wisbric/clusterkeeper/pkg/paramstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() health.Config {
	return health.Config{
		ClusterName:      "demo",
		FailureThreshold: 3,
		RetryPolicy:      retry.Policy{MaxAttempts: 1, Base: time.Millisecond, Jitter: 0},
	}
}

func seedActiveMember(t *testing.T, locks *lock.FakeStore) {
	t.Helper()
	require.NoError(t, locks.PutMember(context.Background(), lock.Record{
		ClusterName: "demo",
		LockID:      lock.MemberKey("a1"),
		HolderID:    "i-A",
		Status:      lock.StatusActive,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}))
}

// TestTickClearsCounterWhenHealthy covers spec.md §4.6: a nonzero
// failure count and an armed restore-mode both clear once a healthy
// instance reappears.
func TestTickClearsCounterWhenHealthy(t *testing.T) {
	ctx := context.Background()
	locks := lock.NewFakeStore()
	seedActiveMember(t, locks)
	params := paramstore.NewFakeStore()
	require.NoError(t, params.Put(ctx, paramstore.KeyHealthFailureCount, "2", false))
	require.NoError(t, params.Put(ctx, paramstore.KeyRestoreMode, "true", false))

	r := health.NewRunner(locks, params, objectstore.NewFakeStore(time.Now), metrics.NoOp{}, testLogger(), testConfig())
	require.NoError(t, r.Tick(ctx))

	count, err := params.Get(ctx, paramstore.KeyHealthFailureCount)
	require.NoError(t, err)
	assert.Equal(t, "0", count)

	restoreMode, err := params.Get(ctx, paramstore.KeyRestoreMode)
	require.NoError(t, err)
	assert.Equal(t, "false", restoreMode)
}

// TestTickIncrementsCounterWhenDown covers the below-threshold branch:
// the counter advances but restore-mode is not armed yet.
func TestTickIncrementsCounterWhenDown(t *testing.T) {
	ctx := context.Background()
	locks := lock.NewFakeStore()
	params := paramstore.NewFakeStore()
	objects := objectstore.NewFakeStore(time.Now)

	r := health.NewRunner(locks, params, objects, metrics.NoOp{}, testLogger(), testConfig())
	require.NoError(t, r.Tick(ctx))

	count, err := params.Get(ctx, paramstore.KeyHealthFailureCount)
	require.NoError(t, err)
	assert.Equal(t, "1", count)

	restoreMode, err := params.Get(ctx, paramstore.KeyRestoreMode)
	require.NoError(t, err)
	assert.NotEqual(t, "true", restoreMode)
}

// TestTickArmsRecoveryAtThreshold covers spec.md §4.6's total-loss path:
// at the third consecutive all-down tick, restore-mode, restore-backup,
// and initialized=false all get written from the latest snapshot.
func TestTickArmsRecoveryAtThreshold(t *testing.T) {
	ctx := context.Background()
	locks := lock.NewFakeStore()
	params := paramstore.NewFakeStore()
	require.NoError(t, params.Put(ctx, paramstore.KeyHealthFailureCount, "2", false))
	require.NoError(t, params.Put(ctx, paramstore.KeyInitialized, "true", false))

	objects := objectstore.NewFakeStore(time.Now)
	require.NoError(t, objects.Put(ctx, "demo/etcd-snapshot-20260101-000000.db", bytes.NewReader([]byte("x")), 1, objectstore.Metadata{Hash: "1", Revision: 1, Size: 1}))

	r := health.NewRunner(locks, params, objects, metrics.NoOp{}, testLogger(), testConfig())
	require.NoError(t, r.Tick(ctx))

	count, err := params.Get(ctx, paramstore.KeyHealthFailureCount)
	require.NoError(t, err)
	assert.Equal(t, "3", count)

	restoreMode, err := params.Get(ctx, paramstore.KeyRestoreMode)
	require.NoError(t, err)
	assert.Equal(t, "true", restoreMode)

	backupKey, err := params.Get(ctx, paramstore.KeyRestoreBackup)
	require.NoError(t, err)
	assert.Equal(t, "demo/etcd-snapshot-20260101-000000.db", backupKey)

	initialized, err := params.Get(ctx, paramstore.KeyInitialized)
	require.NoError(t, err)
	assert.Equal(t, "false", initialized)
}

// TestTickWithoutSnapshotFails covers the case where total loss is
// detected but there is nothing to restore from: recovery cannot arm,
// and the failure surfaces rather than silently no-opping.
func TestTickWithoutSnapshotFails(t *testing.T) {
	ctx := context.Background()
	locks := lock.NewFakeStore()
	params := paramstore.NewFakeStore()
	require.NoError(t, params.Put(ctx, paramstore.KeyHealthFailureCount, "2", false))
	objects := objectstore.NewFakeStore(time.Now)

	r := health.NewRunner(locks, params, objects, metrics.NoOp{}, testLogger(), testConfig())
	err := r.Tick(ctx)
	require.Error(t, err)

	restoreMode, err := params.Get(ctx, paramstore.KeyRestoreMode)
	require.NoError(t, err)
	assert.NotEqual(t, "true", restoreMode)
}

// TestTickSkipsWhenLockHeld covers serialization: a concurrent tick
// that already holds health-tick-lock causes this invocation to no-op
// rather than race the counter update.
func TestTickSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	locks := lock.NewFakeStore()
	params := paramstore.NewFakeStore()
	objects := objectstore.NewFakeStore(time.Now)

	acquired, err := locks.TryAcquire(ctx, "demo", lock.LockHealthTick, "other-invocation", time.Now())
	require.NoError(t, err)
	require.True(t, acquired.Acquired)

	r := health.NewRunner(locks, params, objects, metrics.NoOp{}, testLogger(), testConfig())
	require.NoError(t, r.Tick(ctx))

	count, err := params.Get(ctx, paramstore.KeyHealthFailureCount)
	require.NoError(t, err)
	assert.Equal(t, "", count, "a skipped tick must not touch the counter")
}
