package backup_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/clusterkeeper/internal/retry"
	"github.com/wisbric/clusterkeeper/pkg/backup"
	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/objectstore"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() backup.Config {
	return backup.Config{
		ClusterName:   "demo",
		RemoteTimeout: time.Second,
		PollInterval:  time.Millisecond,
		RetryPolicy:   retry.Policy{MaxAttempts: 3, Base: time.Millisecond, Jitter: 0.3},
	}
}

func seedHealthyMember(t *testing.T, locks *lock.FakeStore) {
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

// TestRunUploadsValidSnapshot covers the golden path: health check,
// save, status, transfer, and upload all succeed, and the object
// lands with hash/revision/size metadata.
func TestRunUploadsValidSnapshot(t *testing.T) {
	locks := lock.NewFakeStore()
	seedHealthyMember(t, locks)
	remote := remoteexec.NewFakeAdapter()
	// Sequence: 1 health-check, 2 snapshot-save, 3 snapshot-status, 4 snapshot-read, 5 cleanup.
	remote.SeedResult(3, remoteexec.Result{Status: remoteexec.StatusSuccess, Stdout: `{"hash":1234567,"revision":42,"totalSize":2048}`})
	remote.SeedResult(4, remoteexec.Result{Status: remoteexec.StatusSuccess, Stdout: "aGVsbG8td29ybGQ="})
	objects := objectstore.NewFakeStore(time.Now)

	r := backup.NewRunner(locks, remote, objects, metrics.NoOp{}, testLogger(), testConfig())
	require.NoError(t, r.Run(context.Background()))

	latest, err := objects.Latest(context.Background(), "demo")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "1234567", latest.Metadata.Hash)
	assert.Equal(t, int64(42), latest.Metadata.Revision)
	assert.True(t, latest.Metadata.Valid())
}

// TestRunRejectsCorruptSnapshot covers spec.md scenario 6: a zero hash
// means corruption, and the object must never be uploaded.
func TestRunRejectsCorruptSnapshot(t *testing.T) {
	locks := lock.NewFakeStore()
	seedHealthyMember(t, locks)
	remote := remoteexec.NewFakeAdapter()
	remote.SeedResult(3, remoteexec.Result{Status: remoteexec.StatusSuccess, Stdout: `{"hash":0,"revision":42,"totalSize":2048}`})
	objects := objectstore.NewFakeStore(time.Now)

	r := backup.NewRunner(locks, remote, objects, metrics.NoOp{}, testLogger(), testConfig())
	err := r.Run(context.Background())
	require.Error(t, err)

	latest, err := objects.Latest(context.Background(), "demo")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

// TestRunRetriesTransientFailure covers spec.md §7's retry policy: a
// TimedOut health check is retried and a later attempt can still
// succeed.
func TestRunRetriesTransientFailure(t *testing.T) {
	locks := lock.NewFakeStore()
	seedHealthyMember(t, locks)
	remote := remoteexec.NewFakeAdapter()
	remote.SeedResult(1, remoteexec.Result{Status: remoteexec.StatusTimedOut})
	remote.SeedResult(4, remoteexec.Result{Status: remoteexec.StatusSuccess, Stdout: `{"hash":777,"revision":1,"totalSize":10}`})
	remote.SeedResult(5, remoteexec.Result{Status: remoteexec.StatusSuccess, Stdout: "eA=="})
	objects := objectstore.NewFakeStore(time.Now)

	r := backup.NewRunner(locks, remote, objects, metrics.NoOp{}, testLogger(), testConfig())
	require.NoError(t, r.Run(context.Background()))

	latest, err := objects.Latest(context.Background(), "demo")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "777", latest.Metadata.Hash)
}
