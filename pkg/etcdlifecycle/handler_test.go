package etcdlifecycle_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/clusterkeeper/pkg/etcdlifecycle"
	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() etcdlifecycle.Config {
	return etcdlifecycle.Config{
		ClusterName:            "demo",
		MinHealthyControlPlane: 2,
		DrainGracePeriod:       30 * time.Second,
		EtcdOpTimeout:          time.Second,
		PollInterval:           time.Millisecond,
		LifecycleHandlerBudget: time.Minute,
	}
}

func seedThreeActiveMembers(t *testing.T, locks *lock.FakeStore, cluster string) {
	t.Helper()
	now := time.Now()
	for _, m := range []struct {
		instance, hostname, memberID string
	}{
		{"i-A", "node-a", "a1"},
		{"i-B", "node-b", "b2"},
		{"i-C", "node-c", "c3"},
	} {
		require.NoError(t, locks.PutMember(context.Background(), lock.Record{
			ClusterName:  cluster,
			LockID:       lock.MemberKey(m.memberID),
			HolderID:     m.instance,
			Status:       lock.StatusActive,
			Hostname:     m.hostname,
			EtcdMemberID: m.memberID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}))
	}
}

// TestQuorumRiskAbandons covers spec.md scenario 2: one peer already
// unhealthy, terminating a second leaves only one healthy instance.
func TestQuorumRiskAbandons(t *testing.T) {
	locks := lock.NewFakeStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, locks.PutMember(ctx, lock.Record{ClusterName: "demo", LockID: lock.MemberKey("a1"), HolderID: "i-A", Status: lock.StatusActive, Hostname: "node-a", EtcdMemberID: "a1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, locks.PutMember(ctx, lock.Record{ClusterName: "demo", LockID: lock.MemberKey("b2"), HolderID: "i-B", Status: lock.StatusRemovalFailed, Hostname: "node-b", EtcdMemberID: "b2", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, locks.PutMember(ctx, lock.Record{ClusterName: "demo", LockID: lock.MemberKey("c3"), HolderID: "i-C", Status: lock.StatusActive, Hostname: "node-c", EtcdMemberID: "c3", CreatedAt: now, UpdatedAt: now}))

	completer := etcdlifecycle.NewFakeCompleter()
	h := etcdlifecycle.NewHandler(locks, remoteexec.NewFakeAdapter(), completer, metrics.NoOp{}, testLogger(), testConfig())

	err := h.Handle(ctx, etcdlifecycle.Event{InstanceID: "i-C", HookName: "terminating", GroupName: "asg-1", ActionToken: "token-1"})
	require.NoError(t, err)

	require.Len(t, completer.Calls, 1)
	assert.Equal(t, etcdlifecycle.ActionAbandon, completer.Calls[0].Result)

	member, err := locks.QueryByInstance(ctx, "demo", "i-C")
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Equal(t, lock.StatusActive, member.Status)
}

// TestNormalTerminationRemoves covers spec.md scenario 3: a healthy
// three-node cluster, terminate one, drain and removal both succeed.
func TestNormalTerminationRemoves(t *testing.T) {
	locks := lock.NewFakeStore()
	ctx := context.Background()
	seedThreeActiveMembers(t, locks, "demo")

	completer := etcdlifecycle.NewFakeCompleter()
	h := etcdlifecycle.NewHandler(locks, remoteexec.NewFakeAdapter(), completer, metrics.NoOp{}, testLogger(), testConfig())

	err := h.Handle(ctx, etcdlifecycle.Event{InstanceID: "i-A", HookName: "terminating", GroupName: "asg-1", ActionToken: "token-1"})
	require.NoError(t, err)

	require.Len(t, completer.Calls, 1)
	assert.Equal(t, etcdlifecycle.ActionContinue, completer.Calls[0].Result)

	member, err := locks.QueryByInstance(ctx, "demo", "i-A")
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Equal(t, lock.StatusRemoved, member.Status)
}

// TestMissingMemberIsNoOp covers spec.md §4.4 stage 1: no member
// record for the terminating instance completes CONTINUE with nothing
// to clean up.
func TestMissingMemberIsNoOp(t *testing.T) {
	locks := lock.NewFakeStore()
	ctx := context.Background()
	seedThreeActiveMembers(t, locks, "demo")

	completer := etcdlifecycle.NewFakeCompleter()
	h := etcdlifecycle.NewHandler(locks, remoteexec.NewFakeAdapter(), completer, metrics.NoOp{}, testLogger(), testConfig())

	err := h.Handle(ctx, etcdlifecycle.Event{InstanceID: "i-ghost", HookName: "terminating", GroupName: "asg-1", ActionToken: "token-1"})
	require.NoError(t, err)
	require.Len(t, completer.Calls, 1)
	assert.Equal(t, etcdlifecycle.ActionContinue, completer.Calls[0].Result)
}

// TestRedeliveryAfterRemovalIsNoOp covers the idempotence property in
// spec.md §8: re-delivering the same event after a REMOVED transition
// must not attempt drain/removal again.
func TestRedeliveryAfterRemovalIsNoOp(t *testing.T) {
	locks := lock.NewFakeStore()
	ctx := context.Background()
	seedThreeActiveMembers(t, locks, "demo")

	completer := etcdlifecycle.NewFakeCompleter()
	remote := remoteexec.NewFakeAdapter()
	h := etcdlifecycle.NewHandler(locks, remote, completer, metrics.NoOp{}, testLogger(), testConfig())

	ev := etcdlifecycle.Event{InstanceID: "i-A", HookName: "terminating", GroupName: "asg-1", ActionToken: "token-1"}
	require.NoError(t, h.Handle(ctx, ev))
	sentAfterFirst := len(remote.Sent)

	require.NoError(t, h.Handle(ctx, ev))
	assert.Equal(t, sentAfterFirst, len(remote.Sent), "redelivery must not issue new drain/removal commands")
	require.Len(t, completer.Calls, 2)
	assert.Equal(t, etcdlifecycle.ActionContinue, completer.Calls[1].Result)
}

// TestCompletionRetriesWithoutToken covers spec.md §4.4 stage 5: a
// first completion failure is retried once with the action token
// omitted, and the handler never returns an error past that point.
func TestCompletionRetriesWithoutToken(t *testing.T) {
	locks := lock.NewFakeStore()
	ctx := context.Background()
	seedThreeActiveMembers(t, locks, "demo")

	completer := etcdlifecycle.NewFakeCompleter()
	completer.FailOnce = true
	h := etcdlifecycle.NewHandler(locks, remoteexec.NewFakeAdapter(), completer, metrics.NoOp{}, testLogger(), testConfig())

	err := h.Handle(ctx, etcdlifecycle.Event{InstanceID: "i-A", HookName: "terminating", GroupName: "asg-1", ActionToken: "token-1"})
	require.NoError(t, err)

	require.Len(t, completer.Calls, 2)
	assert.Equal(t, "token-1", completer.Calls[0].ActionToken)
	assert.Equal(t, "", completer.Calls[1].ActionToken)
}
