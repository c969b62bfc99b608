package bootstrap_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/clusterkeeper/pkg/bootstrap"
	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/objectstore"
	"github.com/wisbric/clusterkeeper/pkg/paramstore"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec/scripts"
)

type stubExecutor struct {
	outputs map[string]string
	fail    map[string]bool
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{outputs: map[string]string{}, fail: map[string]bool{}}
}

func (s *stubExecutor) Run(_ context.Context, script string) (string, string, error) {
	if s.fail[script] {
		return "", "boom", assertErr{}
	}
	if out, ok := s.outputs[script]; ok {
		return out, "", nil
	}
	return "", "", nil
}

type assertErr struct{}

func (assertErr) Error() string { return "stub failure" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestParams() bootstrap.Params {
	return bootstrap.Params{
		ClusterName:         "demo",
		InstanceID:          "i-1",
		NodeName:            "node-1",
		AdvertiseAddress:    "10.0.0.1",
		PodSubnet:           "10.244.0.0/16",
		ServiceSubnet:       "10.96.0.0/12",
		KubernetesVersion:   "1.30.0",
		InitPollInterval:    10 * time.Millisecond,
		InitPollTimeout:     50 * time.Millisecond,
		TokenTTL:            24 * time.Hour,
		TokenRefreshAge:     20 * time.Hour,
		CertKeyTTL:          2 * time.Hour,
		CertKeyRefreshAge:   90 * time.Minute,
		TokenLockFreshness:  60 * time.Second,
		RestoreLockStaleAge: 1800 * time.Second,
		EtcdOpTimeout:       time.Second,
		PollInterval:        time.Millisecond,
	}
}

// TestConcurrentInitializers runs N coordinators concurrently against
// shared stores and checks that every one completes, that
// cluster/initialized ends up "true", and that each instance has a
// member record.
func TestConcurrentInitializers(t *testing.T) {
	locks := lock.NewFakeStore()
	registry := paramstore.NewFakeStore()
	remote := remoteexec.NewFakeAdapter()
	objects := objectstore.NewFakeStore(time.Now)

	const n = 5
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		p := newTestParams()
		p.InstanceID = instanceName(i)
		exec := newStubExecutor()
		exec.outputs[bootstrap.CACertHashScript()] = "sha256:deadbeef"
		exec.outputs[bootstrap.MintTokenScript()] = "abcdef.0123456789abcdef"
		exec.outputs[bootstrap.UploadCertsScript()] = "certkeyvalue"
		exec.outputs[scripts.MemberList()] = `{"members":[{"ID":1,"name":"node-1"}]}`
		coord := bootstrap.NewCoordinator(locks, registry, remote, objects, exec, metrics.NoOp{}, testLogger(), p)
		go func() {
			results <- coord.Run(context.Background())
		}()
	}

	successes := 0
	for i := 0; i < n; i++ {
		if err := <-results; err == nil {
			successes++
		}
	}
	assert.Equal(t, n, successes)

	initialized, err := registry.Get(context.Background(), paramstore.KeyInitialized)
	require.NoError(t, err)
	assert.Equal(t, "true", initialized)

	members, err := locks.ListMembers(context.Background(), "demo")
	require.NoError(t, err)
	assert.Len(t, members, n)
}

func instanceName(i int) string {
	return "i-" + string(rune('a'+i))
}
