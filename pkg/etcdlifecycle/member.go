package etcdlifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/wisbric/clusterkeeper/internal/retry"
	"github.com/wisbric/clusterkeeper/pkg/clustererr"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec/scripts"
)

// removeMember verifies etcd health on a peer and runs etcdctl member
// remove. Member presence is not checked beforehand; a "member not
// found" error from the remove is treated as idempotent success
// (spec.md §4.4 step 4).
func (h *Handler) removeMember(ctx context.Context, hexMemberID string) error {
	peer := h.peerForDrain()

	healthResult, err := remoteexec.Run(ctx, h.Remote, peer, scripts.MemberHealthCheck(), h.Config.EtcdOpTimeout, h.Config.PollInterval)
	if err != nil {
		return fmt.Errorf("checking etcd endpoint health: %w", err)
	}
	if healthResult.Status != remoteexec.StatusSuccess {
		return fmt.Errorf("etcd endpoint unhealthy on %s: %s", peer, healthResult.Stderr)
	}

	err = retry.Do(ctx, retry.DefaultPolicy, h.Metrics, metrics.Dimensions{"operation": "member-remove"}, func(ctx context.Context) error {
		result, err := remoteexec.Run(ctx, h.Remote, peer, scripts.MemberRemove(scripts.MemberRemoveRequest{HexMemberID: hexMemberID}), h.Config.EtcdOpTimeout, h.Config.PollInterval)
		if err != nil {
			return clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "etcdlifecycle.removeMember", err, true)
		}
		if result.Status == remoteexec.StatusSuccess {
			return nil
		}
		if strings.Contains(result.Stderr, "member not found") {
			return nil
		}
		return clustererr.NewRetriable(clustererr.KindEtcdRemovalFailure, "etcdlifecycle.removeMember",
			fmt.Errorf("member remove ended %s: %s", result.Status, result.Stderr), result.Status.Retriable())
	})
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.PutMetric(ctx, metrics.EtcdMemberRemovalFailure, 1, metrics.UnitCount, metrics.Dimensions{"memberId": hexMemberID})
		}
		return err
	}
	if h.Metrics != nil {
		h.Metrics.PutMetric(ctx, metrics.EtcdMemberRemovalSuccess, 1, metrics.UnitCount, metrics.Dimensions{"memberId": hexMemberID})
	}
	return nil
}
