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

// drainPolicy matches spec.md §4.4 step 3: 3 attempts, base 5s, jitter 30%.
var drainPolicy = retry.Policy{MaxAttempts: 3, Base: retry.DefaultPolicy.Base, Jitter: 0.3}

// drainNode cordons and evicts pods from the terminating node. A node
// already absent from the cluster is treated as success. Exhausted
// retries log a warning but never block member removal — "a
// partially-drained node is worse than a removed one."
func (h *Handler) drainNode(ctx context.Context, nodeName string) error {
	script := scripts.Drain(scripts.DrainRequest{
		NodeName:    nodeName,
		GracePeriod: int(h.Config.DrainGracePeriod.Seconds()),
		Timeout:     90,
	})

	err := retry.Do(ctx, drainPolicy, h.Metrics, metrics.Dimensions{"operation": "drain"}, func(ctx context.Context) error {
		result, err := remoteexec.Run(ctx, h.Remote, h.peerForDrain(), script, h.Config.EtcdOpTimeout, h.Config.PollInterval)
		if err != nil {
			return clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "etcdlifecycle.drainNode", err, true)
		}
		if result.Status == remoteexec.StatusSuccess {
			return nil
		}
		if isNodeAbsent(result.Stderr) {
			return nil
		}
		retriable := result.Status.Retriable() || remoteexec.HasTransientMarker(result.Stderr)
		return clustererr.NewRetriable(clustererr.KindNodeDrainFailure, "etcdlifecycle.drainNode",
			fmt.Errorf("drain attempt ended %s: %s", result.Status, result.Stderr), retriable)
	})

	if err != nil {
		h.Logger.Warn("drain failed after retries, proceeding to member removal", "node", nodeName, "error", err)
		if h.Metrics != nil {
			h.Metrics.PutMetric(ctx, metrics.NodeDrainFailure, 1, metrics.UnitCount, metrics.Dimensions{"node": nodeName})
		}
		return nil
	}
	if h.Metrics != nil {
		h.Metrics.PutMetric(ctx, metrics.NodeDrainSuccess, 1, metrics.UnitCount, metrics.Dimensions{"node": nodeName})
	}
	return nil
}

func isNodeAbsent(stderr string) bool {
	return strings.Contains(stderr, "not found")
}

// peerForDrain returns the selected healthy peer: kubectl drain is run
// against the API server from that control-plane peer, not the
// terminating node, since it is already being torn down.
func (h *Handler) peerForDrain() string {
	return h.healthyPeerInstanceID
}
