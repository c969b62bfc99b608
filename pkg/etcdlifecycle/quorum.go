package etcdlifecycle

import "github.com/wisbric/clusterkeeper/pkg/lock"

// DefaultMinHealthyControlPlane is the minimum number of remaining healthy
// control-plane instances (excluding the one terminating) before a
// removal is considered safe (spec.md §4.4: "for a 3-node cluster this
// preserves 2-of-3"). Overridable via config for clusters sized
// differently, though the spec's worked example fixes it at 2.
const DefaultMinHealthyControlPlane = 2

// CountHealthyExcluding counts ACTIVE members other than excludeInstance.
func CountHealthyExcluding(members []lock.Record, excludeInstance string) int {
	n := 0
	for _, m := range members {
		if m.HolderID == excludeInstance {
			continue
		}
		if m.Status == lock.StatusActive {
			n++
		}
	}
	return n
}

// QuorumSafe reports whether removing excludeInstance leaves at least
// minHealthy other healthy control-plane instances.
func QuorumSafe(members []lock.Record, excludeInstance string, minHealthy int) bool {
	return CountHealthyExcluding(members, excludeInstance) >= minHealthy
}
