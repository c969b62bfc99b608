// Package metrics defines the embedded-metric capability interface used
// throughout clusterkeeper (spec.md §6, §9): a small duck-typed
// "metrics_logger" in the source becomes a capability interface here, so
// every component depends on an interface rather than a concrete
// Prometheus/CloudWatch type.
package metrics

import "context"

// Unit names the unit of a metric value, matching the vocabulary used by
// embedded-metric-format emitters.
type Unit string

const (
	UnitCount        Unit = "Count"
	UnitMilliseconds Unit = "Milliseconds"
	UnitBytes        Unit = "Bytes"
	UnitNone         Unit = "None"
)

// Dimensions are the label set attached to a metric emission. Callers
// use lower-case keys such as "cluster", "instance" and "operation"
// (plus per-component keys like "node" or "stage"), not the names
// ClusterName, InstanceId and Operation.
type Dimensions map[string]string

// Emitter is the capability every clusterkeeper component depends on to
// record a metric. PutMetric is fire-and-forget: implementations must
// never block the caller on a slow metrics backend.
type Emitter interface {
	PutMetric(ctx context.Context, name string, value float64, unit Unit, dims Dimensions)
	Flush(ctx context.Context) error
}

// Recognized metric names (spec.md §6).
const (
	BootstrapSuccess          = "BootstrapSuccess"
	BootstrapFailure          = "BootstrapFailure"
	BootstrapDuration         = "BootstrapDuration"
	EtcdMemberRemovalSuccess  = "EtcdMemberRemovalSuccess"
	EtcdMemberRemovalFailure  = "EtcdMemberRemovalFailure"
	NodeDrainSuccess          = "NodeDrainSuccess"
	NodeDrainFailure          = "NodeDrainFailure"
	QuorumRiskDetected        = "QuorumRiskDetected"
	LifecycleHandlerDuration  = "LifecycleHandlerDuration"
	BackupSuccess             = "BackupSuccess"
	BackupFailure             = "BackupFailure"
	BackupDuration            = "BackupDuration"
	BackupSizeBytes           = "BackupSizeBytes"
	HealthyControlPlaneCount  = "HealthyControlPlaneInstances"
	ConsecutiveHealthFailures = "ConsecutiveHealthFailures"
	AutoRecoveryTriggered     = "AutoRecoveryTriggered"
	ClusterRecovered          = "ClusterRecovered"
	RetryAttempt              = "RetryAttempt"
	RetryExhausted            = "RetryExhausted"
)

// NoOp is an Emitter that discards every metric. It satisfies tests and
// any deployment that does not want a metrics backend wired up.
type NoOp struct{}

func (NoOp) PutMetric(context.Context, string, float64, Unit, Dimensions) {}
func (NoOp) Flush(context.Context) error                                  { return nil }
