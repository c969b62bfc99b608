// Package bootstrap implements the bootstrap coordinator of spec.md
// §4.3: first-node election, joiner admission, and join-credential
// lifecycle, run once per instance at boot.
package bootstrap

import (
	"log/slog"
	"time"

	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/objectstore"
	"github.com/wisbric/clusterkeeper/pkg/paramstore"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec"
)

// Params holds the tunables spec.md §4.3 and §7 name; every field maps
// to an internal/config.Config field so cmd/ entrypoints can pass
// configuration straight through without duplicating defaults here.
type Params struct {
	ClusterName string
	InstanceID  string
	NodeName    string

	AdvertiseAddress     string
	PodSubnet            string
	ServiceSubnet        string
	ServiceAccountIssuer string
	AuditPolicyPath      string
	AuditLogMaxSizeMB    int
	KubernetesVersion    string

	InitPollInterval    time.Duration
	InitPollTimeout     time.Duration
	TokenTTL            time.Duration
	TokenRefreshAge     time.Duration
	CertKeyTTL          time.Duration
	CertKeyRefreshAge   time.Duration
	TokenLockFreshness  time.Duration
	RestoreLockStaleAge time.Duration

	EtcdOpTimeout time.Duration
	PollInterval  time.Duration
}

// Coordinator drives the bootstrap state machine on a single instance.
type Coordinator struct {
	Locks    lock.Store
	Registry paramstore.Store
	Remote   remoteexec.Adapter
	Objects  objectstore.Store
	Local    LocalExecutor
	Metrics  metrics.Emitter
	Logger   *slog.Logger
	Now      func() time.Time

	P Params

	stage    Stage
	teardown teardownStack
}

// NewCoordinator wires a Coordinator from its capability dependencies.
func NewCoordinator(locks lock.Store, registry paramstore.Store, remote remoteexec.Adapter, objects objectstore.Store, local LocalExecutor, emitter metrics.Emitter, logger *slog.Logger, p Params) *Coordinator {
	return &Coordinator{
		Locks:    locks,
		Registry: registry,
		Remote:   remote,
		Objects:  objects,
		Local:    local,
		Metrics:  emitter,
		Logger:   logger,
		Now:      time.Now,
		P:        p,
		stage:    StageInit,
	}
}

func (c *Coordinator) enter(stage Stage) {
	c.stage = stage
	c.Logger.Info("bootstrap stage", "stage", string(stage), "cluster", c.P.ClusterName, "instance", c.P.InstanceID)
}
