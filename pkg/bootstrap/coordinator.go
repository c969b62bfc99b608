package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/clusterkeeper/pkg/clustererr"
	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/paramstore"
)

// Run executes the bootstrap state machine once. Exactly one
// concurrent caller across the cluster proceeds through kubeadm-init;
// the rest observe cluster/initialized flip to true and join
// (spec.md §5's concurrency invariant).
func (c *Coordinator) Run(ctx context.Context) error {
	c.enter(StageInit)

	restoreMode, err := c.Registry.Get(ctx, paramstore.KeyRestoreMode)
	if err != nil {
		return fmt.Errorf("reading restore-mode: %w", err)
	}
	if restoreMode == "true" {
		backupKey, err := c.Registry.Get(ctx, paramstore.KeyRestoreBackup)
		if err != nil {
			return fmt.Errorf("reading restore-backup: %w", err)
		}
		if backupKey != "" {
			return c.runRestore(ctx, backupKey)
		}
	}

	initialized, err := c.Registry.Get(ctx, paramstore.KeyInitialized)
	if err != nil {
		return fmt.Errorf("reading cluster/initialized: %w", err)
	}

	if initialized != "true" {
		won, err := c.tryBecomeInitializer(ctx)
		if err != nil {
			return err
		}
		if won {
			return c.runInit(ctx)
		}
		if err := c.waitForInitialization(ctx); err != nil {
			return err
		}
	}

	return c.runJoin(ctx)
}

// tryBecomeInitializer attempts cluster-init; false means another
// instance holds it and the caller should fall through to polling.
func (c *Coordinator) tryBecomeInitializer(ctx context.Context) (bool, error) {
	c.enter(StageAcquiringLock)
	res, err := c.Locks.TryAcquire(ctx, c.P.ClusterName, lock.LockClusterInit, c.P.InstanceID, c.Now())
	if err != nil {
		return false, fmt.Errorf("acquiring cluster-init lock: %w", err)
	}
	return res.Acquired, nil
}

// waitForInitialization polls cluster/initialized until the winner
// finishes or InitPollTimeout elapses (spec.md §4.3 first-node election).
func (c *Coordinator) waitForInitialization(ctx context.Context) error {
	deadline := c.Now().Add(c.P.InitPollTimeout)
	for {
		val, err := c.Registry.Get(ctx, paramstore.KeyInitialized)
		if err != nil {
			return fmt.Errorf("polling cluster/initialized: %w", err)
		}
		if val == "true" {
			return nil
		}
		if c.Now().After(deadline) {
			return clustererr.New(clustererr.KindTimeout, "bootstrap.waitForInitialization", fmt.Errorf("cluster did not initialize within %s", c.P.InitPollTimeout))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.P.InitPollInterval):
		}
	}
}

func (c *Coordinator) fail(ctx context.Context, op string, err error) error {
	c.Logger.Error("bootstrap failed, unwinding", "stage", string(c.stage), "op", op, "error", err)
	c.runCleanup(ctx)
	if c.Metrics != nil {
		c.Metrics.PutMetric(ctx, metrics.BootstrapFailure, 1, metrics.UnitCount, metrics.Dimensions{"stage": string(c.stage)})
	}
	return fmt.Errorf("%s: %w", op, err)
}

// runCleanup executes cleanup-on-failure per spec.md §4.3: deregister
// from load balancer (if lb-registration or later), delete member
// record (if etcd-registration or later), release init lock (if
// acquired), always invoke local reset past init. Best-effort: every
// step is logged, none aborts the unwind.
func (c *Coordinator) runCleanup(ctx context.Context) {
	c.teardown.unwind()

	if c.stage == StageInit {
		return
	}
	if _, _, err := c.Local.Run(ctx, KubeadmResetScript()); err != nil {
		c.Logger.Warn("cleanup: local reset failed", "error", err)
	}
}
