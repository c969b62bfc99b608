// Package health implements the health & recovery loop of spec.md §4.6:
// on a fixed schedule, count healthy control-plane instances and arm or
// clear disaster-recovery mode based on consecutive all-down ticks.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/wisbric/clusterkeeper/internal/retry"
	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/objectstore"
	"github.com/wisbric/clusterkeeper/pkg/paramstore"
)

// Config holds the tunables spec.md §4.6 names.
type Config struct {
	ClusterName     string
	FailureThreshold int // default 3
	RetryPolicy     retry.Policy
}

// Runner drives one health-tick invocation.
type Runner struct {
	Locks   lock.Store
	Params  paramstore.Store
	Objects objectstore.Store
	Metrics metrics.Emitter
	Logger  *slog.Logger
	Now     func() time.Time

	Config Config
}

// NewRunner wires a Runner from its capability dependencies.
func NewRunner(locks lock.Store, params paramstore.Store, objects objectstore.Store, emitter metrics.Emitter, logger *slog.Logger, cfg Config) *Runner {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = retry.DefaultPolicy
	}
	return &Runner{
		Locks:   locks,
		Params:  params,
		Objects: objects,
		Metrics: emitter,
		Logger:  logger,
		Now:     time.Now,
		Config:  cfg,
	}
}

// Tick executes one invocation of the loop (spec.md §4.6). The
// read-increment-write of the failure counter is serialized with
// health-tick-lock so overlapping ticks don't race each other's
// counter update (SPEC_FULL.md §9 decision 3); an invocation that loses
// the race is a harmless no-op — the next scheduled tick retries.
func (r *Runner) Tick(ctx context.Context) error {
	dims := metrics.Dimensions{"cluster": r.Config.ClusterName}
	acquired, err := r.Locks.TryAcquire(ctx, r.Config.ClusterName, lock.LockHealthTick, "health-tick", r.Now())
	if err != nil {
		return fmt.Errorf("acquiring health-tick-lock: %w", err)
	}
	if !acquired.Acquired {
		r.Logger.Debug("health tick skipped, another tick is in flight", "cluster", r.Config.ClusterName)
		return nil
	}
	defer func() {
		if err := r.Locks.Release(ctx, r.Config.ClusterName, lock.LockHealthTick); err != nil {
			r.Logger.Warn("releasing health-tick-lock failed", "cluster", r.Config.ClusterName, "error", err)
		}
	}()

	return retry.Do(ctx, r.Config.RetryPolicy, r.Metrics, dims, r.attempt)
}

func (r *Runner) attempt(ctx context.Context) error {
	members, err := r.Locks.ListMembers(ctx, r.Config.ClusterName)
	if err != nil {
		return fmt.Errorf("listing members: %w", err)
	}

	healthy := 0
	for _, m := range members {
		if m.Status == lock.StatusActive {
			healthy++
		}
	}

	dims := metrics.Dimensions{"cluster": r.Config.ClusterName}
	if r.Metrics != nil {
		r.Metrics.PutMetric(ctx, metrics.HealthyControlPlaneCount, float64(healthy), metrics.UnitCount, dims)
	}

	if healthy > 0 {
		return r.recordRecovered(ctx, dims)
	}
	return r.recordFailure(ctx, dims)
}

func (r *Runner) recordRecovered(ctx context.Context, dims metrics.Dimensions) error {
	count, err := r.readFailureCount(ctx)
	if err != nil {
		return err
	}
	if count != 0 {
		if err := r.Params.Put(ctx, paramstore.KeyHealthFailureCount, "0", false); err != nil {
			return fmt.Errorf("clearing health/failure-count: %w", err)
		}
	}

	restoreMode, err := r.Params.Get(ctx, paramstore.KeyRestoreMode)
	if err != nil {
		return fmt.Errorf("reading cluster/restore-mode: %w", err)
	}
	if restoreMode == "true" {
		if err := r.Params.Put(ctx, paramstore.KeyRestoreMode, "false", false); err != nil {
			return fmt.Errorf("clearing cluster/restore-mode: %w", err)
		}
		r.Logger.Info("control plane recovered, restore-mode cleared", "cluster", r.Config.ClusterName)
		if r.Metrics != nil {
			r.Metrics.PutMetric(ctx, metrics.ClusterRecovered, 1, metrics.UnitCount, dims)
		}
	}
	return nil
}

func (r *Runner) recordFailure(ctx context.Context, dims metrics.Dimensions) error {
	count, err := r.readFailureCount(ctx)
	if err != nil {
		return err
	}
	count++
	if err := r.Params.Put(ctx, paramstore.KeyHealthFailureCount, strconv.Itoa(count), false); err != nil {
		return fmt.Errorf("incrementing health/failure-count: %w", err)
	}
	if r.Metrics != nil {
		r.Metrics.PutMetric(ctx, metrics.ConsecutiveHealthFailures, float64(count), metrics.UnitCount, dims)
	}
	r.Logger.Warn("no healthy control-plane instances", "cluster", r.Config.ClusterName, "consecutive_failures", count)

	if count < r.Config.FailureThreshold {
		return nil
	}
	return r.armRecovery(ctx, dims)
}

// armRecovery writes the restore-mode flags a booting instance checks
// for (spec.md §4.3.2, §4.6). It does not terminate anything itself:
// the auto-scaling layer replaces dead nodes on its own schedule, and
// the next one to boot observes the flag.
func (r *Runner) armRecovery(ctx context.Context, dims metrics.Dimensions) error {
	latest, err := r.Objects.Latest(ctx, r.Config.ClusterName)
	if err != nil {
		return fmt.Errorf("locating latest snapshot: %w", err)
	}
	if latest == nil {
		r.Logger.Error("control plane down and no snapshot available, cannot arm recovery", "cluster", r.Config.ClusterName)
		return fmt.Errorf("no snapshot available to arm recovery for cluster %s", r.Config.ClusterName)
	}

	if err := r.Params.Put(ctx, paramstore.KeyRestoreMode, "true", false); err != nil {
		return fmt.Errorf("setting cluster/restore-mode: %w", err)
	}
	if err := r.Params.Put(ctx, paramstore.KeyRestoreBackup, latest.Key, false); err != nil {
		return fmt.Errorf("setting cluster/restore-backup: %w", err)
	}
	if err := r.Params.Put(ctx, paramstore.KeyRestoreTriggeredAt, r.Now().UTC().Format(time.RFC3339), false); err != nil {
		return fmt.Errorf("setting cluster/restore-triggered-at: %w", err)
	}
	if err := r.Params.Put(ctx, paramstore.KeyInitialized, "false", false); err != nil {
		return fmt.Errorf("setting cluster/initialized: %w", err)
	}

	r.Logger.Error("total control-plane loss detected, disaster recovery armed", "cluster", r.Config.ClusterName, "snapshot", latest.Key)
	if r.Metrics != nil {
		r.Metrics.PutMetric(ctx, metrics.AutoRecoveryTriggered, 1, metrics.UnitCount, dims)
	}
	return nil
}

func (r *Runner) readFailureCount(ctx context.Context) (int, error) {
	raw, err := r.Params.Get(ctx, paramstore.KeyHealthFailureCount)
	if err != nil {
		return 0, fmt.Errorf("reading health/failure-count: %w", err)
	}
	if raw == "" {
		return 0, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		r.Logger.Warn("health/failure-count held a non-numeric value, treating as zero", "cluster", r.Config.ClusterName, "value", raw)
		return 0, nil
	}
	return count, nil
}
