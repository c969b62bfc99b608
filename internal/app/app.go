// Package app wires every clusterkeeper binary's capability
// dependencies and dispatches to the mode the process was started in.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/wisbric/clusterkeeper/internal/config"
	"github.com/wisbric/clusterkeeper/internal/logctx"
	"github.com/wisbric/clusterkeeper/internal/platform"
	"github.com/wisbric/clusterkeeper/internal/retry"
	"github.com/wisbric/clusterkeeper/internal/telemetry"
	"github.com/wisbric/clusterkeeper/pkg/backup"
	"github.com/wisbric/clusterkeeper/pkg/bootstrap"
	"github.com/wisbric/clusterkeeper/pkg/etcdlifecycle"
	"github.com/wisbric/clusterkeeper/pkg/health"
	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/objectstore"
	"github.com/wisbric/clusterkeeper/pkg/paramstore"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec"
)

// Run reads config, wires AWS-backed capability stores, and starts the
// loop for cfg.Mode: bootstrap | lifecycle-handler | backup-loop |
// health-loop.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx = logctx.WithRequestID(ctx, logctx.NewRequestID())
	logger.Info("starting clusterkeeper", "mode", cfg.Mode, "cluster", cfg.ClusterName, "instance", cfg.InstanceID)

	reg := telemetry.NewRegistry()
	emitter := telemetry.NewPromEmitter(reg, cfg.MetricsPushURL, fmt.Sprintf("clusterkeeper-%s", cfg.Mode))
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := emitter.Flush(flushCtx); err != nil {
			logger.Error("flushing metrics", "error", err)
		}
	}()

	awsCfg, err := platform.LoadAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	if cfg.ParameterKMSKeyID != "" {
		kmsClient := platform.NewKMSClient(awsCfg)
		if err := platform.VerifyKeyUsable(ctx, kmsClient, cfg.ParameterKMSKeyID); err != nil {
			return fmt.Errorf("verifying parameter KMS key: %w", err)
		}
	}

	locks := lock.NewDynamoStore(platform.NewDynamoDBClient(awsCfg), cfg.LockTableName)

	ssmClient := platform.NewSSMClient(awsCfg)
	registry := paramstore.NewSSMStore(ssmClient, fmt.Sprintf("%s/%s", cfg.ParameterPathPrefix, cfg.ClusterName), cfg.ParameterKMSKeyID)
	remote := remoteexec.NewSSMAdapter(ssmClient)

	objects := objectstore.NewS3Store(platform.NewS3Client(awsCfg), cfg.SnapshotBucket)

	retryPolicy := retry.Policy{MaxAttempts: cfg.RetryMaxAttempts, Base: cfg.RetryBase, Jitter: cfg.RetryJitter}

	switch cfg.Mode {
	case "bootstrap":
		return runBootstrap(ctx, cfg, locks, registry, remote, objects, emitter, logger)
	case "lifecycle-handler":
		return runLifecycleHandler(ctx, cfg, awsCfg, locks, remote, emitter, logger)
	case "backup-loop":
		return runBackupLoop(ctx, cfg, locks, remote, objects, emitter, logger, retryPolicy)
	case "health-loop":
		return runHealthLoop(ctx, cfg, locks, registry, objects, emitter, logger, retryPolicy)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runBootstrap(ctx context.Context, cfg *config.Config, locks lock.Store, registry paramstore.Store, remote remoteexec.Adapter, objects objectstore.Store, emitter *telemetry.PromEmitter, logger *slog.Logger) error {
	params := bootstrap.Params{
		ClusterName:          cfg.ClusterName,
		InstanceID:           cfg.InstanceID,
		NodeName:             cfg.NodeName,
		AdvertiseAddress:     cfg.AdvertiseAddress,
		PodSubnet:            cfg.PodSubnet,
		ServiceSubnet:        cfg.ServiceSubnet,
		ServiceAccountIssuer: cfg.ServiceAccountIssuer,
		AuditPolicyPath:      cfg.AuditPolicyPath,
		AuditLogMaxSizeMB:    cfg.AuditLogMaxSizeMB,
		KubernetesVersion:    cfg.KubernetesVersion,
		InitPollInterval:     cfg.InitPollInterval,
		InitPollTimeout:      cfg.InitPollTimeout,
		TokenTTL:             cfg.TokenTTL,
		TokenRefreshAge:      cfg.TokenRefreshAge,
		CertKeyTTL:           cfg.CertKeyTTL,
		CertKeyRefreshAge:    cfg.CertKeyRefreshAge,
		TokenLockFreshness:   cfg.TokenLockFreshness,
		RestoreLockStaleAge:  cfg.RestoreLockStaleAge,
		EtcdOpTimeout:        cfg.EtcdOpTimeout,
		PollInterval:         cfg.PollInterval,
	}
	coordinator := bootstrap.NewCoordinator(locks, registry, remote, objects, bootstrap.NewShellExecutor(), emitter, logger, params)
	return coordinator.Run(ctx)
}

// runLifecycleHandler consumes lifecycle termination events as
// newline-delimited JSON on stdin (SPEC_FULL.md §6: EventBridge -> SQS
// is the standard ASG wiring, fed into this process by whatever queue
// shim the deployment uses, without this module taking on a queue SDK
// dependency of its own) and dispatches each to the etcd lifecycle
// manager under its own per-event budget.
func runLifecycleHandler(ctx context.Context, cfg *config.Config, awsCfg aws.Config, locks lock.Store, remote remoteexec.Adapter, emitter *telemetry.PromEmitter, logger *slog.Logger) error {
	completer := etcdlifecycle.NewAutoScalingCompleter(platform.NewAutoScalingClient(awsCfg))
	handler := etcdlifecycle.NewHandler(locks, remote, completer, emitter, logger, etcdlifecycle.Config{
		ClusterName:            cfg.ClusterName,
		MinHealthyControlPlane: cfg.MinHealthyControlPlane,
		DrainGracePeriod:       cfg.DrainGracePeriod,
		EtcdOpTimeout:          cfg.EtcdOpTimeout,
		PollInterval:           cfg.PollInterval,
		LifecycleHandlerBudget: cfg.LifecycleHandlerBudget,
	})

	return etcdlifecycle.ConsumeNDJSON(ctx, os.Stdin, func(ctx context.Context, ev etcdlifecycle.Event) error {
		eventCtx, cancel := context.WithTimeout(ctx, cfg.LifecycleHandlerBudget)
		defer cancel()
		eventCtx = logctx.WithRequestID(eventCtx, logctx.NewRequestID())

		start := time.Now()
		err := handler.Handle(eventCtx, ev)
		emitter.PutMetric(eventCtx, metrics.LifecycleHandlerDuration, float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds, metrics.Dimensions{"cluster": cfg.ClusterName, "instance": ev.InstanceID})
		if err != nil {
			logger.Error("lifecycle event handling failed", "instance", ev.InstanceID, "error", err)
		}
		return nil
	})
}

func runBackupLoop(ctx context.Context, cfg *config.Config, locks lock.Store, remote remoteexec.Adapter, objects objectstore.Store, emitter *telemetry.PromEmitter, logger *slog.Logger, retryPolicy retry.Policy) error {
	runner := backup.NewRunner(locks, remote, objects, emitter, logger, backup.Config{
		ClusterName:   cfg.ClusterName,
		RemoteTimeout: cfg.DrainBackupTimeout,
		PollInterval:  cfg.PollInterval,
		RetryPolicy:   retryPolicy,
	})
	return runTicked(ctx, "backup", cfg.BackupInterval, logger, runner.Run)
}

func runHealthLoop(ctx context.Context, cfg *config.Config, locks lock.Store, registry paramstore.Store, objects objectstore.Store, emitter *telemetry.PromEmitter, logger *slog.Logger, retryPolicy retry.Policy) error {
	runner := health.NewRunner(locks, registry, objects, emitter, logger, health.Config{
		ClusterName:      cfg.ClusterName,
		FailureThreshold: cfg.HealthFailureThresh,
		RetryPolicy:      retryPolicy,
	})
	return runTicked(ctx, "health", cfg.HealthTickInterval, logger, runner.Tick)
}

// runTicked runs fn immediately, then every interval, until ctx is
// cancelled. A single tick's error is logged, not fatal: the daemon
// keeps running for the next scheduled attempt (spec.md §4.5, §4.6 are
// both independent per-tick invocations, not a single long-lived run).
func runTicked(ctx context.Context, name string, interval time.Duration, logger *slog.Logger, fn func(context.Context) error) error {
	tick := func() {
		tickCtx := logctx.WithRequestID(ctx, logctx.NewRequestID())
		if err := fn(tickCtx); err != nil {
			logger.Error(fmt.Sprintf("%s tick failed", name), "error", err)
		}
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info(fmt.Sprintf("%s loop stopping", name))
			return nil
		case <-ticker.C:
			tick()
		}
	}
}
