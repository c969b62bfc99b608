// Package backup implements the backup loop of spec.md §4.5: on a fixed
// schedule, snapshot etcd on a healthy control-plane instance, verify
// its integrity, and upload it to object storage with attached
// {hash, revision, size} metadata. Corrupt snapshots are never
// uploaded.
package backup

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wisbric/clusterkeeper/internal/retry"
	"github.com/wisbric/clusterkeeper/pkg/clustererr"
	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/objectstore"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec/scripts"
)

// Config holds the tunables spec.md §4.5 and §7 name.
type Config struct {
	ClusterName   string
	RemoteTimeout time.Duration // SSM_COMMAND_TIMEOUT_LONG, spec.md §4.2
	PollInterval  time.Duration
	RetryPolicy   retry.Policy // default: 3 attempts, base 5s, jitter 0.3 (spec.md §4.5)
}

// Runner drives one backup-loop tick.
type Runner struct {
	Locks   lock.Store
	Remote  remoteexec.Adapter
	Objects objectstore.Store
	Metrics metrics.Emitter
	Logger  *slog.Logger
	Now     func() time.Time

	Config Config
}

// NewRunner wires a Runner from its capability dependencies.
func NewRunner(locks lock.Store, remote remoteexec.Adapter, objects objectstore.Store, emitter metrics.Emitter, logger *slog.Logger, cfg Config) *Runner {
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = retry.DefaultPolicy
	}
	return &Runner{
		Locks:   locks,
		Remote:  remote,
		Objects: objects,
		Metrics: emitter,
		Logger:  logger,
		Now:     time.Now,
		Config:  cfg,
	}
}

// Run executes one backup invocation (spec.md §4.5). It retries the
// whole attempt with exponential backoff and jitter up to the
// configured policy; a corrupt snapshot is a non-retriable failure
// within the attempt (it won't get healthier on retry) but the loop as
// a whole tries again on the next schedule tick.
func (r *Runner) Run(ctx context.Context) error {
	start := r.Now()
	dims := metrics.Dimensions{"cluster": r.Config.ClusterName}

	err := retry.Do(ctx, r.Config.RetryPolicy, r.Metrics, dims, r.attempt)
	if err != nil {
		if r.Metrics != nil {
			r.Metrics.PutMetric(ctx, metrics.BackupFailure, 1, metrics.UnitCount, dims)
		}
		r.Logger.Error("backup run failed", "cluster", r.Config.ClusterName, "error", err)
		return err
	}

	if r.Metrics != nil {
		r.Metrics.PutMetric(ctx, metrics.BackupSuccess, 1, metrics.UnitCount, dims)
		r.Metrics.PutMetric(ctx, metrics.BackupDuration, float64(r.Now().Sub(start).Milliseconds()), metrics.UnitMilliseconds, dims)
	}
	return nil
}

func (r *Runner) attempt(ctx context.Context) error {
	peer, err := r.selectHealthyInstance(ctx)
	if err != nil {
		return clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "backup.selectHealthyInstance", err, true)
	}

	if err := r.verifyEtcdHealth(ctx, peer); err != nil {
		return err
	}

	localPath := fmt.Sprintf("/var/lib/etcd-backup/snapshot-%s.db", r.Now().UTC().Format("20060102-150405"))

	saveResult, err := remoteexec.Run(ctx, r.Remote, peer, scripts.SnapshotSave(scripts.SnapshotSaveRequest{LocalPath: localPath}), r.Config.RemoteTimeout, r.Config.PollInterval)
	if err != nil {
		return clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "backup.snapshotSave", err, true)
	}
	if saveResult.Status != remoteexec.StatusSuccess {
		return clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "backup.snapshotSave",
			fmt.Errorf("snapshot save ended %s: %s", saveResult.Status, saveResult.Stderr), saveResult.Status.Retriable())
	}

	meta, err := r.fetchSnapshotStatus(ctx, peer, localPath)
	if err != nil {
		return err
	}
	if !meta.Valid() {
		r.Logger.Error("snapshot integrity check failed, not uploading", "cluster", r.Config.ClusterName, "peer", peer, "hash", meta.Hash)
		return clustererr.New(clustererr.KindBackupIntegrityFailure, "backup.attempt", fmt.Errorf("snapshot hash is zero or empty"))
	}

	body, err := r.fetchSnapshotBytes(ctx, peer, localPath)
	if err != nil {
		return err
	}

	key := objectstore.SnapshotKey(r.Config.ClusterName, r.Now())
	if err := r.Objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), meta); err != nil {
		return clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "backup.upload", fmt.Errorf("uploading %s: %w", key, err), true)
	}

	cleanupResult, err := remoteexec.Run(ctx, r.Remote, peer, scripts.SnapshotCleanup(scripts.SnapshotCleanupRequest{LocalPath: localPath}), r.Config.RemoteTimeout, r.Config.PollInterval)
	if err != nil || cleanupResult.Status != remoteexec.StatusSuccess {
		// Leaving a stray local file behind is a cleanliness problem, not
		// a correctness one — the snapshot is already durably uploaded.
		r.Logger.Warn("cleaning up local snapshot file failed", "peer", peer, "path", localPath, "error", err)
	}

	if r.Metrics != nil {
		r.Metrics.PutMetric(ctx, metrics.BackupSizeBytes, float64(len(body)), metrics.UnitBytes, metrics.Dimensions{"cluster": r.Config.ClusterName})
	}
	r.Logger.Info("backup uploaded", "cluster", r.Config.ClusterName, "key", key, "size", len(body))
	return nil
}

func (r *Runner) verifyEtcdHealth(ctx context.Context, peer string) error {
	result, err := remoteexec.Run(ctx, r.Remote, peer, scripts.MemberHealthCheck(), r.Config.RemoteTimeout, r.Config.PollInterval)
	if err != nil {
		return clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "backup.verifyEtcdHealth", err, true)
	}
	if result.Status != remoteexec.StatusSuccess {
		return clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "backup.verifyEtcdHealth",
			fmt.Errorf("etcd endpoint unhealthy on %s: %s", peer, result.Stderr), result.Status.Retriable())
	}
	return nil
}

type snapshotStatusJSON struct {
	Hash      json.Number `json:"hash"`
	Revision  int64       `json:"revision"`
	TotalSize int64       `json:"totalSize"`
}

func (r *Runner) fetchSnapshotStatus(ctx context.Context, peer, localPath string) (objectstore.Metadata, error) {
	result, err := remoteexec.Run(ctx, r.Remote, peer, scripts.SnapshotStatus(scripts.SnapshotStatusRequest{LocalPath: localPath}), r.Config.RemoteTimeout, r.Config.PollInterval)
	if err != nil {
		return objectstore.Metadata{}, clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "backup.snapshotStatus", err, true)
	}
	if result.Status != remoteexec.StatusSuccess {
		return objectstore.Metadata{}, clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "backup.snapshotStatus",
			fmt.Errorf("snapshot status ended %s: %s", result.Status, result.Stderr), result.Status.Retriable())
	}

	var parsed snapshotStatusJSON
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Stdout)), &parsed); err != nil {
		return objectstore.Metadata{}, fmt.Errorf("parsing snapshot status output: %w", err)
	}

	return objectstore.Metadata{
		Hash:     parsed.Hash.String(),
		Revision: parsed.Revision,
		Size:     parsed.TotalSize,
	}, nil
}

func (r *Runner) fetchSnapshotBytes(ctx context.Context, peer, localPath string) ([]byte, error) {
	result, err := remoteexec.Run(ctx, r.Remote, peer, scripts.SnapshotRead(scripts.SnapshotReadRequest{LocalPath: localPath}), r.Config.RemoteTimeout, r.Config.PollInterval)
	if err != nil {
		return nil, clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "backup.fetchSnapshotBytes", err, true)
	}
	if result.Status != remoteexec.StatusSuccess {
		return nil, clustererr.NewRetriable(clustererr.KindRemoteExecFailure, "backup.fetchSnapshotBytes",
			fmt.Errorf("snapshot read ended %s: %s", result.Status, result.Stderr), result.Status.Retriable())
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(result.Stdout))
	if err != nil {
		return nil, fmt.Errorf("decoding transferred snapshot: %w", err)
	}
	return decoded, nil
}

// selectHealthyInstance picks an ACTIVE control-plane member to run the
// backup against (spec.md §4.5: "pick a healthy control-plane
// instance").
func (r *Runner) selectHealthyInstance(ctx context.Context) (string, error) {
	members, err := r.Locks.ListMembers(ctx, r.Config.ClusterName)
	if err != nil {
		return "", fmt.Errorf("listing members: %w", err)
	}
	for _, m := range members {
		if m.Status == lock.StatusActive {
			return m.HolderID, nil
		}
	}
	return "", fmt.Errorf("no healthy control-plane instance available")
}
