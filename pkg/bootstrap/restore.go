package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/paramstore"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec/scripts"
)

// runRestore implements the disaster-recovery path (spec.md §4.3):
// triggered when cluster/restore-mode=true and cluster/restore-backup
// names a snapshot. Losers of the restore-lock race go straight to the
// normal join path without waiting; that path fails until the winner
// has written its init parameters.
func (c *Coordinator) runRestore(ctx context.Context, snapshotKey string) error {
	start := c.Now()

	if existing, err := c.Locks.Inspect(ctx, c.P.ClusterName, lock.LockRestore); err != nil {
		return fmt.Errorf("inspecting restore-lock: %w", err)
	} else if existing != nil && lock.IsStale(*existing, c.Now(), c.P.RestoreLockStaleAge) {
		if err := c.Locks.Release(ctx, c.P.ClusterName, lock.LockRestore); err != nil {
			return fmt.Errorf("force-releasing stale restore-lock: %w", err)
		}
	}

	res, err := c.Locks.TryAcquire(ctx, c.P.ClusterName, lock.LockRestore, c.P.InstanceID, c.Now())
	if err != nil {
		return fmt.Errorf("acquiring restore-lock: %w", err)
	}
	if !res.Acquired {
		return c.runJoin(ctx)
	}
	defer func() {
		if err := c.Locks.Release(context.Background(), c.P.ClusterName, lock.LockRestore); err != nil {
			c.Logger.Warn("releasing restore-lock", "error", err)
		}
	}()

	reader, _, err := c.Objects.Get(ctx, snapshotKey)
	if err != nil {
		return fmt.Errorf("downloading snapshot %s: %w", snapshotKey, err)
	}
	defer reader.Close()

	localPath := "/var/lib/etcd-restore/" + strings.ReplaceAll(snapshotKey, "/", "-")
	if err := writeLocalFile(localPath, reader); err != nil {
		return fmt.Errorf("writing downloaded snapshot to %s: %w", localPath, err)
	}

	c.enter(StageKubeadmInit)
	restoreScript := scripts.Restore(scripts.RestoreRequest{
		SnapshotPath:            localPath,
		DataDir:                 "/var/lib/etcd",
		Name:                    c.P.NodeName,
		InitialAdvertisePeerURL: fmt.Sprintf("https://%s:2380", c.P.AdvertiseAddress),
	})
	if _, stderr, err := c.Local.Run(ctx, restoreScript); err != nil {
		return fmt.Errorf("%w (stderr: %s)", err, stderr)
	}

	initScript := KubeadmInitScript(InitParams{
		AdvertiseAddress:      c.P.AdvertiseAddress,
		NodeName:              c.P.NodeName,
		PodSubnet:             c.P.PodSubnet,
		ServiceSubnet:         c.P.ServiceSubnet,
		ServiceAccountIssuer:  c.P.ServiceAccountIssuer,
		AuditPolicyPath:       c.P.AuditPolicyPath,
		AuditLogMaxSizeMB:     c.P.AuditLogMaxSizeMB,
		KubernetesVersion:     c.P.KubernetesVersion,
		IgnorePreflightErrors: "DirAvailable--var-lib-etcd",
	})
	if _, stderr, err := c.Local.Run(ctx, initScript); err != nil {
		return fmt.Errorf("%w (stderr: %s)", err, stderr)
	}

	caHash, _, err := c.Local.Run(ctx, CACertHashScript())
	if err != nil {
		return err
	}
	caHash = strings.TrimSpace(caHash)
	token, _, err := c.Local.Run(ctx, MintTokenScript())
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	certKey, _, err := c.Local.Run(ctx, UploadCertsScript())
	if err != nil {
		return err
	}
	certKey = strings.TrimSpace(certKey)

	c.enter(StageSSMParams)
	now := c.Now().UTC().Format(time.RFC3339)
	writes := map[string]struct {
		value  string
		secure bool
	}{
		paramstore.KeyEndpoint:               {c.P.AdvertiseAddress, false},
		paramstore.KeyCACertHash:              {caHash, false},
		paramstore.KeyJoinToken:               {token, true},
		paramstore.KeyJoinTokenUpdated:        {now, false},
		paramstore.KeyCertificateKey:          {certKey, true},
		paramstore.KeyCertificateKeyUpdated:   {now, false},
		paramstore.KeyRestoreMode:             {"false", false},
	}
	for k, w := range writes {
		if err := c.Registry.Put(ctx, k, w.value, w.secure); err != nil {
			return fmt.Errorf("writing %s during restore: %w", k, err)
		}
	}
	if err := c.Registry.Put(ctx, paramstore.KeyInitialized, "true", false); err != nil {
		return err
	}

	if err := c.registerEtcdMember(ctx); err != nil {
		return err
	}
	if err := c.registerLoadBalancer(ctx); err != nil {
		return err
	}

	c.enter(StageComplete)
	if c.Metrics != nil {
		c.Metrics.PutMetric(ctx, metrics.ClusterRecovered, 1, metrics.UnitCount, metrics.Dimensions{"cluster": c.P.ClusterName})
		c.Metrics.PutMetric(ctx, metrics.BootstrapSuccess, 1, metrics.UnitCount, metrics.Dimensions{"path": "restore"})
		c.Metrics.PutMetric(ctx, metrics.BootstrapDuration, float64(c.Now().Sub(start).Milliseconds()), metrics.UnitMilliseconds, metrics.Dimensions{"path": "restore"})
	}
	return nil
}

// writeLocalFile persists a downloaded snapshot to disk ahead of the
// offline-restore command, which operates on a local path.
func writeLocalFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}
