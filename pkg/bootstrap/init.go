package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wisbric/clusterkeeper/pkg/etcdid"
	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/paramstore"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec/scripts"
)

// runInit executes the initialization path (spec.md §4.3): this
// instance holds cluster-init and is solely responsible for standing
// up the first control-plane member.
func (c *Coordinator) runInit(ctx context.Context) error {
	start := c.Now()
	c.teardown.push(StageAcquiringLock, func() {
		if err := c.Locks.Release(context.Background(), c.P.ClusterName, lock.LockClusterInit); err != nil {
			c.Logger.Warn("cleanup: releasing cluster-init lock failed", "error", err)
		}
	})

	c.enter(StageKubeadmInit)
	initScript := KubeadmInitScript(InitParams{
		AdvertiseAddress:     c.P.AdvertiseAddress,
		NodeName:             c.P.NodeName,
		PodSubnet:            c.P.PodSubnet,
		ServiceSubnet:        c.P.ServiceSubnet,
		ServiceAccountIssuer: c.P.ServiceAccountIssuer,
		AuditPolicyPath:      c.P.AuditPolicyPath,
		AuditLogMaxSizeMB:    c.P.AuditLogMaxSizeMB,
		KubernetesVersion:    c.P.KubernetesVersion,
	})
	if _, stderr, err := c.Local.Run(ctx, initScript); err != nil {
		return c.fail(ctx, "bootstrap.runInit.kubeadmInit", fmt.Errorf("%w (stderr: %s)", err, stderr))
	}

	caHash, _, err := c.Local.Run(ctx, CACertHashScript())
	if err != nil {
		return c.fail(ctx, "bootstrap.runInit.caCertHash", err)
	}
	caHash = strings.TrimSpace(caHash)

	token, _, err := c.Local.Run(ctx, MintTokenScript())
	if err != nil {
		return c.fail(ctx, "bootstrap.runInit.mintToken", err)
	}
	token = strings.TrimSpace(token)

	certKey, _, err := c.Local.Run(ctx, UploadCertsScript())
	if err != nil {
		return c.fail(ctx, "bootstrap.runInit.uploadCerts", err)
	}
	certKey = strings.TrimSpace(certKey)

	c.enter(StageSSMParams)
	now := c.Now().UTC().Format(time.RFC3339)
	writes := []struct {
		key    string
		value  string
		secure bool
	}{
		{paramstore.KeyEndpoint, c.P.AdvertiseAddress, false},
		{paramstore.KeyCACertHash, caHash, false},
		{paramstore.KeyJoinToken, token, true},
		{paramstore.KeyJoinTokenUpdated, now, false},
		{paramstore.KeyCertificateKey, certKey, true},
		{paramstore.KeyCertificateKeyUpdated, now, false},
		{paramstore.KeyKubernetesVersion, c.P.KubernetesVersion, false},
	}
	for _, w := range writes {
		if err := c.Registry.Put(ctx, w.key, w.value, w.secure); err != nil {
			// Any critical write failing releases the lock and fails bootstrap
			// wholesale (spec.md §4.3) — partial parameter state is unsafe.
			return c.fail(ctx, "bootstrap.runInit.writeParams", fmt.Errorf("writing %s: %w", w.key, err))
		}
	}
	if err := c.Registry.Put(ctx, paramstore.KeyInitialized, "true", false); err != nil {
		return c.fail(ctx, "bootstrap.runInit.writeInitialized", err)
	}

	if err := c.registerEtcdMember(ctx); err != nil {
		return c.fail(ctx, "bootstrap.runInit.registerMember", err)
	}
	if err := c.registerLoadBalancer(ctx); err != nil {
		return c.fail(ctx, "bootstrap.runInit.registerLB", err)
	}

	c.enter(StageComplete)
	if err := c.Locks.Release(ctx, c.P.ClusterName, lock.LockClusterInit); err != nil {
		c.Logger.Warn("releasing cluster-init lock after success", "error", err)
	}
	c.teardown.discard() // success: cleanup-on-failure steps no longer apply

	if c.Metrics != nil {
		c.Metrics.PutMetric(ctx, metrics.BootstrapSuccess, 1, metrics.UnitCount, metrics.Dimensions{"path": "init"})
		c.Metrics.PutMetric(ctx, metrics.BootstrapDuration, float64(c.Now().Sub(start).Milliseconds()), metrics.UnitMilliseconds, metrics.Dimensions{"path": "init"})
	}
	return nil
}

// registerEtcdMember records this instance's etcd membership
// (spec.md §4.3: "register the local etcd member").
func (c *Coordinator) registerEtcdMember(ctx context.Context) error {
	c.enter(StageEtcdRegistration)

	hexID, err := c.resolveSelfEtcdMemberID(ctx)
	if err != nil {
		return fmt.Errorf("resolving local etcd member id: %w", err)
	}

	rec := lock.Record{
		ClusterName:  c.P.ClusterName,
		LockID:       lock.MemberKey(c.P.InstanceID),
		HolderID:     c.P.InstanceID,
		Status:       lock.StatusActive,
		PrivateIP:    c.P.AdvertiseAddress,
		Hostname:     c.P.NodeName,
		EtcdMemberID: hexID,
		CreatedAt:    c.Now(),
		UpdatedAt:    c.Now(),
	}
	if err := c.Locks.PutMember(ctx, rec); err != nil {
		return fmt.Errorf("registering etcd member: %w", err)
	}
	c.teardown.push(StageEtcdRegistration, func() {
		if err := c.Locks.DeleteMember(context.Background(), c.P.ClusterName, rec.LockID); err != nil {
			c.Logger.Warn("cleanup: deleting member record failed", "error", err)
		}
	})
	return nil
}

// etcdMemberListResponse is the subset of `etcdctl member list
// --write-out=json` this package reads. Member ids are decoded as
// json.Number, never float64: etcd ids are arbitrary uint64s and would
// silently lose precision through Go's default JSON float conversion.
type etcdMemberListResponse struct {
	Members []struct {
		ID   json.Number `json:"ID"`
		Name string      `json:"name"`
	} `json:"members"`
}

// resolveSelfEtcdMemberID runs locally right after kubeadm init/join has
// stood up this node's etcd member, and converts its decimal id to the
// hex form the member record stores (spec.md §3).
func (c *Coordinator) resolveSelfEtcdMemberID(ctx context.Context) (string, error) {
	out, stderr, err := c.Local.Run(ctx, scripts.MemberList())
	if err != nil {
		return "", fmt.Errorf("%w (stderr: %s)", err, stderr)
	}
	var resp etcdMemberListResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return "", fmt.Errorf("parsing etcd member list: %w", err)
	}
	for _, m := range resp.Members {
		if m.Name == c.P.NodeName {
			decimal, err := strconv.ParseUint(m.ID.String(), 10, 64)
			if err != nil {
				return "", fmt.Errorf("parsing etcd member id %q: %w", m.ID, err)
			}
			return etcdid.ToHex(decimal), nil
		}
	}
	return "", fmt.Errorf("local etcd node %q not present in member list", c.P.NodeName)
}

// registerLoadBalancer is a placeholder for target-group registration:
// spec.md §1 explicitly scopes load-balancer provisioning out, but
// registering *this instance* against an existing target group is the
// control plane's responsibility at join time.
func (c *Coordinator) registerLoadBalancer(ctx context.Context) error {
	c.enter(StageLBRegistration)
	// No-op beyond the stage transition: target-group registration is an
	// external collaborator invoked by the instance's own bootstrap
	// scripts outside this process (spec.md §1 Out of scope).
	c.teardown.push(StageLBRegistration, func() {})
	return nil
}
