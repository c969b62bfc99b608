package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/paramstore"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec/scripts"
)

// runTokenGenerationProtocol implements spec.md §4.3.1: the requester
// holds token-refresh-lock cluster-wide, selects a healthy peer, and
// has it mint a fresh token + certificate key. The peer takes no
// token-gen-lock of its own; token-refresh-lock is the only lock held,
// and it is released on every exit path.
func (c *Coordinator) runTokenGenerationProtocol(ctx context.Context) (map[string]string, error) {
	held, err := c.acquireTokenRefreshLock(ctx)
	if err != nil {
		return nil, err
	}
	if !held {
		// Another requester is already refreshing; if its update is
		// recent, treat it as done and re-read the registry.
		return c.waitForRecentRefresh(ctx)
	}
	defer func() {
		if err := c.Locks.Release(context.Background(), c.P.ClusterName, lock.LockTokenRefresh); err != nil {
			c.Logger.Warn("releasing token-refresh-lock", "error", err)
		}
	}()

	peer, err := c.selectHealthyPeer(ctx)
	if err != nil {
		return nil, fmt.Errorf("selecting peer for token generation: %w", err)
	}

	result, err := remoteexec.Run(ctx, c.Remote, peer, scripts.TokenGen(scripts.TokenGenRequest{}), c.P.EtcdOpTimeout, c.P.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("running token-generation protocol on %s: %w", peer, err)
	}
	if result.Status != remoteexec.StatusSuccess {
		return nil, fmt.Errorf("token-generation protocol on %s ended %s: %s", peer, result.Status, result.Stderr)
	}

	var minted struct {
		Token   string `json:"token"`
		CertKey string `json:"certKey"`
	}
	if err := json.Unmarshal([]byte(lastLine(result.Stdout)), &minted); err != nil {
		return nil, fmt.Errorf("parsing token-generation output: %w", err)
	}

	now := c.Now().UTC().Format(time.RFC3339)
	writes := map[string]string{
		paramstore.KeyJoinToken:             minted.Token,
		paramstore.KeyJoinTokenUpdated:       now,
		paramstore.KeyCertificateKey:         minted.CertKey,
		paramstore.KeyCertificateKeyUpdated:  now,
	}
	for k, v := range writes {
		secure := k == paramstore.KeyJoinToken || k == paramstore.KeyCertificateKey
		if err := c.Registry.Put(ctx, k, v, secure); err != nil {
			return nil, fmt.Errorf("writing refreshed credential %s: %w", k, err)
		}
	}
	return writes, nil
}

func (c *Coordinator) acquireTokenRefreshLock(ctx context.Context) (bool, error) {
	res, err := c.Locks.TryAcquire(ctx, c.P.ClusterName, lock.LockTokenRefresh, c.P.InstanceID, c.Now())
	if err != nil {
		return false, fmt.Errorf("acquiring token-refresh-lock: %w", err)
	}
	return res.Acquired, nil
}

// waitForRecentRefresh checks whether the holder's update happened
// within TokenLockFreshness; if so, the in-flight refresh is assumed
// sufficient and the caller re-reads current parameters instead of
// blocking on the lock (spec.md §4.3: "check whether the latest-update
// timestamp is within the last 60s and skip refresh if so").
func (c *Coordinator) waitForRecentRefresh(ctx context.Context) (map[string]string, error) {
	updated, err := c.Registry.Get(ctx, paramstore.KeyJoinTokenUpdated)
	if err != nil {
		return nil, fmt.Errorf("reading join-token-updated during contended refresh: %w", err)
	}
	if age, known := parseAge(c.Now(), updated); known && age < c.P.TokenLockFreshness {
		return c.Registry.GetAll(ctx)
	}
	return nil, fmt.Errorf("token-refresh-lock held and update is not recent")
}

// selectHealthyPeer picks a control-plane instance other than self,
// with an ACTIVE member record, to run the token-generation protocol
// on (spec.md §4.3.1: "selects a healthy control-plane target (not
// itself)").
func (c *Coordinator) selectHealthyPeer(ctx context.Context) (string, error) {
	members, err := c.Locks.ListMembers(ctx, c.P.ClusterName)
	if err != nil {
		return "", fmt.Errorf("listing members: %w", err)
	}
	for _, m := range members {
		if m.HolderID != c.P.InstanceID && m.Status == lock.StatusActive {
			return m.HolderID, nil
		}
	}
	return "", fmt.Errorf("no healthy peer available for token generation")
}

func lastLine(s string) string {
	trimmed := strings.TrimRight(s, "\n")
	if idx := strings.LastIndexByte(trimmed, '\n'); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
