package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/clusterkeeper/pkg/clustererr"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/paramstore"
)

// runJoin executes the join path for an additional control-plane
// instance (spec.md §4.3).
func (c *Coordinator) runJoin(ctx context.Context) error {
	start := c.Now()

	params, err := c.Registry.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("reading parameter registry: %w", err)
	}
	if !paramstore.ReadyForJoin(params) {
		return c.fail(ctx, "bootstrap.runJoin", clustererr.New(clustererr.KindParameterUninitialized, "bootstrap.runJoin", fmt.Errorf("required parameters not yet populated")))
	}

	if err := c.refreshCredentialsIfStale(ctx, params); err != nil {
		return c.fail(ctx, "bootstrap.runJoin.refresh", err)
	}

	c.enter(StageKubeadmJoin)
	if err := c.attemptJoin(ctx, params); err != nil {
		c.Logger.Warn("first join attempt failed, requesting fresh credentials", "error", err)

		fresh, genErr := c.runTokenGenerationProtocol(ctx)
		if genErr != nil {
			return c.fail(ctx, "bootstrap.runJoin.tokenGen", genErr)
		}
		if _, _, resetErr := c.Local.Run(ctx, KubeadmResetScript()); resetErr != nil {
			c.Logger.Warn("resetting local state before retry", "error", resetErr)
		}

		if err := c.attemptJoin(ctx, fresh); err != nil {
			return c.fail(ctx, "bootstrap.runJoin.secondAttempt", fmt.Errorf("join failed after credential refresh: %w", err))
		}
	}

	if err := c.registerEtcdMember(ctx); err != nil {
		return c.fail(ctx, "bootstrap.runJoin.registerMember", err)
	}
	if err := c.registerLoadBalancer(ctx); err != nil {
		return c.fail(ctx, "bootstrap.runJoin.registerLB", err)
	}

	c.enter(StageComplete)
	c.teardown.discard()

	if c.Metrics != nil {
		c.Metrics.PutMetric(ctx, metrics.BootstrapSuccess, 1, metrics.UnitCount, metrics.Dimensions{"path": "join"})
		c.Metrics.PutMetric(ctx, metrics.BootstrapDuration, float64(c.Now().Sub(start).Milliseconds()), metrics.UnitMilliseconds, metrics.Dimensions{"path": "join"})
	}
	return nil
}

func (c *Coordinator) attemptJoin(ctx context.Context, params map[string]string) error {
	script := KubeadmJoinScript(JoinParams{
		Endpoint:       params[paramstore.KeyEndpoint],
		Token:          params[paramstore.KeyJoinToken],
		CACertHash:     params[paramstore.KeyCACertHash],
		CertificateKey: params[paramstore.KeyCertificateKey],
		NodeName:       c.P.NodeName,
	})
	if _, stderr, err := c.Local.Run(ctx, script); err != nil {
		return fmt.Errorf("%w (stderr: %s)", err, stderr)
	}
	return nil
}

// refreshCredentialsIfStale proactively refreshes the join token
// (age >= TokenRefreshAge) or certificate key (age >= CertKeyRefreshAge)
// before attempting a join (spec.md §4.3).
func (c *Coordinator) refreshCredentialsIfStale(ctx context.Context, params map[string]string) error {
	tokenAge, tokenAgeKnown := parseAge(c.Now(), params[paramstore.KeyJoinTokenUpdated])
	certAge, certAgeKnown := parseAge(c.Now(), params[paramstore.KeyCertificateKeyUpdated])

	// An unparsable or missing updated-at timestamp is treated as "age
	// unknown", which forces a refresh rather than risk joining with a
	// token that may already be past rotation (fail-safe, not the
	// shell-string-comparison behavior this mirrors).
	needsRefresh := (!tokenAgeKnown || tokenAge >= c.P.TokenRefreshAge) ||
		(!certAgeKnown || certAge >= c.P.CertKeyRefreshAge)
	if !needsRefresh {
		return nil
	}

	fresh, err := c.runTokenGenerationProtocol(ctx)
	if err != nil {
		return err
	}
	for k, v := range fresh {
		params[k] = v
	}
	return nil
}

func parseAge(now time.Time, updatedAt string) (time.Duration, bool) {
	if updatedAt == "" {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 0, false
	}
	return now.Sub(t), true
}
