package etcdlifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wisbric/clusterkeeper/internal/logctx"
	"github.com/wisbric/clusterkeeper/pkg/lock"
	"github.com/wisbric/clusterkeeper/pkg/metrics"
	"github.com/wisbric/clusterkeeper/pkg/remoteexec"
)

// Config holds the tunables spec.md §4.4 and §7 name for a single
// cluster's lifecycle manager.
type Config struct {
	ClusterName            string
	MinHealthyControlPlane int
	DrainGracePeriod       time.Duration
	EtcdOpTimeout          time.Duration
	PollInterval           time.Duration
	LifecycleHandlerBudget time.Duration
}

// Handler drives the termination-event state machine of spec.md §4.4:
// parse -> lookup-member -> quorum-check -> drain -> remove-member ->
// complete-action. One Handler instance handles one event at a time;
// concurrent events for different instances use independent Handlers
// (spec.md §5).
type Handler struct {
	Locks     lock.Store
	Remote    remoteexec.Adapter
	Completer LifecycleCompleter
	Metrics   metrics.Emitter
	Logger    *slog.Logger
	Now       func() time.Time

	Config Config

	healthyPeerInstanceID string
}

// NewHandler wires a Handler from its capability dependencies.
func NewHandler(locks lock.Store, remote remoteexec.Adapter, completer LifecycleCompleter, emitter metrics.Emitter, logger *slog.Logger, cfg Config) *Handler {
	if cfg.MinHealthyControlPlane <= 0 {
		cfg.MinHealthyControlPlane = DefaultMinHealthyControlPlane
	}
	return &Handler{
		Locks:     locks,
		Remote:    remote,
		Completer: completer,
		Metrics:   emitter,
		Logger:    logger,
		Now:       time.Now,
		Config:    cfg,
	}
}

// Handle processes one termination lifecycle event end to end. It never
// returns a Go error for an expected outcome (ABANDON is itself the
// recovery, per spec.md §7) — a non-nil return means the handler could
// not even decide an outcome (e.g. the lock store is unreachable) and
// the caller (a queue poller) should redeliver the event.
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	if h.Config.LifecycleHandlerBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.LifecycleHandlerBudget)
		defer cancel()
	}
	ctx = logctx.EnsureRequestID(ctx)
	start := h.Now()

	h.Logger.Info("lifecycle event received", "instance", ev.InstanceID, "hook", ev.HookName, "group", ev.GroupName, "request_id", logctx.RequestID(ctx))

	member, err := h.Locks.QueryByInstance(ctx, h.Config.ClusterName, ev.InstanceID)
	if err != nil {
		return fmt.Errorf("looking up member for instance %s: %w", ev.InstanceID, err)
	}

	// Missing instance or missing member record: nothing to clean up
	// (spec.md §4.4 stage 1). A member already REMOVED is the idempotent
	// re-delivery case (spec.md §8): both fall through to the same
	// no-op CONTINUE.
	if member == nil || member.Status != lock.StatusActive {
		return h.completeAction(ctx, ev, ActionContinue, start)
	}

	members, err := h.Locks.ListMembers(ctx, h.Config.ClusterName)
	if err != nil {
		return fmt.Errorf("listing members for quorum check: %w", err)
	}
	if !QuorumSafe(members, ev.InstanceID, h.Config.MinHealthyControlPlane) {
		if h.Metrics != nil {
			h.Metrics.PutMetric(ctx, metrics.QuorumRiskDetected, 1, metrics.UnitCount, metrics.Dimensions{"instance": ev.InstanceID})
		}
		h.Logger.Warn("quorum risk detected, abandoning termination", "instance", ev.InstanceID, "healthy_peers", CountHealthyExcluding(members, ev.InstanceID))
		return h.completeAction(ctx, ev, ActionAbandon, start)
	}

	h.healthyPeerInstanceID = selectDrainPeer(members, ev.InstanceID)
	if h.healthyPeerInstanceID == "" {
		// Quorum check passed, so a peer must exist; treat its absence
		// as a transient inconsistency and abandon rather than guess.
		h.Logger.Error("quorum safe but no healthy peer found to run drain/removal", "instance", ev.InstanceID)
		return h.completeAction(ctx, ev, ActionAbandon, start)
	}

	if err := h.drainNode(ctx, member.Hostname); err != nil {
		h.Logger.Warn("drain stage returned an error outside its documented contract", "error", err)
	}

	if err := h.removeMember(ctx, member.EtcdMemberID); err != nil {
		h.Logger.Error("member removal failed after retries, abandoning termination", "instance", ev.InstanceID, "error", err)
		return h.completeAction(ctx, ev, ActionAbandon, start)
	}

	if err := h.Locks.UpdateMemberStatus(ctx, h.Config.ClusterName, member.LockID, lock.StatusRemoved, logctx.RequestID(ctx), h.Now()); err != nil {
		// The etcd member is already gone; a stale ACTIVE record is a
		// lesser problem than stalling the auto-scaling group on this
		// hook, so the handler still completes with CONTINUE.
		h.Logger.Error("marking member REMOVED failed", "instance", ev.InstanceID, "error", err)
	}

	return h.completeAction(ctx, ev, ActionContinue, start)
}

// selectDrainPeer picks an ACTIVE member other than excludeInstance to
// run drain/removal commands against (spec.md §4.4 steps 3-4 run
// against "a healthy peer", never the terminating node itself).
func selectDrainPeer(members []lock.Record, excludeInstance string) string {
	for _, m := range members {
		if m.HolderID != excludeInstance && m.Status == lock.StatusActive {
			return m.HolderID
		}
	}
	return ""
}

// completeAction calls the lifecycle-completion API (spec.md §4.4 stage
// 5). This call is critical but never raises: the worst case is the
// hook times out naturally and the cloud platform reschedules it.
func (h *Handler) completeAction(ctx context.Context, ev Event, result ActionResult, start time.Time) error {
	req := CompleteRequest{
		GroupName:   ev.GroupName,
		InstanceID:  ev.InstanceID,
		HookName:    ev.HookName,
		ActionToken: ev.ActionToken,
		Result:      result,
	}
	if err := h.Completer.CompleteLifecycleAction(ctx, req); err != nil {
		h.Logger.Warn("lifecycle completion failed, retrying without action token", "instance", ev.InstanceID, "error", err)
		req.ActionToken = ""
		if err := h.Completer.CompleteLifecycleAction(ctx, req); err != nil {
			h.Logger.Error("lifecycle completion failed after retry; hook will time out naturally", "instance", ev.InstanceID, "error", err)
		}
	}

	if h.Metrics != nil {
		h.Metrics.PutMetric(ctx, metrics.LifecycleHandlerDuration, float64(h.Now().Sub(start).Milliseconds()), metrics.UnitMilliseconds, metrics.Dimensions{"result": string(result)})
	}
	return nil
}
