// Package lock implements the KV-Lock store of spec.md §4.1: atomic
// conditional-write locks and member records, sharing one physical table
// (spec.md §9's Open Question, decided in DESIGN.md to keep shared).
package lock

import (
	"context"
	"time"
)

// Reserved lock names (spec.md §3, §6).
const (
	LockClusterInit    = "cluster-init"
	LockTokenRefresh   = "token-refresh-lock"
	LockTokenGen       = "token-gen-lock"
	LockRestore        = "restore-lock"
	LockHealthTick     = "health-tick-lock" // SPEC_FULL.md §9 decision 3, not a reserved §6 name
)

// MemberStatus is the lifecycle status of a member record (spec.md §3).
type MemberStatus string

const (
	StatusActive         MemberStatus = "ACTIVE"
	StatusRemoved        MemberStatus = "REMOVED"
	StatusRemovalFailed  MemberStatus = "REMOVAL_FAILED"
	StatusRestoring      MemberStatus = "RESTORING"
)

// Record is a single row in the KV-lock/member table: either a lock
// record (HolderID set, no member fields) or a member record (instance
// and etcd fields set). spec.md §6's schema keeps these in one table.
type Record struct {
	ClusterName  string
	LockID       string // lock name, or "member#<memberID>" for member records
	HolderID     string // InstanceId in §6's schema
	Status       MemberStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	EtcdMemberID string // hex, spec.md §3
	PrivateIP    string
	Hostname     string
	RequestID    string
}

// Age returns how long ago the record was created, for stale-lock
// detection (spec.md §4.1: "Stale-lock policy is not in this layer").
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// AcquireResult is the outcome of a tryAcquire call.
type AcquireResult struct {
	Acquired bool
	Held     *Record // set when Acquired is false: the existing holder
}

// Store is the KV-Lock store capability (spec.md §4.1). Implementations
// must make TryAcquire an atomic conditional insert; Release, Inspect,
// and the member-record operations need not be conditional.
type Store interface {
	// TryAcquire attempts to create a lock record for (cluster, lock).
	// It fails (Acquired=false) if a record already exists; it does not
	// evaluate staleness — callers compute that from Inspect.
	TryAcquire(ctx context.Context, cluster, lockName, holder string, now time.Time) (AcquireResult, error)

	// Release deletes a lock record unconditionally. Callers must call
	// this on both success and failure paths (spec.md §4.1); a failed
	// Release is the caller's responsibility to log, never to raise.
	Release(ctx context.Context, cluster, lockName string) error

	// Inspect returns the current lock record, or nil if none exists.
	Inspect(ctx context.Context, cluster, lockName string) (*Record, error)

	// PutMember creates or overwrites a member record.
	PutMember(ctx context.Context, rec Record) error

	// UpdateMemberStatus transitions a member record's status.
	UpdateMemberStatus(ctx context.Context, cluster, memberKey string, status MemberStatus, requestID string, now time.Time) error

	// GetMember returns the member record keyed by memberKey, or nil.
	GetMember(ctx context.Context, cluster, memberKey string) (*Record, error)

	// QueryByInstance looks up a member record by instance id (secondary
	// index on InstanceId, spec.md §6).
	QueryByInstance(ctx context.Context, cluster, instanceID string) (*Record, error)

	// DeleteMember removes a member record entirely. Only used by
	// cleanup-on-failure paths (spec.md §3: "never deleted except by
	// cleanup-on-failure").
	DeleteMember(ctx context.Context, cluster, memberKey string) error

	// ListMembers returns every member record for the cluster, used by
	// quorum counting (spec.md §4.4) and peer selection (spec.md §4.3.1).
	ListMembers(ctx context.Context, cluster string) ([]Record, error)
}

// MemberKey renders the storage key for a member record given its member id.
func MemberKey(memberID string) string {
	return "member#" + memberID
}

// IsStale reports whether a lock record's age exceeds ttl (spec.md §3).
func IsStale(rec Record, now time.Time, ttl time.Duration) bool {
	return rec.Age(now) > ttl
}

// StaleTTL returns the per-lock TTL named in spec.md §3: restore-lock is
// 1800s, the token locks use a 60s freshness window for the
// recent-update check (not a staleness TTL in the same sense, but
// exposed here since callers look both up by lock name).
func StaleTTL(lockName string) time.Duration {
	switch lockName {
	case LockRestore:
		return 1800 * time.Second
	case LockTokenRefresh, LockTokenGen:
		return 60 * time.Second
	default:
		return 0
	}
}
