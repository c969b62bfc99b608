// Package paramstore implements the parameter registry of spec.md §4.1:
// a small durable key/value store for cluster endpoint, tokens, and
// flags, namespaced beneath a path prefix per cluster.
package paramstore

import "context"

// Sentinel values a parameter is treated as uninitialized when it
// equals (spec.md §3's invariant): joining must block on either.
const (
	Placeholder           = "placeholder"
	PendingInitialization = "PENDING_INITIALIZATION"
)

// Recognized parameter keys (relative to the cluster's path prefix,
// spec.md §3/§6).
const (
	KeyInitialized         = "cluster/initialized"
	KeyEndpoint            = "cluster/endpoint"
	KeyJoinToken           = "cluster/join-token"
	KeyJoinTokenUpdated    = "cluster/join-token-updated"
	KeyCACertHash          = "cluster/ca-cert-hash"
	KeyCertificateKey      = "cluster/certificate-key"
	KeyCertificateKeyUpdated = "cluster/certificate-key-updated"
	KeyRestoreMode         = "cluster/restore-mode"
	KeyRestoreBackup       = "cluster/restore-backup"
	KeyRestoreTriggeredAt  = "cluster/restore-triggered-at"
	KeyHealthFailureCount  = "health/failure-count"
	KeyKubernetesVersion   = "kubernetes/version"
)

// IsUnset reports whether a parameter value should be treated as not
// yet initialized (spec.md §3).
func IsUnset(value string) bool {
	return value == "" || value == Placeholder || value == PendingInitialization
}

// Store is the parameter-registry capability. Secure entries (tokens,
// certificate keys) are transparently encrypted at rest by the
// implementation; callers never see ciphertext.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string, secure bool) error
	// GetAll fetches every key beneath the cluster's prefix in one
	// round trip, used by the join-path readiness check (spec.md §4.3).
	GetAll(ctx context.Context) (map[string]string, error)
}
