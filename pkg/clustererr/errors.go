// Package clustererr implements the error taxonomy of spec.md §7 as
// tagged error variants rather than exceptions with a mutable
// is_retriable attribute (spec.md §9's re-architecting note).
package clustererr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error kinds spec.md §7 names.
type Kind string

const (
	KindQuorumRisk             Kind = "QuorumRisk"
	KindNodeDrainFailure       Kind = "NodeDrainFailure"
	KindEtcdRemovalFailure     Kind = "EtcdRemovalFailure"
	KindRemoteExecFailure      Kind = "RemoteExecFailure"
	KindLockContention         Kind = "LockContention"
	KindParameterUninitialized Kind = "ParameterUninitialized"
	KindBackupIntegrityFailure Kind = "BackupIntegrityFailure"
	KindTimeout                Kind = "Timeout"
)

// Error is the tagged error variant every clusterkeeper component
// returns for taxonomy-relevant failures. Retriability is a property of
// the Kind plus an explicit override, never a field callers mutate after
// construction.
type Error struct {
	Kind      Kind
	Op        string
	Err       error
	retriable bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether this specific error instance should be retried.
func (e *Error) Retriable() bool { return e.retriable }

// defaultRetriable gives each Kind its spec.md §7 default retriability.
// QuorumRisk and ParameterUninitialized are always fatal; NodeDrainFailure
// is retriable by default but the caller proceeds regardless of outcome;
// EtcdRemovalFailure and RemoteExecFailure depend on the underlying
// remote-exec terminal state and are set explicitly by the caller via
// NewRetriable.
func defaultRetriable(k Kind) bool {
	switch k {
	case KindNodeDrainFailure:
		return true
	case KindQuorumRisk, KindParameterUninitialized, KindBackupIntegrityFailure:
		return false
	default:
		return false
	}
}

// New builds a clustererr.Error with the kind's default retriability.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, retriable: defaultRetriable(kind)}
}

// NewRetriable builds a clustererr.Error with explicit retriability,
// for kinds like RemoteExecFailure/EtcdRemovalFailure where retriability
// depends on the terminal state (TimedOut vs Failed/Cancelled) rather
// than the kind alone.
func NewRetriable(kind Kind, op string, err error, retriable bool) *Error {
	return &Error{Kind: kind, Op: op, Err: err, retriable: retriable}
}

// Retriable reports whether err should be retried: true if err is (or
// wraps) a *clustererr.Error with Retriable() == true, false otherwise
// (including for plain, untagged errors — only tagged errors are ever
// retried, per spec.md §9).
func Retriable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retriable()
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
