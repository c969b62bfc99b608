// Package remoteexec implements the remote-exec adapter of spec.md §4.2:
// fire-and-poll command execution on target instances.
package remoteexec

import (
	"context"
	"time"
)

// Status is a remote command's lifecycle state.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusSuccess    Status = "Success"
	StatusFailed     Status = "Failed"
	StatusCancelled  Status = "Cancelled"
	StatusTimedOut   Status = "TimedOut"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Retriable reports whether a terminal status should be retried by the
// caller. TimedOut is retriable; Failed/Cancelled are not unless the
// caller inspects stderr for a known-transient marker (spec.md §4.2).
func (s Status) Retriable() bool {
	return s == StatusTimedOut
}

// Handle identifies an in-flight remote command.
type Handle struct {
	CommandID  string
	InstanceID string
	TraceID    string // 16-hex correlation id, spec.md §6
}

// Result is the terminal (or still-pending) outcome of an Await call.
type Result struct {
	Status   Status
	Stdout   string
	Stderr   string
	ExitCode int
}

// KnownTransientMarkers are stderr substrings spec.md §4.2 treats as
// signalling a retriable failure even though the terminal status itself
// is Failed, not TimedOut.
var KnownTransientMarkers = []string{
	"ThrottlingException",
	"connection reset by peer",
	"i/o timeout",
	"context deadline exceeded",
}

// Adapter is the remote-exec capability (spec.md §4.2). Send is
// fire-and-forget; Await polls at <=5s intervals until a terminal state
// or ctx is cancelled. The adapter itself never retries — retry policy
// lives in callers (internal/retry).
type Adapter interface {
	Send(ctx context.Context, targetInstance, script string, timeout time.Duration) (Handle, error)
	Await(ctx context.Context, h Handle, pollInterval time.Duration) (Result, error)
}

// Run is a convenience wrapper combining Send and a blocking Await loop,
// for callers that don't need to interleave other work between the two.
func Run(ctx context.Context, a Adapter, targetInstance, script string, timeout, pollInterval time.Duration) (Result, error) {
	h, err := a.Send(ctx, targetInstance, script, timeout)
	if err != nil {
		return Result{}, err
	}
	return a.Await(ctx, h, pollInterval)
}
