package etcdlifecycle

import "context"

// CompleteRequest parameterizes a lifecycle-completion call (spec.md
// §4.4 stage 5, §6 envelope fields).
type CompleteRequest struct {
	GroupName   string
	InstanceID  string
	HookName    string
	ActionToken string // empty on the token-omitted retry
	Result      ActionResult
}

// LifecycleCompleter is the cloud lifecycle-completion API capability.
// Implementations must not retry internally — Handler owns the
// single token-omitted retry spec.md §4.4 describes.
type LifecycleCompleter interface {
	CompleteLifecycleAction(ctx context.Context, req CompleteRequest) error
}
