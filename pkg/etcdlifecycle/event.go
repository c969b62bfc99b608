// Package etcdlifecycle implements the etcd lifecycle manager of
// spec.md §4.4: a termination-event handler that enforces quorum
// safety, drains the workload node, and removes the etcd member
// atomically with instance termination.
package etcdlifecycle

// Event is a termination lifecycle event (spec.md §4.4).
type Event struct {
	InstanceID  string
	HookName    string
	GroupName   string
	ActionToken string
}

// ActionResult is what the handler tells the cloud lifecycle-completion
// API (spec.md §4.4 step 5).
type ActionResult string

const (
	ActionContinue ActionResult = "CONTINUE"
	ActionAbandon  ActionResult = "ABANDON"
)
