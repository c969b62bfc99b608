package etcdlifecycle

import (
	"context"
	"sync"
)

// FakeCompleter is an in-memory LifecycleCompleter for tests.
type FakeCompleter struct {
	mu       sync.Mutex
	Calls    []CompleteRequest
	FailOnce bool // fail the first call (with a token), succeed the retry
}

func NewFakeCompleter() *FakeCompleter { return &FakeCompleter{} }

func (f *FakeCompleter) CompleteLifecycleAction(_ context.Context, req CompleteRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)
	if f.FailOnce && req.ActionToken != "" {
		f.FailOnce = false
		return errFakeCompletion{}
	}
	return nil
}

type errFakeCompletion struct{}

func (errFakeCompletion) Error() string { return "fake completion failure" }

var _ LifecycleCompleter = (*FakeCompleter)(nil)
