package remoteexec

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeAdapter is an in-memory Adapter for tests, avoiding a live SSM
// dependency (SPEC_FULL.md §2.1 ambient test-tooling note).
type FakeAdapter struct {
	mu       sync.Mutex
	seq      int
	Sent     []FakeCommand
	Results  map[string]Result // keyed by CommandID
	DefaultResult Result
}

// FakeCommand records a single Send call for assertions.
type FakeCommand struct {
	CommandID      string
	TargetInstance string
	Script         string
	Timeout        time.Duration
}

// NewFakeAdapter creates a FakeAdapter that returns DefaultResult for any
// command not explicitly seeded via Results.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		Results:       map[string]Result{},
		DefaultResult: Result{Status: StatusSuccess},
	}
}

func (f *FakeAdapter) Send(_ context.Context, targetInstance, script string, timeout time.Duration) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	cmd := FakeCommand{
		CommandID:      fmtCommandID(f.seq),
		TargetInstance: targetInstance,
		Script:         script,
		Timeout:        timeout,
	}
	f.Sent = append(f.Sent, cmd)
	return Handle{CommandID: cmd.CommandID, InstanceID: targetInstance}, nil
}

func (f *FakeAdapter) Await(_ context.Context, h Handle, _ time.Duration) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.Results[h.CommandID]; ok {
		return res, nil
	}
	return f.DefaultResult, nil
}

// SeedResult pre-registers the Result a future Await call for the nth
// (1-indexed) Sent command should return.
func (f *FakeAdapter) SeedResult(n int, res Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Results[fmtCommandID(n)] = res
}

func fmtCommandID(n int) string {
	return fmt.Sprintf("cmd-%d", n)
}

var _ Adapter = (*FakeAdapter)(nil)
