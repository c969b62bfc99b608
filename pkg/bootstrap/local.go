package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// LocalExecutor runs commands on the instance the bootstrap coordinator
// itself is running on — kubeadm init/join/reset, certificate minting —
// as distinct from remoteexec.Adapter, which targets *other* instances
// over SSM (spec.md §4.3 runs locally at boot; §4.3.1 reaches out to a
// peer only for the token-generation protocol).
type LocalExecutor interface {
	Run(ctx context.Context, script string) (stdout, stderr string, err error)
}

// ShellExecutor runs scripts through /bin/sh -c, the teacher-grounded
// "just shell out" approach for local, already-trusted command bodies.
type ShellExecutor struct{}

func NewShellExecutor() ShellExecutor { return ShellExecutor{} }

func (ShellExecutor) Run(ctx context.Context, script string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("running local command: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

var _ LocalExecutor = ShellExecutor{}
