package remoteexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/wisbric/clusterkeeper/internal/logctx"
)

// SSMAdapter implements Adapter on top of AWS Systems Manager
// SendCommand/GetCommandInvocation, the standard way to run shell text on
// an EC2 instance without an inbound network path (spec.md §4.2).
type SSMAdapter struct {
	client *ssm.Client
}

// NewSSMAdapter creates an SSM-backed remote-exec Adapter.
func NewSSMAdapter(client *ssm.Client) *SSMAdapter {
	return &SSMAdapter{client: client}
}

func (a *SSMAdapter) Send(ctx context.Context, targetInstance, script string, timeout time.Duration) (Handle, error) {
	traceID := logctx.TraceID(ctx)
	if traceID == "" {
		traceID = logctx.NewTraceID()
	}

	out, err := a.client.SendCommand(ctx, &ssm.SendCommandInput{
		InstanceIds:  []string{targetInstance},
		DocumentName: aws.String("AWS-RunShellScript"),
		TimeoutSeconds: aws.Int32(int32(timeout.Seconds())),
		Parameters: map[string][]string{
			"commands": {script},
		},
		Comment: aws.String(fmt.Sprintf("clusterkeeper trace=%s", traceID)),
	})
	if err != nil {
		return Handle{}, fmt.Errorf("sending remote command to %s: %w", targetInstance, err)
	}

	return Handle{
		CommandID:  aws.ToString(out.Command.CommandId),
		InstanceID: targetInstance,
		TraceID:    traceID,
	}, nil
}

func (a *SSMAdapter) Await(ctx context.Context, h Handle, pollInterval time.Duration) (Result, error) {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	for {
		out, err := a.client.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
			CommandId:  aws.String(h.CommandID),
			InstanceId: aws.String(h.InstanceID),
		})
		if err != nil {
			var notYet *types.InvocationDoesNotExist
			if errors.As(err, &notYet) {
				// The invocation record may not have propagated yet; treat
				// as pending, not as an error (spec.md §4.2).
				select {
				case <-ctx.Done():
					return Result{}, ctx.Err()
				case <-time.After(pollInterval):
					continue
				}
			}
			return Result{}, fmt.Errorf("polling command %s: %w", h.CommandID, err)
		}

		status := mapStatus(out.Status)
		if !status.Terminal() {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(pollInterval):
				continue
			}
		}

		return Result{
			Status:   status,
			Stdout:   aws.ToString(out.StandardOutputContent),
			Stderr:   aws.ToString(out.StandardErrorContent),
			ExitCode: int(out.ResponseCode),
		}, nil
	}
}

func mapStatus(s types.CommandInvocationStatus) Status {
	switch s {
	case types.CommandInvocationStatusSuccess:
		return StatusSuccess
	case types.CommandInvocationStatusCancelled:
		return StatusCancelled
	case types.CommandInvocationStatusTimedOut:
		return StatusTimedOut
	case types.CommandInvocationStatusFailed:
		return StatusFailed
	case types.CommandInvocationStatusPending:
		return StatusPending
	default:
		return StatusInProgress
	}
}

// HasTransientMarker reports whether stderr contains a known-transient
// marker, used to override a Failed terminal status to retriable
// (spec.md §4.2, §7).
func HasTransientMarker(stderr string) bool {
	for _, marker := range KnownTransientMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

var _ Adapter = (*SSMAdapter)(nil)
