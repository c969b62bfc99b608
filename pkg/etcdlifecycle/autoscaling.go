package etcdlifecycle

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
)

// AutoScalingCompleter implements LifecycleCompleter on AWS Auto
// Scaling's CompleteLifecycleAction API.
type AutoScalingCompleter struct {
	client *autoscaling.Client
}

// NewAutoScalingCompleter creates an AWS-backed LifecycleCompleter.
func NewAutoScalingCompleter(client *autoscaling.Client) *AutoScalingCompleter {
	return &AutoScalingCompleter{client: client}
}

func (c *AutoScalingCompleter) CompleteLifecycleAction(ctx context.Context, req CompleteRequest) error {
	input := &autoscaling.CompleteLifecycleActionInput{
		AutoScalingGroupName:  aws.String(req.GroupName),
		LifecycleHookName:     aws.String(req.HookName),
		LifecycleActionResult: aws.String(string(req.Result)),
		InstanceId:            aws.String(req.InstanceID),
	}
	if req.ActionToken != "" {
		input.LifecycleActionToken = aws.String(req.ActionToken)
	}

	_, err := c.client.CompleteLifecycleAction(ctx, input)
	if err != nil {
		return fmt.Errorf("completing lifecycle action for %s: %w", req.InstanceID, err)
	}
	return nil
}

var _ LifecycleCompleter = (*AutoScalingCompleter)(nil)
