package platform

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
)

// NewAutoScalingClient builds the Auto Scaling client backing the
// lifecycle manager's completion call (spec.md §4.4 step 5).
func NewAutoScalingClient(cfg aws.Config) *autoscaling.Client {
	return autoscaling.NewFromConfig(cfg)
}
