// Package platform wires the concrete AWS SDK clients the cluster
// control plane runs against: DynamoDB for locks/members, Parameter
// Store and SSM for remote-exec, S3 for snapshots.
package platform

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// LoadAWSConfig resolves credentials via the SDK's standard chain
// (environment, shared config, IMDS) for the given region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}
