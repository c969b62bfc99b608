package platform

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// NewKMSClient builds the KMS client used to validate the configured
// parameter-encryption key at startup.
func NewKMSClient(cfg aws.Config) *kms.Client {
	return kms.NewFromConfig(cfg)
}

// VerifyKeyUsable confirms keyID exists and is enabled before the
// control plane starts writing SecureString parameters against it.
func VerifyKeyUsable(ctx context.Context, client *kms.Client, keyID string) error {
	out, err := client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return fmt.Errorf("describing KMS key %s: %w", keyID, err)
	}
	if out.KeyMetadata.KeyState != "Enabled" {
		return fmt.Errorf("KMS key %s is not enabled (state=%s)", keyID, out.KeyMetadata.KeyState)
	}
	return nil
}
