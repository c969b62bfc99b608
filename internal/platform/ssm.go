package platform

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// NewSSMClient builds the SSM client backing both pkg/paramstore
// (Parameter Store) and pkg/remoteexec (SendCommand/GetCommandInvocation)
// — the same service account, two capabilities.
func NewSSMClient(cfg aws.Config) *ssm.Client {
	return ssm.NewFromConfig(cfg)
}
