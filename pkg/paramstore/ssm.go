package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMStore implements Store on AWS Systems Manager Parameter Store
// (spec.md §4.1, §6). Secure entries are written as SecureString under
// a caller-supplied KMS key; plain entries as String.
type SSMStore struct {
	client    *ssm.Client
	prefix    string // e.g. "/clusterkeeper/<cluster>"
	kmsKeyID  string
}

// NewSSMStore creates a parameter registry rooted at prefix.
func NewSSMStore(client *ssm.Client, prefix, kmsKeyID string) *SSMStore {
	return &SSMStore{client: client, prefix: prefix, kmsKeyID: kmsKeyID}
}

func (s *SSMStore) path(key string) string {
	return s.prefix + "/" + key
}

func (s *SSMStore) Get(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.path(key)),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("getting parameter %s: %w", key, err)
	}
	return aws.ToString(out.Parameter.Value), nil
}

func (s *SSMStore) Put(ctx context.Context, key, value string, secure bool) error {
	paramType := types.ParameterTypeString
	input := &ssm.PutParameterInput{
		Name:      aws.String(s.path(key)),
		Value:     aws.String(value),
		Overwrite: aws.Bool(true),
	}
	if secure {
		paramType = types.ParameterTypeSecureString
		if s.kmsKeyID != "" {
			input.KeyId = aws.String(s.kmsKeyID)
		}
	}
	input.Type = paramType

	_, err := s.client.PutParameter(ctx, input)
	if err != nil {
		return fmt.Errorf("putting parameter %s: %w", key, err)
	}
	return nil
}

func (s *SSMStore) GetAll(ctx context.Context) (map[string]string, error) {
	result := map[string]string{}
	var nextToken *string
	for {
		out, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
			Path:           aws.String(s.prefix),
			Recursive:      aws.Bool(true),
			WithDecryption: aws.Bool(true),
			NextToken:      nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing parameters under %s: %w", s.prefix, err)
		}
		for _, p := range out.Parameters {
			name := strings.TrimPrefix(aws.ToString(p.Name), s.prefix+"/")
			result[name] = aws.ToString(p.Value)
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return result, nil
}

var _ Store = (*SSMStore)(nil)
