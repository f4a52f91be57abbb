package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by ParamStore.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter resolves a named secret.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ParamStore reads SecureString parameters from SSM Parameter Store.
type ParamStore struct {
	api ssmAPI
}

// New creates a ParamStore with the given SSM API implementation.
func New(api ssmAPI) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &ParamStore{api: api}, nil
}

// NewFromRegion builds an SSM client from the default AWS configuration.
func NewFromRegion(ctx context.Context, region string) (*ParamStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return New(ssm.NewFromConfig(cfg))
}

func (p *ParamStore) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}

	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("secrets: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// Resolve returns the literal value when set, otherwise looks up the named
// parameter. Both empty yields an empty string.
func Resolve(ctx context.Context, g Getter, literal, param string) (string, error) {
	if literal != "" || param == "" {
		return literal, nil
	}
	if g == nil {
		return "", fmt.Errorf("secrets: parameter %q configured without a parameter store", param)
	}
	return g.GetParameter(ctx, param)
}
