package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SecretProvider fetches secret values by parameter path. Deployed
// environments bind DATABASE_URL, JWT_SECRET, SENTINELHUB_CLIENT_SECRET,
// AGROMONITORING_API_KEY and STRIPE_SECRET_KEY this way.
type SecretProvider interface {
	// GetParametersBatch returns path -> value for every path found. Paths
	// the store does not know are simply absent from the map.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// ssmMaxBatchSize is the GetParameters API limit.
const ssmMaxBatchSize = 10

// ssmClient is the subset of *ssm.Client used here.
type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider reads SecureString parameters from AWS Systems Manager. The
// AWS client is created on first use so a deployment without bindings
// never loads AWS credentials.
type SSMProvider struct {
	region string

	once    sync.Once
	client  ssmClient
	initErr error
}

// NewSSMProvider returns a provider for the given region. An empty region
// falls back to the SDK's default chain.
func NewSSMProvider(region string) *SSMProvider {
	return &SSMProvider{region: region}
}

func newSSMProviderWithClient(region string, client ssmClient) *SSMProvider {
	p := &SSMProvider{region: region, client: client}
	p.once.Do(func() {})
	return p
}

func (p *SSMProvider) ensureClient(ctx context.Context) error {
	p.once.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if p.region != "" {
			opts = append(opts, awsconfig.WithRegion(p.region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			p.initErr = fmt.Errorf("loading AWS config for SSM: %w", err)
			return
		}
		p.client = ssm.NewFromConfig(awsCfg)
	})
	return p.initErr
}

// GetParametersBatch fetches keys in chunks of ten with decryption enabled.
// Any path reported invalid by SSM fails the whole call.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}

	var invalid []string
	for start := 0; start < len(keys); start += ssmMaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+ssmMaxBatchSize, len(keys))

		out, err := p.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          keys[start:end],
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("ssm GetParameters: %w", err)
		}
		for _, param := range out.Parameters {
			result[aws.ToString(param.Name)] = aws.ToString(param.Value)
		}
		invalid = append(invalid, out.InvalidParameters...)
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("ssm: invalid parameters: %s", strings.Join(invalid, ", "))
	}
	return result, nil
}
