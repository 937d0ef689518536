// Package aws implements the provisioning, command-execution and directory
// contracts on CloudFormation, SSM Run Command and MSK.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/kafka"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/oneclick-io/oneclick/internal/poll"
	pv "github.com/oneclick-io/oneclick/pkg/provider"
)

type Provider struct {
	cfnClient   cloudFormationAPI
	ssmClient   ssmAPI
	kafkaClient kafkaAPI
	retry       *poll.RetryPolicy
}

// New loads the shared AWS configuration for the given profile and region
// and builds the service clients.
func New(ctx context.Context, profile, region string) (*Provider, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return &Provider{
		cfnClient:   cloudformation.NewFromConfig(cfg),
		ssmClient:   ssm.NewFromConfig(cfg),
		kafkaClient: kafka.NewFromConfig(cfg),
		retry:       poll.DefaultRetryPolicy(),
	}, nil
}

func (p *Provider) Stacks() pv.Stacks       { return p }
func (p *Provider) Commands() pv.Commands   { return p }
func (p *Provider) Directory() pv.Directory { return p }

// withRetry runs a read-only API call, retrying throttles and other
// transient failures. Mutating calls are never retried here since they are
// not idempotent.
func (p *Provider) withRetry(ctx context.Context, fn func() error) error {
	return poll.RetryWithBackoff(ctx, p.retry, fn, poll.IsTransientError)
}

func strPtr(s string) *string { return &s }
