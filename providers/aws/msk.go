package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/kafka"
)

// kafkaAPI is the slice of the Kafka client the provider uses; tests
// substitute a fake.
type kafkaAPI interface {
	GetBootstrapBrokers(ctx context.Context, params *kafka.GetBootstrapBrokersInput, optFns ...func(*kafka.Options)) (*kafka.GetBootstrapBrokersOutput, error)
}

// ResolveEndpoint returns the cluster's bootstrap broker string, preferring
// IAM brokers since the provisioned cluster authenticates clients with IAM.
func (p *Provider) ResolveEndpoint(ctx context.Context, clusterID string) (string, error) {
	var out *kafka.GetBootstrapBrokersOutput
	err := p.withRetry(ctx, func() error {
		var callErr error
		out, callErr = p.kafkaClient.GetBootstrapBrokers(ctx, &kafka.GetBootstrapBrokersInput{
			ClusterArn: strPtr(clusterID),
		})
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("getting bootstrap brokers for %s: %w", clusterID, err)
	}

	for _, brokers := range []*string{
		out.BootstrapBrokerStringSaslIam,
		out.BootstrapBrokerStringTls,
		out.BootstrapBrokerString,
	} {
		if brokers != nil && *brokers != "" {
			return *brokers, nil
		}
	}
	return "", fmt.Errorf("cluster %s has no bootstrap brokers yet", clusterID)
}
