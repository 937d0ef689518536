package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	pv "github.com/oneclick-io/oneclick/pkg/provider"
)

// ssmAPI is the slice of the SSM client the provider uses; tests substitute
// a fake.
type ssmAPI interface {
	SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, optFns ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error)
}

// Submit sends one Run Command invocation to the target instance and
// returns the command id.
func (p *Provider) Submit(ctx context.Context, target, document string, params map[string][]string) (string, error) {
	out, err := p.ssmClient.SendCommand(ctx, &ssm.SendCommandInput{
		InstanceIds:  []string{target},
		DocumentName: strPtr(document),
		Parameters:   params,
	})
	if err != nil {
		return "", fmt.Errorf("sending command to %s: %w", target, err)
	}
	if out.Command == nil || out.Command.CommandId == nil {
		return "", fmt.Errorf("send command to %s returned no command id", target)
	}
	return *out.Command.CommandId, nil
}

// Poll reports the invocation's status and captured output. An invocation
// SSM has not yet registered is reported as Pending rather than an error.
func (p *Provider) Poll(ctx context.Context, target, invocationID string) (*pv.Invocation, error) {
	var out *ssm.GetCommandInvocationOutput
	err := p.withRetry(ctx, func() error {
		var callErr error
		out, callErr = p.ssmClient.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
			CommandId:  strPtr(invocationID),
			InstanceId: strPtr(target),
		})
		return callErr
	})
	if err != nil {
		var notYet *types.InvocationDoesNotExist
		if errors.As(err, &notYet) {
			return &pv.Invocation{Status: "Pending"}, nil
		}
		return nil, fmt.Errorf("polling invocation %s: %w", invocationID, err)
	}

	inv := &pv.Invocation{Status: string(out.Status)}
	if out.StandardOutputContent != nil {
		inv.Stdout = *out.StandardOutputContent
	}
	if out.StandardErrorContent != nil {
		inv.Stderr = *out.StandardErrorContent
	}
	return inv, nil
}
