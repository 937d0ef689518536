package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"

	"github.com/oneclick-io/oneclick/internal/logging"
	"github.com/oneclick-io/oneclick/internal/poll"
	pv "github.com/oneclick-io/oneclick/pkg/provider"
)

// changeSetPoll is how often a staged change set is checked for a terminal
// state.
const changeSetPoll = 3 * time.Second

// cloudFormationAPI is the slice of the CloudFormation client the provider
// uses; tests substitute a fake.
type cloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	CreateChangeSet(ctx context.Context, params *cloudformation.CreateChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error)
	DescribeChangeSet(ctx context.Context, params *cloudformation.DescribeChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error)
	ExecuteChangeSet(ctx context.Context, params *cloudformation.ExecuteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ExecuteChangeSetOutput, error)
	DeleteChangeSet(ctx context.Context, params *cloudformation.DeleteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteChangeSetOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
}

// Describe reports the stack's current status and outputs.
// pv.ErrStackNotFound distinguishes a definite not-found from transient
// describe failures.
func (p *Provider) Describe(ctx context.Context, name string) (*pv.StackDescription, error) {
	var out *cloudformation.DescribeStacksOutput
	err := p.withRetry(ctx, func() error {
		var callErr error
		out, callErr = p.cfnClient.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
			StackName: strPtr(name),
		})
		return callErr
	})
	if err != nil {
		if isStackMissing(err) {
			return nil, fmt.Errorf("%w: %s", pv.ErrStackNotFound, name)
		}
		return nil, fmt.Errorf("describing stack %s: %w", name, err)
	}
	if len(out.Stacks) == 0 {
		return nil, fmt.Errorf("%w: %s", pv.ErrStackNotFound, name)
	}

	st := out.Stacks[0]
	desc := &pv.StackDescription{
		Status:  string(st.StackStatus),
		Outputs: make(map[string]string, len(st.Outputs)),
	}
	if st.StackStatusReason != nil {
		desc.Reason = *st.StackStatusReason
	}
	for _, o := range st.Outputs {
		if o.OutputKey != nil && o.OutputValue != nil {
			desc.Outputs[*o.OutputKey] = *o.OutputValue
		}
	}
	return desc, nil
}

// Create issues the stack create request. Completion is observed through
// Describe and Events, not here.
func (p *Provider) Create(ctx context.Context, name, template string, params map[string]string, capabilities []string) error {
	_, err := p.cfnClient.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    strPtr(name),
		TemplateBody: strPtr(template),
		Parameters:   cfnParameters(params),
		Capabilities: cfnCapabilities(capabilities),
	})
	if err != nil {
		return fmt.Errorf("creating stack %s: %w", name, err)
	}
	return nil
}

// Update stages a change set, waits for it to settle, and executes it. A
// change set that contains no changes is discarded and reported as
// pv.ErrNoChange.
func (p *Provider) Update(ctx context.Context, name, template string, params map[string]string, capabilities []string) error {
	changeSet := fmt.Sprintf("oneclick-%d", time.Now().UnixNano())
	_, err := p.cfnClient.CreateChangeSet(ctx, &cloudformation.CreateChangeSetInput{
		StackName:     strPtr(name),
		ChangeSetName: strPtr(changeSet),
		TemplateBody:  strPtr(template),
		Parameters:    cfnParameters(params),
		Capabilities:  cfnCapabilities(capabilities),
		ChangeSetType: types.ChangeSetTypeUpdate,
	})
	if err != nil {
		if isNoChange(err) {
			return pv.ErrNoChange
		}
		return fmt.Errorf("staging change set for stack %s: %w", name, err)
	}

	var status types.ChangeSetStatus
	var reason string
	err = poll.NewPolicy(changeSetPoll).Run(ctx, func(ctx context.Context) (bool, error) {
		out, descErr := p.cfnClient.DescribeChangeSet(ctx, &cloudformation.DescribeChangeSetInput{
			StackName:     strPtr(name),
			ChangeSetName: strPtr(changeSet),
		})
		if descErr != nil {
			return false, fmt.Errorf("describing change set %s: %w", changeSet, descErr)
		}
		status = out.Status
		if out.StatusReason != nil {
			reason = *out.StatusReason
		}
		switch status {
		case types.ChangeSetStatusCreateComplete, types.ChangeSetStatusFailed:
			return true, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return err
	}

	if status == types.ChangeSetStatusFailed {
		if _, delErr := p.cfnClient.DeleteChangeSet(ctx, &cloudformation.DeleteChangeSetInput{
			StackName:     strPtr(name),
			ChangeSetName: strPtr(changeSet),
		}); delErr != nil {
			logging.Warn("failed to delete change set", "stack", name, "changeSet", changeSet, "error", delErr)
		}
		if strings.Contains(reason, "didn't contain changes") || strings.Contains(reason, "No updates are to be performed") {
			return pv.ErrNoChange
		}
		return fmt.Errorf("change set %s failed: %s", changeSet, reason)
	}

	_, err = p.cfnClient.ExecuteChangeSet(ctx, &cloudformation.ExecuteChangeSetInput{
		StackName:     strPtr(name),
		ChangeSetName: strPtr(changeSet),
	})
	if err != nil {
		return fmt.Errorf("executing change set %s: %w", changeSet, err)
	}
	return nil
}

// Delete issues the stack delete request.
func (p *Provider) Delete(ctx context.Context, name string) error {
	_, err := p.cfnClient.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: strPtr(name),
	})
	if err != nil {
		return fmt.Errorf("deleting stack %s: %w", name, err)
	}
	return nil
}

// Events returns the stack's event feed oldest first.
func (p *Provider) Events(ctx context.Context, name string) ([]pv.StackEvent, error) {
	var out *cloudformation.DescribeStackEventsOutput
	err := p.withRetry(ctx, func() error {
		var callErr error
		out, callErr = p.cfnClient.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
			StackName: strPtr(name),
		})
		return callErr
	})
	if err != nil {
		if isStackMissing(err) {
			return nil, fmt.Errorf("%w: %s", pv.ErrStackNotFound, name)
		}
		return nil, fmt.Errorf("listing events of stack %s: %w", name, err)
	}

	// CloudFormation returns newest first; the contract is chronological.
	events := make([]pv.StackEvent, 0, len(out.StackEvents))
	for i := len(out.StackEvents) - 1; i >= 0; i-- {
		ev := out.StackEvents[i]
		e := pv.StackEvent{ResourceStatus: string(ev.ResourceStatus)}
		if ev.EventId != nil {
			e.ID = *ev.EventId
		}
		if ev.LogicalResourceId != nil {
			e.LogicalID = *ev.LogicalResourceId
		}
		if ev.ResourceStatusReason != nil {
			e.Reason = *ev.ResourceStatusReason
		}
		events = append(events, e)
	}
	return events, nil
}

// isStackMissing inspects the semantic content of a DescribeStacks error:
// CloudFormation signals a missing stack as a ValidationError whose message
// says the stack does not exist, which must not be confused with transient
// call failures.
func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" &&
		strings.Contains(apiErr.ErrorMessage(), "does not exist")
}

func isNoChange(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
}

func cfnParameters(params map[string]string) []types.Parameter {
	out := make([]types.Parameter, 0, len(params))
	for k, v := range params {
		out = append(out, types.Parameter{
			ParameterKey:   strPtr(k),
			ParameterValue: strPtr(v),
		})
	}
	return out
}

func cfnCapabilities(capabilities []string) []types.Capability {
	out := make([]types.Capability, 0, len(capabilities))
	for _, c := range capabilities {
		out = append(out, types.Capability(c))
	}
	return out
}
