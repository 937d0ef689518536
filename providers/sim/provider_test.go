package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pv "github.com/oneclick-io/oneclick/pkg/provider"
)

func TestStackLifecycle(t *testing.T) {
	p := New()
	ctx := context.Background()

	_, err := p.Describe(ctx, "demo-network")
	assert.ErrorIs(t, err, pv.ErrStackNotFound)

	params := map[string]string{"VpcCidr": "10.0.0.0/16"}
	require.NoError(t, p.Create(ctx, "demo-network", "template", params, nil))

	// One in-progress phase, then terminal with outputs.
	desc, err := p.Describe(ctx, "demo-network")
	require.NoError(t, err)
	assert.Equal(t, "CREATE_IN_PROGRESS", desc.Status)

	desc, err = p.Describe(ctx, "demo-network")
	require.NoError(t, err)
	assert.Equal(t, "CREATE_COMPLETE", desc.Status)
	assert.NotEmpty(t, desc.Outputs["VpcId"])
	assert.NotEmpty(t, desc.Outputs["PublicSubnetIds"])

	// Re-applying identical parameters is a no-op.
	assert.ErrorIs(t, p.Update(ctx, "demo-network", "template", params, nil), pv.ErrNoChange)

	// Changed parameters start an update cycle.
	require.NoError(t, p.Update(ctx, "demo-network", "template", map[string]string{"VpcCidr": "10.1.0.0/16"}, nil))
	desc, err = p.Describe(ctx, "demo-network")
	require.NoError(t, err)
	assert.Equal(t, "UPDATE_IN_PROGRESS", desc.Status)
	desc, err = p.Describe(ctx, "demo-network")
	require.NoError(t, err)
	assert.Equal(t, "UPDATE_COMPLETE", desc.Status)

	// Deletion tails through in-progress and then the stack vanishes.
	require.NoError(t, p.Delete(ctx, "demo-network"))
	desc, err = p.Describe(ctx, "demo-network")
	require.NoError(t, err)
	assert.Equal(t, "DELETE_IN_PROGRESS", desc.Status)
	_, err = p.Describe(ctx, "demo-network")
	assert.ErrorIs(t, err, pv.ErrStackNotFound)
}

func TestFailStacks(t *testing.T) {
	p := New()
	ctx := context.Background()
	p.FailStacks["demo-cluster"] = "ROLLBACK_COMPLETE"

	require.NoError(t, p.Create(ctx, "demo-cluster", "template", nil, nil))
	_, err := p.Describe(ctx, "demo-cluster") // in-progress
	require.NoError(t, err)
	desc, err := p.Describe(ctx, "demo-cluster")
	require.NoError(t, err)
	assert.Equal(t, "ROLLBACK_COMPLETE", desc.Status)
}

func TestEventsAccumulate(t *testing.T) {
	p := New()
	ctx := context.Background()

	require.NoError(t, p.Create(ctx, "demo-compute", "template", nil, nil))
	events, err := p.Events(ctx, "demo-compute")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "CREATE_IN_PROGRESS", events[0].ResourceStatus)
	assert.Equal(t, "CREATE_COMPLETE", events[1].ResourceStatus)

	require.NoError(t, p.Delete(ctx, "demo-compute"))
	events, err = p.Events(ctx, "demo-compute")
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestDefaultCommandScript(t *testing.T) {
	p := New()
	ctx := context.Background()

	id, err := p.Submit(ctx, "i-abc", "AWS-RunShellScript", nil)
	require.NoError(t, err)

	inv, err := p.Poll(ctx, "i-abc", id)
	require.NoError(t, err)
	assert.Equal(t, "InProgress", inv.Status)
	assert.Equal(t, "1\n2\n3\n", inv.Stdout)

	inv, err = p.Poll(ctx, "i-abc", id)
	require.NoError(t, err)
	assert.Equal(t, "Success", inv.Status)
	assert.Equal(t, "1\n2\n3\n4\n5\n", inv.Stdout)

	// The terminal step holds.
	inv, err = p.Poll(ctx, "i-abc", id)
	require.NoError(t, err)
	assert.Equal(t, "Success", inv.Status)
}

func TestScriptedCommandFailure(t *testing.T) {
	p := New()
	p.CommandSteps = []CommandStep{{Status: "Failed", Stderr: "broker unreachable"}}
	ctx := context.Background()

	id, err := p.Submit(ctx, "i-abc", "AWS-RunShellScript", nil)
	require.NoError(t, err)
	inv, err := p.Poll(ctx, "i-abc", id)
	require.NoError(t, err)
	assert.Equal(t, "Failed", inv.Status)
	assert.Equal(t, "broker unreachable", inv.Stderr)
}

func TestResolveEndpoint(t *testing.T) {
	p := New()
	got, err := p.ResolveEndpoint(context.Background(), "arn:aws:kafka:sim-region-1:000000000000:cluster/demo/0000")
	require.NoError(t, err)
	assert.Equal(t, Endpoint, got)

	_, err = p.ResolveEndpoint(context.Background(), "")
	assert.Error(t, err)
}
