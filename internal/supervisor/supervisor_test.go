package supervisor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneclick-io/oneclick/internal/ops"
	"github.com/oneclick-io/oneclick/internal/pipeline"
	"github.com/oneclick-io/oneclick/internal/poll"
	"github.com/oneclick-io/oneclick/pkg/provider"
	"github.com/oneclick-io/oneclick/providers/sim"
)

func instantPolicy() poll.Policy {
	return poll.Policy{
		Interval: time.Second,
		Timeout:  time.Minute,
		Sleep:    func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

func testConfig() Config {
	return Config{
		EventPoll:        instantPolicy(),
		CommandPoll:      instantPolicy(),
		OperationTimeout: time.Minute,
	}
}

func newTestSupervisor(prov provider.Provider) (*Supervisor, *ops.Registry) {
	reg := ops.NewRegistry()
	return New(reg, Fixed(prov), testConfig()), reg
}

func finished(t *testing.T, sup *Supervisor, reg *ops.Registry, id string) *ops.View {
	t.Helper()
	sup.Drain()
	v, err := reg.Read(id, 0)
	require.NoError(t, err)
	require.True(t, v.Status.Terminal(), "operation still %s", v.Status)
	return v
}

func demoInput() pipeline.Input {
	return pipeline.Input{BaseName: "demo", Region: "ap-south-1"}
}

func TestDeploy_Succeeds(t *testing.T) {
	sup, reg := newTestSupervisor(sim.New())

	id := sup.Deploy(demoInput())
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusSucceeded, v.Status)
	assert.Equal(t, 100, v.Progress)
	assert.Contains(t, v.Lines, "Starting deployment")
	assert.Contains(t, v.Lines, "Resolving bootstrap brokers")
	assert.Contains(t, v.Lines, "Deployment complete")

	assert.Equal(t, sim.Endpoint, v.Outputs["BootstrapBrokers"])
	assert.Equal(t, "i-0123456789abcdef0", v.Outputs["Ec2InstanceId"])
	assert.Contains(t, v.Outputs["ClusterArn"], "arn:aws:kafka:")
	assert.Nil(t, v.Failure)
}

func TestDeploy_StackFailureFailsOperation(t *testing.T) {
	prov := sim.New()
	prov.FailStacks["demo-cluster"] = "CREATE_FAILED"
	sup, reg := newTestSupervisor(prov)

	id := sup.Deploy(demoInput())
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusFailed, v.Status)
	require.NotNil(t, v.Failure)
	assert.Contains(t, v.Failure.Message, "CREATE_FAILED")
	assert.Equal(t, "CREATE_FAILED", v.Failure.Status)
	assert.Contains(t, v.Lines[len(v.Lines)-1], "Error: ")
	assert.Nil(t, v.Outputs)
}

func TestProviderResolvedFromOperationInput(t *testing.T) {
	var gotProfile, gotRegion string
	prov := sim.New()
	src := SourceFunc(func(ctx context.Context, profile, region string) (provider.Provider, error) {
		gotProfile, gotRegion = profile, region
		return prov, nil
	})
	reg := ops.NewRegistry()
	sup := New(reg, src, testConfig())

	id := sup.Deploy(pipeline.Input{BaseName: "demo", Profile: "qa", Region: "eu-west-1"})
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusSucceeded, v.Status)
	assert.Equal(t, "qa", gotProfile)
	assert.Equal(t, "eu-west-1", gotRegion)
}

func TestProviderLoadFailureFailsOperation(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, profile, region string) (provider.Provider, error) {
		return nil, fmt.Errorf("profile %s not configured", profile)
	})
	reg := ops.NewRegistry()
	sup := New(reg, src, testConfig())

	id := sup.Deploy(pipeline.Input{BaseName: "demo", Profile: "missing"})
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusFailed, v.Status)
	require.NotNil(t, v.Failure)
	assert.Contains(t, v.Failure.Message, "profile missing not configured")
}

func TestTest_WithoutDeployFails(t *testing.T) {
	sup, reg := newTestSupervisor(sim.New())

	id := sup.Test(TestInput{Input: demoInput()})
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusFailed, v.Status)
	require.NotNil(t, v.Failure)
	assert.Contains(t, v.Failure.Message, "not deployed, run deploy first")
}

func TestTest_AfterDeployProducesMessages(t *testing.T) {
	prov := sim.New()
	sup, reg := newTestSupervisor(prov)

	finished(t, sup, reg, sup.Deploy(demoInput()))

	id := sup.Test(TestInput{Input: demoInput()})
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusSucceeded, v.Status)
	assert.Contains(t, v.Lines, "Running setup")
	assert.Contains(t, v.Lines, "Test complete")
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, v.Outputs["messages"])
	assert.Equal(t, DefaultTopic, v.Outputs["topic"])
}

func TestTest_CustomTopic(t *testing.T) {
	prov := sim.New()
	sup, reg := newTestSupervisor(prov)

	finished(t, sup, reg, sup.Deploy(demoInput()))

	id := sup.Test(TestInput{Input: demoInput(), Topic: "orders"})
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusSucceeded, v.Status)
	assert.Equal(t, "orders", v.Outputs["topic"])
}

func TestTeardown_RemovesStacks(t *testing.T) {
	prov := sim.New()
	sup, reg := newTestSupervisor(prov)

	finished(t, sup, reg, sup.Deploy(demoInput()))

	id := sup.Teardown(demoInput())
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusSucceeded, v.Status)
	assert.Contains(t, v.Lines, "Teardown complete")

	_, err := prov.Stacks().Describe(context.Background(), "demo-cluster")
	assert.ErrorIs(t, err, provider.ErrStackNotFound)
}

func TestTeardown_FreshEnvironmentSkips(t *testing.T) {
	sup, reg := newTestSupervisor(sim.New())

	id := sup.Teardown(demoInput())
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusSucceeded, v.Status)
	assert.Contains(t, v.Lines, "Stack demo-network not found, skipping")
}

func TestAbort_FailsWithAbortReason(t *testing.T) {
	sup, reg := newTestSupervisor(stuck{sim.New()})

	id := sup.Deploy(demoInput())
	require.NoError(t, sup.Abort(id))
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusFailed, v.Status)
	require.NotNil(t, v.Failure)
	assert.Equal(t, "operation aborted", v.Failure.Message)
}

func TestAbort_UnknownOperation(t *testing.T) {
	sup, _ := newTestSupervisor(sim.New())
	assert.ErrorIs(t, sup.Abort("nope"), ops.ErrNotFound)
}

func TestOperationTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.OperationTimeout = 5 * time.Millisecond
	cfg.EventPoll.Sleep = func(ctx context.Context, d time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}
	reg := ops.NewRegistry()
	sup := New(reg, Fixed(stuck{sim.New()}), cfg)

	id := sup.Deploy(demoInput())
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusFailed, v.Status)
	require.NotNil(t, v.Failure)
	assert.Contains(t, v.Failure.Message, "operation timed out after")
}

func TestPanicIsTrapped(t *testing.T) {
	sup, reg := newTestSupervisor(panicky{sim.New()})

	id := sup.Deploy(demoInput())
	v := finished(t, sup, reg, id)

	assert.Equal(t, ops.StatusFailed, v.Status)
	require.NotNil(t, v.Failure)
	assert.Contains(t, v.Failure.Message, "panic:")
}

func TestShutdown_AbortsInFlight(t *testing.T) {
	sup, reg := newTestSupervisor(stuck{sim.New()})

	id := sup.Deploy(demoInput())
	sup.Shutdown()

	v, err := reg.Read(id, 0)
	require.NoError(t, err)
	assert.Equal(t, ops.StatusFailed, v.Status)
}

// stuck wraps a provider with stacks that never leave CREATE_IN_PROGRESS.
type stuck struct {
	provider.Provider
}

func (s stuck) Stacks() provider.Stacks { return stuckStacks{} }

type stuckStacks struct{}

func (stuckStacks) Describe(ctx context.Context, name string) (*provider.StackDescription, error) {
	return &provider.StackDescription{Status: "CREATE_IN_PROGRESS"}, nil
}

func (stuckStacks) Create(ctx context.Context, name, template string, params map[string]string, capabilities []string) error {
	return nil
}

func (stuckStacks) Update(ctx context.Context, name, template string, params map[string]string, capabilities []string) error {
	return nil
}

func (stuckStacks) Delete(ctx context.Context, name string) error { return nil }

func (stuckStacks) Events(ctx context.Context, name string) ([]provider.StackEvent, error) {
	return nil, nil
}

// panicky wraps a provider with stacks whose existence check panics.
type panicky struct {
	provider.Provider
}

func (p panicky) Stacks() provider.Stacks { return panickyStacks{} }

type panickyStacks struct {
	stuckStacks
}

func (panickyStacks) Describe(ctx context.Context, name string) (*provider.StackDescription, error) {
	panic("wiring gone bad")
}
