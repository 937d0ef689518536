// Package sim is a deterministic in-memory provider set. It backs
// --simulate runs, which exercise the whole orchestration path without AWS
// credentials, and doubles as the test double for the core packages.
package sim

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	pv "github.com/oneclick-io/oneclick/pkg/provider"
)

// Endpoint is the broker string every simulated cluster resolves to.
const Endpoint = "b-1.sim.kafka.local:9098,b-2.sim.kafka.local:9098"

// CommandStep scripts one poll of a simulated invocation.
type CommandStep struct {
	Status string
	Stdout string
	Stderr string
}

type simStack struct {
	status    string
	terminal  string
	remaining int // in-progress describes left before the terminal status
	deleting  bool
	params    string
	outputs   map[string]string
	events    []pv.StackEvent
}

type simInvocation struct {
	steps []CommandStep
	step  int
}

type Provider struct {
	// FailStacks maps a stack name to the terminal status its next
	// reconciliation should reach instead of completing.
	FailStacks map[string]string
	// CommandSteps overrides the default two-poll "1".."5" script.
	CommandSteps []CommandStep

	mu          sync.Mutex
	stacks      map[string]*simStack
	invocations map[string]*simInvocation
	seq         int
}

func New() *Provider {
	return &Provider{
		FailStacks:  make(map[string]string),
		stacks:      make(map[string]*simStack),
		invocations: make(map[string]*simInvocation),
	}
}

func (p *Provider) Stacks() pv.Stacks       { return p }
func (p *Provider) Commands() pv.Commands   { return p }
func (p *Provider) Directory() pv.Directory { return p }

// Describe advances the simulated stack one step per call so poll loops
// observe an in-progress phase before the terminal status.
func (p *Provider) Describe(ctx context.Context, name string) (*pv.StackDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.stacks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pv.ErrStackNotFound, name)
	}
	if st.remaining > 0 {
		st.remaining--
		return &pv.StackDescription{Status: st.status, Outputs: map[string]string{}}, nil
	}
	if st.deleting {
		delete(p.stacks, name)
		return nil, fmt.Errorf("%w: %s", pv.ErrStackNotFound, name)
	}
	st.status = st.terminal
	return &pv.StackDescription{Status: st.terminal, Outputs: st.outputs}, nil
}

func (p *Provider) Create(ctx context.Context, name, template string, params map[string]string, capabilities []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.stacks[name]; exists {
		return fmt.Errorf("stack %s already exists", name)
	}
	terminal := "CREATE_COMPLETE"
	if failed, ok := p.FailStacks[name]; ok {
		terminal = failed
	}
	p.stacks[name] = &simStack{
		status:    "CREATE_IN_PROGRESS",
		terminal:  terminal,
		remaining: 1,
		params:    paramsKey(params),
		outputs:   stackOutputs(name),
		events:    stackEvents(name, "CREATE"),
	}
	return nil
}

func (p *Provider) Update(ctx context.Context, name, template string, params map[string]string, capabilities []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.stacks[name]
	if !ok {
		return fmt.Errorf("%w: %s", pv.ErrStackNotFound, name)
	}
	if st.params == paramsKey(params) {
		return pv.ErrNoChange
	}
	terminal := "UPDATE_COMPLETE"
	if failed, ok := p.FailStacks[name]; ok {
		terminal = failed
	}
	st.params = paramsKey(params)
	st.status = "UPDATE_IN_PROGRESS"
	st.terminal = terminal
	st.remaining = 1
	st.events = append(st.events, stackEvents(name, "UPDATE")...)
	return nil
}

func (p *Provider) Delete(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.stacks[name]
	if !ok {
		return fmt.Errorf("%w: %s", pv.ErrStackNotFound, name)
	}
	st.deleting = true
	st.status = "DELETE_IN_PROGRESS"
	st.remaining = 1
	st.events = append(st.events, stackEvents(name, "DELETE")...)
	return nil
}

func (p *Provider) Events(ctx context.Context, name string) ([]pv.StackEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.stacks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pv.ErrStackNotFound, name)
	}
	return append([]pv.StackEvent(nil), st.events...), nil
}

// Submit registers a scripted invocation.
func (p *Provider) Submit(ctx context.Context, target, document string, params map[string][]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("sim-cmd-%d", p.seq)
	steps := p.CommandSteps
	if len(steps) == 0 {
		steps = []CommandStep{
			{Status: "InProgress", Stdout: "1\n2\n3\n"},
			{Status: "Success", Stdout: "1\n2\n3\n4\n5\n"},
		}
	}
	p.invocations[id] = &simInvocation{steps: steps}
	return id, nil
}

// Poll replays the invocation's script one step per call, holding the final
// step once the script is exhausted.
func (p *Provider) Poll(ctx context.Context, target, invocationID string) (*pv.Invocation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inv, ok := p.invocations[invocationID]
	if !ok {
		return nil, fmt.Errorf("unknown invocation %s", invocationID)
	}
	step := inv.steps[inv.step]
	if inv.step < len(inv.steps)-1 {
		inv.step++
	}
	return &pv.Invocation{Status: step.Status, Stdout: step.Stdout, Stderr: step.Stderr}, nil
}

func (p *Provider) ResolveEndpoint(ctx context.Context, clusterID string) (string, error) {
	if clusterID == "" {
		return "", fmt.Errorf("empty cluster id")
	}
	return Endpoint, nil
}

// paramsKey is a canonical rendering of a parameter set, used to decide
// whether an update changes anything.
func paramsKey(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s;", k, params[k])
	}
	return b.String()
}

// stackOutputs fabricates the well-known outputs of each stage by its name
// suffix.
func stackOutputs(name string) map[string]string {
	base := name
	suffix := ""
	if i := strings.LastIndex(name, "-"); i >= 0 {
		base, suffix = name[:i], name[i+1:]
	}
	switch suffix {
	case "network":
		return map[string]string{
			"VpcId":                  "vpc-0sim" + base,
			"PublicSubnetIds":        "subnet-0sima,subnet-0simb",
			"ClusterSecurityGroupId": "sg-0sim" + base,
		}
	case "cluster":
		return map[string]string{
			"ClusterArn": fmt.Sprintf("arn:aws:kafka:sim-region-1:000000000000:cluster/%s/0000", base),
		}
	case "compute":
		return map[string]string{
			"InstanceId":         "i-0123456789abcdef0",
			"InstanceProfileArn": fmt.Sprintf("arn:aws:iam::000000000000:instance-profile/%s", name),
		}
	case "automation":
		return map[string]string{
			"SmokeTestDocumentName": name + "-smoke-test",
		}
	default:
		return map[string]string{}
	}
}

func stackEvents(name, action string) []pv.StackEvent {
	return []pv.StackEvent{
		{ID: name + "-" + action + "-1", ResourceStatus: action + "_IN_PROGRESS", LogicalID: name, Reason: "User Initiated"},
		{ID: name + "-" + action + "-2", ResourceStatus: action + "_COMPLETE", LogicalID: name},
	}
}
