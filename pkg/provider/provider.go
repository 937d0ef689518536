// Package provider defines the contracts the orchestration core consumes.
// Concrete backends (AWS, the simulator) live under providers/.
package provider

import (
	"context"
	"errors"
)

// ErrStackNotFound reports that a stack does not exist remotely. For the
// reconciler this is a normal branch, not a failure.
var ErrStackNotFound = errors.New("stack not found")

// ErrNoChange reports that an update had nothing to apply.
var ErrNoChange = errors.New("no changes to perform")

// StackDescription is the remotely observed state of a stack.
type StackDescription struct {
	Status  string
	Reason  string
	Outputs map[string]string
}

// StackEvent is a single provisioning event. Events are delivered oldest
// first.
type StackEvent struct {
	ID             string
	ResourceStatus string
	LogicalID      string
	Reason         string
}

// Invocation is the observed state of a submitted remote command.
type Invocation struct {
	Status string
	Stdout string
	Stderr string
}

// Stacks provisions named infrastructure stacks.
type Stacks interface {
	Describe(ctx context.Context, name string) (*StackDescription, error)
	Create(ctx context.Context, name, template string, params map[string]string, capabilities []string) error
	// Update returns ErrNoChange when the template and parameters match the
	// deployed stack.
	Update(ctx context.Context, name, template string, params map[string]string, capabilities []string) error
	Delete(ctx context.Context, name string) error
	Events(ctx context.Context, name string) ([]StackEvent, error)
}

// Commands executes remote commands on a target instance.
type Commands interface {
	Submit(ctx context.Context, target, document string, params map[string][]string) (string, error)
	Poll(ctx context.Context, target, invocationID string) (*Invocation, error)
}

// Directory resolves broker connection strings for a cluster.
type Directory interface {
	ResolveEndpoint(ctx context.Context, clusterID string) (string, error)
}

// Provider bundles the three backend contracts.
type Provider interface {
	Stacks() Stacks
	Commands() Commands
	Directory() Directory
}
