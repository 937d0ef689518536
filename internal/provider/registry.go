// Package provider manages the lifecycle of backend providers.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/oneclick-io/oneclick/providers/aws"
	"github.com/oneclick-io/oneclick/providers/sim"

	pv "github.com/oneclick-io/oneclick/pkg/provider"
)

// Registry caches initialized providers. AWS providers are keyed by profile
// and region, so operations targeting different accounts or regions each get
// clients bound to their own credentials; the simulator is one shared
// instance so stack state survives across operations.
type Registry struct {
	mu        sync.Mutex
	providers map[string]pv.Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]pv.Provider),
	}
}

// Resolve returns the named provider bound to the given profile and region,
// initializing it on first use.
func (r *Registry) Resolve(ctx context.Context, name, profile, region string) (pv.Provider, error) {
	key := name + "|" + profile + "|" + region

	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "sim" {
		key = "sim"
	}
	if p, ok := r.providers[key]; ok {
		return p, nil
	}

	var p pv.Provider
	switch name {
	case "aws":
		awsProv, err := aws.New(ctx, profile, region)
		if err != nil {
			return nil, err
		}
		p = awsProv
	case "sim":
		p = sim.New()
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[key] = p
	return p, nil
}

// Source binds a registry to one provider name. It resolves the backend for
// each operation from that operation's profile and region.
type Source struct {
	registry *Registry
	name     string
}

func NewSource(registry *Registry, name string) *Source {
	return &Source{registry: registry, name: name}
}

func (s *Source) Provider(ctx context.Context, profile, region string) (pv.Provider, error) {
	return s.registry.Resolve(ctx, s.name, profile, region)
}
