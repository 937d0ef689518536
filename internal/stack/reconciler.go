package stack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oneclick-io/oneclick/internal/logging"
	"github.com/oneclick-io/oneclick/internal/poll"
	"github.com/oneclick-io/oneclick/pkg/provider"
)

// EventPollInterval is how often the event feed of an in-flight stack is
// polled.
const EventPollInterval = 5 * time.Second

// Reconciler drives one stack to its desired state: create it if absent,
// update it if present, then tail its event feed until the stack reaches a
// terminal status.
type Reconciler struct {
	stacks       provider.Stacks
	policy       poll.Policy
	capabilities []string
	log          func(line string)
}

// New returns a reconciler emitting progress lines through log.
func New(stacks provider.Stacks, policy poll.Policy, capabilities []string, log func(string)) *Reconciler {
	if log == nil {
		log = func(string) {}
	}
	return &Reconciler{stacks: stacks, policy: policy, capabilities: capabilities, log: log}
}

// Reconcile creates or updates the named stack and returns its outputs.
// When the update has nothing to apply, the stack's current outputs are
// returned immediately without event tailing.
func (r *Reconciler) Reconcile(ctx context.Context, name, template string, params map[string]string) (map[string]string, error) {
	desc, err := r.stacks.Describe(ctx, name)
	switch {
	case errors.Is(err, provider.ErrStackNotFound):
		r.log(fmt.Sprintf("Creating stack %s", name))
		if err := r.stacks.Create(ctx, name, template, params, r.capabilities); err != nil {
			return nil, fmt.Errorf("creating stack %s: %w", name, err)
		}
	case err != nil:
		// A failed existence check is fatal; only a definite not-found
		// selects the create branch.
		return nil, fmt.Errorf("describing stack %s: %w", name, err)
	default:
		err := r.stacks.Update(ctx, name, template, params, r.capabilities)
		if errors.Is(err, provider.ErrNoChange) {
			r.log(fmt.Sprintf("No changes for stack %s", name))
			return desc.Outputs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("updating stack %s: %w", name, err)
		}
		r.log(fmt.Sprintf("Updating stack %s", name))
	}

	if err := r.tail(ctx, name, false); err != nil {
		return nil, err
	}

	desc, err = r.stacks.Describe(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("reading outputs of stack %s: %w", name, err)
	}
	return desc.Outputs, nil
}

// Destroy deletes the named stack and tails events until it is gone. A
// stack that never existed is logged and skipped, not an error.
func (r *Reconciler) Destroy(ctx context.Context, name string) error {
	_, err := r.stacks.Describe(ctx, name)
	if errors.Is(err, provider.ErrStackNotFound) {
		r.log(fmt.Sprintf("Stack %s not found, skipping", name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("describing stack %s: %w", name, err)
	}

	r.log(fmt.Sprintf("Deleting stack %s", name))
	if err := r.stacks.Delete(ctx, name); err != nil {
		return fmt.Errorf("deleting stack %s: %w", name, err)
	}
	return r.tail(ctx, name, true)
}

// tail polls the stack's event feed, emitting each unseen event once, until
// the stack status classifies terminal. During deletion a vanished stack
// counts as success.
func (r *Reconciler) tail(ctx context.Context, name string, deleting bool) error {
	seen := make(map[string]bool)
	return r.policy.Run(ctx, func(ctx context.Context) (bool, error) {
		events, err := r.stacks.Events(ctx, name)
		if err != nil && !(deleting && errors.Is(err, provider.ErrStackNotFound)) {
			return false, fmt.Errorf("listing events of stack %s: %w", name, err)
		}
		for _, ev := range events {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			r.log(strings.TrimSpace(fmt.Sprintf("%s %s %s", ev.ResourceStatus, ev.LogicalID, ev.Reason)))
		}

		desc, err := r.stacks.Describe(ctx, name)
		if errors.Is(err, provider.ErrStackNotFound) {
			if deleting {
				return true, nil
			}
			return false, fmt.Errorf("stack %s vanished while tailing events", name)
		}
		if err != nil {
			return false, fmt.Errorf("describing stack %s: %w", name, err)
		}

		result, err := Classify(desc.Status)
		if err != nil {
			return false, fmt.Errorf("stack %s: %w", name, err)
		}
		switch result {
		case Success:
			return true, nil
		case Failure:
			return false, &TerminalError{Name: name, Status: desc.Status, Reason: desc.Reason}
		default:
			logging.Debug("stack still in progress", "stack", name, "status", desc.Status)
			return false, nil
		}
	})
}
