// Package pipeline sequences the fixed stack stages of a deployment,
// propagating each stage's outputs into the parameters of the next.
package pipeline

import (
	"context"
	"fmt"

	"github.com/oneclick-io/oneclick/internal/logging"
	"github.com/oneclick-io/oneclick/internal/stack"
)

// Pipeline runs the stage list forward for deploys and in reverse for
// teardowns. The first failing stage aborts the run; later stages never
// start.
type Pipeline struct {
	rec      *stack.Reconciler
	locks    *stack.Locks
	log      func(line string)
	progress func(pct int)
}

// New wires a pipeline over the given reconciler. The locks serialize
// concurrent operations touching the same stack names.
func New(rec *stack.Reconciler, locks *stack.Locks, log func(string), progress func(int)) *Pipeline {
	if log == nil {
		log = func(string) {}
	}
	if progress == nil {
		progress = func(int) {}
	}
	return &Pipeline{rec: rec, locks: locks, log: log, progress: progress}
}

// Deploy reconciles every stage in order and returns the outputs of each,
// keyed by stage suffix.
func (p *Pipeline) Deploy(ctx context.Context, in Input) (map[string]map[string]string, error) {
	p.log("Starting deployment")
	p.progress(5)

	outputs := make(map[string]map[string]string, len(Stages))
	for _, st := range Stages {
		name := StackName(in.BaseName, st.Suffix)
		out, err := p.reconcileLocked(ctx, name, st, in, outputs)
		if err != nil {
			return nil, err
		}
		outputs[st.Suffix] = out
		p.progress(st.Milestone)
		logging.Info("stage reconciled", "stack", name, "outputs", len(out))
	}
	return outputs, nil
}

// Teardown destroys every stage in reverse deploy order. Missing stacks are
// skipped by the reconciler, so a partial environment tears down cleanly.
func (p *Pipeline) Teardown(ctx context.Context, in Input) error {
	p.log("Starting teardown")
	for i := len(Stages) - 1; i >= 0; i-- {
		st := Stages[i]
		name := StackName(in.BaseName, st.Suffix)
		if err := p.destroyLocked(ctx, name); err != nil {
			return err
		}
		p.progress(st.TeardownMilestone)
		logging.Info("stage destroyed", "stack", name)
	}
	return nil
}

func (p *Pipeline) reconcileLocked(ctx context.Context, name string, st Stage, in Input, prior map[string]map[string]string) (map[string]string, error) {
	release := p.locks.Acquire(name)
	defer release()
	out, err := p.rec.Reconcile(ctx, name, st.template, st.params(in, prior))
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", st.Suffix, err)
	}
	return out, nil
}

func (p *Pipeline) destroyLocked(ctx context.Context, name string) error {
	release := p.locks.Acquire(name)
	defer release()
	return p.rec.Destroy(ctx, name)
}
