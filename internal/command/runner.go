// Package command runs one remote command invocation to completion,
// surfacing its output incrementally as log lines.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oneclick-io/oneclick/internal/poll"
	"github.com/oneclick-io/oneclick/pkg/provider"
)

// PollInterval is how often an in-flight invocation is polled.
const PollInterval = 2 * time.Second

// Statuses under which polling continues. Any other status is terminal.
var pendingStatuses = map[string]bool{
	"Pending":    true,
	"InProgress": true,
	"Delayed":    true,
}

// Runner submits a command and polls it until terminal.
type Runner struct {
	commands provider.Commands
	policy   poll.Policy
	log      func(line string)
}

// New returns a runner emitting output lines through log.
func New(commands provider.Commands, policy poll.Policy, log func(string)) *Runner {
	if log == nil {
		log = func(string) {}
	}
	return &Runner{commands: commands, policy: policy, log: log}
}

// Run executes the document on the target and returns every output line in
// the order it was observed. stdout and stderr flow into the same ordered
// sequence. A non-Success terminal status is a failure whose detail is the
// captured stderr, or the status itself when stderr is empty.
func (r *Runner) Run(ctx context.Context, target, document string, params map[string][]string) ([]string, error) {
	invocationID, err := r.commands.Submit(ctx, target, document, params)
	if err != nil {
		return nil, fmt.Errorf("submitting command: %w", err)
	}

	var lines []string
	var stdout, stderr tail
	emit := func(batch []string) {
		for _, line := range batch {
			lines = append(lines, line)
			r.log(line)
		}
	}

	var inv *provider.Invocation
	err = r.policy.Run(ctx, func(ctx context.Context) (bool, error) {
		var pollErr error
		inv, pollErr = r.commands.Poll(ctx, target, invocationID)
		if pollErr != nil {
			return false, fmt.Errorf("polling invocation %s: %w", invocationID, pollErr)
		}
		emit(stdout.advance(inv.Stdout))
		emit(stderr.advance(inv.Stderr))
		if pendingStatuses[inv.Status] {
			return false, nil
		}
		emit(stdout.flush())
		emit(stderr.flush())
		return true, nil
	})
	if err != nil {
		return lines, err
	}

	if inv.Status != "Success" {
		detail := strings.TrimSpace(inv.Stderr)
		if detail == "" {
			detail = inv.Status
		}
		return lines, fmt.Errorf("command finished %s: %s", inv.Status, detail)
	}
	return lines, nil
}

// tail tracks how many bytes of one output channel have been consumed and
// splits newly observed bytes into complete lines. A trailing partial line
// is held back until more bytes arrive or flush is called.
type tail struct {
	offset  int
	partial string
}

func (t *tail) advance(full string) []string {
	if len(full) <= t.offset {
		return nil
	}
	chunk := t.partial + full[t.offset:]
	t.offset = len(full)

	parts := strings.Split(chunk, "\n")
	t.partial = parts[len(parts)-1]
	var lines []string
	for _, p := range parts[:len(parts)-1] {
		if p = strings.TrimRight(p, "\r"); p != "" {
			lines = append(lines, p)
		}
	}
	return lines
}

func (t *tail) flush() []string {
	if t.partial == "" {
		return nil
	}
	line := t.partial
	t.partial = ""
	return []string{line}
}
