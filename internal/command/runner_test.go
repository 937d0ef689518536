package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneclick-io/oneclick/internal/poll"
	"github.com/oneclick-io/oneclick/pkg/provider"
)

// scripted replays a fixed sequence of poll results, holding on the last one.
type scripted struct {
	steps []provider.Invocation
	polls int
}

func (s *scripted) Submit(ctx context.Context, target, document string, params map[string][]string) (string, error) {
	return "cmd-1", nil
}

func (s *scripted) Poll(ctx context.Context, target, id string) (*provider.Invocation, error) {
	i := s.polls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.polls++
	inv := s.steps[i]
	return &inv, nil
}

func testPolicy() poll.Policy {
	return poll.Policy{
		Interval: time.Second,
		Timeout:  time.Minute,
		Sleep:    func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

func TestRun_EmitsOnlyNewLines(t *testing.T) {
	cmds := &scripted{steps: []provider.Invocation{
		{Status: "InProgress", Stdout: "1\n2\n3\n"},
		{Status: "Success", Stdout: "1\n2\n3\n4\n5\n"},
	}}
	var logged []string
	r := New(cmds, testPolicy(), func(l string) { logged = append(logged, l) })

	lines, err := r.Run(context.Background(), "i-abc", "RunShellScript", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, lines)
	assert.Equal(t, lines, logged)
	assert.Equal(t, 2, cmds.polls)
}

func TestRun_HoldsPartialLines(t *testing.T) {
	cmds := &scripted{steps: []provider.Invocation{
		{Status: "InProgress", Stdout: "hel"},
		{Status: "InProgress", Stdout: "hello\nwor"},
		{Status: "Success", Stdout: "hello\nworld\n"},
	}}
	r := New(cmds, testPolicy(), nil)

	lines, err := r.Run(context.Background(), "i-abc", "RunShellScript", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, lines)
}

func TestRun_FlushesTrailingPartial(t *testing.T) {
	cmds := &scripted{steps: []provider.Invocation{
		{Status: "Success", Stdout: "done without newline"},
	}}
	r := New(cmds, testPolicy(), nil)

	lines, err := r.Run(context.Background(), "i-abc", "RunShellScript", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"done without newline"}, lines)
}

func TestRun_FailureCarriesStderr(t *testing.T) {
	cmds := &scripted{steps: []provider.Invocation{
		{Status: "Failed", Stdout: "partial\n", Stderr: "kafka-topics: broker unreachable\n"},
	}}
	r := New(cmds, testPolicy(), nil)

	lines, err := r.Run(context.Background(), "i-abc", "RunShellScript", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed")
	assert.Contains(t, err.Error(), "broker unreachable")
	assert.Equal(t, []string{"partial", "kafka-topics: broker unreachable"}, lines)
}

func TestRun_FailureWithoutStderrReportsStatus(t *testing.T) {
	cmds := &scripted{steps: []provider.Invocation{
		{Status: "TimedOut"},
	}}
	r := New(cmds, testPolicy(), nil)

	_, err := r.Run(context.Background(), "i-abc", "RunShellScript", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command finished TimedOut: TimedOut")
}

func TestRun_SubmitError(t *testing.T) {
	r := New(failingSubmit{}, testPolicy(), nil)
	_, err := r.Run(context.Background(), "i-abc", "RunShellScript", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submitting command")
}

type failingSubmit struct{}

func (failingSubmit) Submit(ctx context.Context, target, document string, params map[string][]string) (string, error) {
	return "", errors.New("no instances registered")
}

func (failingSubmit) Poll(ctx context.Context, target, id string) (*provider.Invocation, error) {
	return nil, errors.New("unreachable")
}

func TestTail_InterleavedCarriageReturns(t *testing.T) {
	var tl tail
	assert.Equal(t, []string{"a", "b"}, tl.advance("a\r\nb\r\nc"))
	assert.Equal(t, []string{"c", "d"}, tl.advance("a\r\nb\r\nc\nd\n"))
	assert.Nil(t, tl.flush())
}
