// Package supervisor owns the background unit of work behind each
// operation. Every failure inside a unit of work is trapped here and
// recorded on the operation; nothing escapes past the operation boundary.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oneclick-io/oneclick/internal/command"
	"github.com/oneclick-io/oneclick/internal/logging"
	"github.com/oneclick-io/oneclick/internal/ops"
	"github.com/oneclick-io/oneclick/internal/pipeline"
	"github.com/oneclick-io/oneclick/internal/poll"
	"github.com/oneclick-io/oneclick/internal/stack"
	"github.com/oneclick-io/oneclick/pkg/provider"
)

// DefaultTopic is the smoke-test topic used when the request names none.
const DefaultTopic = "poc-topic"

// DefaultCapabilities are passed on every stack create and update.
var DefaultCapabilities = []string{"CAPABILITY_NAMED_IAM"}

// ProviderSource resolves the backend serving one operation. The profile
// and region come from the operation's own input, so a request naming a
// different account or region gets clients bound to it rather than the
// server's defaults.
type ProviderSource interface {
	Provider(ctx context.Context, profile, region string) (provider.Provider, error)
}

// SourceFunc adapts a function to the ProviderSource interface.
type SourceFunc func(ctx context.Context, profile, region string) (provider.Provider, error)

func (f SourceFunc) Provider(ctx context.Context, profile, region string) (provider.Provider, error) {
	return f(ctx, profile, region)
}

// Fixed is a source serving the same provider to every operation.
func Fixed(p provider.Provider) ProviderSource {
	return SourceFunc(func(context.Context, string, string) (provider.Provider, error) {
		return p, nil
	})
}

// Config tunes the poll loops and the overall per-operation deadline.
type Config struct {
	EventPoll        poll.Policy
	CommandPoll      poll.Policy
	OperationTimeout time.Duration
	Capabilities     []string
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		EventPoll:        poll.NewPolicy(stack.EventPollInterval),
		CommandPoll:      poll.NewPolicy(command.PollInterval),
		OperationTimeout: poll.DefaultStageTimeout,
		Capabilities:     DefaultCapabilities,
	}
}

// TestInput names the smoke-test target.
type TestInput struct {
	pipeline.Input
	Topic string
}

// Supervisor starts one goroutine per operation and finalizes the
// operation's status, outputs and error.
type Supervisor struct {
	reg       *ops.Registry
	providers ProviderSource
	locks     *stack.Locks
	cfg       Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a supervisor over the registry and provider source.
func New(reg *ops.Registry, providers ProviderSource, cfg Config) *Supervisor {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = poll.DefaultStageTimeout
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = DefaultCapabilities
	}
	return &Supervisor{
		reg:       reg,
		providers: providers,
		locks:     stack.NewLocks(),
		cfg:       cfg,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Deploy starts a deployment operation and returns its id immediately.
func (s *Supervisor) Deploy(in pipeline.Input) string {
	return s.launch("deploy", func(ctx context.Context, id string) (ops.Outputs, error) {
		prov, err := s.providers.Provider(ctx, in.Profile, in.Region)
		if err != nil {
			return nil, fmt.Errorf("loading provider: %w", err)
		}
		stageOut, err := s.pipeline(prov, id).Deploy(ctx, in)
		if err != nil {
			return nil, err
		}

		clusterArn := stageOut["cluster"][pipeline.OutClusterArn]
		instanceID := stageOut["compute"][pipeline.OutInstanceId]
		s.reg.AppendLog(id, "Resolving bootstrap brokers")
		endpoint, err := prov.Directory().ResolveEndpoint(ctx, clusterArn)
		if err != nil {
			return nil, fmt.Errorf("resolving bootstrap brokers: %w", err)
		}

		s.reg.AppendLog(id, "Deployment complete")
		return ops.Outputs{
			"ClusterArn":       clusterArn,
			"BootstrapBrokers": endpoint,
			"Ec2InstanceId":    instanceID,
		}, nil
	})
}

// Test starts a produce/consume smoke test against an already deployed
// environment. The pipeline is not re-run; cluster and compute identifiers
// are read back from their stacks.
func (s *Supervisor) Test(in TestInput) string {
	topic := in.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return s.launch("test", func(ctx context.Context, id string) (ops.Outputs, error) {
		prov, err := s.providers.Provider(ctx, in.Profile, in.Region)
		if err != nil {
			return nil, fmt.Errorf("loading provider: %w", err)
		}
		s.reg.AppendLog(id, "Running setup")
		s.reg.SetProgress(id, 20)

		clusterArn, err := s.stackOutput(ctx, prov, in.BaseName, "cluster", pipeline.OutClusterArn)
		if err != nil {
			return nil, err
		}
		instanceID, err := s.stackOutput(ctx, prov, in.BaseName, "compute", pipeline.OutInstanceId)
		if err != nil {
			return nil, err
		}
		endpoint, err := prov.Directory().ResolveEndpoint(ctx, clusterArn)
		if err != nil {
			return nil, fmt.Errorf("resolving bootstrap brokers: %w", err)
		}

		s.reg.AppendLog(id, fmt.Sprintf("Producing and consuming on %s via %s", topic, instanceID))
		s.reg.SetProgress(id, 60)
		runner := command.New(prov.Commands(), s.cfg.CommandPoll, func(line string) {
			s.reg.AppendLog(id, line)
		})
		lines, err := runner.Run(ctx, instanceID, "AWS-RunShellScript", map[string][]string{
			"commands": smokeTestScript(endpoint, topic),
		})
		if err != nil {
			return nil, err
		}
		s.reg.SetProgress(id, 90)

		s.reg.AppendLog(id, "Test complete")
		return ops.Outputs{
			"messages": lastN(lines, 5),
			"topic":    topic,
		}, nil
	})
}

// Teardown starts a teardown operation running the stage list in reverse.
func (s *Supervisor) Teardown(in pipeline.Input) string {
	return s.launch("teardown", func(ctx context.Context, id string) (ops.Outputs, error) {
		prov, err := s.providers.Provider(ctx, in.Profile, in.Region)
		if err != nil {
			return nil, fmt.Errorf("loading provider: %w", err)
		}
		if err := s.pipeline(prov, id).Teardown(ctx, in); err != nil {
			return nil, err
		}
		s.reg.AppendLog(id, "Teardown complete")
		return nil, nil
	})
}

// Abort cancels an in-flight operation. The unit of work observes the
// cancellation at its next poll and the operation fails with an abort
// reason. Aborting a finished or unknown operation is an error.
func (s *Supervisor) Abort(id string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ops.ErrNotFound, id)
	}
	cancel()
	return nil
}

// Drain blocks until every launched unit of work has finished.
func (s *Supervisor) Drain() {
	s.wg.Wait()
}

// Shutdown aborts every in-flight operation and waits for their goroutines
// to record the abort and exit.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Supervisor) launch(action string, fn func(ctx context.Context, id string) (ops.Outputs, error)) string {
	id := s.reg.Create()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OperationTimeout)

	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				s.fail(id, action, fmt.Errorf("panic: %v", rec))
			}
		}()

		outputs, err := fn(ctx, id)
		if err != nil {
			s.fail(id, action, err)
			return
		}
		s.reg.SetProgress(id, 100)
		s.reg.Finish(id, outputs, nil)
		logging.Info("operation succeeded", "action", action, "op", id)
	}()
	return id
}

func (s *Supervisor) fail(id, action string, err error) {
	failure := &ops.Failure{Message: err.Error()}
	var term *stack.TerminalError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		failure.Message = fmt.Sprintf("operation timed out after %s", s.cfg.OperationTimeout)
	case errors.Is(err, context.Canceled):
		failure.Message = "operation aborted"
	case errors.As(err, &term):
		// Push streams close with the raw provider status.
		failure.Status = term.Status
	}
	s.reg.AppendLog(id, "Error: "+failure.Message)
	s.reg.Finish(id, nil, failure)
	logging.Error("operation failed", "action", action, "op", id, "error", err)
}

func (s *Supervisor) pipeline(prov provider.Provider, id string) *pipeline.Pipeline {
	log := func(line string) { s.reg.AppendLog(id, line) }
	progress := func(pct int) { s.reg.SetProgress(id, pct) }
	rec := stack.New(prov.Stacks(), s.cfg.EventPoll, s.cfg.Capabilities, log)
	return pipeline.New(rec, s.locks, log, progress)
}

// stackOutput reads one well-known output of a deployed stage stack.
func (s *Supervisor) stackOutput(ctx context.Context, prov provider.Provider, base, suffix, key string) (string, error) {
	name := pipeline.StackName(base, suffix)
	desc, err := prov.Stacks().Describe(ctx, name)
	if errors.Is(err, provider.ErrStackNotFound) {
		return "", fmt.Errorf("stack %s is not deployed, run deploy first", name)
	}
	if err != nil {
		return "", fmt.Errorf("describing stack %s: %w", name, err)
	}
	v, ok := desc.Outputs[key]
	if !ok || v == "" {
		return "", fmt.Errorf("stack %s has no %s output", name, key)
	}
	return v, nil
}

func smokeTestScript(brokers, topic string) []string {
	return []string{
		"set -e",
		"export PATH=$PATH:/opt/kafka/bin",
		"CFG=/tmp/oneclick-client.properties",
		"printf 'security.protocol=SASL_SSL\\nsasl.mechanism=AWS_MSK_IAM\\nsasl.jaas.config=software.amazon.msk.auth.iam.IAMLoginModule required;\\nsasl.client.callback.handler.class=software.amazon.msk.auth.iam.IAMClientCallbackHandler\\n' > $CFG",
		fmt.Sprintf("kafka-topics.sh --bootstrap-server %s --command-config $CFG --create --if-not-exists --topic %s --partitions 1 --replication-factor 2", brokers, topic),
		fmt.Sprintf("seq 1 5 | kafka-console-producer.sh --bootstrap-server %s --producer.config $CFG --topic %s", brokers, topic),
		fmt.Sprintf("kafka-console-consumer.sh --bootstrap-server %s --consumer.config $CFG --topic %s --from-beginning --max-messages 5 --timeout-ms 30000", brokers, topic),
	}
}

func lastN(lines []string, n int) []string {
	if len(lines) <= n {
		return append([]string(nil), lines...)
	}
	return append([]string(nil), lines[len(lines)-n:]...)
}
