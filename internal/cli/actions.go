package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/oneclick-io/oneclick/internal/ops"
	"github.com/oneclick-io/oneclick/internal/pipeline"
	"github.com/oneclick-io/oneclick/internal/supervisor"
)

var (
	deployOptions map[string]string
	testTopic     string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the MSK environment",
	Long:  `Reconciles the network, cluster, compute and automation stacks in order and prints progress as it happens.`,
	RunE:  runDeploy,
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the Kafka produce/consume smoke test",
	RunE:  runTest,
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Tear the MSK environment down",
	Long:  `Destroys the deployed stacks in reverse order. Missing stacks are skipped.`,
	RunE:  runTeardown,
}

func init() {
	deployCmd.Flags().StringToStringVarP(&deployOptions, "opt", "D", nil, "Set stack parameters (format: key=value)")
	testCmd.Flags().StringVar(&testTopic, "topic", "", "Topic for the smoke test")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sup, reg, err := buildSupervisor(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	id := sup.Deploy(pipeline.Input{
		Profile:  cfg.Profile,
		Region:   cfg.Region,
		BaseName: cfg.BaseName,
		Options:  deployOptions,
	})
	return follow(reg, id)
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sup, reg, err := buildSupervisor(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	id := sup.Test(supervisor.TestInput{
		Input: pipeline.Input{
			Profile:  cfg.Profile,
			Region:   cfg.Region,
			BaseName: cfg.BaseName,
		},
		Topic: testTopic,
	})
	return follow(reg, id)
}

func runTeardown(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sup, reg, err := buildSupervisor(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	id := sup.Teardown(pipeline.Input{
		Profile:  cfg.Profile,
		Region:   cfg.Region,
		BaseName: cfg.BaseName,
	})
	return follow(reg, id)
}

// follow polls the operation with the cursor protocol, printing new log
// lines until the operation reaches a terminal status.
func follow(reg *ops.Registry, id string) error {
	cursor := 0
	for {
		view, err := reg.Read(id, cursor)
		if err != nil {
			return err
		}
		for _, line := range view.Lines {
			fmt.Println(line)
		}
		cursor = view.Cursor

		if view.Status.Terminal() {
			if view.Failure != nil {
				return fmt.Errorf("operation failed: %s", view.Failure.Message)
			}
			printOutputs(view.Outputs)
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func printOutputs(outputs ops.Outputs) {
	if len(outputs) == 0 {
		return
	}
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("\nOutputs:")
	for _, k := range keys {
		fmt.Printf("  %s = %v\n", k, outputs[k])
	}
}
