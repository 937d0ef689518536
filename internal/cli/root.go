package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oneclick-io/oneclick/internal/config"
	"github.com/oneclick-io/oneclick/internal/logging"
	"github.com/oneclick-io/oneclick/internal/ops"
	"github.com/oneclick-io/oneclick/internal/poll"
	"github.com/oneclick-io/oneclick/internal/provider"
	"github.com/oneclick-io/oneclick/internal/supervisor"
)

var rootCmd = &cobra.Command{
	Use:   "oneclick",
	Short: "One-click MSK proof-of-concept environments",
	Long: `Oneclick deploys, smoke-tests and tears down an MSK proof-of-concept
environment as asynchronous operations.

Each action runs in the background and reports incremental logs and
progress, either through the CLI directly or over the HTTP API started
with "oneclick serve".`,
	SilenceUsage: true,
}

var (
	cfgPath      string
	flagProfile  string
	flagRegion   string
	flagBaseName string
	flagSimulate bool
	flagLogLevel string
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&flagProfile, "profile", "", "AWS profile to use")
	pf.StringVar(&flagRegion, "region", "", "AWS region to target")
	pf.StringVar(&flagBaseName, "base-name", "", "Base name every stack name derives from")
	pf.BoolVar(&flagSimulate, "simulate", false, "Run against the in-memory simulator instead of AWS")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(teardownCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig merges the config file, environment and command-line flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if flagProfile != "" {
		cfg.Profile = flagProfile
	}
	if flagRegion != "" {
		cfg.Region = flagRegion
	}
	if flagBaseName != "" {
		cfg.BaseName = flagBaseName
	}
	if flagSimulate {
		cfg.Simulate = true
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// buildSupervisor wires the registry, provider source and supervisor for one
// run. Operations resolve their provider from their own profile/region, so
// only the configured default is checked up front.
func buildSupervisor(ctx context.Context, cfg *config.Config) (*supervisor.Supervisor, *ops.Registry, error) {
	name := "aws"
	if cfg.Simulate {
		name = "sim"
	}
	providers := provider.NewRegistry()
	src := provider.NewSource(providers, name)
	if _, err := src.Provider(ctx, cfg.Profile, cfg.Region); err != nil {
		return nil, nil, fmt.Errorf("loading provider %s: %w", name, err)
	}

	reg := ops.NewRegistry()
	reg.TTL = cfg.OperationTTL

	supCfg := supervisor.DefaultConfig()
	supCfg.EventPoll = poll.NewPolicy(cfg.EventPollInterval)
	supCfg.CommandPoll = poll.NewPolicy(cfg.CommandPollInterval)
	supCfg.OperationTimeout = cfg.OperationTimeout
	return supervisor.New(reg, src, supCfg), reg, nil
}
