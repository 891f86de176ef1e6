package main

import (
	"fmt"
	"os"

	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/manager"
	"github.com/cuemby/adcm/pkg/metrics"
	"github.com/cuemby/adcm/pkg/settings"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "adcm",
	Short: "ADCM - cluster lifecycle manager",
	Long: `ADCM installs and operates clusters described by bundles.

Bundles declare prototypes with configuration schemas, actions and
upgrades. ADCM keeps the inventory of clusters, services, components,
providers and hosts, validates configuration, places components on
hosts and runs actions as ansible playbooks or python scripts.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ADCM version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().String("base-dir", "", "ADCM base directory (overrides base_dir)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(taskRunnerCmd)
	rootCmd.AddCommand(jobRunnerCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(applyCmd)
}

// loadConfig reads the configuration named by --config, applies the
// command line overrides and initializes logging
func loadConfig(cmd *cobra.Command) (*settings.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	overrides := map[string]any{}
	if dir, _ := cmd.Flags().GetString("base-dir"); dir != "" {
		overrides["base_dir"] = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		overrides["log.level"] = level
	}

	cfg, err := settings.Load(file, overrides)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)
	return cfg, nil
}

// openManager loads the configuration and opens the installation
func openManager(cmd *cobra.Command) (*settings.Config, *manager.Manager, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	// job runners spawned by this process read the same installation
	if len(cfg.Runner.Command) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		cfg.Runner.Command = []string{self, "job-runner", "--base-dir", cfg.BaseDir}
		if file, _ := cmd.Flags().GetString("config"); file != "" {
			cfg.Runner.Command = append(cfg.Runner.Command, "--config", file)
		}
	}
	m, err := manager.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ADCM at %s: %w", cfg.BaseDir, err)
	}
	return cfg, m, nil
}
