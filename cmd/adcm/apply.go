package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/adcm/pkg/manager"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply -f FILE",
	Short: "Apply an inventory file",
	Long: `Apply the commands of an inventory file in order.

The file is a YAML list of {op, data} entries: load_bundle, add_cluster,
add_service, add_provider, add_host, save_hc, set_config, run_action and
upgrade. The first failing command stops the run. Tasks started
without wait are aborted when apply exits.

Example:
  - op: add_cluster
    data: {bundle: app, name: prod}
  - op: run_action
    data:
      object: {type: cluster, name: prod}
      action: install
      wait: true`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		cmds, err := manager.ParseCommands(data)
		if err != nil {
			return err
		}

		_, m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		for i, c := range cmds {
			fmt.Printf("[%d/%d] %s\n", i+1, len(cmds), c.Op)
			out, err := m.Apply(ctx, c)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Op, err)
			}
			fmt.Printf("✓ %s\n", out)
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Inventory file")
	_ = applyCmd.MarkFlagRequired("file")
}
