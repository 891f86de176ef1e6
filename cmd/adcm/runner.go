package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cuemby/adcm/pkg/runner"
	"github.com/spf13/cobra"
)

var taskRunnerCmd = &cobra.Command{
	Use:   "task-runner TASK_ID [restart]",
	Short: "Run a prepared task in the foreground",
	Long: `Run a task created by an action until it finishes.

With "restart" the jobs that already succeeded are skipped. SIGTERM
aborts the running job and finishes the task as aborted.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q", args[0])
		}
		restart := len(args) == 2
		if restart && args[1] != "restart" {
			return fmt.Errorf("unknown argument %q", args[1])
		}

		_, m, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer m.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		task, err := m.Runner.Run(ctx, taskID, restart)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Task #%d finished: %s\n", task.ID, task.Status)
		return nil
	},
}

var jobRunnerCmd = &cobra.Command{
	Use:    "job-runner JOB_ID",
	Short:  "Execute the script of one job",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer stop()

		code, err := runner.RunJob(ctx, runner.JobOptionsFrom(cfg), jobID)
		if err != nil {
			return err
		}
		// the task runner reads the outcome from the exit code
		stop()
		os.Exit(code)
		return nil
	},
}
