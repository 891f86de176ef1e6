package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/planner"
	"github.com/cuemby/adcm/pkg/settings"
	"github.com/cuemby/adcm/pkg/types"
)

// JobOptions configures the job runner
type JobOptions struct {
	Layout          settings.Layout
	AnsiblePlaybook string
	Python          string
	GracePeriod     time.Duration
}

// JobOptionsFrom builds job runner options from the daemon configuration
func JobOptionsFrom(cfg *settings.Config) JobOptions {
	return JobOptions{
		Layout:          cfg.Layout(),
		AnsiblePlaybook: cfg.Runner.AnsiblePlaybook,
		Python:          cfg.Runner.Python,
		GracePeriod:     cfg.Runner.GracePeriod,
	}
}

// Command returns the argv executing the script of a job
func Command(opts JobOptions, conf *planner.JobConfig) []string {
	if conf.Job.ScriptType == types.ScriptPython {
		return []string{opts.Python, conf.Job.Playbook}
	}
	dir := opts.Layout.JobDir(conf.Job.ID)
	argv := []string{
		opts.AnsiblePlaybook,
		"--vault-password-file", opts.Layout.VaultPasswordFile(),
		"-e", "@" + filepath.Join(dir, planner.ConfigFile),
		"-i", filepath.Join(dir, planner.InventoryFile),
		conf.Job.Playbook,
	}
	if tags, ok := conf.Job.Params["ansible_tags"]; ok && fmt.Sprint(tags) != "" {
		argv = append(argv, "--tags="+fmt.Sprint(tags))
	}
	if conf.Job.Verbose {
		argv = append(argv, "-vvvv")
	}
	return argv
}

// Environ returns the environment of a job script
func Environ(opts JobOptions, conf *planner.JobConfig) []string {
	env := os.Environ()
	pythonPath := "./pmod:" + filepath.Join(conf.Env.StackDir, "pmod")
	if cur := os.Getenv("PYTHONPATH"); cur != "" {
		pythonPath += ":" + cur
	}
	return append(env,
		"PYTHONPATH="+pythonPath,
		"ANSIBLE_CONFIG="+filepath.Join(opts.Layout.JobDir(conf.Job.ID), planner.AnsibleCfg),
	)
}

// RunJob executes the script of job jobID from its rendered files and
// returns the script exit code. Output goes to the job's stdout and stderr
// log files. Cancelling ctx sends SIGTERM to the script.
func RunJob(ctx context.Context, opts JobOptions, jobID int64) (int, error) {
	logger := log.WithJobID(log.WithComponent("job-runner"), jobID)

	conf, err := planner.ReadJobConfig(opts.Layout.JobDir(jobID))
	if err != nil {
		return -1, err
	}
	name := string(types.ScriptAnsible)
	if conf.Job.ScriptType == types.ScriptPython {
		name = string(types.ScriptPython)
	}

	stdout, err := openLog(opts.Layout.JobLogFile(jobID, name, string(types.LogStdout)))
	if err != nil {
		return -1, err
	}
	defer stdout.Close()
	stderr, err := openLog(opts.Layout.JobLogFile(jobID, name, string(types.LogStderr)))
	if err != nil {
		return -1, err
	}
	defer stderr.Close()

	argv := Command(opts, conf)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = conf.Env.StackDir
	cmd.Env = Environ(opts, conf)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	supervise(cmd, opts.GracePeriod)

	logger.Info().Strs("argv", argv).Str("dir", cmd.Dir).Msg("starting job script")
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(stderr, "failed to start %s: %v\n", argv[0], err)
		return -1, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	code, err := exitCode(cmd.Wait())
	logger.Info().Int("exit_code", code).Msg("job script finished")
	return code, err
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
