package runner

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/metrics"
	"github.com/cuemby/adcm/pkg/planner"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/topology"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// Options configures the task runner
type Options struct {
	// Command is the job runner argv prefix; the job id is appended
	Command     []string
	GracePeriod time.Duration
}

// TaskRunner runs the jobs of a task in order and finishes the task
type TaskRunner struct {
	store    *storage.Store
	planner  *planner.Planner
	concerns *concern.Engine
	topo     *topology.Engine
	opts     Options
	logger   zerolog.Logger
}

// NewTaskRunner creates a task runner
func NewTaskRunner(store *storage.Store, p *planner.Planner, concerns *concern.Engine, topo *topology.Engine, opts Options) *TaskRunner {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 10 * time.Second
	}
	if len(opts.Command) == 0 {
		self, err := os.Executable()
		if err != nil {
			self = os.Args[0]
		}
		opts.Command = []string{self, "job-runner"}
	}
	return &TaskRunner{
		store:    store,
		planner:  p,
		concerns: concerns,
		topo:     topo,
		opts:     opts,
		logger:   log.WithComponent("task-runner"),
	}
}

// Run executes task taskID until it reaches a terminal status and returns
// the finished task. With restart, jobs that already succeeded are
// skipped. Cancelling ctx aborts the task: the running job receives
// SIGTERM and the task finishes as aborted.
func (r *TaskRunner) Run(ctx context.Context, taskID int64, restart bool) (*types.TaskLog, error) {
	logger := log.WithTaskID(r.logger, taskID)
	timer := metrics.NewTimer()

	task, jobs, err := r.begin(taskID, restart)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("jobs", len(jobs)).Bool("restart", restart).Msg("task started")

	status := types.StatusSuccess
	var last *types.JobLog
	for i, job := range jobs {
		if restart && job.Status == types.StatusSuccess {
			continue
		}
		if ctx.Err() != nil {
			status = types.StatusAborted
			break
		}
		last = job
		if i > 0 || restart {
			if err := r.render(task, job); err != nil {
				logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to render job files")
				if err := r.endJob(job, types.StatusFailed, -1); err != nil {
					return nil, err
				}
				status = types.StatusFailed
				break
			}
		}
		status, err = r.runJob(ctx, job)
		if err != nil {
			return nil, err
		}
		if status != types.StatusSuccess {
			break
		}
	}

	var finished *types.TaskLog
	err = r.store.Update(func(tx *storage.Tx) error {
		t, err := storage.Tasks.Get(tx, task.ID)
		if err != nil {
			return err
		}
		if status == types.StatusAborted {
			if err := abortJobs(tx, t.ID); err != nil {
				return err
			}
		}
		if err := r.Finish(tx, t, last, status); err != nil {
			return err
		}
		finished = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finish task %d: %w", task.ID, err)
	}

	metrics.TasksTotal.WithLabelValues(string(status)).Inc()
	timer.ObserveDuration(metrics.TaskDuration)
	ev := logger.Info()
	if status == types.StatusAborted {
		ev = logger.Warn()
	}
	ev.Str("status", string(status)).Dur("duration", timer.Duration()).Msg("task finished")
	return finished, nil
}

// begin marks the task running, records this process as its supervisor
// and returns its jobs in execution order
func (r *TaskRunner) begin(taskID int64, restart bool) (*types.TaskLog, []*types.JobLog, error) {
	var task *types.TaskLog
	var jobs []*types.JobLog
	err := r.store.Update(func(tx *storage.Tx) error {
		var err error
		if task, err = storage.Tasks.Get(tx, taskID); err != nil {
			return err
		}
		if restart && task.Status.Terminal() {
			if err := r.PrepareRestart(tx, task); err != nil {
				return err
			}
		}
		if task.Status != types.StatusCreated {
			return errcode.New(errcode.TaskError, "task #%d is %s, it can't be started", task.ID, task.Status)
		}
		task.Status = types.StatusRunning
		task.PID = os.Getpid()
		task.StartDate = tx.Now()
		task.FinishDate = time.Time{}
		if err := storage.Tasks.Put(tx, task); err != nil {
			return err
		}
		tx.Emit(planner.TaskEvent(task, types.StatusRunning))
		jobs, err = storage.TaskJobs(tx, task.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	slices.SortFunc(jobs, func(a, b *types.JobLog) int { return cmp.Compare(a.ID, b.ID) })
	return task, jobs, nil
}

// PrepareRestart returns a finished task to created: the target is locked
// again, a host-component map the task applied is applied again and jobs
// that did not succeed are reset
func (r *TaskRunner) PrepareRestart(tx *storage.Tx, task *types.TaskLog) error {
	if !task.Status.Terminal() {
		return errcode.New(errcode.TaskError, "task #%d is %s, only finished tasks can be restarted", task.ID, task.Status)
	}
	obj, err := storage.GetObject(tx, task.Object)
	if err != nil {
		return err
	}
	action, err := storage.Actions.Get(tx, task.ActionID)
	if err != nil {
		return err
	}
	if err := r.concerns.CheckAction(tx, obj, action); err != nil {
		return err
	}

	var extra []types.ObjectRef
	if task.AppliedHC {
		cluster, err := clusterOf(tx, obj)
		if err != nil {
			return err
		}
		current, err := topology.Current(tx, cluster.ID)
		if err != nil {
			return err
		}
		if _, err := r.topo.Apply(tx, cluster, task.New); err != nil {
			return err
		}
		task.Old = current
		for _, e := range slices.Concat(task.Old, task.New) {
			extra = append(extra, types.Ref(types.ObjectHost, e.HostID))
		}
	}
	if _, err := r.concerns.Lock(tx, task, obj, extra); err != nil {
		return err
	}

	jobs, err := storage.TaskJobs(tx, task.ID)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Status == types.StatusSuccess {
			continue
		}
		j.Status, j.PID, j.ExitCode = types.StatusCreated, 0, 0
		j.StartDate, j.FinishDate = time.Time{}, time.Time{}
		if err := storage.Jobs.Put(tx, j); err != nil {
			return err
		}
	}

	task.Status = types.StatusCreated
	task.PID = 0
	return storage.Tasks.Put(tx, task)
}

func (r *TaskRunner) render(task *types.TaskLog, job *types.JobLog) error {
	var files *planner.JobFiles
	err := r.store.View(func(tx *storage.Tx) error {
		t, err := storage.Tasks.Get(tx, task.ID)
		if err != nil {
			return err
		}
		files, err = r.planner.Render(tx, t, job)
		return err
	})
	if err != nil {
		return err
	}
	return files.Write(r.planner.Layout().JobDir(job.ID))
}

// runJob spawns the job runner for job and waits for it
func (r *TaskRunner) runJob(ctx context.Context, job *types.JobLog) (types.JobStatus, error) {
	logger := log.WithJobID(r.logger, job.ID)
	err := r.store.Update(func(tx *storage.Tx) error {
		j, err := storage.Jobs.Get(tx, job.ID)
		if err != nil {
			return err
		}
		j.Status = types.StatusRunning
		j.StartDate = tx.Now()
		j.FinishDate = time.Time{}
		j.PID, j.ExitCode = 0, 0
		if err := storage.Jobs.Put(tx, j); err != nil {
			return err
		}
		tx.Emit(planner.JobEvent(j, types.StatusRunning))
		return nil
	})
	if err != nil {
		return "", err
	}

	argv := append(slices.Clone(r.opts.Command), strconv.FormatInt(job.ID, 10))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	supervise(cmd, r.opts.GracePeriod)

	code := -1
	if err := cmd.Start(); err != nil {
		logger.Error().Err(err).Strs("argv", argv).Msg("failed to start job runner")
	} else {
		pid := cmd.Process.Pid
		if err := r.store.Update(func(tx *storage.Tx) error {
			j, err := storage.Jobs.Get(tx, job.ID)
			if err != nil {
				return err
			}
			j.PID = pid
			return storage.Jobs.Put(tx, j)
		}); err != nil {
			logger.Warn().Err(err).Int("pid", pid).Msg("failed to record job pid")
		}
		if code, err = exitCode(cmd.Wait()); err != nil {
			logger.Error().Err(err).Msg("job runner wait failed")
		}
	}

	status := types.StatusSuccess
	switch {
	case ctx.Err() != nil:
		status = types.StatusAborted
	case code != 0:
		status = types.StatusFailed
	}
	ev := logger.Info()
	if status == types.StatusFailed && output.Len() > 0 {
		ev = ev.Str("output", strings.TrimSpace(output.String()))
	}
	ev.Int("exit_code", code).Str("status", string(status)).Msg("job finished")

	if err := r.endJob(job, status, code); err != nil {
		return "", err
	}
	return status, nil
}

// endJob records the final status of a job and stores its output
func (r *TaskRunner) endJob(job *types.JobLog, status types.JobStatus, code int) error {
	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	return r.store.Update(func(tx *storage.Tx) error {
		j, err := storage.Jobs.Get(tx, job.ID)
		if err != nil {
			return err
		}
		j.Status = status
		j.ExitCode = code
		j.FinishDate = tx.Now()
		if err := storage.Jobs.Put(tx, j); err != nil {
			return err
		}
		if err := r.storeLogs(tx, j); err != nil {
			return err
		}
		tx.Emit(planner.JobEvent(j, status))
		return nil
	})
}

// storeLogs copies the stdout and stderr files of a job into its log rows
func (r *TaskRunner) storeLogs(tx *storage.Tx, job *types.JobLog) error {
	logs, err := storage.Logs.List(tx, func(l *types.LogStorage) bool {
		return l.JobID == job.ID && (l.Type == types.LogStdout || l.Type == types.LogStderr)
	})
	if err != nil {
		return err
	}
	layout := r.planner.Layout()
	for _, l := range logs {
		data, err := os.ReadFile(layout.JobLogFile(job.ID, l.Name, string(l.Type)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read job log: %w", err)
		}
		l.Body = string(data)
		if err := storage.Logs.Put(tx, l); err != nil {
			return err
		}
	}
	return nil
}

// abortJobs marks every unfinished job of a task aborted
func abortJobs(tx *storage.Tx, taskID int64) error {
	jobs, err := storage.TaskJobs(tx, taskID)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Status.Terminal() {
			continue
		}
		j.Status = types.StatusAborted
		j.FinishDate = tx.Now()
		if err := storage.Jobs.Put(tx, j); err != nil {
			return err
		}
		tx.Emit(planner.JobEvent(j, types.StatusAborted))
	}
	return nil
}

func clusterOf(tx *storage.Tx, obj *types.Object) (*types.Object, error) {
	if obj.Type == types.ObjectCluster {
		return obj, nil
	}
	if obj.ClusterID == 0 {
		return nil, errcode.New(errcode.TaskError, "%s is not in a cluster", obj)
	}
	return storage.GetTyped(tx, types.ObjectCluster, obj.ClusterID)
}
