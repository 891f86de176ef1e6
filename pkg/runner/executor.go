package runner

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/metrics"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// pollInterval is how often Cancel looks for a running job
const pollInterval = 50 * time.Millisecond

// Executor supervises tasks run by this process
type Executor struct {
	store      *storage.Store
	runner     *TaskRunner
	cancelWait time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	running map[int64]*supervised
	wg      sync.WaitGroup
	closed  bool
}

type supervised struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewExecutor creates an executor. Cancel waits up to cancelWait for a
// task's first job to start.
func NewExecutor(store *storage.Store, runner *TaskRunner, cancelWait time.Duration) *Executor {
	return &Executor{
		store:      store,
		runner:     runner,
		cancelWait: cancelWait,
		logger:     log.WithComponent("executor"),
		running:    make(map[int64]*supervised),
	}
}

// Start runs a created task in the background
func (e *Executor) Start(taskID int64) error {
	err := e.store.View(func(tx *storage.Tx) error {
		task, err := storage.Tasks.Get(tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != types.StatusCreated {
			return errcode.New(errcode.TaskError, "task #%d is %s, it can't be started", task.ID, task.Status)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.launch(taskID, false)
}

// Restart runs a finished task again. Jobs that succeeded are skipped.
func (e *Executor) Restart(taskID int64) error {
	if e.Owns(taskID) {
		return errcode.New(errcode.TaskError, "task #%d is running", taskID)
	}
	err := e.store.Update(func(tx *storage.Tx) error {
		task, err := storage.Tasks.Get(tx, taskID)
		if err != nil {
			return err
		}
		return e.runner.PrepareRestart(tx, task)
	})
	if err != nil {
		return err
	}
	return e.launch(taskID, true)
}

func (e *Executor) launch(taskID int64, restart bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errcode.New(errcode.TaskError, "executor is shut down")
	}
	if _, ok := e.running[taskID]; ok {
		return errcode.New(errcode.TaskError, "task #%d is running", taskID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &supervised{cancel: cancel, done: make(chan struct{})}
	e.running[taskID] = s
	e.wg.Add(1)
	metrics.TasksRunning.Inc()

	go func() {
		defer e.wg.Done()
		defer metrics.TasksRunning.Dec()
		defer cancel()
		_, err := e.runner.Run(ctx, taskID, restart)
		if err != nil {
			e.logger.Error().Err(err).Int64("task_id", taskID).Msg("task run failed")
		}
		e.mu.Lock()
		s.err = err
		delete(e.running, taskID)
		e.mu.Unlock()
		close(s.done)
	}()
	return nil
}

// Owns reports whether this executor is running the task
func (e *Executor) Owns(taskID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[taskID]
	return ok
}

// Wait blocks until a task run by this executor finishes and returns the
// stored task
func (e *Executor) Wait(ctx context.Context, taskID int64) (*types.TaskLog, error) {
	e.mu.Lock()
	s, ok := e.running[taskID]
	e.mu.Unlock()
	if ok {
		select {
		case <-s.done:
			if s.err != nil {
				return nil, s.err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var task *types.TaskLog
	err := e.store.View(func(tx *storage.Tx) error {
		var err error
		task, err = storage.Tasks.Get(tx, taskID)
		return err
	})
	return task, err
}

// Cancel aborts a running task. It fails when the task is finished, its
// action does not allow termination or it has not started yet, and when
// no job starts running within the cancel wait.
func (e *Executor) Cancel(ctx context.Context, taskID int64) error {
	var task *types.TaskLog
	err := e.store.View(func(tx *storage.Tx) error {
		var err error
		if task, err = storage.Tasks.Get(tx, taskID); err != nil {
			return err
		}
		if err := terminalError(task); err != nil {
			return err
		}
		action, err := storage.Actions.Get(tx, task.ActionID)
		if err != nil {
			return err
		}
		if !action.AllowToTerminate {
			return errcode.New(errcode.NotAllowedTermination, "action %q of task #%d is not allowed to terminate", action.Name, task.ID)
		}
		if task.PID == 0 {
			return errcode.New(errcode.NotAllowedTermination, "task #%d is not started yet", task.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.waitRunningJob(ctx, taskID); err != nil {
		return err
	}

	e.mu.Lock()
	s, local := e.running[taskID]
	e.mu.Unlock()
	logger := log.WithTaskID(e.logger, taskID)
	if local {
		logger.Warn().Msg("cancelling task")
		s.cancel()
		return nil
	}
	if task.PID == os.Getpid() {
		return errcode.New(errcode.NotAllowedTermination, "task #%d is not supervised by this process", taskID)
	}
	logger.Warn().Int("pid", task.PID).Msg("sending SIGTERM to task runner")
	if err := Terminate(task.PID); err != nil {
		return errcode.New(errcode.NotAllowedTermination, "failed to signal task #%d: %v", taskID, err)
	}
	return nil
}

// waitRunningJob polls until a job of the task is running
func (e *Executor) waitRunningJob(ctx context.Context, taskID int64) error {
	deadline := time.Now().Add(e.cancelWait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		var running bool
		err := e.store.View(func(tx *storage.Tx) error {
			task, err := storage.Tasks.Get(tx, taskID)
			if err != nil {
				return err
			}
			if err := terminalError(task); err != nil {
				return err
			}
			jobs, err := storage.TaskJobs(tx, taskID)
			if err != nil {
				return err
			}
			for _, j := range jobs {
				if j.Status == types.StatusRunning {
					running = true
				}
			}
			return nil
		})
		if err != nil || running {
			return err
		}
		if !time.Now().Before(deadline) {
			return errcode.New(errcode.NoJobsRunning, "task #%d has no running jobs", taskID)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown aborts every task run by this executor and waits for them to
// finish
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for id, s := range e.running {
		e.logger.Warn().Int64("task_id", id).Msg("aborting task on shutdown")
		s.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errcode.New(errcode.InternalError, "tasks still running at shutdown"), ctx.Err())
	}
}

func terminalError(task *types.TaskLog) error {
	switch task.Status {
	case types.StatusSuccess:
		return errcode.New(errcode.TaskIsSuccess, "task #%d is success", task.ID)
	case types.StatusFailed:
		return errcode.New(errcode.TaskIsFailed, "task #%d is failed", task.ID)
	case types.StatusAborted:
		return errcode.New(errcode.TaskIsAborted, "task #%d is aborted", task.ID)
	}
	return nil
}
