package reconciler

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/metrics"
	"github.com/cuemby/adcm/pkg/planner"
	"github.com/cuemby/adcm/pkg/runner"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is the sweep period used when none is configured
const DefaultInterval = 10 * time.Second

// Supervisor reports whether a task is run by this process
type Supervisor interface {
	Owns(taskID int64) bool
}

// Reconciler finishes running tasks that lost their task runner
type Reconciler struct {
	store      *storage.Store
	runner     *runner.TaskRunner
	supervisor Supervisor
	interval   time.Duration
	alive      func(pid int) bool
	logger     zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(store *storage.Store, tr *runner.TaskRunner, supervisor Supervisor, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		store:      store,
		runner:     tr,
		supervisor: supervisor,
		interval:   interval,
		alive:      runner.Alive,
		logger:     log.WithComponent("reconciler"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler and waits for the running cycle
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one cycle and returns the ids of the tasks it failed
func (r *Reconciler) Reconcile() ([]int64, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []int64
	err := r.store.View(func(tx *storage.Tx) error {
		tasks, err := storage.Tasks.List(tx, func(t *types.TaskLog) bool {
			return t.Status == types.StatusRunning
		})
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if r.isStale(t) {
				stale = append(stale, t.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list running tasks: %w", err)
	}

	var failed []int64
	for _, id := range stale {
		ok, err := r.failTask(id)
		if err != nil {
			r.logger.Error().Err(err).Int64("task_id", id).Msg("failed to finish stale task")
			continue
		}
		if ok {
			failed = append(failed, id)
		}
	}
	return failed, nil
}

// isStale reports whether nobody supervises a running task. A task that
// claims this process but is not owned by the local supervisor was left by
// a previous daemon with the same pid.
func (r *Reconciler) isStale(t *types.TaskLog) bool {
	if t.PID == 0 {
		return false
	}
	if t.PID == os.Getpid() {
		return r.supervisor == nil || !r.supervisor.Owns(t.ID)
	}
	return !r.alive(t.PID)
}

// failTask finishes a stale task as failed. The task is checked again
// inside the transaction since it may have finished meanwhile.
func (r *Reconciler) failTask(id int64) (bool, error) {
	var done bool
	err := r.store.Update(func(tx *storage.Tx) error {
		task, err := storage.Tasks.Get(tx, id)
		if err != nil {
			return err
		}
		if task.Status != types.StatusRunning || !r.isStale(task) {
			return nil
		}
		jobs, err := storage.TaskJobs(tx, id)
		if err != nil {
			return err
		}
		var last *types.JobLog
		for _, j := range jobs {
			if j.Status != types.StatusRunning {
				continue
			}
			j.Status = types.StatusFailed
			j.ExitCode = -1
			j.FinishDate = tx.Now()
			if err := storage.Jobs.Put(tx, j); err != nil {
				return err
			}
			tx.Emit(planner.JobEvent(j, types.StatusFailed))
			last = j
		}
		if err := r.runner.Finish(tx, task, last, types.StatusFailed); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil || !done {
		return false, err
	}
	metrics.StaleTasksTotal.Inc()
	metrics.TasksTotal.WithLabelValues(string(types.StatusFailed)).Inc()
	r.logger.Warn().Int64("task_id", id).Msg("stale task marked failed")
	return true, nil
}
