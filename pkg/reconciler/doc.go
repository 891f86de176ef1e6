/*
Package reconciler recovers tasks whose task runner went away.

A running task records the pid of the process supervising it: the daemon
for tasks it runs in-process, or a standalone task-runner process. When
that process dies without finishing the task, the task stays running and
keeps its target locked, which blocks every further action on it. The
reconciler periodically looks for such tasks and finishes them as failed.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                  Reconciliation Loop                       │
	│              (every reconcile_interval, 30s)               │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	       ┌───────────────────┐
	       │  running tasks    │   View
	       └─────────┬─────────┘
	                 │
	    ┌────────────┼─────────────────────┐
	    │            │                     │
	    ▼            ▼                     ▼
	 pid == 0    pid == own pid        other pid
	 (not yet    owned by executor?    process alive?
	  started)       │                     │
	    │         yes: skip             yes: skip
	    │         no:  stale            no:  stale
	    ▼                                  │
	  skip                                 ▼
	                            ┌─────────────────────┐
	                            │ Update:             │
	                            │  running jobs       │
	                            │   → failed, -1      │
	                            │  TaskRunner.Finish  │
	                            │   (failed)          │
	                            └─────────────────────┘

A task claiming the daemon's own pid but unknown to its executor was left
by an earlier daemon that happened to get the same pid, usually after a
restart inside a container where pids repeat.

# Finishing a Stale Task

The stale check runs again inside the update transaction, so a task that
finished between the scan and the update is not touched. Finishing uses
the regular sequence of the runner package: the action's on_fail outcome
is applied, a replaced host-component map is restored, the lock is
released and change_job_status events are emitted for the jobs and the
task.

# Metrics

	adcm_reconciliation_duration_seconds   histogram of cycle durations
	adcm_reconciliation_cycles_total       cycles run
	adcm_stale_tasks_total                 tasks failed by the reconciler

# Usage

	r := reconciler.NewReconciler(store, taskRunner, executor, cfg.ReconcileInterval)
	r.Start()
	defer r.Stop()

A single pass, as done at daemon startup before accepting work:

	failed, err := r.Reconcile()
*/
package reconciler
