/*
Package runner executes prepared tasks.

A task is a list of jobs created by the planner. The task runner walks the
jobs in order, spawning one job runner process per job, and finishes the
task by applying the action outcome to its target. The job runner loads the
rendered files of its job and executes the playbook or python script.

# Architecture

	┌───────────────────────────────────────────────────────────┐
	│                        Executor                           │
	│     Start / Restart / Cancel / Wait / Shutdown            │
	│     one goroutine per task, keyed by task id              │
	└──────────────┬────────────────────────────────────────────┘
	               │ ctx
	               ▼
	┌───────────────────────────────────────────────────────────┐
	│                      TaskRunner.Run                       │
	│                                                           │
	│   begin: created → running, pid = daemon pid              │
	│   for each job:                                           │
	│       render job files (every job but the first)          │
	│       spawn  <command> job-runner <job-id>                │
	│       record job pid, wait, map exit code to status       │
	│       stop at the first job that is not success           │
	│   Finish: outcome, restore hc, unlock, final status       │
	└──────────────┬────────────────────────────────────────────┘
	               │ fork/exec
	               ▼
	┌───────────────────────────────────────────────────────────┐
	│                 RunJob (job runner process)               │
	│                                                           │
	│   data/run/<id>/config.json ──► argv + environment        │
	│   cwd = stack dir                                         │
	│   stdout ──► data/log/<id>-<ansible|python>-stdout.txt    │
	│   stderr ──► data/log/<id>-<ansible|python>-stderr.txt    │
	└───────────────────────────────────────────────────────────┘

The job runner never opens the store. Everything it needs is in the job
directory, and the task runner copies the log files into the store when
the job ends.

# Job Status

	exit 0                 → success
	exit != 0              → failed
	context cancelled      → aborted
	runner failed to start → failed, exit code -1

# Finishing a Task

Finish runs in one transaction:

 1. The outcome of the action is applied to the target. On failure a step
    that declares its own on_fail outcome overrides the action's.
    Aborted tasks leave state and multi-state untouched.
 2. If the task replaced the host-component map and did not succeed, the
    previous map is applied back.
 3. The task lock is released. On success the target's flag concerns are
    cleared.
 4. The task gets its final status and a change_job_status event.

# Cancel

	Cancel(task)
	    │
	    ├─ task finished?              → TASK_IS_SUCCESS / FAILED / ABORTED
	    ├─ allow_to_terminate false?   → NOT_ALLOWED_TERMINATION
	    ├─ task has no pid?            → NOT_ALLOWED_TERMINATION
	    ├─ no running job in time?     → NO_JOBS_RUNNING
	    ├─ run by this executor        → cancel the task context
	    └─ run by another process      → SIGTERM to the task runner pid

Cancelling the context sends SIGTERM to the job runner, which forwards it
to the script. Processes still alive after the grace period are killed.

# Restart

	Restart(task)
	    │
	    ├─ task must be finished
	    ├─ action still allowed on the target (concern checks)
	    ├─ host-component map applied again when the task changed it
	    ├─ target locked again
	    ├─ jobs that did not succeed reset to created
	    └─ Run with restart: successful jobs are skipped

# Usage

	tr := runner.NewTaskRunner(store, planner, concerns, topo, runner.Options{})
	ex := runner.NewExecutor(store, tr, cfg.Runner.CancelWait)

	if err := ex.Start(taskID); err != nil {
		return err
	}
	task, err := ex.Wait(ctx, taskID)

The job runner side, as run by the job-runner command:

	code, err := runner.RunJob(ctx, runner.JobOptionsFrom(cfg), jobID)
	os.Exit(code)
*/
package runner
