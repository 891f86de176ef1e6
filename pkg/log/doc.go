/*
Package log provides structured logging for ADCM using zerolog.

The package wraps a single global zerolog.Logger. It is initialised once by
the CLI from the daemon configuration and shared by every package through
component child loggers.

# Architecture

	┌──────────────────── LOGGING ────────────────────┐
	│                                                   │
	│  log.Init(Config{Level, JSONOutput, Output})      │
	│            │                                      │
	│            ▼                                      │
	│  Global Logger (zerolog, timestamped)             │
	│            │                                      │
	│   ┌────────┼─────────────┬─────────────┐          │
	│   ▼        ▼             ▼             ▼          │
	│ "store" "executor"   "planner"     "emitter"      │
	│             │                                     │
	│             ▼                                     │
	│   WithTaskID / WithJobID child loggers            │
	└───────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("executor")
	logger = log.WithTaskID(logger, task.ID)
	logger.Info().Int("pid", pid).Msg("task started")

Console output is the default for interactive use:

	10:30AM INF task started component=executor task_id=12 pid=4711

JSON output suits a daemon whose stderr is collected:

	{"level":"info","component":"executor","task_id":12,"pid":4711,
	 "time":"2024-10-13T10:30:00Z","message":"task started"}

# Levels

  - debug: rendered job artifacts, outbox drains, concern refreshes
  - info: task and job lifecycle, bundle loads, upgrades
  - warn: discarded events, restored host-component maps, aborted tasks
  - error: failures that leave a task or event undelivered

Packages create their component logger when their engine is constructed,
after Init has run. Before Init the global logger discards everything,
which keeps test output quiet.
*/
package log
