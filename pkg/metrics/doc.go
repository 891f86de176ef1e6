/*
Package metrics provides Prometheus metrics and health endpoints for ADCM.

All metrics are registered with the default registry at package init and
exposed by the daemon on /metrics next to /health, /ready and /live.

# Architecture

	┌──────────────────── METRICS ─────────────────────────────┐
	│                                                            │
	│  runner ──────► TasksTotal{status}, JobsTotal{status}      │
	│                 TaskDuration, TasksRunning                 │
	│                                                            │
	│  events ──────► EventsSent, EventsDropped                  │
	│                                                            │
	│  reconciler ──► ReconciliationDuration, ...CyclesTotal     │
	│                 StaleTasksTotal                            │
	│                                                            │
	│  Collector ───► ObjectsTotal{type}, ConcernsTotal{type}    │
	│  (every 15s)    OutboxPending                              │
	│        │                                                   │
	│        └── one read-only store transaction per sample      │
	│                                                            │
	│  promhttp.Handler() on /metrics                            │
	└────────────────────────────────────────────────────────────┘

Counters are updated where the event happens: the task runner counts a task
once it reaches a terminal status, the outbox drainer counts each delivered
or discarded event. Gauges describing stored state are sampled by the
Collector instead, so concurrent writers never touch them.

# Health

Components report themselves with RegisterComponent/UpdateComponent. The
daemon is ready once every name in CriticalComponents is registered and
healthy:

	store     bbolt database opened
	executor  task supervisor started
	events    outbox drainer started

Probes of the health package report under their own names (status_server,
ansible). /health answers 503 while a critical component is unhealthy and
reports "degraded" with 200 when only a probe fails. /ready answers 503
until the critical components are ready, /live always answers 200.

# Timer

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TaskDuration)
*/
package metrics
