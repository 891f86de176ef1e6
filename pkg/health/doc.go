/*
Package health probes the dependencies of the daemon and feeds the
component health served on /health and /ready.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│                           Monitor                            │
	│        every Interval: Check(ctx with Timeout) per probe     │
	└─────┬──────────────────────┬──────────────────────┬──────────┘
	      ▼                      ▼                      ▼
	┌────────────┐      ┌─────────────────┐     ┌────────────────┐
	│StoreChecker│      │   HTTPChecker   │     │  ExecChecker   │
	│ read tx on │      │ GET status.url/ │     │ ansible-playbook│
	│  bbolt     │      │ Token auth      │     │   --version    │
	└─────┬──────┘      └────────┬────────┘     └───────┬────────┘
	      └──────────────────────┼──────────────────────┘
	                             ▼
	              Status: Retries consecutive failures
	                      before unhealthy, one success heals
	                             │
	                             ▼
	              Reporter → metrics.UpdateComponent

# Probes

The daemon registers three probes:

	store          the bbolt file answers read transactions; critical
	status_server  any HTTP answer below 500 from status.url
	ansible        runner.ansible_playbook --version exits 0

Only critical components gate readiness (see metrics.CriticalComponents).
An unreachable status server degrades /health but jobs keep running and
events keep queueing in the outbox.

# Usage

	mon := health.NewMonitor(health.DefaultConfig(), metrics.UpdateComponent)
	mon.Add("store", &health.StoreChecker{Store: store})
	mon.Add("status_server", health.NewStatusServerChecker(cfg.Status.URL, token, time.Second))
	mon.Add("ansible", health.NewToolChecker(cfg.Runner.AnsiblePlaybook))
	g.Go(func() error { return mon.Run(ctx) })
*/
package health
