/*
Package events delivers change notifications to the status server and to
in-process subscribers.

Every store transaction may emit events (create, delete, add, remove,
change_config, change_state, change_job_status, change_hostcomponentmap).
They are written to the outbox bucket in the same bbolt transaction as the
change they describe, so an event exists if and only if its change was
committed.

# Architecture

	┌──────────────────────────── store.Update ─────────────────────────────┐
	│   entity / config / topology / runner mutations                      │
	│   tx.Emit(event) ──► outbox rows (same transaction)                   │
	└──────────────┬───────────────────────────────────┬───────────────────┘
	               │ commit: Notify()                  │ commit: OnCommit hook
	               ▼                                   ▼
	┌──────────────────────────────┐       ┌──────────────────────────────┐
	│           Emitter            │       │            Broker            │
	│  PendingEvents in seq order  │       │  queue (256) ─► subscribers  │
	│  POST /event/ with retries   │       │  (64 each, lossy)            │
	│  AckEvents: sent or dropped  │       └──────────────┬───────────────┘
	└──────────────┬───────────────┘                      │
	               │                                      ▼
	               │                       ┌──────────────────────────────┐
	               │                       │       ServiceMapPusher       │
	               │                       │  topology event → debounce   │
	               │                       │  BuildServiceMap (View)      │
	               │                       │  POST /servicemap/           │
	               │                       └──────────────┬───────────────┘
	               ▼                                      ▼
	┌──────────────────────────────────────────────────────────────────────┐
	│                     status server (StatusClient)                     │
	│        Authorization: Token <secrets.json token>, short timeout      │
	└──────────────────────────────────────────────────────────────────────┘

# Delivery

Delivery is best effort. Events are sent one at a time in commit order.
A failed POST is retried with exponential backoff up to status.max_retries
times; 4xx answers are not retried. An event that can't be delivered is
logged at warn level, counted in adcm_events_dropped_total and removed
from the outbox. Delivery failures never fail the transaction that
produced the event.

When the emitter stops mid-delivery the current event stays in the outbox
and is sent by the next process that drains it.

# Wire Format

	POST /event/
	Authorization: Token 3f9c...

	{
	    "event": "change_state",
	    "object": {
	        "type": "cluster",
	        "id": 1,
	        "details": {"type": "state", "value": "installed"}
	    }
	}

Task and job status changes use "task" and "job" as object type:

	{"event": "change_job_status",
	 "object": {"type": "job", "id": 7, "details": {"type": "status", "value": "running"}}}

# Status Queries

StatusClient.Status asks GET /<type>/<id>/ and returns the integer status
of the answer {"status": N}. Transport problems map to fixed values:

	StatusOK           0   healthy
	StatusNoData       4   404 or no status field
	StatusDecodeError  8   answer is not JSON
	StatusUnreachable  32  connection failure, timeout, other HTTP errors

# Service Map

The service map lets the status server aggregate component statuses up
to services and clusters:

	{
	    "hostservice": {"3.7": {"cluster": 1, "service": 2}},
	    "component":   {"1": {"2": ["3.7"]}},
	    "service":     {"1": {"2": [7]}},
	    "host":        {"1": [3], "0": [4]}
	}

Services and components whose prototype declares monitoring: passive are
left out. It is pushed at start and after every host-component map, bind,
host or service change.

# Usage

	client := events.NewStatusClient(cfg.Status.URL, token, cfg.Status.Timeout)

	broker := events.NewBroker()
	broker.Attach(store)
	broker.Start()
	defer broker.Stop()

	g.Go(func() error { return events.NewEmitter(store, client, cfg.Status.MaxRetries).Run(ctx) })
	g.Go(func() error { return events.NewServiceMapPusher(store, client, broker, time.Second).Run(ctx) })

In-process consumers subscribe with a filter; a nil filter receives
everything:

	sub := broker.Subscribe(events.Kinds(types.EventUpgrade, types.EventChangeState))
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		...
	}
*/
package events
