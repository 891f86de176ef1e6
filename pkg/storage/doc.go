/*
Package storage provides BoltDB-backed persistence for ADCM records.

Every record kind lives in its own bucket as JSON, keyed by a big-endian
int64 id allocated from the bucket sequence. Engines never touch bbolt
directly: they receive a *Tx from Store.Update or Store.View and use the
typed tables declared here.

# Architecture

	┌───────────────────── STORE ──────────────────────┐
	│                                                    │
	│  File: <base>/data/var/adcm.db                     │
	│                                                    │
	│  Store.Update(fn) ──► bolt.Update ──► fn(*Tx)      │
	│                          │                         │
	│                          ├─ typed table writes     │
	│                          └─ tx.Emit(event)         │
	│                                 │                  │
	│                       outbox rows (same commit)    │
	│                                 │                  │
	│  commit ok ─► AfterCommit funcs                    │
	│            ─► CommitHooks(events)  (broker)        │
	│            ─► Notify() signal      (emitter)       │
	│                                                    │
	│  error ─► rollback of records and outbox alike     │
	└────────────────────────────────────────────────────┘

# Buckets

	adcm, clusters, services, components, providers, hosts   Objects[kind]
	bundles, prototypes, prototype_configs                    prototype records
	actions, sub_actions, upgrades
	prototype_imports, prototype_exports
	object_configs, config_logs, group_configs                configuration
	host_components, cluster_binds, concerns                  topology, concerns
	tasks, jobs, log_storage                                  execution log
	outbox                                                    pending events

# Tables

Table[T] wraps one bucket:

	task, err := storage.Tasks.Get(tx, id)       // TASK_NOT_FOUND when missing
	err = storage.Tasks.Insert(tx, &task)        // assigns task.ID
	rows, err := storage.HostComponents.List(tx, func(hc *types.HostComponent) bool {
		return hc.ClusterID == clusterID
	})

Lookups by anything other than id are bucket scans. Record counts of an
ADCM installation are in the thousands, well inside what a scan over a
memory-mapped B+tree handles per request.

# Outbox

Events are part of the transaction that produced them. After commit the
store signals Notify and the emitter in pkg/events drains PendingEvents,
posts them to the status server, and removes them with AckEvents. A crash
between commit and delivery leaves the rows in place for the next drain.

# Concurrency

bbolt allows one writer and many readers. Update must never be called from
inside another Update or View on the same Store; engines take a *Tx for
that reason. The database file is locked per process, so only the daemon
(or a standalone task-runner) opens it; job runners never do.
*/
package storage
