/*
Package concern tracks the issues, locks and flags that gate actions.

A concern is a row owned by one entity and attached to an affected set of
entities. Issues are recomputed eagerly whenever something they depend on
changes; locks live exactly as long as the task that created them.

# Causes

	cause           owner              affected
	─────           ─────              ────────
	config          any entity         owner + ancestors
	service         cluster            cluster
	import          cluster, service   owner + ancestors
	host-component  cluster            cluster + involved services,
	                                   components and hosts
	job (lock)      task target        target + ancestors + descendants
	                                   + hosts of the task's map

Host ancestry follows placement: a host belongs to its provider and to the
components placed on it, and through them to their services and cluster.

# Checks

Refresh runs every registered check for the given owners. The engine
registers the config, service and import checks itself; the topology
engine registers the host-component check. A check returns nil when the
owner is clean, otherwise the reason and the extra affected entities.

# Locks

	[absent] ──Lock(task)──▶ [held] ──Unlock(task)──▶ [absent]

Concurrent tasks hold distinct lock rows, so an entity is free again only
when its last lock is released. Extend and Release adjust the affected set
of live locks when hosts join or leave a locked cluster's map.

# Gating

CheckAction returns TASK_ERROR with a rendered reason:

	cluster #1 "c1" has issue: c1 has an issue with required config: port
	host #3 "h1": object is locked by task #7 on c1
*/
package concern
