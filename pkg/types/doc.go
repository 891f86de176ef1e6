/*
Package types defines the core data structures used throughout ADCM.

These types describe the managed entity tree, the immutable prototype
records loaded from bundles, the versioned configuration chain, the
task/job execution log, concerns and the change events pushed to the
status server. Every other package reads and writes these records through
pkg/storage.

# Entity Tree

All managed entities share one record, Object, tagged by ObjectType:

	adcm (singleton)
	cluster ──┬── service ──── component
	          │
	          └── host (member, optional) ◄── provider (owner, permanent)

The parent links that matter for a kind are set, the others stay zero:

	cluster:   -
	service:   ClusterID
	component: ClusterID, ServiceID
	host:      ProviderID, ClusterID (0 while free)

Polymorphic pointers (concern owners, task targets, config owners) are
ObjectRef values: a (type, id) pair resolved through the per-kind tables
of the store.

# Prototypes

A Bundle carries Prototypes, each with:

  - PrototypeConfig rows (name, subname) describing the config spec
  - Actions and their ordered SubActions
  - Upgrades (on the bundle), PrototypeImports and PrototypeExports

Prototype records never change after the bundle is loaded.

# Configuration

ObjectConfig keeps two pointers, Current and Previous, into an
append-only chain of ConfigLog records. A GroupConfig owns its own
ObjectConfig and a host membership set.

# Execution

	TaskLog  one run of an action, holds the lock ConcernItem id and pid
	JobLog   one external script run of the task, in declared order
	LogStorage  captured stdout/stderr of a job

Task and job statuses share JobStatus: created, running, success,
failed, aborted. The last three are terminal.

# Numbers

Stored values go through encoding/json. Decode keeps integers exact by
decoding with UseNumber and passing the result through Normalize, so
config values read back from the store compare equal to what was saved:
integers are int64, fractions float64.
*/
package types
