/*
Package entity creates and removes the managed objects and changes their
config and state.

# Object Tree

	ADCM (singleton, global settings)

	Cluster ──owns──▶ Service ──owns──▶ Component
	   │                                    ▲
	   │ member hosts                        │ host-component rows
	   ▼                                    │
	 Host ◀──────────owns─────────── HostProvider

A host is owned by its provider for its whole life and is a member of at
most one cluster. Joining and leaving a cluster are separate operations;
a host with components placed on it can't leave.

# Creation

Every new object starts in state "created" with a config chain rendered
from its prototype defaults. Adding a service adds its components. The
concerns of new objects are computed in the same transaction, so a
cluster missing a required service or config is blocked at once.

Checks on creation:

	AddCluster         OBJ_TYPE_ERROR, LICENSE_ERROR, CLUSTER_CONFLICT
	AddService         SERVICE_CONFLICT (foreign bundle, already present)
	AddHostProvider    PROVIDER_CONFLICT
	AddHost            FOREIGN_HOST (foreign bundle), HOST_CONFLICT, WRONG_NAME
	AddHostToCluster   HOST_CONFLICT (same cluster), FOREIGN_HOST (other cluster)

# Deletion

	DeleteCluster       cascades to services, components, placements, binds;
	                    member hosts are freed
	DeleteService       SERVICE_CONFLICT while placed, exported or required;
	                    force tears placements and exports down first
	DeleteHostProvider  PROVIDER_CONFLICT while it owns hosts
	DeleteHost          HOST_CONFLICT while in a cluster

Locked objects can't be deleted (LOCK_ERROR), except through a forced
service deletion. A deleted object leaves every concern it was part of.

# Config and State

UpdateConfig validates a submitted config against the prototype spec,
appends a version, re-syncs group configs and recomputes the config issue.
Changing the config of an object past "created" raises the non-blocking
outdated_config flag, cleared by the next successful action.

SetState and the multi-state helpers emit change_state; "locked" can't be
assigned.
*/
package entity
