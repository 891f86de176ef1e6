/*
Package topology owns the cross-entity structure of a cluster: where
components run, which clusters and services it imports from, and which
hosts a group config applies to.

# Host-Component Map

SaveHC replaces the whole map of a cluster in one transaction:

	entries ─▶ duplicates ─▶ resolve ─▶ constraints ─▶ requires ─▶ bound_to
	                │           │            │             │           │
	          INVALID_INPUT FOREIGN_HOST  COMPONENT_CONSTRAINT_ERROR ───┘
	                                                       │
	                                                       ▼
	               release/extend job locks ◀── Apply ──▶ replace rows
	                                             │
	                          prune group hosts, change_hostcomponentmap,
	                          refresh concerns of the cluster tree

Constraints are checked for the services the request mentions; requires
and bound_to are checked across the cluster. Apply skips the rule checks
and is used to put back the map a task replaced.

The same rules, evaluated over the stored map of every service, form the
host-component issue registered with the concern engine.

# Binds

MultiBind makes the binds of an importer equal to the requested list.
Every entry must name an import of the importer and an exporter whose
prototype name matches the import, whose version lies in the import's
range and that declares exports. An import without multibind accepts one
bind. Dropping a bind is refused while one of the import's default groups
is still active in the importer's config.

# Group Configs

A group config belongs to a cluster, service or component. Its hosts must
be in the owner's scope (cluster members, or hosts the service or
component is placed on), and a host is in at most one group of an owner.
*/
package topology
