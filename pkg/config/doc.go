/*
Package config implements typed, versioned entity configuration.

A prototype declares its config as ordered (name, subname) rows. A row with
an empty subname is a scalar field or a group marker; rows with a subname
are members of that group. The engine works on the nested shape

	{"port": 8080, "cfg": {"x": 25, "y": "auto"}}

and exposes the flat "name/subname" view through Spec.Flatten.

# Pipeline

	            submitted config + attr
	                     │
	                     ▼
	        ┌──────── Check ─────────┐
	        │ map shape      JSON_ERROR
	        │ attr flags     ATTRIBUTE_ERROR
	        │ unknown keys   CONFIG_KEY_ERROR
	        │ read-only      CONFIG_VALUE_ERROR (missing: restored)
	        │ required       CONFIG_KEY_ERROR (inactive groups exempt)
	        │ per-type value CONFIG_VALUE_ERROR
	        └──────────┬─────────────┘
	                   ▼
	        ┌──────── Save ──────────┐
	        │ passwords → vault text │
	        │ append ConfigLog        │
	        │ previous = current      │
	        │ current  = new          │
	        │ files after commit      │
	        └────────────────────────┘

# History

ConfigLog records are never modified. Save appends and advances both
pointers; Restore points current at an older log of the same chain and
moves the old current into previous.

# Group Configs

A group config keeps its own chain whose attr carries two extra maps with
the config shape and bool leaves:

	group_keys         leaf true: the group overrides this field
	custom_group_keys  leaf true: the field may be overridden

custom_group_keys is derived from the prototype on every save, so a
client can never widen it. Merge(parent, group, group_keys) is the config
a host in the group sees. When the owner's config changes, SyncGroups
rewrites every group so non-overridden fields follow the owner.

# Files And Passwords

File values are written to

	data/file/<type>.<id>.<name>.<subname>      entities
	data/file/group.<id>.<name>.<subname>       group configs

with mode 0600; private keys get a trailing newline. Password values are
stored as ansible-vault text and never encrypted twice.

# Upgrades

Migrate carries values across a prototype swap: a value equal to the old
default takes the new default, a changed value is kept, new fields get
their defaults and removed fields disappear. Switch stores the result as a
version described "upgrade" for the entity and each of its group configs.
*/
package config
