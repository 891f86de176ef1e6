/*
Package catalog loads bundles: directories whose config.yaml declares
cluster, service, component, provider and host prototypes.

# Loading

	bundle dir ──ReadDir──▶ Bundle{Hash, []PrototypeDef}
	                              │
	                         Unpack│ data/bundle/<hash>
	                              ▼
	                   Load(tx) ──▶ Bundle, Prototype, PrototypeConfig,
	                                Action, SubAction, Upgrade,
	                                PrototypeImport, PrototypeExport

The bundle takes its name, version and edition from its one cluster,
provider or adcm prototype. A hash that is already loaded, or a second
bundle with the same name, version and edition, is BUNDLE_CONFLICT. A
prototype whose adcm_min_version is newer than the running ADCM fails the
whole load with BUNDLE_VERSION_ERROR.

Components are declared inline under their service and inherit its
version and path. Config specs are validated before anything is stored;
contradictory definitions are INVALID_CONFIG_DEFINITION.

# Action Defaults

	type         job, or task when scripts are given
	script_type  ansible
	available    any, for both state and multi-state
	strict       true for variant sources

The short "states" form and "masking" can't be combined. The reserved
state "locked" can't be an outcome.

# Licenses

A prototype with a license file starts "unaccepted" and can't be
instantiated until AcceptLicense. Bundles without a license are "absent".

# Deletion

Delete refuses while any object is created from the bundle and otherwise
removes every record the load created.
*/
package catalog
