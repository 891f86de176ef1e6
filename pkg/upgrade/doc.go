/*
Package upgrade moves clusters and host providers to a newer bundle.

An upgrade is declared by the target bundle. It names the version window
of the object it applies to, the editions it accepts, the states it is
available in and the state it leaves the object in.

# Checks

	upgrade offered by bundle B' to object O of bundle B
	       │
	       ├─ O is a cluster or provider
	       ├─ B' ≠ B, same bundle name
	       ├─ license of B' accepted          (LICENSE_ERROR)
	       ├─ B' has a prototype of O's type and name
	       ├─ O is not locked by a running task
	       ├─ O.state in states.available (or any)
	       ├─ O version in versions (min/max, *_strict)
	       ├─ B edition in from_edition (default community)
	       ├─ cluster:  binds still accepted by B' imports
	       └─ provider: every host prototype exists in B'
	       ▼
	     UPGRADE_ERROR on the first failed check

Available runs the checks against every stored upgrade and returns those
that pass.

# Switch

	cluster                          provider
	  │ prototype → B'                 │ prototype → B'
	  │ config migrated                │ config migrated
	  ├─ service in B'    → switched   └─ hosts → switched, config migrated
	  │    ├─ component in B' → switched
	  │    ├─ component gone  → deleted with its placements
	  │    └─ component new   → added
	  └─ service gone     → deleted (forced)

Every switched entity records before_upgrade {prototype, state}. Config
migration keeps user values of keys whose type is unchanged and resets
keys still holding the old default to the new default:

	old spec  x: integer, default 10     stored x = 25
	new spec  x: integer, default 50     migrated x = 25
	          y: string,  default auto            y = auto

After the switch the state becomes states.on_success when declared, the
concerns of the whole tree are recomputed and an "upgrade" event with the
new version is emitted. All of it runs in the caller's transaction.

# Usage

	up := upgrade.NewEngine(configs, concerns, entities)

	err := store.Update(func(tx *storage.Tx) error {
		cluster, err := storage.GetTyped(tx, types.ObjectCluster, id)
		if err != nil {
			return err
		}
		_, err = up.Upgrade(tx, cluster, upgradeID)
		return err
	})
*/
package upgrade
