/*
Package manager wires one ADCM installation together.

A Manager owns the store under <base>/data/var, the vault used for
password and secret config values, and every engine that reads or
writes the store. The same Manager serves the long running process and
the short lived CLI commands; only Serve starts background loops.

# Architecture

	┌──────────────────────────── MANAGER ────────────────────────────┐
	│                                                                  │
	│   settings.Config ──► Layout (data/var, data/run, data/bundle)   │
	│                          │                                       │
	│                 vault password, secrets.json                     │
	│                          │                                       │
	│   ┌──────────────────────▼──────────────────────────┐            │
	│   │                  storage.Store                   │            │
	│   │  tables + outbox, one writer transaction         │            │
	│   └──┬──────────┬───────────┬────────────┬──────────┘            │
	│      │          │           │            │                       │
	│   catalog    entity      topology     planner ─► runner          │
	│   (bundles)  config      (hc, binds,  (tasks)    TaskRunner      │
	│              concern      groups)                Executor        │
	│              upgrade                                             │
	│                                                                  │
	│   Serve only:                                                    │
	│     events.Broker       commit hook fan-out                      │
	│     events.Emitter      outbox ─► status server                  │
	│     ServiceMapPusher    topology snapshot ─► status server       │
	│     reconciler          orphaned tasks, lock repair              │
	│     metrics.Collector   gauges from the store                    │
	│     health.Monitor      store, status server, ansible probes     │
	└──────────────────────────────────────────────────────────────────┘

# Startup

New creates the directory layout, reads the vault password and the
status token, opens the store and creates the adcm root object once a
bundle declaring it is loaded. It does not touch the network.

Serve attaches the broker to the store, starts the collector and the
reconciler, and runs the emitter, the service map pusher and the health
monitor in an errgroup until ctx is cancelled. Shutdown aborts running
tasks within the runner grace period and closes the store.

# Inventory files

Apply executes the commands of an inventory file, one transaction each:

	- op: load_bundle
	  data: {path: ./bundles/app, accept_license: true}
	- op: add_cluster
	  data: {bundle: app, name: prod}
	- op: add_service
	  data: {cluster: prod, service: db}
	- op: add_provider
	  data: {bundle: ssh, name: dc1}
	- op: add_host
	  data: {provider: dc1, fqdn: h1.example.com, cluster: prod}
	- op: save_hc
	  data:
	    cluster: prod
	    hc: [{host: h1.example.com, service: db, component: primary}]
	- op: set_config
	  data:
	    object: {type: cluster, name: prod}
	    config: {x: 25}
	- op: run_action
	  data: {object: {type: cluster, name: prod}, action: install, wait: true}
	- op: upgrade
	  data: {object: {type: cluster, name: prod}, upgrade: to 2.0}

Objects are resolved by name: clusters, providers and hosts by their own
name, services by cluster and name, components by cluster, service and
name. set_config overlays the given keys on the current config.

# Usage

	cfg, err := settings.Load(path, nil)
	if err != nil {
		return err
	}
	m, err := manager.New(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return m.Serve(ctx)
*/
package manager
