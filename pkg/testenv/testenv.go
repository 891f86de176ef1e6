// Package testenv builds a store with every engine wired, for tests of the
// packages that orchestrate them.
package testenv

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cuemby/adcm/pkg/catalog"
	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/entity"
	"github.com/cuemby/adcm/pkg/security"
	"github.com/cuemby/adcm/pkg/settings"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/topology"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/stretchr/testify/require"
)

// VaultPassword is the vault password of every test environment
const VaultPassword = "test-vault-password"

// Env is a temporary ADCM installation
type Env struct {
	Layout   settings.Layout
	Store    *storage.Store
	Vault    *security.Vault
	Configs  *config.Engine
	Concerns *concern.Engine
	Topo     *topology.Engine
	Entities *entity.Engine

	mu     sync.Mutex
	events []*types.Event
}

// New creates an environment rooted at a temporary directory
func New(t *testing.T) *Env {
	t.Helper()
	layout := settings.Layout{Base: t.TempDir()}
	require.NoError(t, layout.Ensure())
	require.NoError(t, os.WriteFile(layout.VaultPasswordFile(), []byte(VaultPassword), 0600))

	store, err := storage.Open(layout.VarDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	vault, err := security.NewVault(VaultPassword)
	require.NoError(t, err)

	env := &Env{Layout: layout, Store: store, Vault: vault}
	env.Configs = config.NewEngine(vault, layout)
	env.Concerns = concern.NewEngine()
	env.Topo = topology.NewEngine(env.Configs, env.Concerns)
	env.Entities = entity.NewEngine(env.Configs, env.Concerns, env.Topo)
	store.OnCommit(func(events []*types.Event) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.events = append(env.events, events...)
	})
	return env
}

// Bundle is a loaded bundle with its prototypes by name
type Bundle struct {
	*types.Bundle
	Protos map[string]*types.Prototype
}

// Load decodes a bundle definition, unpacks files into its stack
// directory and stores it. files maps relative paths to content.
func (e *Env) Load(t *testing.T, definition string, files map[string]string) *Bundle {
	t.Helper()
	b, err := catalog.Decode([]byte(definition))
	require.NoError(t, err)
	dir := e.Layout.StackDir(b.Hash)
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0750))
	}

	out := &Bundle{Protos: map[string]*types.Prototype{}}
	e.Update(t, func(tx *storage.Tx) error {
		bundle, err := catalog.Load(tx, b, "")
		if err != nil {
			return err
		}
		out.Bundle = bundle
		protos, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool { return p.BundleID == bundle.ID })
		if err != nil {
			return err
		}
		for _, p := range protos {
			out.Protos[p.Name] = p
		}
		return nil
	})
	return out
}

// Update runs fn in a write transaction and requires it to succeed
func (e *Env) Update(t *testing.T, fn func(tx *storage.Tx) error) {
	t.Helper()
	require.NoError(t, e.Store.Update(fn))
}

// Reload returns the stored version of obj
func (e *Env) Reload(t *testing.T, obj *types.Object) *types.Object {
	t.Helper()
	var out *types.Object
	require.NoError(t, e.Store.View(func(tx *storage.Tx) error {
		var err error
		out, err = storage.GetObject(tx, obj.Ref())
		return err
	}))
	return out
}

// Cluster creates a cluster from proto
func (e *Env) Cluster(t *testing.T, proto *types.Prototype, name string) *types.Object {
	t.Helper()
	var obj *types.Object
	e.Update(t, func(tx *storage.Tx) error {
		var err error
		obj, err = e.Entities.AddCluster(tx, proto.ID, name, "")
		return err
	})
	return obj
}

// Service adds a service to a cluster
func (e *Env) Service(t *testing.T, cluster *types.Object, proto *types.Prototype) *types.Object {
	t.Helper()
	var obj *types.Object
	e.Update(t, func(tx *storage.Tx) error {
		var err error
		obj, err = e.Entities.AddService(tx, cluster, proto.ID)
		return err
	})
	return obj
}

// Component returns the component of a service created from proto
func (e *Env) Component(t *testing.T, service *types.Object, name string) *types.Object {
	t.Helper()
	var obj *types.Object
	require.NoError(t, e.Store.View(func(tx *storage.Tx) error {
		comps, err := storage.Components(tx, service.ID)
		if err != nil {
			return err
		}
		for _, c := range comps {
			if c.Name == name {
				obj = c
			}
		}
		return nil
	}))
	require.NotNil(t, obj, "component %s", name)
	return obj
}

// Provider creates a host provider
func (e *Env) Provider(t *testing.T, proto *types.Prototype, name string) *types.Object {
	t.Helper()
	var obj *types.Object
	e.Update(t, func(tx *storage.Tx) error {
		var err error
		obj, err = e.Entities.AddHostProvider(tx, proto.ID, name, "")
		return err
	})
	return obj
}

// Host creates a host, adding it to cluster unless cluster is nil
func (e *Env) Host(t *testing.T, proto *types.Prototype, provider, cluster *types.Object, fqdn string) *types.Object {
	t.Helper()
	var obj *types.Object
	e.Update(t, func(tx *storage.Tx) error {
		var err error
		if obj, err = e.Entities.AddHost(tx, proto.ID, provider, fqdn, ""); err != nil {
			return err
		}
		if cluster == nil {
			return nil
		}
		if err := e.Entities.AddHostToCluster(tx, cluster, obj); err != nil {
			return err
		}
		obj, err = storage.GetObject(tx, obj.Ref())
		return err
	})
	return obj
}

// SetConfig stores a new config version of obj
func (e *Env) SetConfig(t *testing.T, obj *types.Object, cfg map[string]any) {
	t.Helper()
	e.Update(t, func(tx *storage.Tx) error {
		fresh, err := storage.GetObject(tx, obj.Ref())
		if err != nil {
			return err
		}
		_, err = e.Entities.UpdateConfig(tx, fresh, cfg, nil, "")
		return err
	})
}

// Config returns the current config of obj
func (e *Env) Config(t *testing.T, obj *types.Object) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, e.Store.View(func(tx *storage.Tx) error {
		fresh, err := storage.GetObject(tx, obj.Ref())
		if err != nil {
			return err
		}
		_, cl, err := storage.CurrentConfig(tx, fresh.ConfigID)
		if err != nil {
			return err
		}
		out = cl.Config
		return nil
	}))
	return out
}

// Events returns the events committed so far
func (e *Env) Events() []*types.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*types.Event(nil), e.events...)
}

// Saw reports whether an event of kind about ref with the given details
// value was committed
func (e *Env) Saw(kind types.EventType, ref types.ObjectRef, value string) bool {
	for _, ev := range e.Events() {
		if ev.Event == kind && ev.Object.Type == string(ref.Type) && ev.Object.ID == ref.ID && ev.Object.Details.Value == value {
			return true
		}
	}
	return false
}
