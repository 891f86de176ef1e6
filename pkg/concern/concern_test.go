package concern

import (
	"strings"
	"testing"

	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/settings"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *storage.Store
	configs  *config.Engine
	concerns *Engine

	bundle  *types.Bundle
	cluster *types.Object
	service *types.Object
	host    *types.Object
}

// newFixture builds cluster c1 with service web (config port required,
// unset) and one host placed on its component
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:    store,
		configs:  config.NewEngine(nil, settings.Layout{Base: dir}),
		concerns: NewEngine(),
	}

	require.NoError(t, store.Update(func(tx *storage.Tx) error {
		f.bundle = &types.Bundle{Name: "b", Version: "1", Hash: "h"}
		require.NoError(t, storage.Bundles.Insert(tx, f.bundle))

		cp := &types.Prototype{BundleID: f.bundle.ID, Type: types.ObjectCluster, Name: "c"}
		sp := &types.Prototype{BundleID: f.bundle.ID, Type: types.ObjectService, Name: "web"}
		pp := &types.Prototype{BundleID: f.bundle.ID, Type: types.ObjectComponent, Name: "node"}
		prov := &types.Prototype{BundleID: f.bundle.ID, Type: types.ObjectProvider, Name: "p"}
		hp := &types.Prototype{BundleID: f.bundle.ID, Type: types.ObjectHost, Name: "h"}
		for _, p := range []*types.Prototype{cp, sp, pp, prov, hp} {
			require.NoError(t, storage.Prototypes.Insert(tx, p))
		}
		require.NoError(t, storage.PrototypeConfigs.Insert(tx, &types.PrototypeConfig{
			PrototypeID: sp.ID, Name: "port", Type: types.FieldInteger, Required: true,
		}))

		f.cluster = &types.Object{Type: types.ObjectCluster, PrototypeID: cp.ID, Name: "c1", State: types.StateCreated}
		require.NoError(t, storage.InsertObject(tx, f.cluster))

		f.service = &types.Object{Type: types.ObjectService, PrototypeID: sp.ID, Name: "web", ClusterID: f.cluster.ID, State: types.StateCreated}
		require.NoError(t, storage.InsertObject(tx, f.service))
		spec, err := config.LoadSpec(tx, sp.ID)
		require.NoError(t, err)
		oc, err := f.configs.Init(tx, f.service.Ref(), 0, spec, sp, f.bundle.Hash)
		require.NoError(t, err)
		f.service.ConfigID = oc.ID
		require.NoError(t, storage.PutObject(tx, f.service))

		comp := &types.Object{Type: types.ObjectComponent, PrototypeID: pp.ID, Name: "node", ClusterID: f.cluster.ID, ServiceID: f.service.ID}
		require.NoError(t, storage.InsertObject(tx, comp))

		provider := &types.Object{Type: types.ObjectProvider, PrototypeID: prov.ID, Name: "p1"}
		require.NoError(t, storage.InsertObject(tx, provider))
		f.host = &types.Object{Type: types.ObjectHost, PrototypeID: hp.ID, Name: "h1", ProviderID: provider.ID, ClusterID: f.cluster.ID}
		require.NoError(t, storage.InsertObject(tx, f.host))

		return storage.HostComponents.Insert(tx, &types.HostComponent{
			ClusterID: f.cluster.ID, HostID: f.host.ID, ServiceID: f.service.ID, ComponentID: comp.ID,
		})
	}))
	return f
}

func (f *fixture) concernsOf(t *testing.T, ref types.ObjectRef) []*types.ConcernItem {
	t.Helper()
	var out []*types.ConcernItem
	require.NoError(t, f.store.View(func(tx *storage.Tx) error {
		var err error
		out, err = Of(tx, ref)
		return err
	}))
	return out
}

func TestConfigIssuePropagates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		return f.concerns.RefreshTree(tx, f.cluster.ID)
	}))

	onService := f.concernsOf(t, f.service.Ref())
	require.Len(t, onService, 1)
	assert.Equal(t, types.CauseConfig, onService[0].Cause)
	assert.Equal(t, f.service.Ref(), onService[0].Owner)
	assert.Contains(t, Render(onService[0].Reason), "port")

	onCluster := f.concernsOf(t, f.cluster.Ref())
	require.Len(t, onCluster, 1)
	assert.Equal(t, onService[0].ID, onCluster[0].ID)

	// hosts are below the service, not above it
	assert.Empty(t, f.concernsOf(t, f.host.Ref()))

	// refreshing again keeps a single row
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		return f.concerns.Refresh(tx, f.service.Ref())
	}))
	assert.Len(t, f.concernsOf(t, f.cluster.Ref()), 1)

	// setting the value clears the issue everywhere
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		spec, err := config.LoadSpec(tx, f.service.PrototypeID)
		require.NoError(t, err)
		oc, _, err := storage.CurrentConfig(tx, f.service.ConfigID)
		require.NoError(t, err)
		_, err = f.configs.Save(tx, oc, spec, map[string]any{"port": int64(80)}, nil, "")
		require.NoError(t, err)
		return f.concerns.Refresh(tx, f.service.Ref())
	}))
	assert.Empty(t, f.concernsOf(t, f.service.Ref()))
	assert.Empty(t, f.concernsOf(t, f.cluster.Ref()))
}

func TestIssueEvents(t *testing.T) {
	f := newFixture(t)
	var events []*types.Event
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		err := f.concerns.Refresh(tx, f.service.Ref())
		events = tx.Events()
		return err
	}))
	require.Len(t, events, 1)
	assert.Equal(t, types.EventConcern, events[0].Event)
	assert.Equal(t, "service", events[0].Object.Type)
	assert.Equal(t, string(types.EventAdd), events[0].Object.Details.Type)
}

func TestRequiredService(t *testing.T) {
	f := newFixture(t)
	var required *types.Prototype
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		required = &types.Prototype{BundleID: f.bundle.ID, Type: types.ObjectService, Name: "db", Required: true}
		require.NoError(t, storage.Prototypes.Insert(tx, required))
		return f.concerns.Refresh(tx, f.cluster.Ref())
	}))

	items := f.concernsOf(t, f.cluster.Ref())
	require.Len(t, items, 1)
	assert.Equal(t, types.CauseService, items[0].Cause)
	assert.Equal(t, "c1 requires service db to be added", Render(items[0].Reason))

	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		db := &types.Object{Type: types.ObjectService, PrototypeID: required.ID, Name: "db", ClusterID: f.cluster.ID}
		require.NoError(t, storage.InsertObject(tx, db))
		return f.concerns.Refresh(tx, f.cluster.Ref())
	}))
	assert.Empty(t, f.concernsOf(t, f.cluster.Ref()))
}

func TestRequiredImport(t *testing.T) {
	f := newFixture(t)
	var source *types.Object
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		require.NoError(t, storage.Imports.Insert(tx, &types.PrototypeImport{
			PrototypeID: f.cluster.PrototypeID, Name: "exporter", Required: true,
		}))
		ep := &types.Prototype{BundleID: f.bundle.ID, Type: types.ObjectCluster, Name: "exporter"}
		require.NoError(t, storage.Prototypes.Insert(tx, ep))
		source = &types.Object{Type: types.ObjectCluster, PrototypeID: ep.ID, Name: "a"}
		require.NoError(t, storage.InsertObject(tx, source))
		return f.concerns.Refresh(tx, f.cluster.Ref())
	}))
	items := f.concernsOf(t, f.cluster.Ref())
	require.Len(t, items, 1)
	assert.Equal(t, types.CauseImport, items[0].Cause)

	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		require.NoError(t, storage.Binds.Insert(tx, &types.ClusterBind{ClusterID: f.cluster.ID, SourceClusterID: source.ID}))
		return f.concerns.Refresh(tx, f.cluster.Ref())
	}))
	assert.Empty(t, f.concernsOf(t, f.cluster.Ref()))
}

func TestLockScopeAndGating(t *testing.T) {
	f := newFixture(t)
	action := &types.Action{Name: "install"}
	task := &types.TaskLog{ID: 7, Object: f.cluster.Ref()}

	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		_, err := f.concerns.Lock(tx, task, f.cluster, nil)
		return err
	}))
	assert.NotZero(t, task.LockID)

	require.NoError(t, f.store.View(func(tx *storage.Tx) error {
		for _, ref := range []types.ObjectRef{f.cluster.Ref(), f.service.Ref(), f.host.Ref()} {
			locked, err := Locked(tx, ref)
			require.NoError(t, err)
			assert.True(t, locked, ref.String())
		}
		err := f.concerns.CheckAction(tx, f.host, action)
		assert.True(t, errcode.Is(err, errcode.TaskError))
		assert.Contains(t, err.Error(), "object is locked")
		return nil
	}))

	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		require.NoError(t, f.concerns.Unlock(tx, task))
		return f.concerns.Unlock(tx, task)
	}))
	assert.Zero(t, task.LockID)

	require.NoError(t, f.store.View(func(tx *storage.Tx) error {
		ok, err := f.concerns.CanRunAction(tx, f.host, action)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
}

func TestConcurrentLocks(t *testing.T) {
	f := newFixture(t)
	first := &types.TaskLog{ID: 1}
	second := &types.TaskLog{ID: 2}
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		if _, err := f.concerns.Lock(tx, first, f.service, nil); err != nil {
			return err
		}
		_, err := f.concerns.Lock(tx, second, f.host, nil)
		return err
	}))
	assert.NotEqual(t, first.LockID, second.LockID)

	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		return f.concerns.Unlock(tx, first)
	}))
	require.NoError(t, f.store.View(func(tx *storage.Tx) error {
		locked, err := Locked(tx, f.cluster.Ref())
		require.NoError(t, err)
		assert.True(t, locked, "second lock still covers the cluster")
		return nil
	}))
}

func TestExtendRelease(t *testing.T) {
	f := newFixture(t)
	task := &types.TaskLog{ID: 3}
	other := types.Ref(types.ObjectHost, 99)
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		if _, err := f.concerns.Lock(tx, task, f.cluster, nil); err != nil {
			return err
		}
		return Extend(tx, f.cluster.Ref(), []types.ObjectRef{other})
	}))
	require.NoError(t, f.store.View(func(tx *storage.Tx) error {
		locked, err := Locked(tx, other)
		require.NoError(t, err)
		assert.True(t, locked)
		return nil
	}))

	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		return Release(tx, f.cluster.Ref(), []types.ObjectRef{other, f.cluster.Ref()})
	}))
	require.NoError(t, f.store.View(func(tx *storage.Tx) error {
		locked, err := Locked(tx, other)
		require.NoError(t, err)
		assert.False(t, locked)
		locked, err = Locked(tx, f.cluster.Ref())
		require.NoError(t, err)
		assert.True(t, locked, "owner stays locked")
		return nil
	}))
}

func TestRegisteredCheckAndMapActions(t *testing.T) {
	f := newFixture(t)
	f.concerns.Register(types.CauseHostComponent, []types.ObjectType{types.ObjectCluster},
		func(tx *storage.Tx, owner *types.Object) (*Issue, error) {
			return &Issue{Reason: types.Reason{Message: MsgHostComponentIssue, Placeholder: map[string]types.Placeholder{
				"source": placeholder(owner), "target": {Name: "node"},
			}}}, nil
		})
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		return f.concerns.Refresh(tx, f.cluster.Ref())
	}))

	plain := &types.Action{Name: "start"}
	withMap := &types.Action{Name: "expand", HostComponentMap: []types.HCAction{{Service: "web", Component: "node", Action: types.HCAdd}}}
	require.NoError(t, f.store.View(func(tx *storage.Tx) error {
		err := f.concerns.CheckAction(tx, f.cluster, plain)
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "has issue"))
		assert.NoError(t, f.concerns.CheckAction(tx, f.cluster, withMap))
		return nil
	}))
}

func TestFlagsDoNotBlock(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		require.NoError(t, f.concerns.Flag(tx, f.cluster, "outdated_config", "${source} has outdated configuration"))
		return f.concerns.Flag(tx, f.cluster, "outdated_config", "${source} has outdated configuration")
	}))
	assert.Len(t, f.concernsOf(t, f.cluster.Ref()), 1)
	require.NoError(t, f.store.View(func(tx *storage.Tx) error {
		return f.concerns.CheckAction(tx, f.cluster, &types.Action{})
	}))
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		return f.concerns.ClearFlags(tx, f.cluster.Ref())
	}))
	assert.Empty(t, f.concernsOf(t, f.cluster.Ref()))
}

func TestForget(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		return f.concerns.Refresh(tx, f.service.Ref())
	}))
	require.NoError(t, f.store.Update(func(tx *storage.Tx) error {
		return f.concerns.Forget(tx, f.service.Ref())
	}))
	assert.Empty(t, f.concernsOf(t, f.cluster.Ref()))
}

func TestAncestorsOfHost(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.View(func(tx *storage.Tx) error {
		refs, err := Ancestors(tx, f.host)
		require.NoError(t, err)
		assert.Contains(t, refs, types.Ref(types.ObjectProvider, f.host.ProviderID))
		assert.Contains(t, refs, f.service.Ref())
		assert.Contains(t, refs, f.cluster.Ref())
		return nil
	}))
}
