package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/entity"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/security"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/testenv"
	"github.com/cuemby/adcm/pkg/topology"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clusterDef = `
- type: cluster
  name: cl
  version: "1.0"
  config:
    - {name: port, type: integer, required: true}
    - {name: secret, type: password}
  actions:
    install:
      script: ./install.yaml
      states:
        available: [created]
        on_success: installed
    expand:
      script: expand.yaml
      hc_acl:
        - {service: hdfs, component: datanode, action: add}
        - {service: hdfs, component: datanode, action: remove}
    tune:
      script: tune.yaml
      config:
        - {name: force, type: boolean, required: true}
        - {name: token, type: password}
    deploy:
      type: task
      scripts:
        - {name: first, script: first.yaml}
        - {name: second, script: second.py, script_type: python, params: {ansible_tags: x}}
- type: service
  name: hdfs
  version: "1.0"
  components:
    namenode: {}
    datanode: {}
`

const providerDef = `
- type: provider
  name: prov
  version: "1.0"
  config:
    - {name: region, type: string, default: eu}
  actions:
    check: {script: check.yaml}
- type: host
  name: node
  version: "1.0"
  config:
    - {name: ansible_user, type: string, default: root}
`

type fixture struct {
	*testenv.Env
	planner *Planner

	cb, pb                  *testenv.Bundle
	cluster, hdfs, provider *types.Object
	host1, host2            *types.Object
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := testenv.New(t)
	f := &fixture{Env: env}
	f.planner = New(env.Configs, env.Concerns, env.Topo, Options{Layout: env.Layout, StatusToken: "status-token", Forks: 7})
	f.cb = env.Load(t, clusterDef, nil)
	f.pb = env.Load(t, providerDef, nil)
	f.cluster = env.Cluster(t, f.cb.Protos["cl"], "c1")
	f.hdfs = env.Service(t, f.cluster, f.cb.Protos["hdfs"])
	f.provider = env.Provider(t, f.pb.Protos["prov"], "p1")
	f.host1 = env.Host(t, f.pb.Protos["node"], f.provider, f.cluster, "h1.example.com")
	f.host2 = env.Host(t, f.pb.Protos["node"], f.provider, f.cluster, "h2.example.com")
	return f
}

func (f *fixture) action(t *testing.T, proto, name string) *types.Action {
	t.Helper()
	var a *types.Action
	require.NoError(t, f.Store.View(func(tx *storage.Tx) error {
		var err error
		a, err = storage.ActionByName(tx, f.protos()[proto].ID, name)
		return err
	}))
	return a
}

func (f *fixture) protos() map[string]*types.Prototype {
	out := map[string]*types.Prototype{}
	for k, v := range f.cb.Protos {
		out[k] = v
	}
	for k, v := range f.pb.Protos {
		out[k] = v
	}
	return out
}

func (f *fixture) prepare(req Request) (*Prepared, error) {
	var out *Prepared
	err := f.Store.Update(func(tx *storage.Tx) error {
		var err error
		out, err = f.planner.Prepare(tx, req)
		return err
	})
	return out, err
}

func (f *fixture) render(t *testing.T, task *types.TaskLog, job *types.JobLog) *JobFiles {
	t.Helper()
	var files *JobFiles
	require.NoError(t, f.Store.View(func(tx *storage.Tx) error {
		var err error
		files, err = f.planner.Render(tx, task, job)
		return err
	}))
	return files
}

func (f *fixture) configure(t *testing.T) {
	t.Helper()
	f.SetConfig(t, f.cluster, map[string]any{"port": 8080, "secret": "hunter2"})
}

func TestPrepareBlockedByRequiredConfig(t *testing.T) {
	f := newFixture(t)
	_, err := f.prepare(Request{ActionID: f.action(t, "cl", "install").ID, Target: f.cluster.Ref()})
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.TaskError), err)
	assert.Contains(t, err.Error(), "has issue")
	assert.Contains(t, err.Error(), "required config")

	require.NoError(t, f.Store.View(func(tx *storage.Tx) error {
		assert.Zero(t, storage.Tasks.Count(tx))
		assert.Zero(t, storage.Jobs.Count(tx))
		return nil
	}))
}

func TestPrepareTask(t *testing.T) {
	f := newFixture(t)
	f.configure(t)

	p, err := f.prepare(Request{ActionID: f.action(t, "cl", "install").ID, Target: f.cluster.Ref()})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCreated, p.Task.Status)
	assert.Equal(t, f.cluster.Ref(), p.Task.Object)
	assert.Equal(t, map[types.ObjectType]int64{types.ObjectCluster: f.cluster.ID}, p.Task.Selector)
	assert.NotZero(t, p.Task.LockID)
	require.Len(t, p.Jobs, 1)
	assert.Equal(t, "install", p.Jobs[0].Name)

	require.NoError(t, f.Store.View(func(tx *storage.Tx) error {
		for _, ref := range []types.ObjectRef{f.cluster.Ref(), f.hdfs.Ref()} {
			locked, err := concern.Locked(tx, ref)
			require.NoError(t, err)
			assert.True(t, locked, ref)
		}
		logs, err := storage.Logs.List(tx, func(l *types.LogStorage) bool { return l.JobID == p.Jobs[0].ID })
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "ansible", logs[0].Name)
		return nil
	}))
	assert.True(t, f.Saw(types.EventChangeJobStatus, types.Ref("task", p.Task.ID), string(types.StatusCreated)))

	dir := f.Layout.JobDir(p.Jobs[0].ID)
	conf, err := ReadJobConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.Layout.StackDir(f.cb.Hash), "install.yaml"), conf.Job.Playbook)
	assert.Equal(t, "cluster", conf.Context["type"])
	assert.Equal(t, f.cluster.ID, conf.Context["cluster_id"])
	assert.Equal(t, "status-token", conf.Env.StatusAPIToken)
	assert.Equal(t, filepath.Join(dir, TmpDir), conf.Env.TmpDir)
	assert.Equal(t, GroupCluster, conf.Job.HostGroup)
	assert.Equal(t, f.cluster.ID, conf.Job.ClusterID)
	for _, name := range []string{InventoryFile, AnsibleCfg} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	cfg, err := os.ReadFile(filepath.Join(dir, AnsibleCfg))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "forks=7")

	_, err = f.prepare(Request{ActionID: f.action(t, "cl", "install").ID, Target: f.cluster.Ref()})
	assert.True(t, errcode.Is(err, errcode.TaskError), err)
	assert.Contains(t, err.Error(), "locked")
}

func TestAvailable(t *testing.T) {
	cases := map[string]struct {
		action types.Action
		obj    types.Object
		want   bool
	}{
		"any state": {
			action: types.Action{StateAvailableAny: true, MultiStateAvailableAny: true},
			obj:    types.Object{State: "created"},
			want:   true,
		},
		"state unavailable": {
			action: types.Action{StateAvailableAny: true, StateUnavailable: []string{"broken"}, MultiStateAvailableAny: true},
			obj:    types.Object{State: "broken"},
		},
		"state listed": {
			action: types.Action{StateAvailable: []string{"installed"}, MultiStateAvailableAny: true},
			obj:    types.Object{State: "installed"},
			want:   true,
		},
		"state not listed": {
			action: types.Action{StateAvailable: []string{"installed"}, MultiStateAvailableAny: true},
			obj:    types.Object{State: "created"},
		},
		"multi-state unavailable": {
			action: types.Action{StateAvailableAny: true, MultiStateAvailableAny: true, MultiStateUnavailable: []string{"dirty"}},
			obj:    types.Object{State: "created", MultiState: []string{"ok", "dirty"}},
		},
		"multi-state listed": {
			action: types.Action{StateAvailableAny: true, MultiStateAvailable: []string{"ok"}},
			obj:    types.Object{State: "created", MultiState: []string{"ok"}},
			want:   true,
		},
		"multi-state missing": {
			action: types.Action{StateAvailableAny: true, MultiStateAvailable: []string{"ok"}},
			obj:    types.Object{State: "created"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Available(&tc.obj, &tc.action))
		})
	}
}

func TestPrepareUnavailableState(t *testing.T) {
	f := newFixture(t)
	f.configure(t)
	f.Update(t, func(tx *storage.Tx) error {
		c, err := storage.GetObject(tx, f.cluster.Ref())
		if err != nil {
			return err
		}
		return entity.SetState(tx, c, "installed")
	})
	_, err := f.prepare(Request{ActionID: f.action(t, "cl", "install").ID, Target: f.cluster.Ref()})
	assert.True(t, errcode.Is(err, errcode.TaskError), err)
	assert.Contains(t, err.Error(), "not available")

	_, err = f.prepare(Request{ActionID: f.action(t, "prov", "check").ID, Target: f.cluster.Ref()})
	assert.True(t, errcode.Is(err, errcode.ActionNotFound), err)
}

func TestPrepareActionConfig(t *testing.T) {
	f := newFixture(t)
	f.configure(t)
	tune := f.action(t, "cl", "tune")

	_, err := f.prepare(Request{ActionID: tune.ID, Target: f.cluster.Ref()})
	assert.True(t, errcode.Is(err, errcode.TaskGeneratorError), err)

	_, err = f.prepare(Request{ActionID: tune.ID, Target: f.cluster.Ref(), Config: map[string]any{"force": "yes"}})
	assert.True(t, errcode.Is(err, errcode.ConfigValueError), err)

	_, err = f.prepare(Request{ActionID: f.action(t, "cl", "install").ID, Target: f.cluster.Ref(), Config: map[string]any{"x": 1}})
	assert.True(t, errcode.Is(err, errcode.ConfigKeyError), err)

	p, err := f.prepare(Request{ActionID: tune.ID, Target: f.cluster.Ref(), Config: map[string]any{"force": true, "token": "abc"}})
	require.NoError(t, err)
	assert.Equal(t, true, p.Task.Config["force"])
	token, _ := p.Task.Config["token"].(string)
	assert.True(t, security.IsEncrypted(token))

	files := f.render(t, p.Task, p.Jobs[0])
	assert.Equal(t, map[string]any{VaultKey: token}, files.Config.Job.Config["token"])
}

func TestPrepareHostComponent(t *testing.T) {
	f := newFixture(t)
	f.configure(t)
	namenode := f.Component(t, f.hdfs, "namenode")
	datanode := f.Component(t, f.hdfs, "datanode")
	expand := f.action(t, "cl", "expand")
	install := f.action(t, "cl", "install")
	entry := types.HCEntry{HostID: f.host1.ID, ServiceID: f.hdfs.ID, ComponentID: datanode.ID}

	_, err := f.prepare(Request{ActionID: install.ID, Target: f.cluster.Ref(), HC: []types.HCEntry{entry}})
	assert.True(t, errcode.Is(err, errcode.TaskGeneratorError), err)

	_, err = f.prepare(Request{ActionID: expand.ID, Target: f.cluster.Ref()})
	assert.True(t, errcode.Is(err, errcode.TaskGeneratorError), err)

	_, err = f.prepare(Request{ActionID: expand.ID, Target: f.cluster.Ref(), HC: []types.HCEntry{
		{HostID: f.host1.ID, ServiceID: f.hdfs.ID, ComponentID: namenode.ID},
	}})
	assert.True(t, errcode.Is(err, errcode.TaskError), err)
	assert.Contains(t, err.Error(), "no permission")

	p, err := f.prepare(Request{ActionID: expand.ID, Target: f.cluster.Ref(), HC: []types.HCEntry{entry}})
	require.NoError(t, err)
	assert.True(t, p.Task.AppliedHC)
	assert.Empty(t, p.Task.Old)
	assert.Equal(t, []types.HCEntry{entry}, p.Task.New)

	require.NoError(t, f.Store.View(func(tx *storage.Tx) error {
		current, err := topology.Current(tx, f.cluster.ID)
		require.NoError(t, err)
		assert.Equal(t, []types.HCEntry{entry}, current)
		locked, err := concern.Locked(tx, f.host1.Ref())
		require.NoError(t, err)
		assert.True(t, locked)
		return nil
	}))

	inv := f.render(t, p.Task, p.Jobs[0]).Inventory
	children := inv.All.Children
	assert.Len(t, children[GroupCluster].Hosts, 2)
	require.Contains(t, children, "hdfs.datanode")
	assert.Contains(t, children["hdfs.datanode"].Hosts, "h1.example.com")
	require.Contains(t, children, "hdfs.datanode.add")
	assert.Contains(t, children["hdfs.datanode.add"].Hosts, "h1.example.com")
	assert.Contains(t, children["hdfs"].Hosts, "h1.example.com")
	assert.NotContains(t, children, "hdfs.datanode.remove")
}

func TestRenderTaskSteps(t *testing.T) {
	f := newFixture(t)
	f.configure(t)

	p, err := f.prepare(Request{ActionID: f.action(t, "cl", "deploy").ID, Target: f.cluster.Ref()})
	require.NoError(t, err)
	require.Len(t, p.Jobs, 2)
	assert.Equal(t, "first", p.Jobs[0].Name)
	assert.Equal(t, "second", p.Jobs[1].Name)
	assert.NotZero(t, p.Jobs[1].SubActionID)

	_, err = os.Stat(filepath.Join(f.Layout.JobDir(p.Jobs[1].ID), ConfigFile))
	assert.True(t, os.IsNotExist(err), "later jobs are rendered when they start")

	second := f.render(t, p.Task, p.Jobs[1]).Config
	assert.Equal(t, "deploy", second.Job.Action)
	assert.Equal(t, "second", second.Job.Command)
	assert.Equal(t, types.ScriptPython, second.Job.ScriptType)
	assert.Equal(t, "x", second.Job.Params["ansible_tags"])
	assert.Equal(t, filepath.Join(f.Layout.StackDir(f.cb.Hash), "second.py"), second.Job.Playbook)
}

func TestRenderVars(t *testing.T) {
	f := newFixture(t)
	f.configure(t)
	f.Update(t, func(tx *storage.Tx) error {
		group, err := f.Topo.CreateGroupConfig(tx, f.cluster, "edge", "")
		if err != nil {
			return err
		}
		host, err := storage.GetObject(tx, f.host1.Ref())
		if err != nil {
			return err
		}
		return f.Topo.AddGroupHost(tx, group, host)
	})

	p, err := f.prepare(Request{ActionID: f.action(t, "cl", "install").ID, Target: f.cluster.Ref()})
	require.NoError(t, err)
	inv := f.render(t, p.Task, p.Jobs[0]).Inventory

	cluster := inv.All.Vars["cluster"].(map[string]any)
	assert.Equal(t, "c1", cluster["name"])
	cfg := cluster["config"].(map[string]any)
	assert.Equal(t, int64(8080), cfg["port"])
	secret, ok := cfg["secret"].(map[string]any)
	require.True(t, ok, "password is wrapped")
	assert.True(t, security.IsEncrypted(secret[VaultKey].(string)))

	services := inv.All.Vars["services"].(map[string]any)
	hdfs := services["hdfs"].(map[string]any)
	assert.Equal(t, f.hdfs.ID, hdfs["id"])
	namenode := hdfs["namenode"].(map[string]any)
	assert.Equal(t, f.Component(t, f.hdfs, "namenode").ID, namenode["component_id"])

	h1 := inv.All.Children[GroupCluster].Hosts["h1.example.com"]
	assert.Equal(t, "root", h1["ansible_user"])
	assert.Equal(t, f.host1.ID, h1["adcm_hostid"])
	overlay := h1["cluster"].(map[string]any)["config"].(map[string]any)
	assert.Equal(t, int64(8080), overlay["port"])

	h2 := inv.All.Children[GroupCluster].Hosts["h2.example.com"]
	assert.NotContains(t, h2, "cluster")
}

func TestRenderProvider(t *testing.T) {
	f := newFixture(t)
	p, err := f.prepare(Request{ActionID: f.action(t, "prov", "check").ID, Target: f.provider.Ref()})
	require.NoError(t, err)

	files := f.render(t, p.Task, p.Jobs[0])
	assert.Equal(t, GroupProvider, files.Config.Job.HostGroup)
	assert.Equal(t, f.provider.ID, files.Config.Job.ProviderID)
	assert.Equal(t, "provider", files.Config.Context["type"])

	inv := files.Inventory
	assert.Len(t, inv.All.Children[GroupProvider].Hosts, 2)
	provider := inv.All.Vars["provider"].(map[string]any)
	assert.Equal(t, "eu", provider["config"].(map[string]any)["region"])
}

func TestPlaybook(t *testing.T) {
	proto := &types.Prototype{Path: "services/web"}
	assert.Equal(t, "/stack/services/web/install.yaml", Playbook("/stack", proto, "./install.yaml"))
	assert.Equal(t, "/stack/playbooks/install.yaml", Playbook("/stack", proto, "playbooks/install.yaml"))

	p := New(nil, nil, nil, Options{})
	p.opts.Layout.Base = "/srv/adcm"
	assert.Equal(t, "/srv/adcm/conf", p.StackDir(&types.Prototype{Type: types.ObjectADCM}, nil))
	assert.Equal(t, "/srv/adcm/data/bundle/abc", p.StackDir(&types.Prototype{Type: types.ObjectCluster}, &types.Bundle{Hash: "abc"}))
}
