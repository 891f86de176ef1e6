package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/planner"
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
  actions:
    install:
      script: install.yaml
      states: {available: any, on_success: installed, on_fail: broken}
      allow_to_terminate: true
    expand:
      script: expand.yaml
      hc_acl:
        - {service: hdfs, component: datanode, action: add}
      on_success: {multi_state: {set: [expanded]}}
    deploy:
      type: task
      on_success: {state: deployed}
      on_fail: {state: failed}
      scripts:
        - {name: first, script: first.yaml}
        - {name: second, script: second.yaml, on_fail: {state: half}}
- type: service
  name: hdfs
  version: "1.0"
  components:
    datanode: {}
`

const providerDef = `
- type: provider
  name: prov
  version: "1.0"
- type: host
  name: node
  version: "1.0"
`

type fixture struct {
	*testenv.Env
	planner *planner.Planner

	cluster, hdfs, datanode, host *types.Object
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := testenv.New(t)
	f := &fixture{Env: env}
	f.planner = planner.New(env.Configs, env.Concerns, env.Topo, planner.Options{Layout: env.Layout})
	cb := env.Load(t, clusterDef, nil)
	pb := env.Load(t, providerDef, nil)
	f.cluster = env.Cluster(t, cb.Protos["cl"], "c1")
	f.SetConfig(t, f.cluster, map[string]any{"port": 8080})
	f.hdfs = env.Service(t, f.cluster, cb.Protos["hdfs"])
	f.datanode = env.Component(t, f.hdfs, "datanode")
	provider := env.Provider(t, pb.Protos["prov"], "p1")
	f.host = env.Host(t, pb.Protos["node"], provider, f.cluster, "h1.example.com")
	return f
}

// runner returns a task runner whose job runner is the shell script; $1 is
// the job id
func (f *fixture) runner(script string) *TaskRunner {
	return NewTaskRunner(f.Store, f.planner, f.Concerns, f.Topo, Options{
		Command:     []string{"/bin/sh", "-c", script, "job-runner"},
		GracePeriod: time.Second,
	})
}

func (f *fixture) prepare(t *testing.T, action string, hc []types.HCEntry) *planner.Prepared {
	t.Helper()
	var out *planner.Prepared
	f.Update(t, func(tx *storage.Tx) error {
		a, err := storage.ActionByName(tx, f.cluster.PrototypeID, action)
		if err != nil {
			return err
		}
		out, err = f.planner.Prepare(tx, planner.Request{ActionID: a.ID, Target: f.cluster.Ref(), HC: hc})
		return err
	})
	return out
}

func (f *fixture) task(t *testing.T, id int64) (*types.TaskLog, []*types.JobLog) {
	t.Helper()
	var task *types.TaskLog
	var jobs []*types.JobLog
	require.NoError(t, f.Store.View(func(tx *storage.Tx) error {
		var err error
		if task, err = storage.Tasks.Get(tx, id); err != nil {
			return err
		}
		jobs, err = storage.TaskJobs(tx, id)
		return err
	}))
	return task, jobs
}

func (f *fixture) locked(t *testing.T, ref types.ObjectRef) bool {
	t.Helper()
	var locked bool
	require.NoError(t, f.Store.View(func(tx *storage.Tx) error {
		var err error
		locked, err = concern.Locked(tx, ref)
		return err
	}))
	return locked
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "install", nil)
	assert.True(t, f.locked(t, f.cluster.Ref()))

	task, err := f.runner("exit 0").Run(context.Background(), p.Task.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, task.Status)
	assert.Equal(t, os.Getpid(), task.PID)
	assert.False(t, task.FinishDate.IsZero())
	assert.Zero(t, task.LockID)

	_, jobs := f.task(t, p.Task.ID)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.StatusSuccess, jobs[0].Status)
	assert.NotZero(t, jobs[0].PID)

	assert.Equal(t, "installed", f.Reload(t, f.cluster).State)
	assert.False(t, f.locked(t, f.cluster.Ref()))
	assert.False(t, f.locked(t, f.hdfs.Ref()))
	assert.True(t, f.Saw(types.EventChangeState, f.cluster.Ref(), "installed"))
	assert.True(t, f.Saw(types.EventChangeJobStatus, types.Ref("task", task.ID), string(types.StatusRunning)))
	assert.True(t, f.Saw(types.EventChangeJobStatus, types.Ref("task", task.ID), string(types.StatusSuccess)))
	assert.True(t, f.Saw(types.EventChangeJobStatus, types.Ref("job", jobs[0].ID), string(types.StatusSuccess)))

	_, err = f.runner("exit 0").Run(context.Background(), p.Task.ID, false)
	assert.True(t, errcode.Is(err, errcode.TaskError), err)
}

func TestRunFailure(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "install", nil)

	task, err := f.runner("exit 3").Run(context.Background(), p.Task.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, task.Status)

	_, jobs := f.task(t, p.Task.ID)
	assert.Equal(t, types.StatusFailed, jobs[0].Status)
	assert.Equal(t, 3, jobs[0].ExitCode)
	assert.Equal(t, "broken", f.Reload(t, f.cluster).State)
	assert.False(t, f.locked(t, f.cluster.Ref()))
}

func TestRunStoresLogs(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "install", nil)
	logDir := f.Layout.LogDir()
	script := fmt.Sprintf(`echo hello > %s/$1-ansible-stdout.txt; echo oops > %s/$1-ansible-stderr.txt`, logDir, logDir)

	_, err := f.runner(script).Run(context.Background(), p.Task.ID, false)
	require.NoError(t, err)

	require.NoError(t, f.Store.View(func(tx *storage.Tx) error {
		logs, err := storage.Logs.List(tx, func(l *types.LogStorage) bool { return l.JobID == p.Jobs[0].ID })
		require.NoError(t, err)
		bodies := map[types.LogType]string{}
		for _, l := range logs {
			bodies[l.Type] = l.Body
		}
		assert.Equal(t, "hello\n", bodies[types.LogStdout])
		assert.Equal(t, "oops\n", bodies[types.LogStderr])
		return nil
	}))
}

func TestRunRestoresHostComponentMap(t *testing.T) {
	f := newFixture(t)
	entry := types.HCEntry{HostID: f.host.ID, ServiceID: f.hdfs.ID, ComponentID: f.datanode.ID}
	current := func() []types.HCEntry {
		var hc []types.HCEntry
		require.NoError(t, f.Store.View(func(tx *storage.Tx) error {
			var err error
			hc, err = topology.Current(tx, f.cluster.ID)
			return err
		}))
		return hc
	}

	p := f.prepare(t, "expand", []types.HCEntry{entry})
	assert.Equal(t, []types.HCEntry{entry}, current())
	assert.True(t, f.locked(t, f.host.Ref()))

	task, err := f.runner("exit 1").Run(context.Background(), p.Task.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, task.Status)
	assert.Empty(t, current())
	assert.False(t, f.locked(t, f.host.Ref()))
	assert.Empty(t, f.Reload(t, f.cluster).MultiState)

	p = f.prepare(t, "expand", []types.HCEntry{entry})
	task, err = f.runner("exit 0").Run(context.Background(), p.Task.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, task.Status)
	assert.Equal(t, []types.HCEntry{entry}, current())
	assert.Equal(t, []string{"expanded"}, f.Reload(t, f.cluster).MultiState)
}

func TestRunStepsAndRestart(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "deploy", nil)
	require.Len(t, p.Jobs, 2)

	dir := t.TempDir()
	runs := filepath.Join(dir, "runs")
	fixed := filepath.Join(dir, "fixed")
	// Every job needs its own rendered files; the second job fails until
	// the fixed marker exists.
	script := fmt.Sprintf(`conf=%s/$1/config.json
test -f "$conf" || exit 9
echo "$1" >> %s
if grep -q '"job_name": "second"' "$conf" && test ! -f %s; then exit 1; fi
exit 0`, f.Layout.RunDir(), runs, fixed)

	task, err := f.runner(script).Run(context.Background(), p.Task.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, task.Status)
	_, jobs := f.task(t, p.Task.ID)
	assert.Equal(t, types.StatusSuccess, jobs[0].Status)
	assert.Equal(t, types.StatusFailed, jobs[1].Status)
	assert.Equal(t, "half", f.Reload(t, f.cluster).State, "failing step outcome wins")

	require.NoError(t, os.WriteFile(fixed, nil, 0600))
	task, err = f.runner(script).Run(context.Background(), p.Task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, task.Status)
	assert.Equal(t, "deployed", f.Reload(t, f.cluster).State)
	assert.False(t, f.locked(t, f.cluster.Ref()))

	data, err := os.ReadFile(runs)
	require.NoError(t, err)
	first, second := fmt.Sprint(p.Jobs[0].ID), fmt.Sprint(p.Jobs[1].ID)
	assert.Equal(t, []string{first, second, second}, strings.Fields(string(data)))
}

func TestOutcomeOf(t *testing.T) {
	action := &types.Action{
		StateOnSuccess:         "installed",
		MultiStateOnSuccessSet: []string{"ok"},
		StateOnFail:            "broken",
		MultiStateOnFailSet:    []string{"dirty"},
	}
	cases := map[string]struct {
		sub    *types.SubAction
		status types.JobStatus
		want   Outcome
	}{
		"success": {status: types.StatusSuccess, want: Outcome{State: "installed", Set: []string{"ok"}}},
		"failed":  {status: types.StatusFailed, want: Outcome{State: "broken", Set: []string{"dirty"}}},
		"failed step without outcome": {
			sub:    &types.SubAction{},
			status: types.StatusFailed,
			want:   Outcome{State: "broken", Set: []string{"dirty"}},
		},
		"failed step with outcome": {
			sub:    &types.SubAction{StateOnFail: "half", MultiStateOnFailUnset: []string{"ok"}},
			status: types.StatusFailed,
			want:   Outcome{State: "half", Unset: []string{"ok"}},
		},
		"aborted": {status: types.StatusAborted, want: Outcome{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, OutcomeOf(action, tc.sub, tc.status))
		})
	}
}
