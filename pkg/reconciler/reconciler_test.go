package reconciler

import (
	"os"
	"testing"

	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/planner"
	"github.com/cuemby/adcm/pkg/runner"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/testenv"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundleDef = `
- type: cluster
  name: cl
  version: "1.0"
  actions:
    install:
      script: install.yaml
      states: {available: any, on_success: installed, on_fail: broken}
`

const deadPID = 4194000

type owned map[int64]bool

func (o owned) Owns(id int64) bool { return o[id] }

type fixture struct {
	*testenv.Env
	planner *planner.Planner
	cluster *types.Object
}

func newFixture(t *testing.T) *fixture {
	env := testenv.New(t)
	b := env.Load(t, bundleDef, nil)
	return &fixture{
		Env:     env,
		planner: planner.New(env.Configs, env.Concerns, env.Topo, planner.Options{Layout: env.Layout}),
		cluster: env.Cluster(t, b.Protos["cl"], "c1"),
	}
}

// running prepares the install task and marks it and its job running
// under pid
func (f *fixture) running(t *testing.T, pid int) int64 {
	t.Helper()
	var id int64
	f.Update(t, func(tx *storage.Tx) error {
		a, err := storage.ActionByName(tx, f.cluster.PrototypeID, "install")
		if err != nil {
			return err
		}
		p, err := f.planner.Prepare(tx, planner.Request{ActionID: a.ID, Target: f.cluster.Ref()})
		if err != nil {
			return err
		}
		p.Task.Status, p.Task.PID = types.StatusRunning, pid
		if err := storage.Tasks.Put(tx, p.Task); err != nil {
			return err
		}
		p.Jobs[0].Status, p.Jobs[0].PID = types.StatusRunning, pid+1
		id = p.Task.ID
		return storage.Jobs.Put(tx, p.Jobs[0])
	})
	return id
}

func (f *fixture) reconciler(sup Supervisor) *Reconciler {
	tr := runner.NewTaskRunner(f.Store, f.planner, f.Concerns, f.Topo, runner.Options{})
	r := NewReconciler(f.Store, tr, sup, 0)
	r.alive = func(pid int) bool { return pid != deadPID }
	return r
}

func (f *fixture) setPID(t *testing.T, id int64, pid int) {
	t.Helper()
	f.Update(t, func(tx *storage.Tx) error {
		task, err := storage.Tasks.Get(tx, id)
		if err != nil {
			return err
		}
		task.PID = pid
		return storage.Tasks.Put(tx, task)
	})
}

func TestReconcileDeadRunner(t *testing.T) {
	f := newFixture(t)
	id := f.running(t, deadPID)

	failed, err := f.reconciler(owned{}).Reconcile()
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, failed)

	require.NoError(t, f.Store.View(func(tx *storage.Tx) error {
		task, err := storage.Tasks.Get(tx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, task.Status)
		assert.False(t, task.FinishDate.IsZero())

		jobs, err := storage.TaskJobs(tx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, jobs[0].Status)
		assert.Equal(t, -1, jobs[0].ExitCode)

		locked, err := concern.Locked(tx, f.cluster.Ref())
		require.NoError(t, err)
		assert.False(t, locked)
		return nil
	}))
	assert.Equal(t, "broken", f.Reload(t, f.cluster).State)
	assert.True(t, f.Saw(types.EventChangeJobStatus, types.Ref("task", id), string(types.StatusFailed)))

	failed, err = f.reconciler(owned{}).Reconcile()
	require.NoError(t, err)
	assert.Empty(t, failed, "finished tasks are left alone")
}

func TestReconcileLiveRunners(t *testing.T) {
	f := newFixture(t)
	id := f.running(t, deadPID+10)

	failed, err := f.reconciler(owned{}).Reconcile()
	require.NoError(t, err)
	assert.Empty(t, failed, "runner of another process is alive")

	f.setPID(t, id, os.Getpid())
	failed, err = f.reconciler(owned{id: true}).Reconcile()
	require.NoError(t, err)
	assert.Empty(t, failed)

	failed, err = f.reconciler(owned{}).Reconcile()
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, failed, "own pid without a local supervisor is stale")
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(nil)
	r.Start()
	r.Stop()
}
