package planner

import (
	"fmt"
	"slices"

	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/settings"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/topology"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// Options configures rendering of job files
type Options struct {
	Layout      settings.Layout
	StatusToken string
	Forks       int
}

// Planner turns action requests into tasks, jobs and job files
type Planner struct {
	configs  *config.Engine
	concerns *concern.Engine
	topo     *topology.Engine
	opts     Options
	logger   zerolog.Logger
}

// New creates a planner
func New(configs *config.Engine, concerns *concern.Engine, topo *topology.Engine, opts Options) *Planner {
	if opts.Forks <= 0 {
		opts.Forks = 5
	}
	return &Planner{
		configs:  configs,
		concerns: concerns,
		topo:     topo,
		opts:     opts,
		logger:   log.WithComponent("planner"),
	}
}

// Layout returns the on-disk layout job files are rendered into
func (p *Planner) Layout() settings.Layout {
	return p.opts.Layout
}

// Request asks to run an action on an entity
type Request struct {
	ActionID int64
	Target   types.ObjectRef
	Config   any // action config, required when the action declares one
	Attr     any
	HC       []types.HCEntry // new cluster map, only for actions with hc_acl
	Verbose  bool
}

// Prepared is a task ready to start
type Prepared struct {
	Task *types.TaskLog
	Jobs []*types.JobLog
}

// Prepare validates req, stores the task with its jobs, applies the
// requested host-component map and locks the target. The job files of the
// first job are written once the transaction commits.
func (p *Planner) Prepare(tx *storage.Tx, req Request) (*Prepared, error) {
	obj, err := storage.GetObject(tx, req.Target)
	if err != nil {
		return nil, err
	}
	action, err := storage.Actions.Get(tx, req.ActionID)
	if err != nil {
		return nil, err
	}
	if action.PrototypeID != obj.PrototypeID {
		return nil, errcode.New(errcode.ActionNotFound, "action %q does not belong to %s", action.Name, obj)
	}
	if err := CheckAvailable(obj, action); err != nil {
		return nil, err
	}
	if err := p.concerns.CheckAction(tx, obj, action); err != nil {
		return nil, err
	}
	cfg, attr, err := p.checkActionConfig(tx, obj, action, req)
	if err != nil {
		return nil, err
	}
	cluster, oldHC, err := p.checkHC(tx, obj, action, req.HC)
	if err != nil {
		return nil, err
	}

	selector, err := Selector(tx, obj)
	if err != nil {
		return nil, err
	}
	task := &types.TaskLog{
		ActionID: action.ID,
		Object:   obj.Ref(),
		Selector: selector,
		Config:   cfg,
		Attr:     attr,
		Verbose:  req.Verbose,
		Status:   types.StatusCreated,
	}
	if cluster != nil {
		task.Old = oldHC
		task.New = req.HC
	}
	if err := storage.Tasks.Insert(tx, task); err != nil {
		return nil, err
	}

	jobs, err := p.createJobs(tx, task, action)
	if err != nil {
		return nil, err
	}

	var extra []types.ObjectRef
	if cluster != nil {
		if _, err := p.topo.Apply(tx, cluster, req.HC); err != nil {
			return nil, err
		}
		task.AppliedHC = true
		for _, e := range slices.Concat(task.Old, task.New) {
			extra = append(extra, types.Ref(types.ObjectHost, e.HostID))
		}
	}
	if _, err := p.concerns.Lock(tx, task, obj, extra); err != nil {
		return nil, err
	}
	if err := storage.Tasks.Put(tx, task); err != nil {
		return nil, err
	}
	tx.Emit(TaskEvent(task, types.StatusCreated))

	files, err := p.Render(tx, task, jobs[0])
	if err != nil {
		return nil, err
	}
	dir := p.opts.Layout.JobDir(jobs[0].ID)
	tx.AfterCommit(func() {
		if err := files.Write(dir); err != nil {
			p.logger.Error().Err(err).Int64("job_id", jobs[0].ID).Msg("failed to write job files")
		}
	})

	p.logger.Info().
		Int64("task_id", task.ID).
		Str("action", action.Name).
		Str("target", obj.String()).
		Int("jobs", len(jobs)).
		Msg("task prepared")
	return &Prepared{Task: task, Jobs: jobs}, nil
}

func (p *Planner) checkActionConfig(tx *storage.Tx, obj *types.Object, action *types.Action, req Request) (map[string]any, map[string]any, error) {
	spec, err := config.LoadActionSpec(tx, action.ID)
	if err != nil {
		return nil, nil, err
	}
	if spec.Empty() {
		if m, ok := req.Config.(map[string]any); req.Config != nil && (!ok || len(m) > 0) {
			return nil, nil, errcode.New(errcode.ConfigKeyError, "action %q has no config", action.Name)
		}
		return nil, nil, nil
	}
	if req.Config == nil {
		return nil, nil, errcode.New(errcode.TaskGeneratorError, "action %q requires a config", action.Name)
	}
	cfg, attr, err := p.configs.Check(tx, config.CheckInput{
		Spec:   spec,
		Config: req.Config,
		Attr:   req.Attr,
		State:  obj.State,
		Object: obj,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := p.configs.EncryptPasswords(spec, cfg); err != nil {
		return nil, nil, err
	}
	return cfg, attr, nil
}

// checkHC validates the map requested with an action. It returns the
// cluster and its current map when the action will replace it.
func (p *Planner) checkHC(tx *storage.Tx, obj *types.Object, action *types.Action, hc []types.HCEntry) (*types.Object, []types.HCEntry, error) {
	if len(action.HostComponentMap) == 0 {
		if len(hc) > 0 {
			return nil, nil, errcode.New(errcode.TaskGeneratorError, "action %q does not allow a host-component map", action.Name)
		}
		return nil, nil, nil
	}
	if hc == nil {
		return nil, nil, errcode.New(errcode.TaskGeneratorError, "action %q requires a host-component map", action.Name)
	}
	clusterID := obj.ClusterID
	if obj.Type == types.ObjectCluster {
		clusterID = obj.ID
	}
	if clusterID == 0 {
		return nil, nil, errcode.New(errcode.TaskError, "%s is not in a cluster, it can't change a host-component map", obj)
	}
	cluster, err := storage.GetTyped(tx, types.ObjectCluster, clusterID)
	if err != nil {
		return nil, nil, err
	}
	placements, err := topology.Validate(tx, cluster, hc)
	if err != nil {
		return nil, nil, err
	}
	old, err := topology.Current(tx, cluster.ID)
	if err != nil {
		return nil, nil, err
	}

	oldKeys := keySet(old)
	newKeys := keySet(hc)
	for _, pl := range placements {
		if !oldKeys[pl.Entry().Key()] {
			if err := allowed(tx, action, pl, types.HCAdd); err != nil {
				return nil, nil, err
			}
		}
	}
	removed := make([]types.HCEntry, 0)
	for _, e := range old {
		if !newKeys[e.Key()] {
			removed = append(removed, e)
		}
	}
	if len(removed) > 0 {
		gone, err := topology.Resolve(tx, cluster, removed)
		if err != nil {
			return nil, nil, err
		}
		for _, pl := range gone {
			if err := allowed(tx, action, pl, types.HCRemove); err != nil {
				return nil, nil, err
			}
		}
	}
	return cluster, old, nil
}

func allowed(tx *storage.Tx, action *types.Action, pl topology.Placement, kind types.HCActionKind) error {
	svcProto, err := storage.PrototypeOf(tx, pl.Service)
	if err != nil {
		return err
	}
	compProto, err := storage.PrototypeOf(tx, pl.Component)
	if err != nil {
		return err
	}
	for _, acl := range action.HostComponentMap {
		if acl.Action == kind && acl.Service == svcProto.Name && acl.Component == compProto.Name {
			return nil
		}
	}
	verb := "add"
	if kind == types.HCRemove {
		verb = "remove"
	}
	return errcode.New(errcode.TaskError, "action %q has no permission to %s component %q of service %q on host %q",
		action.Name, verb, compProto.Name, svcProto.Name, pl.Host.Name)
}

func keySet(entries []types.HCEntry) map[types.HCKey]bool {
	out := make(map[types.HCKey]bool, len(entries))
	for _, e := range entries {
		out[e.Key()] = true
	}
	return out
}

func (p *Planner) createJobs(tx *storage.Tx, task *types.TaskLog, action *types.Action) ([]*types.JobLog, error) {
	var jobs []*types.JobLog
	if action.Type == types.ActionTask {
		steps, err := storage.ActionSteps(tx, action.ID)
		if err != nil {
			return nil, err
		}
		if len(steps) == 0 {
			return nil, errcode.New(errcode.TaskGeneratorError, "action %q has no steps", action.Name)
		}
		for _, s := range steps {
			jobs = append(jobs, &types.JobLog{TaskID: task.ID, ActionID: action.ID, SubActionID: s.ID, Name: s.Name})
		}
	} else {
		jobs = append(jobs, &types.JobLog{TaskID: task.ID, ActionID: action.ID, Name: action.Name})
	}
	for _, j := range jobs {
		j.Status = types.StatusCreated
		j.LogFiles = action.LogFiles
		if err := storage.Jobs.Insert(tx, j); err != nil {
			return nil, err
		}
		for _, kind := range []types.LogType{types.LogStdout, types.LogStderr} {
			if err := storage.Logs.Insert(tx, &types.LogStorage{
				JobID:  j.ID,
				Name:   LogName(action),
				Type:   kind,
				Format: "txt",
			}); err != nil {
				return nil, err
			}
		}
	}
	return jobs, nil
}

// LogName is the name of the stdout and stderr logs of a job: "ansible"
// or "python" after the runner that produced them
func LogName(action *types.Action) string {
	if action.ScriptType == types.ScriptPython {
		return string(types.ScriptPython)
	}
	return string(types.ScriptAnsible)
}

// TaskEvent reports a task status change
func TaskEvent(task *types.TaskLog, status types.JobStatus) *types.Event {
	return &types.Event{
		Event: types.EventChangeJobStatus,
		Object: types.EventObject{
			Type:    "task",
			ID:      task.ID,
			Details: types.EventDetails{Type: "status", Value: string(status)},
		},
	}
}

// JobEvent reports a job status change
func JobEvent(job *types.JobLog, status types.JobStatus) *types.Event {
	return &types.Event{
		Event: types.EventChangeJobStatus,
		Object: types.EventObject{
			Type:    "job",
			ID:      job.ID,
			Details: types.EventDetails{Type: "status", Value: string(status)},
		},
	}
}

// Selector maps the target and its ancestors to their ids
func Selector(tx *storage.Tx, obj *types.Object) (map[types.ObjectType]int64, error) {
	sel := map[types.ObjectType]int64{obj.Type: obj.ID}
	switch obj.Type {
	case types.ObjectService:
		sel[types.ObjectCluster] = obj.ClusterID
	case types.ObjectComponent:
		sel[types.ObjectCluster] = obj.ClusterID
		sel[types.ObjectService] = obj.ServiceID
	case types.ObjectHost:
		sel[types.ObjectProvider] = obj.ProviderID
		if obj.ClusterID != 0 {
			sel[types.ObjectCluster] = obj.ClusterID
		}
	case types.ObjectCluster, types.ObjectProvider, types.ObjectADCM:
	default:
		return nil, fmt.Errorf("unexpected object type %q", obj.Type)
	}
	return sel, nil
}
