package runner

import (
	"github.com/cuemby/adcm/pkg/entity"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/planner"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// Outcome is what a finished task does to its target
type Outcome struct {
	State string
	Set   []string
	Unset []string
}

// OutcomeOf resolves the state transition of action for a task finished
// with status. On failure the failing step's own outcome wins when it
// declares a state. Aborted tasks leave the target untouched.
func OutcomeOf(action *types.Action, sub *types.SubAction, status types.JobStatus) Outcome {
	switch status {
	case types.StatusSuccess:
		return Outcome{State: action.StateOnSuccess, Set: action.MultiStateOnSuccessSet, Unset: action.MultiStateOnSuccessUnset}
	case types.StatusFailed:
		out := Outcome{State: action.StateOnFail, Set: action.MultiStateOnFailSet, Unset: action.MultiStateOnFailUnset}
		if sub == nil {
			return out
		}
		if sub.StateOnFail != "" {
			out.State = sub.StateOnFail
		}
		if len(sub.MultiStateOnFailSet) > 0 || len(sub.MultiStateOnFailUnset) > 0 {
			out.Set, out.Unset = sub.MultiStateOnFailSet, sub.MultiStateOnFailUnset
		}
		return out
	}
	return Outcome{}
}

// Finish completes task with status: it applies the action outcome to the
// target, restores the host-component map the task replaced unless it
// succeeded, releases the lock and records the final status. job is the
// last job that ran and may be nil.
func (r *TaskRunner) Finish(tx *storage.Tx, task *types.TaskLog, job *types.JobLog, status types.JobStatus) error {
	logger := r.logger.With().Int64("task_id", task.ID).Logger()
	action, err := storage.Actions.Get(tx, task.ActionID)
	if err != nil {
		return err
	}
	var sub *types.SubAction
	if job != nil && job.SubActionID != 0 {
		if sub, err = storage.SubActions.Get(tx, job.SubActionID); err != nil {
			return err
		}
	}

	obj, err := storage.GetObject(tx, task.Object)
	switch {
	case errcode.IsNotFound(err):
		logger.Warn().Str("target", task.Object.String()).Msg("task target is gone")
		obj = nil
	case err != nil:
		return err
	}

	if obj != nil {
		out := OutcomeOf(action, sub, status)
		if err := entity.SetState(tx, obj, out.State); err != nil {
			return err
		}
		for _, name := range out.Set {
			if err := entity.SetMultiState(tx, obj, name); err != nil {
				return err
			}
		}
		for _, name := range out.Unset {
			if err := entity.UnsetMultiState(tx, obj, name); err != nil {
				return err
			}
		}

		if status != types.StatusSuccess && task.AppliedHC && len(action.HostComponentMap) > 0 {
			cluster, err := clusterOf(tx, obj)
			if err != nil {
				return err
			}
			if _, err := r.topo.Apply(tx, cluster, task.Old); err != nil {
				return err
			}
			logger.Warn().Int64("cluster_id", cluster.ID).Int("entries", len(task.Old)).Msg("host-component map restored")
		}
	}

	if err := r.concerns.Unlock(tx, task); err != nil {
		return err
	}
	if obj != nil && status == types.StatusSuccess {
		if err := r.concerns.ClearFlags(tx, obj.Ref()); err != nil {
			return err
		}
	}

	task.Status = status
	task.FinishDate = tx.Now()
	if err := storage.Tasks.Put(tx, task); err != nil {
		return err
	}
	tx.Emit(planner.TaskEvent(task, status))
	return nil
}
