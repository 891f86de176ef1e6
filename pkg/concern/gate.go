package concern

import (
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// CheckAction returns a TASK_ERROR naming the first blocking concern that
// prevents action from running on obj. Host-component issues do not block
// an action that brings its own host-component map.
func (e *Engine) CheckAction(tx *storage.Tx, obj *types.Object, action *types.Action) error {
	items, err := Of(tx, obj.Ref())
	if err != nil {
		return err
	}
	for _, c := range items {
		if !c.Blocking {
			continue
		}
		if c.Type == types.ConcernLock {
			return errcode.New(errcode.TaskError, "%s: %s", obj, Render(c.Reason))
		}
		if c.Cause == types.CauseHostComponent && action != nil && len(action.HostComponentMap) > 0 {
			continue
		}
		return errcode.New(errcode.TaskError, "%s has issue: %s", obj, Render(c.Reason))
	}
	return nil
}

// CanRunAction reports whether no blocking concern stops action on obj
func (e *Engine) CanRunAction(tx *storage.Tx, obj *types.Object, action *types.Action) (bool, error) {
	err := e.CheckAction(tx, obj, action)
	if err == nil {
		return true, nil
	}
	if errcode.Is(err, errcode.TaskError) {
		return false, nil
	}
	return false, err
}
