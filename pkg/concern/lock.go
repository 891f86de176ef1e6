package concern

import (
	"fmt"
	"slices"

	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// Lock creates the job lock of a task: a blocking concern owned by the
// target whose affected set is the target's scope plus extra. The lock id
// is recorded on the task; the caller saves the task.
func (e *Engine) Lock(tx *storage.Tx, task *types.TaskLog, target *types.Object, extra []types.ObjectRef) (*types.ConcernItem, error) {
	scope, err := Scope(tx, target)
	if err != nil {
		return nil, err
	}
	c := &types.ConcernItem{
		Type: types.ConcernLock,
		Name: "lock",
		Reason: types.Reason{
			Message: MsgLocked,
			Placeholder: map[string]types.Placeholder{
				"job":    {Name: fmt.Sprintf("task #%d", task.ID)},
				"target": placeholder(target),
			},
		},
		Blocking: true,
		Owner:    target.Ref(),
		Cause:    types.CauseJob,
		Related:  uniqueRefs(append(scope, extra...)),
	}
	if err := e.raise(tx, c); err != nil {
		return nil, err
	}
	task.LockID = c.ID
	return c, nil
}

// Unlock releases the job lock of a task. Releasing twice is a no-op.
func (e *Engine) Unlock(tx *storage.Tx, task *types.TaskLog) error {
	if task.LockID == 0 {
		return nil
	}
	c, err := storage.Concerns.Get(tx, task.LockID)
	if err != nil {
		if errcode.IsNotFound(err) {
			task.LockID = 0
			return nil
		}
		return err
	}
	if err := e.drop(tx, c); err != nil {
		return err
	}
	task.LockID = 0
	return nil
}

// Locks returns the job locks affecting ref
func Locks(tx *storage.Tx, ref types.ObjectRef) ([]*types.ConcernItem, error) {
	return storage.Concerns.List(tx, func(c *types.ConcernItem) bool {
		return c.Type == types.ConcernLock && c.Affects(ref)
	})
}

// Locked reports whether any job lock affects ref
func Locked(tx *storage.Tx, ref types.ObjectRef) (bool, error) {
	locks, err := Locks(tx, ref)
	if err != nil {
		return false, err
	}
	return len(locks) > 0, nil
}

// Extend adds refs to every lock affecting anchor, so hosts joining a
// locked cluster become locked too
func Extend(tx *storage.Tx, anchor types.ObjectRef, refs []types.ObjectRef) error {
	locks, err := Locks(tx, anchor)
	if err != nil {
		return err
	}
	for _, c := range locks {
		c.Related = uniqueRefs(append(c.Related, refs...))
		if err := storage.Concerns.Put(tx, c); err != nil {
			return err
		}
	}
	return nil
}

// Release removes refs from every lock affecting anchor. The owner of a
// lock always stays in its affected set.
func Release(tx *storage.Tx, anchor types.ObjectRef, refs []types.ObjectRef) error {
	locks, err := Locks(tx, anchor)
	if err != nil {
		return err
	}
	for _, c := range locks {
		c.Related = slices.DeleteFunc(c.Related, func(r types.ObjectRef) bool {
			return r != c.Owner && slices.Contains(refs, r)
		})
		if err := storage.Concerns.Put(tx, c); err != nil {
			return err
		}
	}
	return nil
}

// Flag raises a non-blocking concern on owner; an existing flag of the same
// name is kept
func (e *Engine) Flag(tx *storage.Tx, owner *types.Object, name, message string) error {
	existing, err := storage.Concerns.Find(tx, func(c *types.ConcernItem) bool {
		return c.Type == types.ConcernFlag && c.Owner == owner.Ref() && c.Name == name
	})
	if err == nil && existing != nil {
		return nil
	}
	return e.raise(tx, &types.ConcernItem{
		Type: types.ConcernFlag,
		Name: name,
		Reason: types.Reason{
			Message:     message,
			Placeholder: map[string]types.Placeholder{"source": placeholder(owner)},
		},
		Owner:   owner.Ref(),
		Cause:   types.CauseConfig,
		Related: []types.ObjectRef{owner.Ref()},
	})
}

// ClearFlags drops the flags owned by ref
func (e *Engine) ClearFlags(tx *storage.Tx, ref types.ObjectRef) error {
	flags, err := storage.Concerns.List(tx, func(c *types.ConcernItem) bool {
		return c.Type == types.ConcernFlag && c.Owner == ref
	})
	if err != nil {
		return err
	}
	for _, c := range flags {
		if err := e.drop(tx, c); err != nil {
			return err
		}
	}
	return nil
}
