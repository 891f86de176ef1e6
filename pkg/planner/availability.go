package planner

import (
	"slices"

	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/types"
)

// Available reports whether the state and multi-state of obj let action
// run. Concerns are checked separately.
func Available(obj *types.Object, action *types.Action) bool {
	var state bool
	if action.StateAvailableAny {
		state = !slices.Contains(action.StateUnavailable, obj.State)
	} else {
		state = slices.Contains(action.StateAvailable, obj.State)
	}
	if !state {
		return false
	}
	if action.MultiStateAvailableAny {
		return !slices.ContainsFunc(obj.MultiState, func(m string) bool {
			return slices.Contains(action.MultiStateUnavailable, m)
		})
	}
	return slices.ContainsFunc(obj.MultiState, func(m string) bool {
		return slices.Contains(action.MultiStateAvailable, m)
	})
}

// CheckAvailable is Available as a TASK_ERROR
func CheckAvailable(obj *types.Object, action *types.Action) error {
	if Available(obj, action) {
		return nil
	}
	return errcode.New(errcode.TaskError, "action %q is not available for %s in state %q %v",
		action.Name, obj, obj.State, obj.MultiState)
}
