package entity

import (
	"slices"
	"strconv"

	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// FlagOutdatedConfig is raised when the config of an entity that already
// ran actions changes
const (
	FlagOutdatedConfig = "outdated_config"
	MsgOutdatedConfig  = "${source} has an outdated configuration"
)

// UpdateConfig validates and stores a new config version of obj, re-syncs
// its group configs and refreshes its concerns
func (e *Engine) UpdateConfig(tx *storage.Tx, obj *types.Object, cfg, attr any, description string) (*types.ConfigLog, error) {
	if obj.ConfigID == 0 {
		return nil, errcode.New(errcode.ConfigNotFound, "%s has no config", obj)
	}
	spec, err := config.LoadSpec(tx, obj.PrototypeID)
	if err != nil {
		return nil, err
	}
	oc, old, err := storage.CurrentConfig(tx, obj.ConfigID)
	if err != nil {
		return nil, err
	}
	checked, checkedAttr, err := e.configs.Check(tx, config.CheckInput{
		Spec:   spec,
		Config: cfg,
		Attr:   attr,
		Old:    old,
		State:  obj.State,
		Object: obj,
	})
	if err != nil {
		return nil, err
	}
	cl, err := e.configs.Save(tx, oc, spec, checked, checkedAttr, description)
	if err != nil {
		return nil, err
	}
	if err := e.afterConfigChange(tx, obj, spec, cl); err != nil {
		return nil, err
	}
	if obj.State != types.StateCreated {
		if err := e.concerns.Flag(tx, obj, FlagOutdatedConfig, MsgOutdatedConfig); err != nil {
			return nil, err
		}
	}
	return cl, nil
}

// RestoreConfig makes an earlier config version of obj current
func (e *Engine) RestoreConfig(tx *storage.Tx, obj *types.Object, logID int64) (*types.ConfigLog, error) {
	if obj.ConfigID == 0 {
		return nil, errcode.New(errcode.ConfigNotFound, "%s has no config", obj)
	}
	spec, err := config.LoadSpec(tx, obj.PrototypeID)
	if err != nil {
		return nil, err
	}
	oc, err := storage.ObjectConfigs.Get(tx, obj.ConfigID)
	if err != nil {
		return nil, err
	}
	cl, err := e.configs.Restore(tx, oc, spec, logID)
	if err != nil {
		return nil, err
	}
	if err := e.afterConfigChange(tx, obj, spec, cl); err != nil {
		return nil, err
	}
	return cl, nil
}

func (e *Engine) afterConfigChange(tx *storage.Tx, obj *types.Object, spec *config.Spec, cl *types.ConfigLog) error {
	proto, err := storage.PrototypeOf(tx, obj)
	if err != nil {
		return err
	}
	if err := e.configs.SyncGroups(tx, obj, spec, proto, cl); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventChangeConfig, obj.Ref(), types.EventDetails{Type: "version", Value: itoa(cl.ID)}))
	return e.concerns.Refresh(tx, obj.Ref())
}

// UpdateGroupConfig stores a new version of a group config overlay
func (e *Engine) UpdateGroupConfig(tx *storage.Tx, group *types.GroupConfig, cfg, attr any, description string) (*types.ConfigLog, error) {
	owner, err := storage.GetObject(tx, group.Owner)
	if err != nil {
		return nil, err
	}
	spec, err := config.LoadSpec(tx, owner.PrototypeID)
	if err != nil {
		return nil, err
	}
	proto, err := storage.PrototypeOf(tx, owner)
	if err != nil {
		return nil, err
	}
	cl, err := e.configs.SaveGroup(tx, group, owner, spec, proto, cfg, attr, description)
	if err != nil {
		return nil, err
	}
	tx.Emit(types.NewEvent(types.EventChangeConfig, owner.Ref(), types.EventDetails{Type: "group-config", Value: itoa(cl.ID), ID: itoa(group.ID)}))
	return cl, nil
}

// SetState assigns obj a new state. The locked state is reserved.
func SetState(tx *storage.Tx, obj *types.Object, state string) error {
	if state == types.StateLocked {
		return errcode.New(errcode.InvalidInput, "state %q is reserved", state)
	}
	if state == "" || obj.State == state {
		return nil
	}
	obj.State = state
	if err := storage.PutObject(tx, obj); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventChangeState, obj.Ref(), types.EventDetails{Type: "state", Value: state}))
	return nil
}

// SetMultiState raises a named flag on obj
func SetMultiState(tx *storage.Tx, obj *types.Object, name string) error {
	if name == "" || obj.HasMultiState(name) {
		return nil
	}
	obj.MultiState = append(obj.MultiState, name)
	if err := storage.PutObject(tx, obj); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventChangeState, obj.Ref(), types.EventDetails{Type: "multi_state_set", Value: name}))
	return nil
}

// UnsetMultiState clears a named flag of obj
func UnsetMultiState(tx *storage.Tx, obj *types.Object, name string) error {
	idx := slices.Index(obj.MultiState, name)
	if idx < 0 {
		return nil
	}
	obj.MultiState = slices.Delete(obj.MultiState, idx, idx+1)
	if err := storage.PutObject(tx, obj); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventChangeState, obj.Ref(), types.EventDetails{Type: "multi_state_unset", Value: name}))
	return nil
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
