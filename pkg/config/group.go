package config

import (
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// Customizable reports whether a row may be overridden by a group config.
// A member without its own flag inherits the flag of its group, then the
// prototype default.
func (s *Spec) Customizable(r *types.PrototypeConfig, proto *types.Prototype) bool {
	if r.GroupCustomization != nil {
		return *r.GroupCustomization
	}
	if r.Subname != "" {
		if g := s.Field(r.Name, ""); g != nil && g.GroupCustomization != nil {
			return *g.GroupCustomization
		}
	}
	return proto != nil && proto.ConfigGroupCustomization
}

// CustomGroupKeys mirrors the config shape with the customizable flag of
// every leaf
func (s *Spec) CustomGroupKeys(proto *types.Prototype) map[string]any {
	keys := map[string]any{}
	for _, r := range s.Leaves() {
		if r.Subname == "" {
			keys[r.Name] = s.Customizable(r, proto)
			continue
		}
		group, ok := keys[r.Name].(map[string]any)
		if !ok {
			group = map[string]any{}
			keys[r.Name] = group
		}
		group[r.Subname] = s.Customizable(r, proto)
	}
	for _, g := range s.Groups() {
		if _, ok := keys[g.Name]; !ok {
			keys[g.Name] = map[string]any{}
		}
	}
	return keys
}

// DefaultGroupKeys mirrors the config shape with every leaf false
func (s *Spec) DefaultGroupKeys() map[string]any {
	keys := map[string]any{}
	for _, g := range s.Groups() {
		keys[g.Name] = map[string]any{}
	}
	for _, r := range s.Leaves() {
		if r.Subname == "" {
			keys[r.Name] = false
		} else {
			keys[r.Name].(map[string]any)[r.Subname] = false
		}
	}
	return keys
}

// Merge overlays group onto parent: a true leaf of keys takes the group
// value, a false leaf the parent value, and nested maps recurse
func Merge(parent, group, keys map[string]any) map[string]any {
	out := types.CopyMap(parent)
	if out == nil {
		out = map[string]any{}
	}
	for k, kv := range keys {
		switch flag := kv.(type) {
		case bool:
			if flag {
				out[k] = types.DeepCopy(group[k])
			}
		case map[string]any:
			p, _ := parent[k].(map[string]any)
			g, _ := group[k].(map[string]any)
			out[k] = Merge(p, g, flag)
		}
	}
	return out
}

// checkGroupKeys verifies keys has the config shape with bool leaves and
// that only customizable leaves are true
func checkGroupKeys(spec *Spec, keys, custom map[string]any) (map[string]any, error) {
	out := spec.DefaultGroupKeys()
	for k, v := range keys {
		r := spec.Field(k, "")
		if r == nil {
			return nil, errcode.New(errcode.AttributeError, "group_keys has unknown key %q", k)
		}
		if r.Type != types.FieldGroup {
			flag, ok := v.(bool)
			if !ok {
				return nil, errcode.New(errcode.AttributeError, "group_keys value of %q should be a boolean", k)
			}
			if flag && custom[k] != true {
				return nil, errcode.New(errcode.AttributeError, "key %q can't be customized in a group", k)
			}
			out[k] = flag
			continue
		}
		sub, ok := v.(map[string]any)
		if !ok {
			return nil, errcode.New(errcode.AttributeError, "group_keys value of %q should be a map", k)
		}
		customSub, _ := custom[k].(map[string]any)
		for sk, sv := range sub {
			if spec.Field(k, sk) == nil {
				return nil, errcode.New(errcode.AttributeError, "group_keys has unknown key %q", Key(k, sk))
			}
			flag, ok := sv.(bool)
			if !ok {
				return nil, errcode.New(errcode.AttributeError, "group_keys value of %q should be a boolean", Key(k, sk))
			}
			if flag && customSub[sk] != true {
				return nil, errcode.New(errcode.AttributeError, "key %q can't be customized in a group", Key(k, sk))
			}
			out[k].(map[string]any)[sk] = flag
		}
	}
	return out, nil
}

// GroupKeys returns the group_keys stored in a group config attr
func GroupKeys(attr map[string]any) map[string]any {
	keys, _ := attr[AttrGroupKeys].(map[string]any)
	return keys
}

func groupAttr(spec *Spec, proto *types.Prototype, parentAttr, groupKeys map[string]any) map[string]any {
	attr := map[string]any{}
	for _, g := range spec.Activatable() {
		if a, ok := parentAttr[g.Name]; ok {
			attr[g.Name] = types.DeepCopy(a)
		}
	}
	attr[AttrGroupKeys] = groupKeys
	attr[AttrCustomGroupKeys] = spec.CustomGroupKeys(proto)
	return attr
}

// InitGroup creates the config chain of a new group config as a copy of
// the owner's current config with nothing customized
func (e *Engine) InitGroup(tx *storage.Tx, group *types.GroupConfig, owner *types.Object, spec *Spec, proto *types.Prototype) (*types.ObjectConfig, error) {
	_, parent, err := storage.CurrentConfig(tx, owner.ConfigID)
	if err != nil {
		return nil, err
	}
	oc := &types.ObjectConfig{Owner: owner.Ref(), GroupID: group.ID}
	if err := storage.ObjectConfigs.Insert(tx, oc); err != nil {
		return nil, err
	}
	attr := groupAttr(spec, proto, parent.Attr, spec.DefaultGroupKeys())
	if _, err := e.Save(tx, oc, spec, parent.Config, attr, "init"); err != nil {
		return nil, err
	}
	return oc, nil
}

// SaveGroup validates and stores a group config. Fields not customized by
// group_keys take the owner's values; custom_group_keys is always
// recomputed from the prototype.
func (e *Engine) SaveGroup(tx *storage.Tx, group *types.GroupConfig, owner *types.Object, spec *Spec, proto *types.Prototype, config, attr any, description string) (*types.ConfigLog, error) {
	oc, old, err := storage.CurrentConfig(tx, group.ConfigID)
	if err != nil {
		return nil, err
	}
	_, parent, err := storage.CurrentConfig(tx, owner.ConfigID)
	if err != nil {
		return nil, err
	}

	checked, checkedAttr, err := e.Check(tx, CheckInput{
		Spec:   spec,
		Config: config,
		Attr:   attr,
		Old:    old,
		State:  owner.State,
		Object: owner,
		Group:  true,
	})
	if err != nil {
		return nil, err
	}

	custom := spec.CustomGroupKeys(proto)
	requested, _ := checkedAttr[AttrGroupKeys].(map[string]any)
	if requested == nil {
		requested = GroupKeys(old.Attr)
	}
	keys, err := checkGroupKeys(spec, requested, custom)
	if err != nil {
		return nil, err
	}

	merged := Merge(parent.Config, checked, keys)
	newAttr := groupAttr(spec, proto, parent.Attr, keys)
	for _, g := range spec.Activatable() {
		if a, ok := checkedAttr[g.Name]; ok {
			newAttr[g.Name] = a
		}
	}
	return e.Save(tx, oc, spec, merged, newAttr, description)
}

// Effective returns the merged config a host of the group sees
func (e *Engine) Effective(tx *storage.Tx, group *types.GroupConfig) (map[string]any, map[string]any, error) {
	owner, err := storage.GetObject(tx, group.Owner)
	if err != nil {
		return nil, nil, err
	}
	_, parent, err := storage.CurrentConfig(tx, owner.ConfigID)
	if err != nil {
		return nil, nil, err
	}
	_, own, err := storage.CurrentConfig(tx, group.ConfigID)
	if err != nil {
		return nil, nil, err
	}
	keys := GroupKeys(own.Attr)
	attr := types.CopyMap(parent.Attr)
	for k, v := range own.Attr {
		if k != AttrGroupKeys && k != AttrCustomGroupKeys {
			attr[k] = v
		}
	}
	return Merge(parent.Config, own.Config, keys), attr, nil
}

// SyncGroups re-derives every group config of owner after the owner's
// config changed: non-customized fields receive the new owner values
func (e *Engine) SyncGroups(tx *storage.Tx, owner *types.Object, spec *Spec, proto *types.Prototype, parent *types.ConfigLog) error {
	groups, err := storage.GroupConfigs.List(tx, func(g *types.GroupConfig) bool { return g.Owner == owner.Ref() })
	if err != nil {
		return err
	}
	for _, g := range groups {
		oc, own, err := storage.CurrentConfig(tx, g.ConfigID)
		if err != nil {
			return err
		}
		keys := GroupKeys(own.Attr)
		if keys == nil {
			keys = spec.DefaultGroupKeys()
		}
		merged := Merge(parent.Config, own.Config, keys)
		attr := groupAttr(spec, proto, parent.Attr, keys)
		for _, a := range spec.Activatable() {
			if v, ok := own.Attr[a.Name]; ok && isCustomizedGroup(keys, a.Name) {
				attr[a.Name] = v
			}
		}
		if _, err := e.Save(tx, oc, spec, merged, attr, parent.Description); err != nil {
			return err
		}
	}
	return nil
}

func isCustomizedGroup(keys map[string]any, group string) bool {
	sub, ok := keys[group].(map[string]any)
	if !ok {
		return false
	}
	for _, v := range sub {
		if v == true {
			return true
		}
	}
	return false
}
