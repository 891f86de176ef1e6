package config

import (
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// SwitchInput describes a prototype swap of one entity
type SwitchInput struct {
	Object     *types.Object
	OldSpec    *Spec
	NewSpec    *Spec
	NewProto   *types.Prototype
	BundleHash string // hash of the target bundle
}

// Migrate carries old values into the new spec: a value still equal to
// the old default adopts the new default, a customized value is kept,
// fields new to the spec get their default and removed fields are dropped.
// Activatable groups keep their flag when they existed before.
func (e *Engine) Migrate(in SwitchInput, oldConfig, oldAttr map[string]any) (map[string]any, map[string]any, error) {
	config, attr, err := e.Defaults(in.NewSpec, in.NewProto, in.BundleHash)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range in.NewSpec.Leaves() {
		old := in.OldSpec.Field(r.Name, r.Subname)
		if old == nil || old.Type != r.Type {
			continue
		}
		if r.Subname != "" && !in.OldSpec.IsGroup(r.Name) {
			continue
		}
		v, ok := Value(oldConfig, r.Name, r.Subname)
		if !ok {
			continue
		}
		if r.Type != types.FieldFile && equalValues(e.vault, r, v, old.Default) {
			continue
		}
		SetValue(config, r.Name, r.Subname, types.DeepCopy(v))
	}
	for _, g := range in.NewSpec.Activatable() {
		old := in.OldSpec.Field(g.Name, "")
		if old == nil || old.Type != types.FieldGroup || !old.Limits.Activatable {
			continue
		}
		if a, ok := oldAttr[g.Name].(map[string]any); ok {
			attr[g.Name] = types.CopyMap(a)
		}
	}
	return config, attr, nil
}

// Switch migrates the config chain of an entity and of its group configs
// to a new prototype, storing versions with description "upgrade". An
// entity without a config chain gets one initialized from defaults.
func (e *Engine) Switch(tx *storage.Tx, in SwitchInput) error {
	obj := in.Object
	if obj.ConfigID == 0 {
		oc, err := e.Init(tx, obj.Ref(), 0, in.NewSpec, in.NewProto, in.BundleHash)
		if err != nil {
			return err
		}
		if oc != nil {
			obj.ConfigID = oc.ID
		}
		return nil
	}

	oc, cl, err := storage.CurrentConfig(tx, obj.ConfigID)
	if err != nil {
		return err
	}
	config, attr, err := e.Migrate(in, cl.Config, cl.Attr)
	if err != nil {
		return err
	}
	parent, err := e.Save(tx, oc, in.NewSpec, config, attr, "upgrade")
	if err != nil {
		return err
	}

	groups, err := storage.GroupConfigs.List(tx, func(g *types.GroupConfig) bool { return g.Owner == obj.Ref() })
	if err != nil {
		return err
	}
	for _, g := range groups {
		goc, gcl, err := storage.CurrentConfig(tx, g.ConfigID)
		if err != nil {
			return err
		}
		gConfig, _, err := e.Migrate(in, gcl.Config, gcl.Attr)
		if err != nil {
			return err
		}
		custom := in.NewSpec.CustomGroupKeys(in.NewProto)
		keys := carryGroupKeys(in.NewSpec, GroupKeys(gcl.Attr), custom)
		merged := Merge(parent.Config, gConfig, keys)
		gAttr := groupAttr(in.NewSpec, in.NewProto, parent.Attr, keys)
		if _, err := e.Save(tx, goc, in.NewSpec, merged, gAttr, "upgrade"); err != nil {
			return err
		}
	}
	return nil
}

// carryGroupKeys keeps the customized flags that are still allowed
func carryGroupKeys(spec *Spec, old, custom map[string]any) map[string]any {
	keys := spec.DefaultGroupKeys()
	for k, v := range keys {
		switch v.(type) {
		case bool:
			if old[k] == true && custom[k] == true {
				keys[k] = true
			}
		case map[string]any:
			oldSub, _ := old[k].(map[string]any)
			customSub, _ := custom[k].(map[string]any)
			for sk := range v.(map[string]any) {
				if oldSub[sk] == true && customSub[sk] == true {
					v.(map[string]any)[sk] = true
				}
			}
		}
	}
	return keys
}
