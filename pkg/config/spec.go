package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/types"
)

// Spec is the ordered config specification of a prototype or action
type Spec struct {
	rows  []*types.PrototypeConfig
	index map[string]*types.PrototypeConfig
}

// Key returns the flat key of a (name, subname) pair
func Key(name, subname string) string {
	if subname == "" {
		return name
	}
	return name + "/" + subname
}

// SplitKey is the inverse of Key
func SplitKey(key string) (name, subname string) {
	name, subname, _ = strings.Cut(key, "/")
	return name, subname
}

// NewSpec indexes rows, which must be in declaration order
func NewSpec(rows []*types.PrototypeConfig) *Spec {
	s := &Spec{rows: rows, index: make(map[string]*types.PrototypeConfig, len(rows))}
	for _, r := range rows {
		s.index[Key(r.Name, r.Subname)] = r
	}
	return s
}

// Empty reports whether the prototype declares no config
func (s *Spec) Empty() bool {
	return s == nil || len(s.rows) == 0
}

// Rows returns every row in declaration order
func (s *Spec) Rows() []*types.PrototypeConfig {
	return s.rows
}

// Field returns the row for (name, subname) or nil
func (s *Spec) Field(name, subname string) *types.PrototypeConfig {
	return s.index[Key(name, subname)]
}

// IsGroup reports whether name is a group marker
func (s *Spec) IsGroup(name string) bool {
	r := s.index[name]
	return r != nil && r.Type == types.FieldGroup
}

// Leaves returns every value-bearing row: top-level scalars and group members
func (s *Spec) Leaves() []*types.PrototypeConfig {
	out := make([]*types.PrototypeConfig, 0, len(s.rows))
	for _, r := range s.rows {
		if r.Type != types.FieldGroup {
			out = append(out, r)
		}
	}
	return out
}

// Members returns the rows of a group
func (s *Spec) Members(group string) []*types.PrototypeConfig {
	var out []*types.PrototypeConfig
	for _, r := range s.rows {
		if r.Name == group && r.Subname != "" {
			out = append(out, r)
		}
	}
	return out
}

// Groups returns the group marker rows
func (s *Spec) Groups() []*types.PrototypeConfig {
	var out []*types.PrototypeConfig
	for _, r := range s.rows {
		if r.Type == types.FieldGroup {
			out = append(out, r)
		}
	}
	return out
}

// Activatable returns the group markers that can be switched on and off
func (s *Spec) Activatable() []*types.PrototypeConfig {
	var out []*types.PrototypeConfig
	for _, g := range s.Groups() {
		if g.Limits.Activatable {
			out = append(out, g)
		}
	}
	return out
}

// Validate checks the spec itself for contradictory definitions
func (s *Spec) Validate() error {
	for _, r := range s.rows {
		l := r.Limits
		if (l.ReadOnlyAny || len(l.ReadOnly) > 0) && len(l.Writable) > 0 {
			return errcode.New(errcode.InvalidConfigDefinition,
				"config key %q has both read_only and writable", Key(r.Name, r.Subname))
		}
		if r.Subname != "" && !s.IsGroup(r.Name) {
			return errcode.New(errcode.InvalidConfigDefinition,
				"config key %q has no group %q", Key(r.Name, r.Subname), r.Name)
		}
		if r.Type == types.FieldOption && len(l.Option) == 0 {
			return errcode.New(errcode.InvalidConfigDefinition,
				"option key %q has no options", Key(r.Name, r.Subname))
		}
		if r.Type == types.FieldVariant && l.Source == nil {
			return errcode.New(errcode.InvalidConfigDefinition,
				"variant key %q has no source", Key(r.Name, r.Subname))
		}
		if r.Type == types.FieldStructure && l.YSpec != nil {
			if _, err := NewYSpec(l.YSpec); err != nil {
				return errcode.New(errcode.InvalidConfigDefinition,
					"structure key %q: %v", Key(r.Name, r.Subname), err)
			}
		}
	}
	return nil
}

// Flatten returns the flat "name/subname" view of a nested config
func (s *Spec) Flatten(nested map[string]any) map[string]any {
	flat := make(map[string]any)
	for _, r := range s.Leaves() {
		if r.Subname == "" {
			if v, ok := nested[r.Name]; ok {
				flat[r.Name] = v
			}
			continue
		}
		group, ok := nested[r.Name].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := group[r.Subname]; ok {
			flat[Key(r.Name, r.Subname)] = v
		}
	}
	return flat
}

// Unflatten builds the nested view from a flat map
func (s *Spec) Unflatten(flat map[string]any) map[string]any {
	nested := make(map[string]any)
	for _, r := range s.rows {
		switch {
		case r.Type == types.FieldGroup:
			if _, ok := nested[r.Name]; !ok {
				nested[r.Name] = map[string]any{}
			}
		case r.Subname == "":
			if v, ok := flat[r.Name]; ok {
				nested[r.Name] = v
			}
		default:
			group, ok := nested[r.Name].(map[string]any)
			if !ok {
				group = map[string]any{}
				nested[r.Name] = group
			}
			if v, ok := flat[Key(r.Name, r.Subname)]; ok {
				group[r.Subname] = v
			}
		}
	}
	return nested
}

// Value returns the nested value of (name, subname)
func Value(config map[string]any, name, subname string) (any, bool) {
	if subname == "" {
		v, ok := config[name]
		return v, ok
	}
	group, ok := config[name].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := group[subname]
	return v, ok
}

// SetValue sets the nested value of (name, subname), creating the group map
func SetValue(config map[string]any, name, subname string, v any) {
	if subname == "" {
		config[name] = v
		return
	}
	group, ok := config[name].(map[string]any)
	if !ok {
		group = map[string]any{}
		config[name] = group
	}
	group[subname] = v
}

// GroupActive reports whether a group is active per attr. Groups that are
// not activatable are always active.
func (s *Spec) GroupActive(attr map[string]any, group string) bool {
	g := s.index[group]
	if g == nil || g.Type != types.FieldGroup || !g.Limits.Activatable {
		return true
	}
	if a, ok := attr[group].(map[string]any); ok {
		if active, ok := a["active"].(bool); ok {
			return active
		}
	}
	return g.Limits.Active
}

// RowActive reports whether a leaf is outside any inactive group
func (s *Spec) RowActive(attr map[string]any, r *types.PrototypeConfig) bool {
	if r.Subname == "" {
		return true
	}
	return s.GroupActive(attr, r.Name)
}

// ReadOnly reports whether a row may not change in the given state
func ReadOnly(r *types.PrototypeConfig, state string) bool {
	l := r.Limits
	switch {
	case l.ReadOnlyAny:
		return true
	case len(l.ReadOnly) > 0:
		return slices.Contains(l.ReadOnly, state)
	case len(l.Writable) > 0:
		return !slices.Contains(l.Writable, state)
	}
	return false
}

func (s *Spec) String() string {
	names := make([]string, 0, len(s.rows))
	for _, r := range s.rows {
		names = append(names, Key(r.Name, r.Subname))
	}
	return fmt.Sprintf("spec%v", names)
}
