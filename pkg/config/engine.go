package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/security"
	"github.com/cuemby/adcm/pkg/settings"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// MaxFileDefaultSize bounds file-typed defaults read from a bundle
const MaxFileDefaultSize = 1 << 20

// Attr keys reserved for group configs
const (
	AttrGroupKeys       = "group_keys"
	AttrCustomGroupKeys = "custom_group_keys"
)

// Engine renders, validates, stores and migrates entity configuration
type Engine struct {
	vault  *security.Vault
	layout settings.Layout
	logger zerolog.Logger
}

// NewEngine creates a config engine
func NewEngine(vault *security.Vault, layout settings.Layout) *Engine {
	return &Engine{
		vault:  vault,
		layout: layout,
		logger: log.WithComponent("config"),
	}
}

// Vault returns the vault used for password fields
func (e *Engine) Vault() *security.Vault {
	return e.vault
}

// LoadSpec loads the config spec of a prototype
func LoadSpec(tx *storage.Tx, prototypeID int64) (*Spec, error) {
	rows, err := storage.ConfigSpec(tx, prototypeID)
	if err != nil {
		return nil, err
	}
	return NewSpec(rows), nil
}

// LoadActionSpec loads the config spec an action declares for its own input
func LoadActionSpec(tx *storage.Tx, actionID int64) (*Spec, error) {
	rows, err := storage.ActionConfigSpec(tx, actionID)
	if err != nil {
		return nil, err
	}
	return NewSpec(rows), nil
}

// Defaults renders the default config and attr of a spec. File defaults
// are read from the bundle directory.
func (e *Engine) Defaults(spec *Spec, proto *types.Prototype, bundleHash string) (map[string]any, map[string]any, error) {
	config := map[string]any{}
	attr := map[string]any{}
	for _, r := range spec.Rows() {
		if r.Type == types.FieldGroup {
			config[r.Name] = map[string]any{}
			if r.Limits.Activatable {
				attr[r.Name] = map[string]any{"active": r.Limits.Active}
			}
			continue
		}
		v, err := e.defaultValue(r, proto, bundleHash)
		if err != nil {
			return nil, nil, err
		}
		SetValue(config, r.Name, r.Subname, v)
	}
	return config, attr, nil
}

func (e *Engine) defaultValue(r *types.PrototypeConfig, proto *types.Prototype, bundleHash string) (any, error) {
	if r.Type != types.FieldFile {
		return types.DeepCopy(r.Default), nil
	}
	name, ok := r.Default.(string)
	if !ok || name == "" {
		return nil, nil
	}
	rel := name
	if strings.HasPrefix(name, "./") && proto != nil {
		rel = filepath.Join(proto.Path, name)
	}
	path := filepath.Join(e.layout.StackDir(bundleHash), rel)
	info, err := os.Stat(path)
	if err != nil {
		return nil, valueErr(r, "can't read default file %s: %v", rel, err)
	}
	if info.Size() > MaxFileDefaultSize {
		return nil, valueErr(r, "default file %s is larger than %d bytes", rel, MaxFileDefaultSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, valueErr(r, "can't read default file %s: %v", rel, err)
	}
	return string(data), nil
}

// CheckInput is a config submitted for validation
type CheckInput struct {
	Spec   *Spec
	Config any
	Attr   any
	Old    *types.ConfigLog // nil when there is no previous version
	State  string           // entity state read-only rules are evaluated in
	Object *types.Object    // owner, for variant builtins
	Group  bool             // attr may carry group keys
}

// Check validates a submitted config and returns the normalized config and
// attr. Missing read-only fields are taken from the previous version.
func (e *Engine) Check(tx *storage.Tx, in CheckInput) (map[string]any, map[string]any, error) {
	spec := in.Spec
	raw := types.Normalize(in.Config)
	config, ok := raw.(map[string]any)
	if !ok {
		return nil, nil, errcode.New(errcode.JSONError, "config should be a map, not %T", in.Config)
	}
	config = types.CopyMap(config)

	var oldConfig, oldAttr map[string]any
	if in.Old != nil {
		oldConfig, oldAttr = in.Old.Config, in.Old.Attr
	}

	attr, err := checkAttr(spec, in.Attr, oldAttr, in.Group)
	if err != nil {
		return nil, nil, err
	}

	for key, v := range config {
		r := spec.Field(key, "")
		if r == nil {
			return nil, nil, errcode.New(errcode.ConfigKeyError, "there is unknown key %q in input config", key)
		}
		if r.Type != types.FieldGroup {
			continue
		}
		group, ok := v.(map[string]any)
		if !ok {
			return nil, nil, errcode.New(errcode.ConfigKeyError, "there are no subkeys for key %q", key)
		}
		for sub := range group {
			if spec.Field(key, sub) == nil {
				return nil, nil, errcode.New(errcode.ConfigKeyError, "there is unknown subkey %q for key %q in input config", sub, key)
			}
		}
	}

	for _, r := range spec.Leaves() {
		v, present := Value(config, r.Name, r.Subname)
		active := spec.RowActive(attr, r)

		if in.Old != nil && ReadOnly(r, in.State) {
			old, _ := Value(oldConfig, r.Name, r.Subname)
			if !present {
				SetValue(config, r.Name, r.Subname, types.DeepCopy(old))
				continue
			}
			if !equalValues(e.vault, r, v, old) {
				return nil, nil, valueErr(r, "key is read only in state %q", in.State)
			}
			continue
		}

		if !present {
			if r.Required && active {
				return nil, nil, errcode.New(errcode.ConfigKeyError, "there is no required key %q in input config", Key(r.Name, r.Subname))
			}
			SetValue(config, r.Name, r.Subname, nil)
			continue
		}
		if !active && v == nil {
			continue
		}

		var allowed []any
		if r.Type == types.FieldVariant {
			if allowed, err = e.variantValues(tx, r, config, in.Object); err != nil {
				return nil, nil, err
			}
		}
		if err := checkValue(r, v, allowed); err != nil {
			if !active && !errcode.Is(err, errcode.InvalidConfigDefinition) && IsEmpty(v) {
				continue
			}
			return nil, nil, err
		}
	}

	for _, g := range spec.Groups() {
		if _, ok := config[g.Name]; !ok {
			config[g.Name] = map[string]any{}
		}
	}
	return config, attr, nil
}

func checkAttr(spec *Spec, raw any, oldAttr map[string]any, group bool) (map[string]any, error) {
	attr := map[string]any{}
	if raw != nil {
		m, ok := types.Normalize(raw).(map[string]any)
		if !ok {
			return nil, errcode.New(errcode.AttributeError, "attr should be a map")
		}
		for k, v := range m {
			if k == AttrGroupKeys || k == AttrCustomGroupKeys {
				if !group {
					return nil, errcode.New(errcode.AttributeError, "attr key %q is only allowed for group configs", k)
				}
				attr[k] = v
				continue
			}
			g := spec.Field(k, "")
			if g == nil || g.Type != types.FieldGroup || !g.Limits.Activatable {
				return nil, errcode.New(errcode.AttributeError, "there is no activatable group %q in config", k)
			}
			flags, ok := v.(map[string]any)
			if !ok {
				return nil, errcode.New(errcode.AttributeError, "attr of group %q should be a map", k)
			}
			for fk := range flags {
				if fk != "active" {
					return nil, errcode.New(errcode.AttributeError, "unknown attr %q of group %q", fk, k)
				}
			}
			if _, ok := flags["active"].(bool); !ok {
				return nil, errcode.New(errcode.AttributeError, "attr active of group %q should be a boolean", k)
			}
			attr[k] = map[string]any{"active": flags["active"]}
		}
	}
	for _, g := range spec.Activatable() {
		if _, ok := attr[g.Name]; ok {
			continue
		}
		if old, ok := oldAttr[g.Name].(map[string]any); ok {
			attr[g.Name] = types.CopyMap(old)
			continue
		}
		attr[g.Name] = map[string]any{"active": g.Limits.Active}
	}
	return attr, nil
}

// MissingRequired returns the flat keys of required fields without a value,
// skipping fields of inactive groups
func MissingRequired(spec *Spec, config, attr map[string]any) []string {
	var missing []string
	for _, r := range spec.Leaves() {
		if !r.Required || !spec.RowActive(attr, r) {
			continue
		}
		v, _ := Value(config, r.Name, r.Subname)
		if IsEmpty(v) {
			missing = append(missing, Key(r.Name, r.Subname))
		}
	}
	return missing
}

// Init creates the config chain of a new entity or group from spec
// defaults. It returns nil when the spec is empty.
func (e *Engine) Init(tx *storage.Tx, owner types.ObjectRef, groupID int64, spec *Spec, proto *types.Prototype, bundleHash string) (*types.ObjectConfig, error) {
	if spec.Empty() {
		return nil, nil
	}
	config, attr, err := e.Defaults(spec, proto, bundleHash)
	if err != nil {
		return nil, err
	}
	oc := &types.ObjectConfig{Owner: owner, GroupID: groupID}
	if err := storage.ObjectConfigs.Insert(tx, oc); err != nil {
		return nil, err
	}
	if _, err := e.Save(tx, oc, spec, config, attr, "init"); err != nil {
		return nil, err
	}
	return oc, nil
}

// Save appends a config version and advances current and previous.
// Password values are encrypted and file values materialized.
func (e *Engine) Save(tx *storage.Tx, oc *types.ObjectConfig, spec *Spec, config, attr map[string]any, description string) (*types.ConfigLog, error) {
	config = types.CopyMap(config)
	if err := e.EncryptPasswords(spec, config); err != nil {
		return nil, err
	}
	cl := &types.ConfigLog{
		ObjConfID:   oc.ID,
		Config:      config,
		Attr:        types.CopyMap(attr),
		Description: description,
		Date:        tx.Now(),
	}
	if err := storage.ConfigLogs.Insert(tx, cl); err != nil {
		return nil, err
	}
	oc.Previous = oc.Current
	oc.Current = cl.ID
	if err := storage.ObjectConfigs.Put(tx, oc); err != nil {
		return nil, err
	}
	e.materializeAfterCommit(tx, oc, spec, config)
	return cl, nil
}

// Restore makes an earlier version current. The log must belong to oc.
func (e *Engine) Restore(tx *storage.Tx, oc *types.ObjectConfig, spec *Spec, logID int64) (*types.ConfigLog, error) {
	cl, err := storage.ConfigLogs.Get(tx, logID)
	if err != nil {
		return nil, err
	}
	if cl.ObjConfID != oc.ID {
		return nil, errcode.New(errcode.ConfigNotFound, "config log %d does not belong to object config %d", logID, oc.ID)
	}
	if oc.Current != logID {
		oc.Previous = oc.Current
		oc.Current = logID
		if err := storage.ObjectConfigs.Put(tx, oc); err != nil {
			return nil, err
		}
	}
	e.materializeAfterCommit(tx, oc, spec, cl.Config)
	return cl, nil
}

// EncryptPasswords replaces plaintext password values of config with vault
// strings in place
func (e *Engine) EncryptPasswords(spec *Spec, config map[string]any) error {
	for _, r := range spec.Leaves() {
		if r.Type != types.FieldPassword {
			continue
		}
		v, ok := Value(config, r.Name, r.Subname)
		s, isStr := v.(string)
		if !ok || !isStr || s == "" {
			continue
		}
		if e.vault == nil {
			return fmt.Errorf("no vault configured for password key %q", Key(r.Name, r.Subname))
		}
		enc, err := e.vault.Encrypt(s)
		if err != nil {
			return fmt.Errorf("failed to encrypt %q: %w", Key(r.Name, r.Subname), err)
		}
		SetValue(config, r.Name, r.Subname, enc)
	}
	return nil
}

// Drop deletes a config chain with its history. Materialized files are
// removed once the transaction commits.
func (e *Engine) Drop(tx *storage.Tx, objConfID int64) error {
	if objConfID == 0 {
		return nil
	}
	oc, err := storage.ObjectConfigs.Get(tx, objConfID)
	if err != nil {
		if errcode.IsNotFound(err) {
			return nil
		}
		return err
	}
	if _, err := storage.ConfigLogs.DeleteWhere(tx, func(cl *types.ConfigLog) bool { return cl.ObjConfID == oc.ID }); err != nil {
		return err
	}
	if err := storage.ObjectConfigs.Delete(tx, oc.ID); err != nil {
		return err
	}
	prefix := FilePrefix(oc) + "."
	tx.AfterCommit(func() {
		matches, _ := filepath.Glob(filepath.Join(e.layout.FileDir(), prefix+"*"))
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				e.logger.Warn().Err(err).Str("file", m).Msg("failed to remove config file")
			}
		}
	})
	return nil
}
