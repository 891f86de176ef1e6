package catalog

import (
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/topology"
	"github.com/cuemby/adcm/pkg/types"
)

// DefaultEdition is the edition of bundles that declare none
const DefaultEdition = "community"

// Load stores a decoded bundle with all its prototype records. Bundles
// requiring a newer ADCM than adcmVersion are refused.
func Load(tx *storage.Tx, b *Bundle, adcmVersion string) (*types.Bundle, error) {
	if b.Hash == "" {
		return nil, errcode.New(errcode.InvalidInput, "bundle has no hash")
	}
	if _, err := storage.Bundles.Find(tx, func(x *types.Bundle) bool { return x.Hash == b.Hash }); err == nil {
		return nil, errcode.New(errcode.BundleConflict, "bundle with hash %s is already loaded", b.Hash)
	}
	main, err := mainPrototype(b)
	if err != nil {
		return nil, err
	}
	edition := main.Edition
	if edition == "" {
		edition = DefaultEdition
	}
	dup, err := storage.Bundles.List(tx, func(x *types.Bundle) bool {
		return x.Name == main.Name && x.Version == main.Version && x.Edition == edition
	})
	if err != nil {
		return nil, err
	}
	if len(dup) > 0 {
		return nil, errcode.New(errcode.BundleConflict, "bundle %q %s %s is already loaded", main.Name, main.Version, edition)
	}

	bundle := &types.Bundle{
		Name:        main.Name,
		Version:     main.Version,
		Edition:     edition,
		Hash:        b.Hash,
		Description: main.Description,
		License:     licenseOf(main),
	}
	if err := storage.Bundles.Insert(tx, bundle); err != nil {
		return nil, err
	}

	for i := range b.Prototypes {
		def := &b.Prototypes[i]
		if def.MinADCMVersion != "" && adcmVersion != "" && config.CompareVersions(adcmVersion, def.MinADCMVersion) < 0 {
			return nil, errcode.New(errcode.BundleVersionError,
				"%s %q requires ADCM %s or newer, this is %s", def.Type, def.Name, def.MinADCMVersion, adcmVersion)
		}
		if def.Type == types.ObjectComponent || !def.Type.Valid() {
			return nil, errcode.New(errcode.InvalidInput, "unexpected top-level prototype type %q", def.Type)
		}
		proto, err := storePrototype(tx, bundle, def, 0)
		if err != nil {
			return nil, err
		}
		if def == main {
			if err := storeUpgrades(tx, bundle, def.Upgrade); err != nil {
				return nil, err
			}
		}
		if def.Type != types.ObjectService {
			continue
		}
		for _, name := range sortedKeys(def.Components) {
			comp := def.Components[name]
			comp.Type = types.ObjectComponent
			comp.Name = name
			if comp.Version == "" {
				comp.Version = def.Version
			}
			if comp.Path == "" {
				comp.Path = def.Path
			}
			if _, err := storePrototype(tx, bundle, &comp, proto.ID); err != nil {
				return nil, err
			}
		}
	}

	logger := log.WithComponent("catalog")
	logger.Info().
		Str("bundle", bundle.Name).
		Str("version", bundle.Version).
		Str("hash", bundle.Hash).
		Int("prototypes", len(b.Prototypes)).
		Msg("bundle loaded")
	return bundle, nil
}

// mainPrototype returns the cluster, provider or adcm prototype that names
// the bundle
func mainPrototype(b *Bundle) (*PrototypeDef, error) {
	var main *PrototypeDef
	for i := range b.Prototypes {
		def := &b.Prototypes[i]
		switch def.Type {
		case types.ObjectCluster, types.ObjectProvider, types.ObjectADCM:
			if main != nil {
				return nil, errcode.New(errcode.InvalidInput, "bundle declares both %s %q and %s %q", main.Type, main.Name, def.Type, def.Name)
			}
			main = def
		}
	}
	if main == nil {
		return nil, errcode.New(errcode.InvalidInput, "bundle has no cluster, provider or adcm prototype")
	}
	return main, nil
}

func licenseOf(def *PrototypeDef) types.LicenseStatus {
	if def.License != "" {
		return types.LicenseUnaccepted
	}
	return types.LicenseAbsent
}

func storePrototype(tx *storage.Tx, bundle *types.Bundle, def *PrototypeDef, parentID int64) (*types.Prototype, error) {
	if def.Name == "" {
		return nil, errcode.New(errcode.InvalidInput, "%s prototype has no name", def.Type)
	}
	constraint := make([]string, 0, len(def.Constraint))
	for _, c := range def.Constraint {
		constraint = append(constraint, fmt.Sprint(c))
	}
	if _, err := topology.ParseConstraint(constraint); err != nil {
		return nil, err
	}
	monitoring := def.Monitoring
	if monitoring == "" {
		monitoring = "active"
	}
	proto := &types.Prototype{
		BundleID:                 bundle.ID,
		Type:                     def.Type,
		ParentID:                 parentID,
		Name:                     def.Name,
		DisplayName:              def.DisplayName,
		Version:                  def.Version,
		Edition:                  bundle.Edition,
		Description:              def.Description,
		Path:                     def.Path,
		Required:                 def.Required,
		Shared:                   def.Shared,
		Constraint:               constraint,
		Requires:                 def.Requires,
		BoundTo:                  def.BoundTo,
		Monitoring:               monitoring,
		MinADCMVersion:           def.MinADCMVersion,
		License:                  licenseOf(def),
		ConfigGroupCustomization: def.ConfigGroupCustomization,
	}
	if proto.DisplayName == "" {
		proto.DisplayName = proto.Name
	}
	if err := storage.Prototypes.Insert(tx, proto); err != nil {
		return nil, err
	}

	if err := storeConfig(tx, proto.ID, 0, def.Config); err != nil {
		return nil, fmt.Errorf("%s %q: %w", def.Type, def.Name, err)
	}
	for _, name := range sortedKeys(def.Actions) {
		if err := storeAction(tx, proto, name, def.Actions[name]); err != nil {
			return nil, fmt.Errorf("%s %q action %q: %w", def.Type, def.Name, name, err)
		}
	}
	for _, name := range sortedKeys(def.Import) {
		imp := def.Import[name]
		if err := storage.Imports.Insert(tx, &types.PrototypeImport{
			PrototypeID:   proto.ID,
			Name:          name,
			Versions:      versionRange(imp.Versions),
			Required:      imp.Required,
			Multibind:     imp.Multibind,
			DefaultGroups: imp.Default,
		}); err != nil {
			return nil, err
		}
	}
	for _, name := range def.Export {
		if err := storage.Exports.Insert(tx, &types.PrototypeExport{PrototypeID: proto.ID, Name: name}); err != nil {
			return nil, err
		}
	}
	return proto, nil
}

func storeConfig(tx *storage.Tx, protoID, actionID int64, defs []ConfigDef) error {
	var rows []*types.PrototypeConfig
	for _, d := range defs {
		row, err := configRow(d, protoID, actionID, d.Name, "")
		if err != nil {
			return err
		}
		rows = append(rows, row)
		if d.Type != types.FieldGroup {
			continue
		}
		for _, sub := range d.Subs {
			if sub.Type == types.FieldGroup {
				return errcode.New(errcode.InvalidConfigDefinition, "group %q can't contain group %q", d.Name, sub.Name)
			}
			row, err := configRow(sub, protoID, actionID, d.Name, sub.Name)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
	}
	if err := config.NewSpec(rows).Validate(); err != nil {
		return err
	}
	for _, r := range rows {
		if err := storage.PrototypeConfigs.Insert(tx, r); err != nil {
			return err
		}
	}
	return nil
}

func configRow(d ConfigDef, protoID, actionID int64, name, subname string) (*types.PrototypeConfig, error) {
	if d.Name == "" {
		return nil, errcode.New(errcode.InvalidConfigDefinition, "config field without a name")
	}
	if d.Type == "" {
		return nil, errcode.New(errcode.InvalidConfigDefinition, "config key %q has no type", config.Key(name, subname))
	}
	limits := types.Limits{
		Min:         d.Min,
		Max:         d.Max,
		Option:      types.NormalizeMap(d.Option),
		Writable:    d.Writable,
		Activatable: d.Activatable,
		Active:      d.Active,
		YSpec:       types.NormalizeMap(d.YSpec),
	}
	switch ro := d.ReadOnly.(type) {
	case nil:
	case string:
		if ro != "any" {
			return nil, errcode.New(errcode.InvalidConfigDefinition, "read_only of %q should be \"any\" or a list of states", config.Key(name, subname))
		}
		limits.ReadOnlyAny = true
	case []any:
		for _, s := range ro {
			limits.ReadOnly = append(limits.ReadOnly, fmt.Sprint(s))
		}
	default:
		return nil, errcode.New(errcode.InvalidConfigDefinition, "read_only of %q should be \"any\" or a list of states", config.Key(name, subname))
	}
	if d.Source != nil {
		strict := true
		if d.Source.Strict != nil {
			strict = *d.Source.Strict
		}
		limits.Source = &types.VariantSource{
			Type:   d.Source.Type,
			Strict: strict,
			Value:  types.Normalize(d.Source.Value),
			Name:   d.Source.Name,
		}
	}
	display := d.DisplayName
	if display == "" {
		display = d.Name
	}
	return &types.PrototypeConfig{
		PrototypeID:        protoID,
		ActionID:           actionID,
		Name:               name,
		Subname:            subname,
		DisplayName:        display,
		Description:        d.Description,
		Type:               d.Type,
		Default:            types.Normalize(d.Default),
		Limits:             limits,
		Required:           d.Required,
		GroupCustomization: d.GroupCustomization,
		UIOptions:          types.NormalizeMap(d.UIOptions),
	}, nil
}

func storeAction(tx *storage.Tx, proto *types.Prototype, name string, d ActionDef) error {
	a := &types.Action{
		PrototypeID:      proto.ID,
		Name:             name,
		DisplayName:      d.DisplayName,
		Description:      d.Description,
		Type:             d.Type,
		Script:           d.Script,
		ScriptType:       d.ScriptType,
		Params:           types.NormalizeMap(d.Params),
		LogFiles:         d.LogFiles,
		HostComponentMap: d.HCACL,
		AllowToTerminate: d.AllowToTerminate,
	}
	if a.DisplayName == "" {
		a.DisplayName = name
	}
	if a.Type == "" {
		a.Type = types.ActionJob
		if len(d.Scripts) > 0 {
			a.Type = types.ActionTask
		}
	}
	if a.ScriptType == "" {
		a.ScriptType = types.ScriptAnsible
	}
	switch a.Type {
	case types.ActionJob:
		if a.Script == "" {
			return errcode.New(errcode.InvalidInput, "job action has no script")
		}
	case types.ActionTask:
		if len(d.Scripts) == 0 {
			return errcode.New(errcode.InvalidInput, "task action has no scripts")
		}
	default:
		return errcode.New(errcode.InvalidInput, "unknown action type %q", a.Type)
	}
	for _, hc := range a.HostComponentMap {
		if hc.Action != types.HCAdd && hc.Action != types.HCRemove {
			return errcode.New(errcode.InvalidInput, "hc_acl action should be add or remove, not %q", hc.Action)
		}
	}

	a.StateAvailableAny, a.MultiStateAvailableAny = true, true
	if d.States != nil {
		var err error
		if a.StateAvailable, a.StateAvailableAny, err = availability(d.States.Available); err != nil {
			return err
		}
		a.StateOnSuccess = d.States.OnSuccess
		a.StateOnFail = d.States.OnFail
	}
	if d.Masking != nil {
		if d.States != nil {
			return errcode.New(errcode.InvalidInput, "states and masking can't be used together")
		}
		if s := d.Masking.State; s != nil {
			var err error
			if a.StateAvailable, a.StateAvailableAny, err = availability(s.Available); err != nil {
				return err
			}
			a.StateUnavailable = s.Unavailable
		}
		if m := d.Masking.MultiState; m != nil {
			var err error
			if a.MultiStateAvailable, a.MultiStateAvailableAny, err = availability(m.Available); err != nil {
				return err
			}
			a.MultiStateUnavailable = m.Unavailable
		}
	}
	if o := d.OnSuccess; o != nil {
		a.StateOnSuccess = o.State
		if o.MultiState != nil {
			a.MultiStateOnSuccessSet, a.MultiStateOnSuccessUnset = o.MultiState.Set, o.MultiState.Unset
		}
	}
	if o := d.OnFail; o != nil {
		a.StateOnFail = o.State
		if o.MultiState != nil {
			a.MultiStateOnFailSet, a.MultiStateOnFailUnset = o.MultiState.Set, o.MultiState.Unset
		}
	}
	for _, s := range []string{a.StateOnSuccess, a.StateOnFail} {
		if s == types.StateLocked {
			return errcode.New(errcode.InvalidInput, "state %q is reserved", s)
		}
	}

	if err := storage.Actions.Insert(tx, a); err != nil {
		return err
	}
	if err := storeConfig(tx, proto.ID, a.ID, d.Config); err != nil {
		return err
	}
	for _, s := range d.Scripts {
		sub := &types.SubAction{
			ActionID:    a.ID,
			Name:        s.Name,
			DisplayName: s.DisplayName,
			Script:      s.Script,
			ScriptType:  s.ScriptType,
			Params:      types.NormalizeMap(s.Params),
		}
		if sub.DisplayName == "" {
			sub.DisplayName = sub.Name
		}
		if sub.ScriptType == "" {
			sub.ScriptType = a.ScriptType
		}
		if o := s.OnFail; o != nil {
			sub.StateOnFail = o.State
			if o.MultiState != nil {
				sub.MultiStateOnFailSet, sub.MultiStateOnFailUnset = o.MultiState.Set, o.MultiState.Unset
			}
		}
		if err := storage.SubActions.Insert(tx, sub); err != nil {
			return err
		}
	}
	return nil
}

// availability parses "any" or a list of names
func availability(raw any) ([]string, bool, error) {
	switch v := raw.(type) {
	case nil:
		return nil, true, nil
	case string:
		if v == "any" {
			return nil, true, nil
		}
		return []string{v}, false, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			out = append(out, fmt.Sprint(s))
		}
		return out, false, nil
	}
	return nil, false, errcode.New(errcode.InvalidInput, "available should be \"any\" or a list, not %T", raw)
}

func storeUpgrades(tx *storage.Tx, bundle *types.Bundle, defs []UpgradeDef) error {
	for _, d := range defs {
		up := &types.Upgrade{
			BundleID:          bundle.ID,
			Name:              d.Name,
			Description:       d.Description,
			Versions:          versionRange(d.Versions),
			FromEdition:       d.FromEdition,
			StateAvailableAny: true,
		}
		if len(up.FromEdition) == 0 {
			up.FromEdition = []string{DefaultEdition}
		}
		if d.States != nil {
			var err error
			if up.StateAvailable, up.StateAvailableAny, err = availability(d.States.Available); err != nil {
				return fmt.Errorf("upgrade %q: %w", d.Name, err)
			}
			up.StateOnSuccess = d.States.OnSuccess
		}
		if err := storage.Upgrades.Insert(tx, up); err != nil {
			return err
		}
	}
	return nil
}

func versionRange(v VersionsDef) types.VersionRange {
	r := types.VersionRange{Min: v.Min, Max: v.Max}
	if v.MinStrict != "" {
		r.Min, r.MinStrict = v.MinStrict, true
	}
	if v.MaxStrict != "" {
		r.Max, r.MaxStrict = v.MaxStrict, true
	}
	return r
}

// AcceptLicense marks the license of a bundle and of its prototypes
// accepted
func AcceptLicense(tx *storage.Tx, bundleID int64) error {
	bundle, err := storage.Bundles.Get(tx, bundleID)
	if err != nil {
		return err
	}
	if bundle.License == types.LicenseAbsent {
		return errcode.New(errcode.LicenseError, "bundle %q %s has no license", bundle.Name, bundle.Version)
	}
	bundle.License = types.LicenseAccepted
	if err := storage.Bundles.Put(tx, bundle); err != nil {
		return err
	}
	protos, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool {
		return p.BundleID == bundleID && p.License == types.LicenseUnaccepted
	})
	if err != nil {
		return err
	}
	for _, p := range protos {
		p.License = types.LicenseAccepted
		if err := storage.Prototypes.Put(tx, p); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a bundle nothing is created from any more
func Delete(tx *storage.Tx, bundleID int64) error {
	bundle, err := storage.Bundles.Get(tx, bundleID)
	if err != nil {
		return err
	}
	protos, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool { return p.BundleID == bundleID })
	if err != nil {
		return err
	}
	var ids []int64
	for _, p := range protos {
		ids = append(ids, p.ID)
	}
	for _, kind := range types.ObjectTypes {
		used, err := storage.ListObjects(tx, kind, func(o *types.Object) bool { return slices.Contains(ids, o.PrototypeID) })
		if err != nil {
			return err
		}
		if len(used) > 0 {
			return errcode.New(errcode.BundleConflict, "there is %s %q of bundle %q", kind, used[0].Name, bundle.Name)
		}
	}

	actions, err := storage.Actions.DeleteWhere(tx, func(a *types.Action) bool { return slices.Contains(ids, a.PrototypeID) })
	if err != nil {
		return err
	}
	for _, a := range actions {
		if _, err := storage.SubActions.DeleteWhere(tx, func(s *types.SubAction) bool { return s.ActionID == a.ID }); err != nil {
			return err
		}
	}
	if _, err := storage.PrototypeConfigs.DeleteWhere(tx, func(c *types.PrototypeConfig) bool { return slices.Contains(ids, c.PrototypeID) }); err != nil {
		return err
	}
	if _, err := storage.Imports.DeleteWhere(tx, func(i *types.PrototypeImport) bool { return slices.Contains(ids, i.PrototypeID) }); err != nil {
		return err
	}
	if _, err := storage.Exports.DeleteWhere(tx, func(x *types.PrototypeExport) bool { return slices.Contains(ids, x.PrototypeID) }); err != nil {
		return err
	}
	if _, err := storage.Upgrades.DeleteWhere(tx, func(u *types.Upgrade) bool { return u.BundleID == bundleID }); err != nil {
		return err
	}
	for _, id := range ids {
		if err := storage.Prototypes.Delete(tx, id); err != nil {
			return err
		}
	}
	return storage.Bundles.Delete(tx, bundleID)
}

// Unpack copies a bundle directory to dst, normally the bundle's stack
// directory data/bundle/<hash>
func Unpack(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := os.MkdirAll(dst, 0750); err != nil {
		return fmt.Errorf("failed to create bundle dir: %w", err)
	}
	if err := os.CopyFS(dst, os.DirFS(src)); err != nil {
		return fmt.Errorf("failed to copy bundle: %w", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
