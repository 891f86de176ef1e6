package planner

import (
	"sort"

	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// VaultKey wraps encrypted values for ansible
const VaultKey = "__ansible_vault"

// objectConfig renders the current config of obj for a job
func (p *Planner) objectConfig(tx *storage.Tx, obj *types.Object) (map[string]any, error) {
	if obj.ConfigID == 0 {
		return map[string]any{}, nil
	}
	oc, cl, err := storage.CurrentConfig(tx, obj.ConfigID)
	if err != nil {
		return nil, err
	}
	spec, err := config.LoadSpec(tx, obj.PrototypeID)
	if err != nil {
		return nil, err
	}
	return p.renderValues(spec, oc, cl.Config, cl.Attr), nil
}

// groupConfig renders the effective config hosts of group see
func (p *Planner) groupConfig(tx *storage.Tx, group *types.GroupConfig, owner *types.Object) (map[string]any, error) {
	cfg, attr, err := p.configs.Effective(tx, group)
	if err != nil {
		return nil, err
	}
	oc, err := storage.ObjectConfigs.Get(tx, group.ConfigID)
	if err != nil {
		return nil, err
	}
	spec, err := config.LoadSpec(tx, owner.PrototypeID)
	if err != nil {
		return nil, err
	}
	return p.renderValues(spec, oc, cfg, attr), nil
}

// renderValues wraps passwords for the vault, replaces file values with
// their paths and blanks inactive groups
func (p *Planner) renderValues(spec *config.Spec, oc *types.ObjectConfig, cfg, attr map[string]any) map[string]any {
	out := types.CopyMap(cfg)
	if out == nil {
		out = map[string]any{}
	}
	for _, r := range spec.Leaves() {
		v, ok := config.Value(out, r.Name, r.Subname)
		s, isStr := v.(string)
		if !ok || !isStr || s == "" {
			continue
		}
		switch r.Type {
		case types.FieldPassword:
			config.SetValue(out, r.Name, r.Subname, map[string]any{VaultKey: s})
		case types.FieldFile:
			config.SetValue(out, r.Name, r.Subname, p.configs.FilePath(oc, r.Name, r.Subname))
		}
	}
	for _, g := range spec.Activatable() {
		if !spec.GroupActive(attr, g.Name) {
			out[g.Name] = nil
		}
	}
	return out
}

// actionConfig renders the config a task was started with
func (p *Planner) actionConfig(tx *storage.Tx, task *types.TaskLog) (map[string]any, error) {
	if task.Config == nil {
		return nil, nil
	}
	spec, err := config.LoadActionSpec(tx, task.ActionID)
	if err != nil {
		return nil, err
	}
	out := types.CopyMap(task.Config)
	for _, r := range spec.Leaves() {
		if r.Type != types.FieldPassword {
			continue
		}
		if s, ok := config.Value(out, r.Name, r.Subname); ok {
			if str, isStr := s.(string); isStr && str != "" {
				config.SetValue(out, r.Name, r.Subname, map[string]any{VaultKey: str})
			}
		}
	}
	for _, g := range spec.Activatable() {
		if !spec.GroupActive(task.Attr, g.Name) {
			out[g.Name] = nil
		}
	}
	return out, nil
}

func (p *Planner) adcmConfig(tx *storage.Tx) (map[string]any, error) {
	objs, err := storage.ListObjects(tx, types.ObjectADCM, nil)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return map[string]any{}, nil
	}
	return p.objectConfig(tx, objs[0])
}

func objectVars(obj *types.Object, proto *types.Prototype, cfg map[string]any) map[string]any {
	vars := map[string]any{
		"id":           obj.ID,
		"name":         obj.Name,
		"state":        obj.State,
		"multi_state":  multiState(obj),
		"config":       cfg,
		"version":      proto.Version,
		"display_name": proto.DisplayName,
	}
	if obj.BeforeUpgrade != nil {
		vars["before_upgrade"] = map[string]any{"state": obj.BeforeUpgrade.State, "prototype_id": obj.BeforeUpgrade.PrototypeID}
	}
	return vars
}

func multiState(obj *types.Object) []string {
	if obj.MultiState == nil {
		return []string{}
	}
	return obj.MultiState
}

// clusterVars renders the cluster and every service and component of it
func (p *Planner) clusterVars(tx *storage.Tx, cluster *types.Object) (map[string]any, error) {
	proto, err := storage.PrototypeOf(tx, cluster)
	if err != nil {
		return nil, err
	}
	cfg, err := p.objectConfig(tx, cluster)
	if err != nil {
		return nil, err
	}
	cv := objectVars(cluster, proto, cfg)
	cv["edition"] = proto.Edition
	imports, err := p.imports(tx, cluster)
	if err != nil {
		return nil, err
	}
	cv["imports"] = imports

	services := map[string]any{}
	svcs, err := storage.Services(tx, cluster.ID)
	if err != nil {
		return nil, err
	}
	for _, s := range svcs {
		sp, err := storage.PrototypeOf(tx, s)
		if err != nil {
			return nil, err
		}
		scfg, err := p.objectConfig(tx, s)
		if err != nil {
			return nil, err
		}
		sv := objectVars(s, sp, scfg)
		comps, err := storage.Components(tx, s.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range comps {
			cp, err := storage.PrototypeOf(tx, c)
			if err != nil {
				return nil, err
			}
			ccfg, err := p.objectConfig(tx, c)
			if err != nil {
				return nil, err
			}
			compVars := objectVars(c, cp, ccfg)
			compVars["component_id"] = c.ID
			sv[c.Name] = compVars
		}
		services[s.Name] = sv
	}
	return map[string]any{"cluster": cv, "services": services}, nil
}

// imports renders the config groups a cluster imports, by exporter name.
// Unbound imports fall back to the cluster's own default groups.
func (p *Planner) imports(tx *storage.Tx, cluster *types.Object) (map[string]any, error) {
	out := map[string]any{}
	defs, err := storage.Imports.List(tx, func(i *types.PrototypeImport) bool { return i.PrototypeID == cluster.PrototypeID })
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return out, nil
	}
	binds, err := storage.ImporterBinds(tx, cluster.ID, 0)
	if err != nil {
		return nil, err
	}
	own, err := p.objectConfig(tx, cluster)
	if err != nil {
		return nil, err
	}
	for _, imp := range defs {
		var values []any
		for _, b := range binds {
			src, err := storage.BindSource(tx, b)
			if err != nil {
				if errcode.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			sp, err := storage.PrototypeOf(tx, src)
			if err != nil {
				return nil, err
			}
			if sp.Name != imp.Name {
				continue
			}
			exports, err := storage.Exports.List(tx, func(x *types.PrototypeExport) bool { return x.PrototypeID == sp.ID })
			if err != nil {
				return nil, err
			}
			scfg, err := p.objectConfig(tx, src)
			if err != nil {
				return nil, err
			}
			groups := map[string]any{}
			for _, x := range exports {
				groups[x.Name] = scfg[x.Name]
			}
			values = append(values, groups)
		}
		switch {
		case len(values) == 0 && len(imp.DefaultGroups) > 0:
			groups := map[string]any{}
			for _, g := range imp.DefaultGroups {
				groups[g] = own[g]
			}
			out[imp.Name] = groups
		case len(values) == 0:
		case imp.Multibind:
			out[imp.Name] = values
		default:
			out[imp.Name] = values[0]
		}
	}
	return out, nil
}

// providerVars renders a provider
func (p *Planner) providerVars(tx *storage.Tx, provider *types.Object) (map[string]any, error) {
	proto, err := storage.PrototypeOf(tx, provider)
	if err != nil {
		return nil, err
	}
	cfg, err := p.objectConfig(tx, provider)
	if err != nil {
		return nil, err
	}
	return map[string]any{"provider": objectVars(provider, proto, cfg)}, nil
}

// hostVars renders a host: its own config at the top level plus the
// effective config of every cluster, service and component group config
// it belongs to
func (p *Planner) hostVars(tx *storage.Tx, host *types.Object) (map[string]any, error) {
	vars, err := p.objectConfig(tx, host)
	if err != nil {
		return nil, err
	}
	vars["adcm_hostid"] = host.ID
	vars["state"] = host.State
	vars["multi_state"] = multiState(host)
	if host.ClusterID == 0 {
		return vars, nil
	}

	groups, err := storage.GroupConfigs.List(tx, func(g *types.GroupConfig) bool { return g.HasHost(host.ID) })
	if err != nil {
		return nil, err
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	services := map[string]any{}
	for _, g := range groups {
		owner, err := storage.GetObject(tx, g.Owner)
		if err != nil {
			return nil, err
		}
		cfg, err := p.groupConfig(tx, g, owner)
		if err != nil {
			return nil, err
		}
		switch owner.Type {
		case types.ObjectCluster:
			vars["cluster"] = map[string]any{"config": cfg}
		case types.ObjectService:
			sv := subMap(services, owner.Name)
			sv["config"] = cfg
		case types.ObjectComponent:
			svc, err := storage.GetTyped(tx, types.ObjectService, owner.ServiceID)
			if err != nil {
				return nil, err
			}
			sv := subMap(services, svc.Name)
			sv[owner.Name] = map[string]any{"config": cfg}
		}
	}
	if len(services) > 0 {
		vars["services"] = services
	}
	return vars, nil
}

func subMap(m map[string]any, key string) map[string]any {
	if sub, ok := m[key].(map[string]any); ok {
		return sub
	}
	sub := map[string]any{}
	m[key] = sub
	return sub
}
