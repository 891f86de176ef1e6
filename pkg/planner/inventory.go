package planner

import (
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// Well-known inventory group names
const (
	GroupCluster  = "CLUSTER"
	GroupProvider = "PROVIDER"
	GroupHost     = "HOST"
	GroupLocal    = "127.0.0.1"
)

// Inventory is inventory.json: every group is a child of "all", the target
// and its parents are rendered into all.vars
type Inventory struct {
	All InventoryAll `json:"all"`
}

// InventoryAll is the root group
type InventoryAll struct {
	Children map[string]*HostGroup `json:"children"`
	Vars     map[string]any        `json:"vars,omitempty"`
}

// HostGroup maps host names to host vars
type HostGroup struct {
	Hosts map[string]map[string]any `json:"hosts"`
}

// ComponentGroup names the group of hosts a component is placed on
func ComponentGroup(service, component string) string {
	return service + "." + component
}

func (inv *Inventory) add(group string, host *types.Object, vars map[string]any) {
	g, ok := inv.All.Children[group]
	if !ok {
		g = &HostGroup{Hosts: map[string]map[string]any{}}
		inv.All.Children[group] = g
	}
	g.Hosts[host.FQDN()] = vars
}

func (p *Planner) inventory(tx *storage.Tx, task *types.TaskLog, obj *types.Object) (*Inventory, error) {
	inv := &Inventory{All: InventoryAll{Children: map[string]*HostGroup{}, Vars: map[string]any{}}}
	hostVars := map[int64]map[string]any{}
	varsOf := func(host *types.Object) (map[string]any, error) {
		if v, ok := hostVars[host.ID]; ok {
			return v, nil
		}
		v, err := p.hostVars(tx, host)
		if err != nil {
			return nil, err
		}
		hostVars[host.ID] = v
		return v, nil
	}

	clusterID := obj.ClusterID
	if obj.Type == types.ObjectCluster {
		clusterID = obj.ID
	}

	switch obj.Type {
	case types.ObjectADCM:
		inv.All.Children[GroupLocal] = &HostGroup{Hosts: map[string]map[string]any{
			"localhost": {"ansible_connection": "local"},
		}}
		return inv, nil
	case types.ObjectProvider:
		vars, err := p.providerVars(tx, obj)
		if err != nil {
			return nil, err
		}
		inv.All.Vars = vars
		hosts, err := storage.ProviderHosts(tx, obj.ID)
		if err != nil {
			return nil, err
		}
		for _, h := range hosts {
			v, err := varsOf(h)
			if err != nil {
				return nil, err
			}
			inv.add(GroupProvider, h, v)
		}
		return inv, nil
	case types.ObjectHost:
		provider, err := storage.GetTyped(tx, types.ObjectProvider, obj.ProviderID)
		if err != nil {
			return nil, err
		}
		vars, err := p.providerVars(tx, provider)
		if err != nil {
			return nil, err
		}
		inv.All.Vars = vars
		v, err := varsOf(obj)
		if err != nil {
			return nil, err
		}
		inv.add(GroupHost, obj, v)
		if clusterID == 0 {
			return inv, nil
		}
	}

	cluster, err := storage.GetTyped(tx, types.ObjectCluster, clusterID)
	if err != nil {
		return nil, err
	}
	cvars, err := p.clusterVars(tx, cluster)
	if err != nil {
		return nil, err
	}
	for k, v := range cvars {
		inv.All.Vars[k] = v
	}
	if obj.Type == types.ObjectHost {
		return inv, nil
	}

	hosts, err := storage.ClusterHosts(tx, cluster.ID)
	if err != nil {
		return nil, err
	}
	byID := map[int64]*types.Object{}
	for _, h := range hosts {
		byID[h.ID] = h
		v, err := varsOf(h)
		if err != nil {
			return nil, err
		}
		inv.add(GroupCluster, h, v)
	}

	names := map[types.HCKey]string{}
	groupName := func(e types.HCEntry) (string, error) {
		key := types.HCKey{ServiceID: e.ServiceID, ComponentID: e.ComponentID}
		if n, ok := names[key]; ok {
			return n, nil
		}
		svc, err := storage.GetTyped(tx, types.ObjectService, e.ServiceID)
		if err != nil {
			return "", err
		}
		comp, err := storage.GetTyped(tx, types.ObjectComponent, e.ComponentID)
		if err != nil {
			return "", err
		}
		names[key] = ComponentGroup(svc.Name, comp.Name)
		return names[key], nil
	}
	hostOf := func(id int64) (*types.Object, error) {
		if h, ok := byID[id]; ok {
			return h, nil
		}
		h, err := storage.GetTyped(tx, types.ObjectHost, id)
		if err != nil {
			return nil, err
		}
		byID[id] = h
		return h, nil
	}

	rows, err := storage.ClusterHC(tx, cluster.ID)
	if err != nil {
		return nil, err
	}
	for _, hc := range rows {
		e := types.HCEntry{HostID: hc.HostID, ServiceID: hc.ServiceID, ComponentID: hc.ComponentID}
		name, err := groupName(e)
		if err != nil {
			return nil, err
		}
		h, err := hostOf(hc.HostID)
		if err != nil {
			return nil, err
		}
		v, err := varsOf(h)
		if err != nil {
			return nil, err
		}
		inv.add(name, h, v)
		svc, err := storage.GetTyped(tx, types.ObjectService, hc.ServiceID)
		if err != nil {
			return nil, err
		}
		inv.add(svc.Name, h, v)
	}

	if !task.AppliedHC {
		return inv, nil
	}
	oldKeys, newKeys := keySet(task.Old), keySet(task.New)
	for _, delta := range []struct {
		entries []types.HCEntry
		other   map[types.HCKey]bool
		suffix  string
	}{
		{task.New, oldKeys, ".add"},
		{task.Old, newKeys, ".remove"},
	} {
		for _, e := range delta.entries {
			if delta.other[e.Key()] {
				continue
			}
			name, err := groupName(e)
			if err != nil {
				return nil, err
			}
			h, err := hostOf(e.HostID)
			if err != nil {
				return nil, err
			}
			v, err := varsOf(h)
			if err != nil {
				return nil, err
			}
			inv.add(name+delta.suffix, h, v)
		}
	}
	return inv, nil
}
