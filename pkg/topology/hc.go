package topology

import (
	"fmt"
	"slices"

	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// Engine validates and applies host-component maps, binds and group
// config membership
type Engine struct {
	configs  *config.Engine
	concerns *concern.Engine
	logger   zerolog.Logger
}

// NewEngine creates a topology engine and registers the host-component
// issue check with concerns
func NewEngine(configs *config.Engine, concerns *concern.Engine) *Engine {
	e := &Engine{
		configs:  configs,
		concerns: concerns,
		logger:   log.WithComponent("topology"),
	}
	concerns.Register(types.CauseHostComponent, []types.ObjectType{types.ObjectCluster}, e.hcIssue)
	return e
}

// Placement is a resolved host-component entry
type Placement struct {
	Host      *types.Object
	Service   *types.Object
	Component *types.Object
}

// Entry returns the id form of the placement
func (p Placement) Entry() types.HCEntry {
	return types.HCEntry{HostID: p.Host.ID, ServiceID: p.Service.ID, ComponentID: p.Component.ID}
}

// ParseHC reads a host-component list as decoded from JSON
func ParseHC(raw any) ([]types.HCEntry, error) {
	switch v := raw.(type) {
	case []types.HCEntry:
		return v, nil
	case []any:
		out := make([]types.HCEntry, 0, len(v))
		for i, item := range v {
			m, ok := types.Normalize(item).(map[string]any)
			if !ok {
				return nil, errcode.New(errcode.InvalidInput, "host-component entry %d should be a map", i)
			}
			var e types.HCEntry
			for key, dst := range map[string]*int64{"host_id": &e.HostID, "service_id": &e.ServiceID, "component_id": &e.ComponentID} {
				id, ok := m[key].(int64)
				if !ok {
					return nil, errcode.New(errcode.InvalidInput, "host-component entry %d has no integer %s", i, key)
				}
				*dst = id
			}
			out = append(out, e)
		}
		return out, nil
	}
	return nil, errcode.New(errcode.InvalidInput, "host-component map should be a list, not %T", raw)
}

// Resolve loads the entities of every entry and checks they belong to
// cluster. Duplicate entries are rejected.
func Resolve(tx *storage.Tx, cluster *types.Object, entries []types.HCEntry) ([]Placement, error) {
	seen := make(map[types.HCKey]bool, len(entries))
	for _, e := range entries {
		if seen[e.Key()] {
			return nil, errcode.New(errcode.InvalidInput, "duplicate host-component entry host %d, service %d, component %d", e.HostID, e.ServiceID, e.ComponentID)
		}
		seen[e.Key()] = true
	}

	cache := map[types.ObjectRef]*types.Object{}
	get := func(kind types.ObjectType, id int64) (*types.Object, error) {
		ref := types.Ref(kind, id)
		if o, ok := cache[ref]; ok {
			return o, nil
		}
		o, err := storage.GetObject(tx, ref)
		if err != nil {
			return nil, err
		}
		cache[ref] = o
		return o, nil
	}

	out := make([]Placement, 0, len(entries))
	for _, e := range entries {
		host, err := get(types.ObjectHost, e.HostID)
		if err != nil {
			return nil, err
		}
		if host.ClusterID != cluster.ID {
			return nil, errcode.New(errcode.ForeignHost, "host %q does not belong to cluster %q", host.Name, cluster.Name)
		}
		service, err := get(types.ObjectService, e.ServiceID)
		if err != nil {
			return nil, err
		}
		if service.ClusterID != cluster.ID {
			return nil, errcode.New(errcode.ServiceNotFound, "service %d is not in cluster %q", service.ID, cluster.Name)
		}
		component, err := get(types.ObjectComponent, e.ComponentID)
		if err != nil {
			return nil, err
		}
		if component.ServiceID != service.ID {
			return nil, errcode.New(errcode.ComponentNotFound, "component %q does not belong to service %q", component.Name, service.Name)
		}
		out = append(out, Placement{Host: host, Service: service, Component: component})
	}
	return out, nil
}

// Validate resolves a requested map and checks the component rules:
// constraints for the services it mentions, requires and bound_to for
// the whole cluster
func Validate(tx *storage.Tx, cluster *types.Object, entries []types.HCEntry) ([]Placement, error) {
	placements, err := Resolve(tx, cluster, entries)
	if err != nil {
		return nil, err
	}
	var services []*types.Object
	for _, p := range placements {
		if !slices.ContainsFunc(services, func(s *types.Object) bool { return s.ID == p.Service.ID }) {
			services = append(services, p.Service)
		}
	}
	if v, err := checkRules(tx, cluster, placements, services); err != nil {
		return nil, err
	} else if v != nil {
		return nil, errcode.New(errcode.ComponentConstraintError, "%s", v.msg)
	}
	return placements, nil
}

// SaveHC validates entries and replaces the cluster map with them
func (e *Engine) SaveHC(tx *storage.Tx, cluster *types.Object, entries []types.HCEntry) ([]*types.HostComponent, error) {
	if _, err := Validate(tx, cluster, entries); err != nil {
		return nil, err
	}
	return e.Apply(tx, cluster, entries)
}

// Apply replaces the cluster map without checking component rules. Hosts
// leaving the map are released from the cluster's job locks, hosts joining
// a locked cluster are locked.
func (e *Engine) Apply(tx *storage.Tx, cluster *types.Object, entries []types.HCEntry) ([]*types.HostComponent, error) {
	placements, err := Resolve(tx, cluster, entries)
	if err != nil {
		return nil, err
	}
	old, err := storage.ClusterHC(tx, cluster.ID)
	if err != nil {
		return nil, err
	}

	oldHosts := map[int64]bool{}
	for _, hc := range old {
		oldHosts[hc.HostID] = true
	}
	newHosts := map[int64]bool{}
	for _, p := range placements {
		newHosts[p.Host.ID] = true
	}
	var gone, added []types.ObjectRef
	for id := range oldHosts {
		if !newHosts[id] {
			gone = append(gone, types.Ref(types.ObjectHost, id))
		}
	}
	for id := range newHosts {
		if !oldHosts[id] {
			added = append(added, types.Ref(types.ObjectHost, id))
		}
	}
	if err := concern.Release(tx, cluster.Ref(), gone); err != nil {
		return nil, err
	}
	if err := concern.Extend(tx, cluster.Ref(), added); err != nil {
		return nil, err
	}

	if _, err := storage.HostComponents.DeleteWhere(tx, func(hc *types.HostComponent) bool { return hc.ClusterID == cluster.ID }); err != nil {
		return nil, err
	}
	rows := make([]*types.HostComponent, 0, len(placements))
	for _, p := range placements {
		hc := &types.HostComponent{
			ClusterID:   cluster.ID,
			HostID:      p.Host.ID,
			ServiceID:   p.Service.ID,
			ComponentID: p.Component.ID,
		}
		if err := storage.HostComponents.Insert(tx, hc); err != nil {
			return nil, err
		}
		rows = append(rows, hc)
	}

	if err := PruneGroupHosts(tx, cluster.ID); err != nil {
		return nil, err
	}
	tx.Emit(types.NewEvent(types.EventChangeHostComponentMap, cluster.Ref(), types.EventDetails{
		Type:  string(types.ObjectCluster),
		Value: fmt.Sprintf("%d", len(rows)),
	}))
	if err := e.concerns.RefreshTree(tx, cluster.ID); err != nil {
		return nil, err
	}

	e.logger.Info().
		Int64("cluster_id", cluster.ID).
		Int("rows", len(rows)).
		Int("hosts_added", len(added)).
		Int("hosts_removed", len(gone)).
		Msg("Host-component map saved")
	return rows, nil
}

// Current returns the cluster map as entries
func Current(tx *storage.Tx, clusterID int64) ([]types.HCEntry, error) {
	rows, err := storage.ClusterHC(tx, clusterID)
	if err != nil {
		return nil, err
	}
	out := make([]types.HCEntry, 0, len(rows))
	for _, hc := range rows {
		out = append(out, types.HCEntry{HostID: hc.HostID, ServiceID: hc.ServiceID, ComponentID: hc.ComponentID})
	}
	return out, nil
}
