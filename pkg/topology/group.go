package topology

import (
	"slices"
	"strconv"

	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// CreateGroupConfig adds a group config to a cluster, service or
// component. Its config starts as a copy of the owner's.
func (e *Engine) CreateGroupConfig(tx *storage.Tx, owner *types.Object, name, description string) (*types.GroupConfig, error) {
	switch owner.Type {
	case types.ObjectCluster, types.ObjectService, types.ObjectComponent:
	default:
		return nil, errcode.New(errcode.GroupConfigTypeError, "group config can't be created for %s", owner.Type)
	}
	if owner.ConfigID == 0 {
		return nil, errcode.New(errcode.GroupConfigTypeError, "%s has no config", owner)
	}
	if _, err := storage.GroupConfigs.Find(tx, func(g *types.GroupConfig) bool { return g.Owner == owner.Ref() && g.Name == name }); err == nil {
		return nil, errcode.New(errcode.GroupConfigConflict, "group config %q already exists for %s", name, owner)
	}

	spec, err := config.LoadSpec(tx, owner.PrototypeID)
	if err != nil {
		return nil, err
	}
	proto, err := storage.PrototypeOf(tx, owner)
	if err != nil {
		return nil, err
	}

	group := &types.GroupConfig{Owner: owner.Ref(), Name: name, Description: description}
	if err := storage.GroupConfigs.Insert(tx, group); err != nil {
		return nil, err
	}
	oc, err := e.configs.InitGroup(tx, group, owner, spec, proto)
	if err != nil {
		return nil, err
	}
	group.ConfigID = oc.ID
	if err := storage.GroupConfigs.Put(tx, group); err != nil {
		return nil, err
	}
	tx.Emit(types.NewEvent(types.EventCreate, owner.Ref(), groupDetails(group)))
	return group, nil
}

// DeleteGroupConfig removes a group config with its config chain
func (e *Engine) DeleteGroupConfig(tx *storage.Tx, group *types.GroupConfig) error {
	if err := e.deleteGroup(tx, group); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventDelete, group.Owner, groupDetails(group)))
	return nil
}

// DeleteGroupConfigs removes every group config of owner
func (e *Engine) DeleteGroupConfigs(tx *storage.Tx, owner types.ObjectRef) error {
	groups, err := storage.GroupConfigs.List(tx, func(g *types.GroupConfig) bool { return g.Owner == owner })
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := e.deleteGroup(tx, g); err != nil {
			return err
		}
	}
	return nil
}

// deleteGroup drops the group's config chain with its materialized files
func (e *Engine) deleteGroup(tx *storage.Tx, group *types.GroupConfig) error {
	if err := e.configs.Drop(tx, group.ConfigID); err != nil {
		return err
	}
	return storage.GroupConfigs.Delete(tx, group.ID)
}

// AddGroupHost adds a host to a group config. The host must be in the
// owner's scope and in no other group of the same owner.
func (e *Engine) AddGroupHost(tx *storage.Tx, group *types.GroupConfig, host *types.Object) error {
	if host.Type != types.ObjectHost {
		return errcode.New(errcode.GroupConfigHostError, "%s is not a host", host)
	}
	if group.HasHost(host.ID) {
		return errcode.New(errcode.GroupConfigHostExists, "host %q is already in group config %q", host.Name, group.Name)
	}
	candidates, err := HostCandidates(tx, group.Owner)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(candidates, func(h *types.Object) bool { return h.ID == host.ID }) {
		inScope, err := ownerHosts(tx, group.Owner)
		if err != nil {
			return err
		}
		if slices.Contains(inScope, host.ID) {
			return errcode.New(errcode.GroupConfigHostExists, "host %q is already in another group config of %s", host.Name, group.Owner)
		}
		return errcode.New(errcode.GroupConfigHostError, "host %q is not available for group config %q", host.Name, group.Name)
	}
	group.HostIDs = append(group.HostIDs, host.ID)
	if err := storage.GroupConfigs.Put(tx, group); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventAdd, host.Ref(), groupDetails(group)))
	return nil
}

// RemoveGroupHost removes a host from a group config
func (e *Engine) RemoveGroupHost(tx *storage.Tx, group *types.GroupConfig, host *types.Object) error {
	idx := slices.Index(group.HostIDs, host.ID)
	if idx < 0 {
		return errcode.New(errcode.GroupConfigHostError, "host %q is not in group config %q", host.Name, group.Name)
	}
	group.HostIDs = slices.Delete(group.HostIDs, idx, idx+1)
	if err := storage.GroupConfigs.Put(tx, group); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventRemove, host.Ref(), groupDetails(group)))
	return nil
}

// HostCandidates returns the hosts in owner's scope that are in no group
// config of owner
func HostCandidates(tx *storage.Tx, owner types.ObjectRef) ([]*types.Object, error) {
	ids, err := ownerHosts(tx, owner)
	if err != nil {
		return nil, err
	}
	groups, err := storage.GroupConfigs.List(tx, func(g *types.GroupConfig) bool { return g.Owner == owner })
	if err != nil {
		return nil, err
	}
	var out []*types.Object
	for _, id := range ids {
		if slices.ContainsFunc(groups, func(g *types.GroupConfig) bool { return g.HasHost(id) }) {
			continue
		}
		h, err := storage.GetTyped(tx, types.ObjectHost, id)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// GroupOfHost returns the group config of owner the host belongs to, or nil
func GroupOfHost(tx *storage.Tx, owner types.ObjectRef, hostID int64) (*types.GroupConfig, error) {
	groups, err := storage.GroupConfigs.List(tx, func(g *types.GroupConfig) bool { return g.Owner == owner && g.HasHost(hostID) })
	if err != nil || len(groups) == 0 {
		return nil, err
	}
	return groups[0], nil
}

// ownerHosts returns the ids of the hosts a group of owner may contain: the
// cluster members, or the hosts a service or component is placed on
func ownerHosts(tx *storage.Tx, owner types.ObjectRef) ([]int64, error) {
	var ids []int64
	switch owner.Type {
	case types.ObjectCluster:
		hosts, err := storage.ClusterHosts(tx, owner.ID)
		if err != nil {
			return nil, err
		}
		for _, h := range hosts {
			ids = append(ids, h.ID)
		}
		return ids, nil
	case types.ObjectService, types.ObjectComponent:
		rows, err := storage.HostComponents.List(tx, func(hc *types.HostComponent) bool {
			if owner.Type == types.ObjectService {
				return hc.ServiceID == owner.ID
			}
			return hc.ComponentID == owner.ID
		})
		if err != nil {
			return nil, err
		}
		for _, hc := range rows {
			if !slices.Contains(ids, hc.HostID) {
				ids = append(ids, hc.HostID)
			}
		}
		return ids, nil
	}
	return nil, errcode.New(errcode.GroupConfigTypeError, "%s can't own group configs", owner.Type)
}

// PruneGroupHosts drops hosts that left their owner's scope from the group
// configs of a cluster and of its services and components
func PruneGroupHosts(tx *storage.Tx, clusterID int64) error {
	owners := []types.ObjectRef{types.Ref(types.ObjectCluster, clusterID)}
	services, err := storage.Services(tx, clusterID)
	if err != nil {
		return err
	}
	for _, s := range services {
		owners = append(owners, s.Ref())
	}
	components, err := storage.ClusterComponents(tx, clusterID)
	if err != nil {
		return err
	}
	for _, c := range components {
		owners = append(owners, c.Ref())
	}

	for _, owner := range owners {
		groups, err := storage.GroupConfigs.List(tx, func(g *types.GroupConfig) bool { return g.Owner == owner && len(g.HostIDs) > 0 })
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			continue
		}
		scope, err := ownerHosts(tx, owner)
		if err != nil {
			return err
		}
		for _, g := range groups {
			kept := slices.DeleteFunc(slices.Clone(g.HostIDs), func(id int64) bool { return !slices.Contains(scope, id) })
			if len(kept) == len(g.HostIDs) {
				continue
			}
			g.HostIDs = kept
			if err := storage.GroupConfigs.Put(tx, g); err != nil {
				return err
			}
		}
	}
	return nil
}

func groupDetails(g *types.GroupConfig) types.EventDetails {
	return types.EventDetails{Type: "group-config", Value: g.Name, ID: strconv.FormatInt(g.ID, 10)}
}
