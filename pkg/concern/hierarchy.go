package concern

import (
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// Ancestors returns the entities an issue of obj propagates to. A host
// belongs to its provider and to every component placed on it, and through
// them to their services and cluster.
func Ancestors(tx *storage.Tx, obj *types.Object) ([]types.ObjectRef, error) {
	var refs []types.ObjectRef
	switch obj.Type {
	case types.ObjectService:
		refs = append(refs, types.Ref(types.ObjectCluster, obj.ClusterID))
	case types.ObjectComponent:
		refs = append(refs,
			types.Ref(types.ObjectService, obj.ServiceID),
			types.Ref(types.ObjectCluster, obj.ClusterID))
	case types.ObjectHost:
		refs = append(refs, types.Ref(types.ObjectProvider, obj.ProviderID))
		rows, err := storage.HostComponents.List(tx, func(hc *types.HostComponent) bool { return hc.HostID == obj.ID })
		if err != nil {
			return nil, err
		}
		for _, hc := range rows {
			refs = append(refs,
				types.Ref(types.ObjectComponent, hc.ComponentID),
				types.Ref(types.ObjectService, hc.ServiceID),
				types.Ref(types.ObjectCluster, hc.ClusterID))
		}
	}
	return uniqueRefs(refs), nil
}

// Descendants returns the entities below obj: services and components of a
// cluster, hosts placed on its components, hosts of a provider
func Descendants(tx *storage.Tx, obj *types.Object) ([]types.ObjectRef, error) {
	var refs []types.ObjectRef
	var filter func(*types.HostComponent) bool
	switch obj.Type {
	case types.ObjectCluster:
		services, err := storage.Services(tx, obj.ID)
		if err != nil {
			return nil, err
		}
		for _, s := range services {
			refs = append(refs, s.Ref())
		}
		components, err := storage.ClusterComponents(tx, obj.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range components {
			refs = append(refs, c.Ref())
		}
		filter = func(hc *types.HostComponent) bool { return hc.ClusterID == obj.ID }
	case types.ObjectService:
		components, err := storage.Components(tx, obj.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range components {
			refs = append(refs, c.Ref())
		}
		filter = func(hc *types.HostComponent) bool { return hc.ServiceID == obj.ID }
	case types.ObjectComponent:
		filter = func(hc *types.HostComponent) bool { return hc.ComponentID == obj.ID }
	case types.ObjectProvider:
		hosts, err := storage.ProviderHosts(tx, obj.ID)
		if err != nil {
			return nil, err
		}
		for _, h := range hosts {
			refs = append(refs, h.Ref())
		}
	}
	if filter != nil {
		rows, err := storage.HostComponents.List(tx, filter)
		if err != nil {
			return nil, err
		}
		for _, hc := range rows {
			refs = append(refs, types.Ref(types.ObjectHost, hc.HostID))
		}
	}
	return uniqueRefs(refs), nil
}

// Scope returns obj with its ancestors and descendants, the set a job
// running on obj locks
func Scope(tx *storage.Tx, obj *types.Object) ([]types.ObjectRef, error) {
	up, err := Ancestors(tx, obj)
	if err != nil {
		return nil, err
	}
	down, err := Descendants(tx, obj)
	if err != nil {
		return nil, err
	}
	refs := append([]types.ObjectRef{obj.Ref()}, up...)
	return uniqueRefs(append(refs, down...)), nil
}
