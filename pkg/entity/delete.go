package entity

import (
	"slices"

	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/topology"
	"github.com/cuemby/adcm/pkg/types"
)

// DeleteService removes a service and its components. Without force the
// service must not be placed on hosts, exported through a bind, required
// by its bundle or locked. With force the placements and exporting binds
// are torn down first.
func (e *Engine) DeleteService(tx *storage.Tx, service *types.Object, force bool) error {
	if service.Type != types.ObjectService {
		return errcode.New(errcode.ObjTypeError, "%s is not a service", service)
	}
	cluster, err := storage.GetTyped(tx, types.ObjectCluster, service.ClusterID)
	if err != nil {
		return err
	}
	placed, err := storage.HostComponents.List(tx, func(hc *types.HostComponent) bool { return hc.ServiceID == service.ID })
	if err != nil {
		return err
	}
	exports, err := storage.Binds.List(tx, func(b *types.ClusterBind) bool { return b.SourceServiceID == service.ID })
	if err != nil {
		return err
	}

	if !force {
		if err := checkUnlocked(tx, service); err != nil {
			return err
		}
		if len(placed) > 0 {
			return errcode.New(errcode.ServiceConflict, "service %q is placed on hosts", service.Name)
		}
		if len(exports) > 0 {
			return errcode.New(errcode.ServiceConflict, "service %q is exported to %d binds", service.Name, len(exports))
		}
		proto, err := storage.PrototypeOf(tx, service)
		if err != nil {
			return err
		}
		if proto.Required {
			return errcode.New(errcode.ServiceConflict, "service %q is required", service.Name)
		}
	}

	if len(placed) > 0 {
		current, err := topology.Current(tx, cluster.ID)
		if err != nil {
			return err
		}
		rest := slices.DeleteFunc(current, func(hc types.HCEntry) bool { return hc.ServiceID == service.ID })
		if _, err := e.topo.Apply(tx, cluster, rest); err != nil {
			return err
		}
	}
	importers, err := e.dropBinds(tx, exports)
	if err != nil {
		return err
	}
	if err := e.deleteService(tx, cluster, service); err != nil {
		return err
	}
	if err := e.concerns.RefreshTree(tx, cluster.ID); err != nil {
		return err
	}
	if err := e.refreshExisting(tx, importers); err != nil {
		return err
	}
	e.logger.Info().Int64("cluster_id", cluster.ID).Str("service", service.Name).Bool("force", force).Msg("service deleted")
	return nil
}

// deleteService removes the records of a service and its components;
// placements must be gone already
func (e *Engine) deleteService(tx *storage.Tx, cluster, service *types.Object) error {
	components, err := storage.Components(tx, service.ID)
	if err != nil {
		return err
	}
	for _, c := range components {
		if err := e.deleteRecord(tx, c); err != nil {
			return err
		}
	}
	if _, err := storage.Binds.DeleteWhere(tx, func(b *types.ClusterBind) bool { return b.ServiceID == service.ID }); err != nil {
		return err
	}
	if err := e.deleteRecord(tx, service); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventRemove, service.Ref(), parentDetails(cluster)))
	return nil
}

// DeleteCluster removes a cluster with its services, components,
// placements and binds. Member hosts are freed.
func (e *Engine) DeleteCluster(tx *storage.Tx, cluster *types.Object) error {
	if cluster.Type != types.ObjectCluster {
		return errcode.New(errcode.ObjTypeError, "%s is not a cluster", cluster)
	}
	if err := checkUnlocked(tx, cluster); err != nil {
		return err
	}
	if _, err := storage.HostComponents.DeleteWhere(tx, func(hc *types.HostComponent) bool { return hc.ClusterID == cluster.ID }); err != nil {
		return err
	}

	services, err := storage.Services(tx, cluster.ID)
	if err != nil {
		return err
	}
	exports, err := storage.Binds.List(tx, func(b *types.ClusterBind) bool {
		return b.SourceClusterID == cluster.ID && b.ClusterID != cluster.ID
	})
	if err != nil {
		return err
	}
	importers, err := e.dropBinds(tx, exports)
	if err != nil {
		return err
	}
	if _, err := storage.Binds.DeleteWhere(tx, func(b *types.ClusterBind) bool { return b.ClusterID == cluster.ID }); err != nil {
		return err
	}
	for _, s := range services {
		if err := e.deleteService(tx, cluster, s); err != nil {
			return err
		}
	}

	hosts, err := storage.ClusterHosts(tx, cluster.ID)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		h.ClusterID = 0
		if err := storage.PutObject(tx, h); err != nil {
			return err
		}
		tx.Emit(types.NewEvent(types.EventRemove, h.Ref(), parentDetails(cluster)))
	}
	if err := e.deleteRecord(tx, cluster); err != nil {
		return err
	}

	for _, h := range hosts {
		importers = append(importers, h.Ref())
	}
	if err := e.refreshExisting(tx, importers); err != nil {
		return err
	}
	e.logger.Info().Int64("cluster_id", cluster.ID).Str("name", cluster.Name).Int("hosts_freed", len(hosts)).Msg("cluster deleted")
	return nil
}

// DeleteHostProvider removes a provider that owns no hosts
func (e *Engine) DeleteHostProvider(tx *storage.Tx, provider *types.Object) error {
	if provider.Type != types.ObjectProvider {
		return errcode.New(errcode.ObjTypeError, "%s is not a provider", provider)
	}
	hosts, err := storage.ProviderHosts(tx, provider.ID)
	if err != nil {
		return err
	}
	if len(hosts) > 0 {
		return errcode.New(errcode.ProviderConflict, "there is host %q of provider %q", hosts[0].Name, provider.Name)
	}
	if err := checkUnlocked(tx, provider); err != nil {
		return err
	}
	return e.deleteRecord(tx, provider)
}

// DeleteHost removes a host that is not a cluster member
func (e *Engine) DeleteHost(tx *storage.Tx, host *types.Object) error {
	if host.Type != types.ObjectHost {
		return errcode.New(errcode.ObjTypeError, "%s is not a host", host)
	}
	if host.ClusterID != 0 {
		return errcode.New(errcode.HostConflict, "host %q belongs to cluster #%d", host.Name, host.ClusterID)
	}
	if err := checkUnlocked(tx, host); err != nil {
		return err
	}
	if err := e.deleteRecord(tx, host); err != nil {
		return err
	}
	return e.concerns.Refresh(tx, types.Ref(types.ObjectProvider, host.ProviderID))
}

// DeleteComponent removes a component together with its placements
func (e *Engine) DeleteComponent(tx *storage.Tx, component *types.Object) error {
	if component.Type != types.ObjectComponent {
		return errcode.New(errcode.ObjTypeError, "%s is not a component", component)
	}
	cluster, err := storage.GetTyped(tx, types.ObjectCluster, component.ClusterID)
	if err != nil {
		return err
	}
	current, err := topology.Current(tx, cluster.ID)
	if err != nil {
		return err
	}
	rest := slices.DeleteFunc(slices.Clone(current), func(hc types.HCEntry) bool { return hc.ComponentID == component.ID })
	if len(rest) != len(current) {
		if _, err := e.topo.Apply(tx, cluster, rest); err != nil {
			return err
		}
	}
	if err := e.deleteRecord(tx, component); err != nil {
		return err
	}
	e.logger.Info().Int64("cluster_id", cluster.ID).Str("component", component.Name).Msg("component deleted")
	return nil
}

// deleteRecord removes an entity with its group configs, config chain and
// concerns, and emits delete
func (e *Engine) deleteRecord(tx *storage.Tx, obj *types.Object) error {
	if err := e.topo.DeleteGroupConfigs(tx, obj.Ref()); err != nil {
		return err
	}
	if err := e.configs.Drop(tx, obj.ConfigID); err != nil {
		return err
	}
	if err := e.concerns.Forget(tx, obj.Ref()); err != nil {
		return err
	}
	if err := storage.DeleteObject(tx, obj.Ref()); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventDelete, obj.Ref(), objectDetails(obj)))
	return nil
}

// dropBinds deletes binds and returns their importers
func (e *Engine) dropBinds(tx *storage.Tx, binds []*types.ClusterBind) ([]types.ObjectRef, error) {
	var importers []types.ObjectRef
	for _, b := range binds {
		if err := storage.Binds.Delete(tx, b.ID); err != nil {
			return nil, err
		}
		ref := types.Ref(types.ObjectCluster, b.ClusterID)
		if b.ServiceID != 0 {
			ref = types.Ref(types.ObjectService, b.ServiceID)
		}
		tx.Emit(types.NewEvent(types.EventRemove, ref, types.EventDetails{Type: "bind", ID: itoa(b.ID)}))
		importers = append(importers, ref)
	}
	return importers, nil
}

// refreshExisting refreshes the concerns of refs that still exist
func (e *Engine) refreshExisting(tx *storage.Tx, refs []types.ObjectRef) error {
	seen := map[types.ObjectRef]bool{}
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		if _, err := storage.GetObject(tx, ref); err != nil {
			if errcode.IsNotFound(err) {
				continue
			}
			return err
		}
		if err := e.concerns.Refresh(tx, ref); err != nil {
			return err
		}
	}
	return nil
}

func checkUnlocked(tx *storage.Tx, obj *types.Object) error {
	locked, err := concern.Locked(tx, obj.Ref())
	if err != nil {
		return err
	}
	if locked {
		return errcode.New(errcode.LockError, "%s is locked", obj)
	}
	return nil
}
