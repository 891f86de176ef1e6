package storage

import (
	"fmt"

	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/types"
)

func objectID(v *types.Object) *int64 { return &v.ID }

// Objects holds one table per entity kind; ids are unique per kind
var Objects = map[types.ObjectType]*Table[types.Object]{
	types.ObjectADCM:      newTable("adcm", "adcm", errcode.ObjectNotFound, objectID),
	types.ObjectCluster:   newTable("clusters", "cluster", errcode.ClusterNotFound, objectID),
	types.ObjectService:   newTable("services", "service", errcode.ServiceNotFound, objectID),
	types.ObjectComponent: newTable("components", "component", errcode.ComponentNotFound, objectID),
	types.ObjectProvider:  newTable("providers", "provider", errcode.ProviderNotFound, objectID),
	types.ObjectHost:      newTable("hosts", "host", errcode.HostNotFound, objectID),
}

func objects(kind types.ObjectType) (*Table[types.Object], error) {
	t, ok := Objects[kind]
	if !ok {
		return nil, errcode.New(errcode.ObjTypeError, "unknown object type %q", kind)
	}
	return t, nil
}

// GetObject resolves a polymorphic reference
func GetObject(tx *Tx, ref types.ObjectRef) (*types.Object, error) {
	t, err := objects(ref.Type)
	if err != nil {
		return nil, err
	}
	return t.Get(tx, ref.ID)
}

// GetTyped resolves a reference and checks it points at the given kind
func GetTyped(tx *Tx, kind types.ObjectType, id int64) (*types.Object, error) {
	return GetObject(tx, types.Ref(kind, id))
}

// InsertObject stores a new entity, assigning its id
func InsertObject(tx *Tx, obj *types.Object) error {
	t, err := objects(obj.Type)
	if err != nil {
		return err
	}
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = tx.Now()
	}
	return t.Insert(tx, obj)
}

// PutObject saves an existing entity
func PutObject(tx *Tx, obj *types.Object) error {
	t, err := objects(obj.Type)
	if err != nil {
		return err
	}
	return t.Put(tx, obj)
}

// DeleteObject removes an entity record
func DeleteObject(tx *Tx, ref types.ObjectRef) error {
	t, err := objects(ref.Type)
	if err != nil {
		return err
	}
	return t.Delete(tx, ref.ID)
}

// ListObjects returns entities of one kind matching filter
func ListObjects(tx *Tx, kind types.ObjectType, filter func(*types.Object) bool) ([]*types.Object, error) {
	t, err := objects(kind)
	if err != nil {
		return nil, err
	}
	return t.List(tx, filter)
}

// Services returns the services of a cluster
func Services(tx *Tx, clusterID int64) ([]*types.Object, error) {
	return ListObjects(tx, types.ObjectService, func(o *types.Object) bool { return o.ClusterID == clusterID })
}

// Components returns the components of a service
func Components(tx *Tx, serviceID int64) ([]*types.Object, error) {
	return ListObjects(tx, types.ObjectComponent, func(o *types.Object) bool { return o.ServiceID == serviceID })
}

// ClusterComponents returns every component of a cluster
func ClusterComponents(tx *Tx, clusterID int64) ([]*types.Object, error) {
	return ListObjects(tx, types.ObjectComponent, func(o *types.Object) bool { return o.ClusterID == clusterID })
}

// ClusterHosts returns the hosts that are members of a cluster
func ClusterHosts(tx *Tx, clusterID int64) ([]*types.Object, error) {
	return ListObjects(tx, types.ObjectHost, func(o *types.Object) bool { return o.ClusterID == clusterID })
}

// ProviderHosts returns the hosts owned by a provider
func ProviderHosts(tx *Tx, providerID int64) ([]*types.Object, error) {
	return ListObjects(tx, types.ObjectHost, func(o *types.Object) bool { return o.ProviderID == providerID })
}

// ClusterHC returns the host-component rows of a cluster
func ClusterHC(tx *Tx, clusterID int64) ([]*types.HostComponent, error) {
	return HostComponents.List(tx, func(hc *types.HostComponent) bool { return hc.ClusterID == clusterID })
}

// PrototypeOf loads the prototype of an entity
func PrototypeOf(tx *Tx, obj *types.Object) (*types.Prototype, error) {
	return Prototypes.Get(tx, obj.PrototypeID)
}

// BundleOf loads the bundle an entity's prototype belongs to
func BundleOf(tx *Tx, obj *types.Object) (*types.Bundle, error) {
	proto, err := PrototypeOf(tx, obj)
	if err != nil {
		return nil, err
	}
	return Bundles.Get(tx, proto.BundleID)
}

// ConfigSpec returns the config rows of a prototype (ActionID == 0)
func ConfigSpec(tx *Tx, prototypeID int64) ([]*types.PrototypeConfig, error) {
	return PrototypeConfigs.List(tx, func(c *types.PrototypeConfig) bool {
		return c.PrototypeID == prototypeID && c.ActionID == 0
	})
}

// ActionConfigSpec returns the config rows of an action
func ActionConfigSpec(tx *Tx, actionID int64) ([]*types.PrototypeConfig, error) {
	return PrototypeConfigs.List(tx, func(c *types.PrototypeConfig) bool { return c.ActionID == actionID })
}

// PrototypeActions returns the actions declared by a prototype
func PrototypeActions(tx *Tx, prototypeID int64) ([]*types.Action, error) {
	return Actions.List(tx, func(a *types.Action) bool { return a.PrototypeID == prototypeID })
}

// ActionByName finds an action of a prototype by name
func ActionByName(tx *Tx, prototypeID int64, name string) (*types.Action, error) {
	a, err := Actions.Find(tx, func(a *types.Action) bool { return a.PrototypeID == prototypeID && a.Name == name })
	if err != nil {
		return nil, errcode.New(errcode.ActionNotFound, "action %q not found on prototype %d", name, prototypeID)
	}
	return a, nil
}

// ActionSteps returns the sub-actions of an action in declared order
func ActionSteps(tx *Tx, actionID int64) ([]*types.SubAction, error) {
	return SubActions.List(tx, func(s *types.SubAction) bool { return s.ActionID == actionID })
}

// TaskJobs returns the jobs of a task in execution order
func TaskJobs(tx *Tx, taskID int64) ([]*types.JobLog, error) {
	return Jobs.List(tx, func(j *types.JobLog) bool { return j.TaskID == taskID })
}

// CurrentConfig loads the current ConfigLog of an ObjectConfig
func CurrentConfig(tx *Tx, objConfID int64) (*types.ObjectConfig, *types.ConfigLog, error) {
	if objConfID == 0 {
		return nil, nil, errcode.New(errcode.ConfigNotFound, "object has no config")
	}
	oc, err := ObjectConfigs.Get(tx, objConfID)
	if err != nil {
		return nil, nil, err
	}
	cl, err := ConfigLogs.Get(tx, oc.Current)
	if err != nil {
		return nil, nil, fmt.Errorf("object config %d: %w", oc.ID, err)
	}
	return oc, cl, nil
}

// ImporterBinds returns the binds of an importer; serviceID 0 selects the
// cluster-level binds
func ImporterBinds(tx *Tx, clusterID, serviceID int64) ([]*types.ClusterBind, error) {
	return Binds.List(tx, func(b *types.ClusterBind) bool {
		return b.ClusterID == clusterID && b.ServiceID == serviceID
	})
}

// BindSource resolves the exporting entity of a bind
func BindSource(tx *Tx, b *types.ClusterBind) (*types.Object, error) {
	if b.SourceServiceID != 0 {
		return GetTyped(tx, types.ObjectService, b.SourceServiceID)
	}
	return GetTyped(tx, types.ObjectCluster, b.SourceClusterID)
}
