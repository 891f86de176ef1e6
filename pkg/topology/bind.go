package topology

import (
	"fmt"

	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// ExportRef points at an exporting cluster or one of its services
type ExportRef struct {
	ClusterID int64 `json:"cluster_id"`
	ServiceID int64 `json:"service_id,omitempty"`
}

// BindRequest binds one import of the target to an exporter
type BindRequest struct {
	ImportID int64     `json:"import_id"`
	ExportID ExportRef `json:"export_id"`
}

type bindKey struct {
	importID int64
	source   ExportRef
}

// MultiBind replaces the binds of a cluster, or of one of its services
// when service is not nil, with binds
func (e *Engine) MultiBind(tx *storage.Tx, cluster, service *types.Object, binds []BindRequest) ([]*types.ClusterBind, error) {
	importer := cluster
	serviceID := int64(0)
	if service != nil {
		if service.ClusterID != cluster.ID {
			return nil, errcode.New(errcode.ServiceNotFound, "service %d is not in cluster %q", service.ID, cluster.Name)
		}
		importer, serviceID = service, service.ID
	}

	wanted := map[bindKey]*types.PrototypeImport{}
	perImport := map[int64]int{}
	for _, req := range binds {
		imp, src, err := e.checkBind(tx, importer, cluster, req)
		if err != nil {
			return nil, err
		}
		key := bindKey{importID: imp.ID, source: ExportRef{ClusterID: src.clusterID(), ServiceID: src.serviceID()}}
		if _, dup := wanted[key]; dup {
			return nil, errcode.New(errcode.BindError, "bind of import %q to %s is listed twice", imp.Name, src.obj)
		}
		wanted[key] = imp
		perImport[imp.ID]++
		if !imp.Multibind && perImport[imp.ID] > 1 {
			return nil, errcode.New(errcode.BindError, "import %q of %s does not allow multiple binds", imp.Name, importer)
		}
	}

	existing, err := storage.ImporterBinds(tx, cluster.ID, serviceID)
	if err != nil {
		return nil, err
	}
	have := map[bindKey]*types.ClusterBind{}
	for _, b := range existing {
		imp, err := e.importOf(tx, importer, b)
		if err != nil {
			return nil, err
		}
		have[bindKey{importID: imp.ID, source: ExportRef{ClusterID: b.SourceClusterID, ServiceID: b.SourceServiceID}}] = b
	}

	for key, b := range have {
		if _, keep := wanted[key]; keep {
			continue
		}
		imp, err := storage.Imports.Get(tx, key.importID)
		if err != nil {
			return nil, err
		}
		if err := checkImportDefault(tx, importer, imp); err != nil {
			return nil, err
		}
		if err := storage.Binds.Delete(tx, b.ID); err != nil {
			return nil, err
		}
		tx.Emit(types.NewEvent(types.EventRemove, importer.Ref(), bindDetails(b)))
	}
	for key := range wanted {
		if _, ok := have[key]; ok {
			continue
		}
		b := &types.ClusterBind{
			ClusterID:       cluster.ID,
			ServiceID:       serviceID,
			SourceClusterID: key.source.ClusterID,
			SourceServiceID: key.source.ServiceID,
		}
		if err := storage.Binds.Insert(tx, b); err != nil {
			return nil, err
		}
		tx.Emit(types.NewEvent(types.EventAdd, importer.Ref(), bindDetails(b)))
	}

	if err := e.concerns.Refresh(tx, importer.Ref()); err != nil {
		return nil, err
	}
	if service != nil {
		if err := e.concerns.Refresh(tx, cluster.Ref()); err != nil {
			return nil, err
		}
	}
	return storage.ImporterBinds(tx, cluster.ID, serviceID)
}

// Unbind removes one bind
func (e *Engine) Unbind(tx *storage.Tx, bindID int64) error {
	b, err := storage.Binds.Get(tx, bindID)
	if err != nil {
		return err
	}
	importer, err := bindImporter(tx, b)
	if err != nil {
		return err
	}
	imp, err := e.importOf(tx, importer, b)
	if err != nil {
		return err
	}
	if err := checkImportDefault(tx, importer, imp); err != nil {
		return err
	}
	if err := storage.Binds.Delete(tx, b.ID); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventRemove, importer.Ref(), bindDetails(b)))
	if err := e.concerns.Refresh(tx, importer.Ref()); err != nil {
		return err
	}
	if importer.Type == types.ObjectService {
		return e.concerns.Refresh(tx, types.Ref(types.ObjectCluster, importer.ClusterID))
	}
	return nil
}

type source struct {
	obj     *types.Object
	cluster *types.Object
}

func (s source) clusterID() int64 { return s.cluster.ID }

func (s source) serviceID() int64 {
	if s.obj.Type == types.ObjectService {
		return s.obj.ID
	}
	return 0
}

func (e *Engine) checkBind(tx *storage.Tx, importer, cluster *types.Object, req BindRequest) (*types.PrototypeImport, source, error) {
	imp, err := storage.Imports.Get(tx, req.ImportID)
	if err != nil {
		return nil, source{}, errcode.New(errcode.BindError, "import %d not found", req.ImportID)
	}
	if imp.PrototypeID != importer.PrototypeID {
		return nil, source{}, errcode.New(errcode.BindError, "import %q does not belong to %s", imp.Name, importer)
	}

	if req.ExportID.ClusterID == cluster.ID {
		return nil, source{}, errcode.New(errcode.BindError, "cluster %q can't bind to itself", cluster.Name)
	}
	srcCluster, err := storage.GetTyped(tx, types.ObjectCluster, req.ExportID.ClusterID)
	if err != nil {
		return nil, source{}, err
	}
	src := source{obj: srcCluster, cluster: srcCluster}
	if req.ExportID.ServiceID != 0 {
		svc, err := storage.GetTyped(tx, types.ObjectService, req.ExportID.ServiceID)
		if err != nil {
			return nil, source{}, err
		}
		if svc.ClusterID != srcCluster.ID {
			return nil, source{}, errcode.New(errcode.BindError, "service %q is not in cluster %q", svc.Name, srcCluster.Name)
		}
		src.obj = svc
	}

	proto, err := storage.PrototypeOf(tx, src.obj)
	if err != nil {
		return nil, source{}, err
	}
	if proto.Name != imp.Name {
		return nil, source{}, errcode.New(errcode.BindError, "%s does not export %q", src.obj, imp.Name)
	}
	exports, err := storage.Exports.List(tx, func(x *types.PrototypeExport) bool { return x.PrototypeID == proto.ID })
	if err != nil {
		return nil, source{}, err
	}
	if len(exports) == 0 {
		return nil, source{}, errcode.New(errcode.BindError, "%s has no exports", src.obj)
	}
	if !config.InRange(proto.Version, imp.Versions) {
		return nil, source{}, errcode.New(errcode.BindError, "version %s of %s is outside the range of import %q", proto.Version, src.obj, imp.Name)
	}
	return imp, src, nil
}

// importOf finds the import of importer that b satisfies
func (e *Engine) importOf(tx *storage.Tx, importer *types.Object, b *types.ClusterBind) (*types.PrototypeImport, error) {
	src, err := storage.BindSource(tx, b)
	if err != nil {
		return nil, err
	}
	proto, err := storage.PrototypeOf(tx, src)
	if err != nil {
		return nil, err
	}
	imp, err := storage.Imports.Find(tx, func(i *types.PrototypeImport) bool {
		return i.PrototypeID == importer.PrototypeID && i.Name == proto.Name
	})
	if err != nil {
		return nil, errcode.New(errcode.BindError, "%s has no import %q", importer, proto.Name)
	}
	return imp, nil
}

func bindImporter(tx *storage.Tx, b *types.ClusterBind) (*types.Object, error) {
	if b.ServiceID != 0 {
		return storage.GetTyped(tx, types.ObjectService, b.ServiceID)
	}
	return storage.GetTyped(tx, types.ObjectCluster, b.ClusterID)
}

// checkImportDefault refuses to drop a bind while one of the import's
// default groups is still active in the importer's config
func checkImportDefault(tx *storage.Tx, importer *types.Object, imp *types.PrototypeImport) error {
	if len(imp.DefaultGroups) == 0 || importer.ConfigID == 0 {
		return nil
	}
	_, cl, err := storage.CurrentConfig(tx, importer.ConfigID)
	if err != nil {
		return err
	}
	for _, g := range imp.DefaultGroups {
		flags, ok := cl.Attr[g].(map[string]any)
		if !ok {
			continue
		}
		if active, _ := flags["active"].(bool); active {
			return errcode.New(errcode.BindError, "default import %q of %s is still active", g, importer)
		}
	}
	return nil
}

func bindDetails(b *types.ClusterBind) types.EventDetails {
	if b.SourceServiceID != 0 {
		return types.EventDetails{Type: "bind", Value: fmt.Sprintf("service:%d", b.SourceServiceID), ID: fmt.Sprintf("%d", b.ID)}
	}
	return types.EventDetails{Type: "bind", Value: fmt.Sprintf("cluster:%d", b.SourceClusterID), ID: fmt.Sprintf("%d", b.ID)}
}

// ImportView describes one import of a cluster or service with its
// candidate exporters
type ImportView struct {
	ImportID  int64
	Name      string
	Required  bool
	Multibind bool
	Exports   []ExportView
}

// ExportView is one exporter an import can bind to
type ExportView struct {
	ExportRef
	Name    string
	Version string
	BindID  int64 // non-zero when bound
}

// Imports lists the imports of a cluster, or of service when not nil,
// with the exporters each could bind to
func (e *Engine) Imports(tx *storage.Tx, cluster, service *types.Object) ([]ImportView, error) {
	importer, serviceID := cluster, int64(0)
	if service != nil {
		importer, serviceID = service, service.ID
	}
	imports, err := storage.Imports.List(tx, func(i *types.PrototypeImport) bool { return i.PrototypeID == importer.PrototypeID })
	if err != nil {
		return nil, err
	}
	binds, err := storage.ImporterBinds(tx, cluster.ID, serviceID)
	if err != nil {
		return nil, err
	}

	views := make([]ImportView, 0, len(imports))
	for _, imp := range imports {
		view := ImportView{ImportID: imp.ID, Name: imp.Name, Required: imp.Required, Multibind: imp.Multibind}
		protos, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool {
			return p.Name == imp.Name && (p.Type == types.ObjectCluster || p.Type == types.ObjectService) && config.InRange(p.Version, imp.Versions)
		})
		if err != nil {
			return nil, err
		}
		for _, p := range protos {
			objs, err := storage.ListObjects(tx, p.Type, func(o *types.Object) bool { return o.PrototypeID == p.ID })
			if err != nil {
				return nil, err
			}
			for _, o := range objs {
				if o.ID == cluster.ID && o.Type == types.ObjectCluster || o.ClusterID == cluster.ID && o.Type == types.ObjectService {
					continue
				}
				ev := ExportView{Name: o.Name, Version: p.Version}
				if o.Type == types.ObjectService {
					ev.ClusterID, ev.ServiceID = o.ClusterID, o.ID
				} else {
					ev.ClusterID = o.ID
				}
				for _, b := range binds {
					if b.SourceClusterID == ev.ClusterID && b.SourceServiceID == ev.ServiceID {
						ev.BindID = b.ID
					}
				}
				view.Exports = append(view.Exports, ev)
			}
		}
		views = append(views, view)
	}
	return views, nil
}
