package entity

import (
	"regexp"
	"strconv"

	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/topology"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// MaxFQDNLength bounds host names
const MaxFQDNLength = 256

var fqdnPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Engine creates, deletes and mutates entities. Every method works inside
// the caller's transaction.
type Engine struct {
	configs  *config.Engine
	concerns *concern.Engine
	topo     *topology.Engine
	logger   zerolog.Logger
}

// NewEngine creates an entity engine
func NewEngine(configs *config.Engine, concerns *concern.Engine, topo *topology.Engine) *Engine {
	return &Engine{
		configs:  configs,
		concerns: concerns,
		topo:     topo,
		logger:   log.WithComponent("entity"),
	}
}

// InitADCM creates the root object from the newest adcm prototype, or
// returns the existing one
func (e *Engine) InitADCM(tx *storage.Tx) (*types.Object, error) {
	existing, err := storage.ListObjects(tx, types.ObjectADCM, nil)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}
	protos, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool { return p.Type == types.ObjectADCM })
	if err != nil {
		return nil, err
	}
	if len(protos) == 0 {
		return nil, errcode.New(errcode.PrototypeNotFound, "no adcm prototype loaded")
	}
	proto := protos[0]
	for _, p := range protos[1:] {
		if config.CompareVersions(p.Version, proto.Version) > 0 {
			proto = p
		}
	}
	obj := &types.Object{Type: types.ObjectADCM, PrototypeID: proto.ID, Name: "ADCM"}
	if err := e.create(tx, obj, proto); err != nil {
		return nil, err
	}
	return obj, nil
}

// AddCluster creates a cluster from a cluster prototype
func (e *Engine) AddCluster(tx *storage.Tx, prototypeID int64, name, description string) (*types.Object, error) {
	proto, err := e.prototype(tx, prototypeID, types.ObjectCluster)
	if err != nil {
		return nil, err
	}
	if err := checkLicense(tx, proto); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errcode.New(errcode.WrongName, "cluster name is empty")
	}
	dup, err := storage.ListObjects(tx, types.ObjectCluster, func(o *types.Object) bool { return o.Name == name })
	if err != nil {
		return nil, err
	}
	if len(dup) > 0 {
		return nil, errcode.New(errcode.ClusterConflict, "cluster with name %q already exists", name)
	}

	cluster := &types.Object{Type: types.ObjectCluster, PrototypeID: proto.ID, Name: name, Description: description}
	if err := e.create(tx, cluster, proto); err != nil {
		return nil, err
	}
	if err := e.concerns.Refresh(tx, cluster.Ref()); err != nil {
		return nil, err
	}
	e.logger.Info().Int64("cluster_id", cluster.ID).Str("name", name).Msg("cluster created")
	return cluster, nil
}

// AddService adds a service to a cluster together with its components
func (e *Engine) AddService(tx *storage.Tx, cluster *types.Object, prototypeID int64) (*types.Object, error) {
	proto, err := e.prototype(tx, prototypeID, types.ObjectService)
	if err != nil {
		return nil, err
	}
	clusterProto, err := storage.PrototypeOf(tx, cluster)
	if err != nil {
		return nil, err
	}
	if !proto.Shared && proto.BundleID != clusterProto.BundleID {
		return nil, errcode.New(errcode.ServiceConflict, "service %q is not from the bundle of cluster %q", proto.Name, cluster.Name)
	}
	if err := checkLicense(tx, proto); err != nil {
		return nil, err
	}
	present, err := storage.ListObjects(tx, types.ObjectService, func(o *types.Object) bool {
		return o.ClusterID == cluster.ID && o.PrototypeID == proto.ID
	})
	if err != nil {
		return nil, err
	}
	if len(present) > 0 {
		return nil, errcode.New(errcode.ServiceConflict, "service %q already exists in cluster %q", proto.Name, cluster.Name)
	}

	service := &types.Object{
		Type:        types.ObjectService,
		PrototypeID: proto.ID,
		Name:        proto.Name,
		Description: proto.Description,
		ClusterID:   cluster.ID,
	}
	if err := e.create(tx, service, proto); err != nil {
		return nil, err
	}
	refs := []types.ObjectRef{service.Ref()}
	componentProtos, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool {
		return p.Type == types.ObjectComponent && p.ParentID == proto.ID
	})
	if err != nil {
		return nil, err
	}
	for _, cp := range componentProtos {
		comp, err := e.addComponent(tx, service, cp)
		if err != nil {
			return nil, err
		}
		refs = append(refs, comp.Ref())
	}
	tx.Emit(types.NewEvent(types.EventAdd, service.Ref(), parentDetails(cluster)))

	if err := e.concerns.Refresh(tx, append(refs, cluster.Ref())...); err != nil {
		return nil, err
	}
	e.logger.Info().Int64("cluster_id", cluster.ID).Str("service", service.Name).Int("components", len(componentProtos)).Msg("service added")
	return service, nil
}

// AddComponent creates a component of service from a component prototype
// declared by the service's prototype. Upgrades use it for components new
// in the target bundle.
func (e *Engine) AddComponent(tx *storage.Tx, service *types.Object, proto *types.Prototype) (*types.Object, error) {
	if proto.Type != types.ObjectComponent || proto.ParentID != service.PrototypeID {
		return nil, errcode.New(errcode.ObjTypeError, "prototype %q is not a component of service %q", proto.Name, service.Name)
	}
	comp, err := e.addComponent(tx, service, proto)
	if err != nil {
		return nil, err
	}
	tx.Emit(types.NewEvent(types.EventAdd, comp.Ref(), parentDetails(service)))
	if err := e.concerns.Refresh(tx, comp.Ref(), service.Ref()); err != nil {
		return nil, err
	}
	return comp, nil
}

func (e *Engine) addComponent(tx *storage.Tx, service *types.Object, proto *types.Prototype) (*types.Object, error) {
	comp := &types.Object{
		Type:        types.ObjectComponent,
		PrototypeID: proto.ID,
		Name:        proto.Name,
		Description: proto.Description,
		ClusterID:   service.ClusterID,
		ServiceID:   service.ID,
	}
	if err := e.create(tx, comp, proto); err != nil {
		return nil, err
	}
	return comp, nil
}

// AddHostProvider creates a host provider from a provider prototype
func (e *Engine) AddHostProvider(tx *storage.Tx, prototypeID int64, name, description string) (*types.Object, error) {
	proto, err := e.prototype(tx, prototypeID, types.ObjectProvider)
	if err != nil {
		return nil, err
	}
	if err := checkLicense(tx, proto); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errcode.New(errcode.WrongName, "provider name is empty")
	}
	dup, err := storage.ListObjects(tx, types.ObjectProvider, func(o *types.Object) bool { return o.Name == name })
	if err != nil {
		return nil, err
	}
	if len(dup) > 0 {
		return nil, errcode.New(errcode.ProviderConflict, "provider with name %q already exists", name)
	}

	provider := &types.Object{Type: types.ObjectProvider, PrototypeID: proto.ID, Name: name, Description: description}
	if err := e.create(tx, provider, proto); err != nil {
		return nil, err
	}
	if err := e.concerns.Refresh(tx, provider.Ref()); err != nil {
		return nil, err
	}
	return provider, nil
}

// AddHost creates a host owned by provider
func (e *Engine) AddHost(tx *storage.Tx, prototypeID int64, provider *types.Object, fqdn, description string) (*types.Object, error) {
	proto, err := e.prototype(tx, prototypeID, types.ObjectHost)
	if err != nil {
		return nil, err
	}
	if provider.Type != types.ObjectProvider {
		return nil, errcode.New(errcode.ObjTypeError, "%s is not a provider", provider)
	}
	providerProto, err := storage.PrototypeOf(tx, provider)
	if err != nil {
		return nil, err
	}
	if proto.BundleID != providerProto.BundleID {
		return nil, errcode.New(errcode.ForeignHost, "host prototype %q is not from the bundle of provider %q", proto.Name, provider.Name)
	}
	if err := ValidateFQDN(fqdn); err != nil {
		return nil, err
	}
	dup, err := storage.ListObjects(tx, types.ObjectHost, func(o *types.Object) bool { return o.Name == fqdn })
	if err != nil {
		return nil, err
	}
	if len(dup) > 0 {
		return nil, errcode.New(errcode.HostConflict, "duplicate host %q", fqdn)
	}

	host := &types.Object{
		Type:        types.ObjectHost,
		PrototypeID: proto.ID,
		Name:        fqdn,
		Description: description,
		ProviderID:  provider.ID,
	}
	if err := e.create(tx, host, proto); err != nil {
		return nil, err
	}
	tx.Emit(types.NewEvent(types.EventAdd, host.Ref(), parentDetails(provider)))
	if err := e.concerns.Refresh(tx, host.Ref()); err != nil {
		return nil, err
	}
	return host, nil
}

// ValidateFQDN checks a host name: at most MaxFQDNLength characters of
// letters, digits, dots, dashes and underscores, not starting with a
// separator
func ValidateFQDN(fqdn string) error {
	if fqdn == "" || len(fqdn) > MaxFQDNLength {
		return errcode.New(errcode.WrongName, "host name must be 1 to %d characters", MaxFQDNLength)
	}
	if !fqdnPattern.MatchString(fqdn) {
		return errcode.New(errcode.WrongName, "wrong host name %q", fqdn)
	}
	return nil
}

// AddHostToCluster makes host a member of cluster. A host joining a
// locked cluster joins its locks.
func (e *Engine) AddHostToCluster(tx *storage.Tx, cluster, host *types.Object) error {
	if host.Type != types.ObjectHost {
		return errcode.New(errcode.ObjTypeError, "%s is not a host", host)
	}
	switch host.ClusterID {
	case 0:
	case cluster.ID:
		return errcode.New(errcode.HostConflict, "host %q is already in cluster %q", host.Name, cluster.Name)
	default:
		return errcode.New(errcode.ForeignHost, "host %q belongs to cluster #%d", host.Name, host.ClusterID)
	}
	host.ClusterID = cluster.ID
	if err := storage.PutObject(tx, host); err != nil {
		return err
	}
	if err := concern.Extend(tx, cluster.Ref(), []types.ObjectRef{host.Ref()}); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventAdd, host.Ref(), parentDetails(cluster)))
	if err := e.concerns.RefreshTree(tx, cluster.ID); err != nil {
		return err
	}
	e.logger.Info().Int64("cluster_id", cluster.ID).Str("host", host.Name).Msg("host added to cluster")
	return nil
}

// RemoveHostFromCluster frees a host that has no components placed on it
func (e *Engine) RemoveHostFromCluster(tx *storage.Tx, host *types.Object) error {
	if host.ClusterID == 0 {
		return errcode.New(errcode.HostConflict, "host %q is not in a cluster", host.Name)
	}
	rows, err := storage.HostComponents.List(tx, func(hc *types.HostComponent) bool { return hc.HostID == host.ID })
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return errcode.New(errcode.HostConflict, "host %q has components placed on it", host.Name)
	}
	cluster, err := storage.GetTyped(tx, types.ObjectCluster, host.ClusterID)
	if err != nil {
		return err
	}
	if err := concern.Release(tx, cluster.Ref(), []types.ObjectRef{host.Ref()}); err != nil {
		return err
	}
	host.ClusterID = 0
	if err := storage.PutObject(tx, host); err != nil {
		return err
	}
	if err := topology.PruneGroupHosts(tx, cluster.ID); err != nil {
		return err
	}
	tx.Emit(types.NewEvent(types.EventRemove, host.Ref(), parentDetails(cluster)))
	if err := e.concerns.RefreshTree(tx, cluster.ID); err != nil {
		return err
	}
	if err := e.concerns.Refresh(tx, host.Ref()); err != nil {
		return err
	}
	e.logger.Info().Int64("cluster_id", cluster.ID).Str("host", host.Name).Msg("host removed from cluster")
	return nil
}

// create stores a new entity, initializes its config and emits create
func (e *Engine) create(tx *storage.Tx, obj *types.Object, proto *types.Prototype) error {
	obj.State = types.StateCreated
	if err := storage.InsertObject(tx, obj); err != nil {
		return err
	}
	bundle, err := storage.Bundles.Get(tx, proto.BundleID)
	if err != nil {
		return err
	}
	spec, err := config.LoadSpec(tx, proto.ID)
	if err != nil {
		return err
	}
	oc, err := e.configs.Init(tx, obj.Ref(), 0, spec, proto, bundle.Hash)
	if err != nil {
		return err
	}
	if oc != nil {
		obj.ConfigID = oc.ID
		if err := storage.PutObject(tx, obj); err != nil {
			return err
		}
	}
	tx.Emit(types.NewEvent(types.EventCreate, obj.Ref(), objectDetails(obj)))
	return nil
}

func (e *Engine) prototype(tx *storage.Tx, id int64, kind types.ObjectType) (*types.Prototype, error) {
	proto, err := storage.Prototypes.Get(tx, id)
	if err != nil {
		return nil, err
	}
	if proto.Type != kind {
		return nil, errcode.New(errcode.ObjTypeError, "prototype %q should be %s, not %s", proto.Name, kind, proto.Type)
	}
	return proto, nil
}

// checkLicense refuses prototypes whose license was not accepted yet
func checkLicense(tx *storage.Tx, proto *types.Prototype) error {
	if proto.License == types.LicenseUnaccepted {
		return errcode.New(errcode.LicenseError, "license for prototype %q %s is not accepted", proto.Name, proto.Version)
	}
	bundle, err := storage.Bundles.Get(tx, proto.BundleID)
	if err != nil {
		return err
	}
	if bundle.License == types.LicenseUnaccepted {
		return errcode.New(errcode.LicenseError, "license for bundle %q %s is not accepted", bundle.Name, bundle.Version)
	}
	return nil
}

func objectDetails(obj *types.Object) types.EventDetails {
	return types.EventDetails{Type: string(obj.Type), Value: obj.Name, ID: strconv.FormatInt(obj.ID, 10)}
}

// parentDetails names the parent an entity was added to or removed from
func parentDetails(parent *types.Object) types.EventDetails {
	return types.EventDetails{Type: string(parent.Type), Value: strconv.FormatInt(parent.ID, 10)}
}
