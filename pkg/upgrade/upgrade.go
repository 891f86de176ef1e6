package upgrade

import (
	"fmt"
	"slices"

	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/entity"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// Engine swaps clusters and providers to prototypes of newer bundles
type Engine struct {
	configs  *config.Engine
	concerns *concern.Engine
	entities *entity.Engine
	logger   zerolog.Logger
}

// NewEngine creates an upgrade engine
func NewEngine(configs *config.Engine, concerns *concern.Engine, entities *entity.Engine) *Engine {
	return &Engine{
		configs:  configs,
		concerns: concerns,
		entities: entities,
		logger:   log.WithComponent("upgrade"),
	}
}

// Available lists the upgrades obj may take right now
func (e *Engine) Available(tx *storage.Tx, obj *types.Object) ([]*types.Upgrade, error) {
	all, err := storage.Upgrades.List(tx, nil)
	if err != nil {
		return nil, err
	}
	var out []*types.Upgrade
	for _, up := range all {
		_, err := e.Check(tx, obj, up)
		switch {
		case err == nil:
			out = append(out, up)
		case errcode.KindOf(errcode.CodeOf(err)) == errcode.KindInternal:
			return nil, err
		}
	}
	return out, nil
}

// Check validates that obj can take upgrade and returns the prototype obj
// would switch to
func (e *Engine) Check(tx *storage.Tx, obj *types.Object, up *types.Upgrade) (*types.Prototype, error) {
	if obj.Type != types.ObjectCluster && obj.Type != types.ObjectProvider {
		return nil, errcode.New(errcode.UpgradeError, "%s can't be upgraded", obj)
	}
	oldProto, err := storage.PrototypeOf(tx, obj)
	if err != nil {
		return nil, err
	}
	oldBundle, err := storage.Bundles.Get(tx, oldProto.BundleID)
	if err != nil {
		return nil, err
	}
	if up.BundleID == oldBundle.ID {
		return nil, errcode.New(errcode.UpgradeError, "%s already uses bundle %s %s", obj, oldBundle.Name, oldBundle.Version)
	}
	newBundle, err := storage.Bundles.Get(tx, up.BundleID)
	if err != nil {
		return nil, err
	}
	if newBundle.Name != oldBundle.Name {
		return nil, errcode.New(errcode.UpgradeError, "upgrade %q belongs to bundle %q, not %q", up.Name, newBundle.Name, oldBundle.Name)
	}
	if newBundle.License == types.LicenseUnaccepted {
		return nil, errcode.New(errcode.LicenseError, "license for bundle %q %s is not accepted", newBundle.Name, newBundle.Version)
	}
	newProto, err := counterpart(tx, newBundle.ID, oldProto, 0)
	if err != nil {
		return nil, err
	}
	if newProto == nil {
		return nil, errcode.New(errcode.UpgradeError, "bundle %s %s has no %s %q", newBundle.Name, newBundle.Version, oldProto.Type, oldProto.Name)
	}

	locked, err := concern.Locked(tx, obj.Ref())
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, errcode.New(errcode.UpgradeError, "%s is locked", obj)
	}
	if !up.StateAvailableAny && !slices.Contains(up.StateAvailable, obj.State) {
		return nil, errcode.New(errcode.UpgradeError, "upgrade %q is not available in state %q", up.Name, obj.State)
	}
	if !config.InRange(oldProto.Version, up.Versions) {
		return nil, errcode.New(errcode.UpgradeError, "version %s is outside the range of upgrade %q", oldProto.Version, up.Name)
	}
	if len(up.FromEdition) > 0 && !slices.Contains(up.FromEdition, oldBundle.Edition) {
		return nil, errcode.New(errcode.UpgradeError, "upgrade %q does not accept edition %q", up.Name, oldBundle.Edition)
	}

	switch obj.Type {
	case types.ObjectCluster:
		if err := checkBinds(tx, obj, newBundle.ID); err != nil {
			return nil, err
		}
	case types.ObjectProvider:
		hosts, err := storage.ProviderHosts(tx, obj.ID)
		if err != nil {
			return nil, err
		}
		for _, h := range hosts {
			hp, err := storage.PrototypeOf(tx, h)
			if err != nil {
				return nil, err
			}
			np, err := counterpart(tx, newBundle.ID, hp, 0)
			if err != nil {
				return nil, err
			}
			if np == nil {
				return nil, errcode.New(errcode.UpgradeError, "bundle %s %s has no host %q for host %q", newBundle.Name, newBundle.Version, hp.Name, h.Name)
			}
		}
	}
	return newProto, nil
}

// Upgrade performs upgradeID on obj: the prototype of obj and of its
// subtree is switched to the target bundle, configs are migrated,
// services and components absent from the target bundle are deleted and
// new components are added. The caller's transaction makes it atomic.
func (e *Engine) Upgrade(tx *storage.Tx, obj *types.Object, upgradeID int64) (*types.Object, error) {
	up, err := storage.Upgrades.Get(tx, upgradeID)
	if err != nil {
		return nil, err
	}
	newProto, err := e.Check(tx, obj, up)
	if err != nil {
		return nil, err
	}
	bundle, err := storage.Bundles.Get(tx, up.BundleID)
	if err != nil {
		return nil, err
	}
	oldProto, err := storage.PrototypeOf(tx, obj)
	if err != nil {
		return nil, err
	}

	if err := e.switchObject(tx, obj, newProto, bundle.Hash); err != nil {
		return nil, err
	}
	switch obj.Type {
	case types.ObjectCluster:
		if err := e.switchServices(tx, obj, oldProto.BundleID, bundle); err != nil {
			return nil, err
		}
	case types.ObjectProvider:
		if err := e.switchHosts(tx, obj, bundle); err != nil {
			return nil, err
		}
	}

	// subtree changes may have rewritten obj
	if obj, err = storage.GetObject(tx, obj.Ref()); err != nil {
		return nil, err
	}
	if up.StateOnSuccess != "" {
		if err := entity.SetState(tx, obj, up.StateOnSuccess); err != nil {
			return nil, err
		}
	}
	if err := e.refresh(tx, obj); err != nil {
		return nil, err
	}
	tx.Emit(types.NewEvent(types.EventUpgrade, obj.Ref(), types.EventDetails{Type: "version", Value: newProto.Version}))

	logger := log.WithObject(e.logger, obj.Ref())
	logger.Info().
		Str("upgrade", up.Name).
		Str("from_version", oldProto.Version).
		Int64("to_prototype", newProto.ID).
		Str("version", newProto.Version).
		Msg("upgrade finished")
	return storage.GetObject(tx, obj.Ref())
}

// switchObject points obj at proto, remembering its previous prototype and
// state, and migrates its config
func (e *Engine) switchObject(tx *storage.Tx, obj *types.Object, proto *types.Prototype, bundleHash string) error {
	oldSpec, err := config.LoadSpec(tx, obj.PrototypeID)
	if err != nil {
		return err
	}
	newSpec, err := config.LoadSpec(tx, proto.ID)
	if err != nil {
		return err
	}
	obj.BeforeUpgrade = &types.BeforeUpgrade{PrototypeID: obj.PrototypeID, State: obj.State}
	obj.PrototypeID = proto.ID
	if err := e.configs.Switch(tx, config.SwitchInput{
		Object:     obj,
		OldSpec:    oldSpec,
		NewSpec:    newSpec,
		NewProto:   proto,
		BundleHash: bundleHash,
	}); err != nil {
		return fmt.Errorf("failed to migrate config of %s: %w", obj, err)
	}
	return storage.PutObject(tx, obj)
}

func (e *Engine) switchServices(tx *storage.Tx, cluster *types.Object, oldBundleID int64, bundle *types.Bundle) error {
	services, err := storage.Services(tx, cluster.ID)
	if err != nil {
		return err
	}
	for _, svc := range services {
		old, err := storage.PrototypeOf(tx, svc)
		if err != nil {
			return err
		}
		if old.BundleID != oldBundleID {
			// shared services of other bundles keep their prototype
			continue
		}
		proto, err := counterpart(tx, bundle.ID, old, 0)
		if err != nil {
			return err
		}
		if proto == nil {
			e.logger.Warn().Str("service", svc.Name).Msg("service is not in the target bundle, deleting")
			if err := e.entities.DeleteService(tx, svc, true); err != nil {
				return err
			}
			continue
		}
		if svc, err = storage.GetObject(tx, svc.Ref()); err != nil {
			return err
		}
		if err := e.switchObject(tx, svc, proto, bundle.Hash); err != nil {
			return err
		}
		if err := e.switchComponents(tx, svc, proto, bundle); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) switchComponents(tx *storage.Tx, svc *types.Object, svcProto *types.Prototype, bundle *types.Bundle) error {
	components, err := storage.Components(tx, svc.ID)
	if err != nil {
		return err
	}
	present := map[string]bool{}
	for _, comp := range components {
		old, err := storage.PrototypeOf(tx, comp)
		if err != nil {
			return err
		}
		proto, err := counterpart(tx, bundle.ID, old, svcProto.ID)
		if err != nil {
			return err
		}
		if proto == nil {
			e.logger.Warn().Str("service", svc.Name).Str("component", comp.Name).Msg("component is not in the target bundle, deleting")
			if err := e.entities.DeleteComponent(tx, comp); err != nil {
				return err
			}
			continue
		}
		present[proto.Name] = true
		// deletions above may have refreshed it
		if comp, err = storage.GetObject(tx, comp.Ref()); err != nil {
			return err
		}
		if err := e.switchObject(tx, comp, proto, bundle.Hash); err != nil {
			return err
		}
	}

	added, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool {
		return p.Type == types.ObjectComponent && p.ParentID == svcProto.ID && !present[p.Name]
	})
	if err != nil {
		return err
	}
	for _, p := range added {
		if _, err := e.entities.AddComponent(tx, svc, p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) switchHosts(tx *storage.Tx, provider *types.Object, bundle *types.Bundle) error {
	hosts, err := storage.ProviderHosts(tx, provider.ID)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		old, err := storage.PrototypeOf(tx, h)
		if err != nil {
			return err
		}
		proto, err := counterpart(tx, bundle.ID, old, 0)
		if err != nil {
			return err
		}
		if proto == nil {
			return errcode.New(errcode.UpgradeError, "bundle %s %s has no host %q", bundle.Name, bundle.Version, old.Name)
		}
		if err := e.switchObject(tx, h, proto, bundle.Hash); err != nil {
			return err
		}
	}
	return nil
}

// refresh recomputes the concerns of every entity the upgrade touched
func (e *Engine) refresh(tx *storage.Tx, obj *types.Object) error {
	if obj.Type == types.ObjectCluster {
		return e.concerns.RefreshTree(tx, obj.ID)
	}
	refs := []types.ObjectRef{obj.Ref()}
	hosts, err := storage.ProviderHosts(tx, obj.ID)
	if err != nil {
		return err
	}
	for _, h := range hosts {
		refs = append(refs, h.Ref())
	}
	return e.concerns.Refresh(tx, refs...)
}

// counterpart finds the prototype of bundleID matching old by type and
// name; components must also belong to parentID
func counterpart(tx *storage.Tx, bundleID int64, old *types.Prototype, parentID int64) (*types.Prototype, error) {
	matches, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool {
		if p.BundleID != bundleID || p.Type != old.Type || p.Name != old.Name {
			return false
		}
		return old.Type != types.ObjectComponent || p.ParentID == parentID
	})
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}

// checkBinds refuses the upgrade when a bind of the cluster or its
// services would not be accepted by the imports of the target bundle
func checkBinds(tx *storage.Tx, cluster *types.Object, bundleID int64) error {
	binds, err := storage.Binds.List(tx, func(b *types.ClusterBind) bool { return b.ClusterID == cluster.ID })
	if err != nil {
		return err
	}
	for _, b := range binds {
		importer := cluster
		if b.ServiceID != 0 {
			if importer, err = storage.GetTyped(tx, types.ObjectService, b.ServiceID); err != nil {
				return err
			}
		}
		importerProto, err := storage.PrototypeOf(tx, importer)
		if err != nil {
			return err
		}
		target, err := counterpart(tx, bundleID, importerProto, 0)
		if err != nil {
			return err
		}
		if target == nil {
			// service is deleted by the upgrade together with its binds
			continue
		}
		src, err := storage.BindSource(tx, b)
		if err != nil {
			return err
		}
		srcProto, err := storage.PrototypeOf(tx, src)
		if err != nil {
			return err
		}
		imp, err := storage.Imports.Find(tx, func(i *types.PrototypeImport) bool {
			return i.PrototypeID == target.ID && i.Name == srcProto.Name
		})
		if err != nil {
			if errcode.IsNotFound(err) {
				return errcode.New(errcode.UpgradeError, "%s %q of the target bundle does not import %q", target.Type, target.Name, srcProto.Name)
			}
			return err
		}
		if !config.InRange(srcProto.Version, imp.Versions) {
			return errcode.New(errcode.UpgradeError, "bound %s %s is outside the import range of %q in the target bundle", srcProto.Name, srcProto.Version, target.Name)
		}
	}
	return nil
}
