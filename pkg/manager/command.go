package manager

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/adcm/pkg/catalog"
	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/planner"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/topology"
	"github.com/cuemby/adcm/pkg/types"
	"gopkg.in/yaml.v3"
)

// Command is one operation of an inventory file
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Selector names an entity the way inventory files refer to it
type Selector struct {
	Type      types.ObjectType `json:"type"`
	Name      string           `json:"name"`
	Cluster   string           `json:"cluster,omitempty"`
	Service   string           `json:"service,omitempty"`
	Component string           `json:"component,omitempty"`
}

type loadBundleData struct {
	Path          string `json:"path"`
	AcceptLicense bool   `json:"accept_license"`
}

type addClusterData struct {
	Bundle      string `json:"bundle"`
	Version     string `json:"version"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type addServiceData struct {
	Cluster string `json:"cluster"`
	Service string `json:"service"`
}

type addHostData struct {
	Provider    string `json:"provider"`
	FQDN        string `json:"fqdn"`
	Prototype   string `json:"prototype"`
	Cluster     string `json:"cluster"`
	Description string `json:"description"`
}

type setConfigData struct {
	Object      Selector       `json:"object"`
	Config      map[string]any `json:"config"`
	Attr        map[string]any `json:"attr"`
	Description string         `json:"description"`
}

func (d *setConfigData) Normalize() {
	d.Config = types.NormalizeMap(d.Config)
	d.Attr = types.NormalizeMap(d.Attr)
}

// hc entries name their host, service and component, or carry
// host_id, service_id and component_id
type saveHCData struct {
	Cluster string `json:"cluster"`
	HC      any    `json:"hc"`
}

func (d *saveHCData) Normalize() { d.HC = types.Normalize(d.HC) }

type runActionData struct {
	Object  Selector       `json:"object"`
	Action  string         `json:"action"`
	Config  map[string]any `json:"config"`
	HC      any            `json:"hc"`
	Verbose bool           `json:"verbose"`
	Wait    bool           `json:"wait"`
}

func (d *runActionData) Normalize() {
	d.Config = types.NormalizeMap(d.Config)
	d.HC = types.Normalize(d.HC)
}

type upgradeData struct {
	Object  Selector `json:"object"`
	Upgrade string   `json:"upgrade"`
}

// ParseCommands decodes an inventory file: a YAML list of {op, data}
func ParseCommands(data []byte) ([]Command, error) {
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}
	cmds := make([]Command, 0, len(raw))
	for i, item := range raw {
		buf, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		var cmd Command
		if err := json.Unmarshal(buf, &cmd); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if cmd.Op == "" {
			return nil, fmt.Errorf("entry %d has no op", i)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Apply executes one inventory command and returns a short description of
// what it did. Each command is its own transaction; bundle loading and
// started actions happen outside of it.
func (m *Manager) Apply(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Op {
	case "load_bundle":
		var d loadBundleData
		if err := decode(cmd, &d); err != nil {
			return "", err
		}
		b, err := m.LoadBundle(d.Path)
		if err != nil {
			return "", err
		}
		if d.AcceptLicense && b.License == types.LicenseUnaccepted {
			if err := m.store.Update(func(tx *storage.Tx) error { return catalog.AcceptLicense(tx, b.ID) }); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("bundle %s %s loaded (id %d)", b.Name, b.Version, b.ID), nil

	case "add_cluster":
		var d addClusterData
		if err := decode(cmd, &d); err != nil {
			return "", err
		}
		return m.update(func(tx *storage.Tx) (string, error) {
			proto, err := mainPrototype(tx, types.ObjectCluster, d.Bundle, d.Version)
			if err != nil {
				return "", err
			}
			c, err := m.Entities.AddCluster(tx, proto.ID, d.Name, d.Description)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s created", c), nil
		})

	case "add_service":
		var d addServiceData
		if err := decode(cmd, &d); err != nil {
			return "", err
		}
		return m.update(func(tx *storage.Tx) (string, error) {
			cluster, err := Resolve(tx, Selector{Type: types.ObjectCluster, Name: d.Cluster})
			if err != nil {
				return "", err
			}
			proto, err := serviceProto(tx, cluster, d.Service)
			if err != nil {
				return "", err
			}
			s, err := m.Entities.AddService(tx, cluster, proto.ID)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s added to %s", s, cluster), nil
		})

	case "add_provider":
		var d addClusterData
		if err := decode(cmd, &d); err != nil {
			return "", err
		}
		return m.update(func(tx *storage.Tx) (string, error) {
			proto, err := mainPrototype(tx, types.ObjectProvider, d.Bundle, d.Version)
			if err != nil {
				return "", err
			}
			p, err := m.Entities.AddHostProvider(tx, proto.ID, d.Name, d.Description)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s created", p), nil
		})

	case "add_host":
		var d addHostData
		if err := decode(cmd, &d); err != nil {
			return "", err
		}
		return m.update(func(tx *storage.Tx) (string, error) {
			provider, err := Resolve(tx, Selector{Type: types.ObjectProvider, Name: d.Provider})
			if err != nil {
				return "", err
			}
			bundleID := bundleOf(tx, provider)
			hostProto, err := storage.Prototypes.Find(tx, func(p *types.Prototype) bool {
				return p.Type == types.ObjectHost && p.BundleID == bundleID && (d.Prototype == "" || p.Name == d.Prototype)
			})
			if err != nil {
				return "", err
			}
			h, err := m.Entities.AddHost(tx, hostProto.ID, provider, d.FQDN, d.Description)
			if err != nil {
				return "", err
			}
			if d.Cluster == "" {
				return fmt.Sprintf("%s created", h), nil
			}
			cluster, err := Resolve(tx, Selector{Type: types.ObjectCluster, Name: d.Cluster})
			if err != nil {
				return "", err
			}
			if err := m.Entities.AddHostToCluster(tx, cluster, h); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s created in %s", h, cluster), nil
		})

	case "set_config":
		var d setConfigData
		if err := decode(cmd, &d); err != nil {
			return "", err
		}
		return m.update(func(tx *storage.Tx) (string, error) {
			obj, err := Resolve(tx, d.Object)
			if err != nil {
				return "", err
			}
			cfg := d.Config
			if cfg == nil {
				cfg = map[string]any{}
			}
			// keys the file leaves out keep their current values
			if obj.ConfigID != 0 {
				_, cl, err := storage.CurrentConfig(tx, obj.ConfigID)
				if err != nil {
					return "", err
				}
				cfg = merge(cl.Config, cfg)
			}
			var attr any
			if d.Attr != nil {
				attr = d.Attr
			}
			cl, err := m.Entities.UpdateConfig(tx, obj, cfg, attr, d.Description)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("config #%d of %s saved", cl.ID, obj), nil
		})

	case "save_hc":
		var d saveHCData
		if err := decode(cmd, &d); err != nil {
			return "", err
		}
		return m.update(func(tx *storage.Tx) (string, error) {
			cluster, err := Resolve(tx, Selector{Type: types.ObjectCluster, Name: d.Cluster})
			if err != nil {
				return "", err
			}
			entries, err := placements(tx, cluster, d.HC)
			if err != nil {
				return "", err
			}
			rows, err := m.Topo.SaveHC(tx, cluster, entries)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d placements saved in %s", len(rows), cluster), nil
		})

	case "run_action":
		var d runActionData
		if err := decode(cmd, &d); err != nil {
			return "", err
		}
		return m.runAction(ctx, d)

	case "upgrade":
		var d upgradeData
		if err := decode(cmd, &d); err != nil {
			return "", err
		}
		return m.update(func(tx *storage.Tx) (string, error) {
			obj, err := Resolve(tx, d.Object)
			if err != nil {
				return "", err
			}
			available, err := m.Upgrades.Available(tx, obj)
			if err != nil {
				return "", err
			}
			for _, up := range available {
				if up.Name != d.Upgrade {
					continue
				}
				out, err := m.Upgrades.Upgrade(tx, obj, up.ID)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%s upgraded with %q", out, up.Name), nil
			}
			return "", errcode.New(errcode.UpgradeNotFound, "upgrade %q is not available for %s", d.Upgrade, obj)
		})

	default:
		return "", errcode.New(errcode.InvalidInput, "unknown command: %s", cmd.Op)
	}
}

func (m *Manager) runAction(ctx context.Context, d runActionData) (string, error) {
	task, err := m.RunAction(func(tx *storage.Tx) (planner.Request, error) {
		var req planner.Request
		obj, err := Resolve(tx, d.Object)
		if err != nil {
			return req, err
		}
		action, err := storage.ActionByName(tx, obj.PrototypeID, d.Action)
		if err != nil {
			return req, err
		}
		req = planner.Request{ActionID: action.ID, Target: obj.Ref(), Config: d.Config, Verbose: d.Verbose}
		if d.HC != nil {
			cluster := obj
			if obj.Type != types.ObjectCluster {
				if cluster, err = storage.GetTyped(tx, types.ObjectCluster, obj.ClusterID); err != nil {
					return req, err
				}
			}
			if req.HC, err = placements(tx, cluster, d.HC); err != nil {
				return req, err
			}
		}
		return req, nil
	})
	if err != nil {
		return "", err
	}
	if !d.Wait {
		return fmt.Sprintf("task #%d started", task.ID), nil
	}
	task, err = m.Executor.Wait(ctx, task.ID)
	if err != nil {
		return "", err
	}
	if task.Status != types.StatusSuccess {
		return "", errcode.New(errcode.TaskError, "task #%d %s", task.ID, task.Status)
	}
	return fmt.Sprintf("task #%d %s", task.ID, task.Status), nil
}

func (m *Manager) update(fn func(tx *storage.Tx) (string, error)) (string, error) {
	var out string
	err := m.store.Update(func(tx *storage.Tx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	return out, err
}

func decode(cmd Command, v any) error {
	if len(cmd.Data) == 0 {
		return errcode.New(errcode.InvalidInput, "%s: data is required", cmd.Op)
	}
	if err := types.Decode(cmd.Data, v); err != nil {
		return errcode.New(errcode.JSONError, "%s: %v", cmd.Op, err)
	}
	return nil
}

// Resolve finds the entity a selector names
func Resolve(tx *storage.Tx, sel Selector) (*types.Object, error) {
	var filter func(o *types.Object) bool
	switch sel.Type {
	case types.ObjectADCM:
		filter = func(o *types.Object) bool { return true }
	case types.ObjectCluster, types.ObjectProvider, types.ObjectHost:
		filter = func(o *types.Object) bool { return o.Name == sel.Name }
	case types.ObjectService, types.ObjectComponent:
		cluster, err := Resolve(tx, Selector{Type: types.ObjectCluster, Name: sel.Cluster})
		if err != nil {
			return nil, err
		}
		if sel.Type == types.ObjectService {
			filter = func(o *types.Object) bool { return o.ClusterID == cluster.ID && o.Name == sel.Name }
			break
		}
		service, err := Resolve(tx, Selector{Type: types.ObjectService, Name: sel.Service, Cluster: sel.Cluster})
		if err != nil {
			return nil, err
		}
		filter = func(o *types.Object) bool { return o.ServiceID == service.ID && o.Name == sel.Name }
	default:
		return nil, errcode.New(errcode.ObjTypeError, "unknown object type %q", sel.Type)
	}
	objs, err := storage.ListObjects(tx, sel.Type, filter)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, errcode.New(notFound(sel.Type), "%s %q does not exist", sel.Type, sel.Name)
	}
	return objs[0], nil
}

func notFound(kind types.ObjectType) errcode.Code {
	switch kind {
	case types.ObjectCluster:
		return errcode.ClusterNotFound
	case types.ObjectService:
		return errcode.ServiceNotFound
	case types.ObjectComponent:
		return errcode.ComponentNotFound
	case types.ObjectProvider:
		return errcode.ProviderNotFound
	case types.ObjectHost:
		return errcode.HostNotFound
	}
	return errcode.ObjectNotFound
}

// mainPrototype picks the cluster or provider prototype of the named
// bundle, the newest one unless version is set
func mainPrototype(tx *storage.Tx, kind types.ObjectType, bundle, version string) (*types.Prototype, error) {
	protos, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool {
		return p.Type == kind && p.Name == bundle && (version == "" || p.Version == version)
	})
	if err != nil {
		return nil, err
	}
	if len(protos) == 0 {
		return nil, errcode.New(errcode.PrototypeNotFound, "no %s prototype %q %s", kind, bundle, version)
	}
	best := protos[0]
	for _, p := range protos[1:] {
		if config.CompareVersions(p.Version, best.Version) > 0 {
			best = p
		}
	}
	return best, nil
}

func bundleOf(tx *storage.Tx, obj *types.Object) int64 {
	p, err := storage.PrototypeOf(tx, obj)
	if err != nil {
		return 0
	}
	return p.BundleID
}

// serviceProto finds a service prototype of the cluster's bundle, or a
// shared one of any bundle
func serviceProto(tx *storage.Tx, cluster *types.Object, name string) (*types.Prototype, error) {
	bundleID := bundleOf(tx, cluster)
	protos, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool {
		return p.Type == types.ObjectService && p.Name == name && (p.BundleID == bundleID || p.Shared)
	})
	if err != nil {
		return nil, err
	}
	for _, p := range protos {
		if p.BundleID == bundleID {
			return p, nil
		}
	}
	if len(protos) > 0 {
		return protos[0], nil
	}
	return nil, errcode.New(errcode.PrototypeNotFound, "no service %q for %s", name, cluster)
}

// placements turns an hc payload into entries of cluster. Entries given by
// name are resolved to ids first; the list is then checked by ParseHC.
func placements(tx *storage.Tx, cluster *types.Object, raw any) ([]types.HCEntry, error) {
	list, ok := raw.([]any)
	if !ok {
		return topology.ParseHC(raw)
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok || entry["host"] == nil {
			out = append(out, item)
			continue
		}
		host, _ := entry["host"].(string)
		service, _ := entry["service"].(string)
		component, _ := entry["component"].(string)
		h, err := Resolve(tx, Selector{Type: types.ObjectHost, Name: host})
		if err != nil {
			return nil, err
		}
		comp, err := Resolve(tx, Selector{Type: types.ObjectComponent, Name: component, Service: service, Cluster: cluster.Name})
		if err != nil {
			return nil, err
		}
		out = append(out, map[string]any{"host_id": h.ID, "service_id": comp.ServiceID, "component_id": comp.ID})
	}
	return topology.ParseHC(out)
}

// merge overlays patch on base, descending into nested groups
func merge(base, patch map[string]any) map[string]any {
	out := types.CopyMap(base)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range patch {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := out[k].(map[string]any); ok {
				out[k] = merge(cur, sub)
				continue
			}
		}
		out[k] = v
	}
	return out
}
