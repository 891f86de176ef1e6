package config

import (
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// Builtin variant sources
const (
	VariantFreeHosts        = "free_hosts"
	VariantClusterHosts     = "cluster_hosts"
	VariantServiceInCluster = "service_in_cluster"
)

func clusterOf(obj *types.Object) int64 {
	if obj == nil {
		return 0
	}
	if obj.Type == types.ObjectCluster {
		return obj.ID
	}
	return obj.ClusterID
}

func (e *Engine) variantValues(tx *storage.Tx, r *types.PrototypeConfig, config map[string]any, obj *types.Object) ([]any, error) {
	src := r.Limits.Source
	if src == nil {
		return nil, nil
	}
	switch src.Type {
	case "inline":
		list, _ := src.Value.([]any)
		return list, nil

	case "config":
		name, sub := SplitKey(src.Name)
		v, _ := Value(config, name, sub)
		list, _ := v.([]any)
		return list, nil

	case "builtin":
		var hosts []*types.Object
		var err error
		switch src.Name {
		case VariantFreeHosts:
			hosts, err = storage.ListObjects(tx, types.ObjectHost, func(h *types.Object) bool { return h.ClusterID == 0 })
		case VariantClusterHosts:
			cid := clusterOf(obj)
			if cid == 0 {
				return nil, nil
			}
			hosts, err = storage.ClusterHosts(tx, cid)
		case VariantServiceInCluster:
			cid := clusterOf(obj)
			if cid == 0 {
				return nil, nil
			}
			var services []*types.Object
			if services, err = storage.Services(tx, cid); err != nil {
				return nil, err
			}
			out := make([]any, 0, len(services))
			for _, s := range services {
				proto, err := storage.PrototypeOf(tx, s)
				if err != nil {
					return nil, err
				}
				out = append(out, proto.Name)
			}
			return out, nil
		default:
			return nil, errcode.New(errcode.InvalidConfigDefinition, "unknown variant builtin %q", src.Name)
		}
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(hosts))
		for _, h := range hosts {
			out = append(out, h.FQDN())
		}
		return out, nil
	}
	return nil, errcode.New(errcode.InvalidConfigDefinition, "unknown variant source %q", src.Type)
}
