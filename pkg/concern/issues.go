package concern

import (
	"strings"

	"github.com/cuemby/adcm/pkg/config"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// Reason messages
const (
	MsgConfigIssue        = "${source} has an issue with required config: ${keys}"
	MsgServiceIssue       = "${source} requires service ${target} to be added"
	MsgImportIssue        = "${source} has an issue with required import ${target}"
	MsgHostComponentIssue = "${source} has an issue with host-component mapping: ${target}"
	MsgLocked             = "object is locked by ${job} on ${target}"
)

func (e *Engine) configIssue(tx *storage.Tx, obj *types.Object) (*Issue, error) {
	if obj.ConfigID == 0 {
		return nil, nil
	}
	spec, err := config.LoadSpec(tx, obj.PrototypeID)
	if err != nil {
		return nil, err
	}
	_, cl, err := storage.CurrentConfig(tx, obj.ConfigID)
	if err != nil {
		return nil, err
	}
	missing := config.MissingRequired(spec, cl.Config, cl.Attr)
	if len(missing) == 0 {
		return nil, nil
	}
	related, err := Ancestors(tx, obj)
	if err != nil {
		return nil, err
	}
	return &Issue{
		Reason: types.Reason{
			Message: MsgConfigIssue,
			Placeholder: map[string]types.Placeholder{
				"source": placeholder(obj),
				"keys":   {Name: strings.Join(missing, ", ")},
			},
		},
		Related: related,
	}, nil
}

func (e *Engine) serviceIssue(tx *storage.Tx, cluster *types.Object) (*Issue, error) {
	proto, err := storage.PrototypeOf(tx, cluster)
	if err != nil {
		return nil, err
	}
	required, err := storage.Prototypes.List(tx, func(p *types.Prototype) bool {
		return p.BundleID == proto.BundleID && p.Type == types.ObjectService && p.Required
	})
	if err != nil {
		return nil, err
	}
	if len(required) == 0 {
		return nil, nil
	}
	present := map[string]bool{}
	services, err := storage.Services(tx, cluster.ID)
	if err != nil {
		return nil, err
	}
	for _, s := range services {
		sp, err := storage.PrototypeOf(tx, s)
		if err != nil {
			return nil, err
		}
		present[sp.Name] = true
	}
	var absent []string
	for _, p := range required {
		if !present[p.Name] {
			absent = append(absent, p.Name)
		}
	}
	if len(absent) == 0 {
		return nil, nil
	}
	return &Issue{
		Reason: types.Reason{
			Message: MsgServiceIssue,
			Placeholder: map[string]types.Placeholder{
				"source": placeholder(cluster),
				"target": {Type: types.ObjectService, Name: strings.Join(absent, ", ")},
			},
		},
	}, nil
}

func (e *Engine) importIssue(tx *storage.Tx, obj *types.Object) (*Issue, error) {
	imports, err := storage.Imports.List(tx, func(i *types.PrototypeImport) bool {
		return i.PrototypeID == obj.PrototypeID && i.Required
	})
	if err != nil || len(imports) == 0 {
		return nil, err
	}

	clusterID, serviceID := obj.ID, int64(0)
	if obj.Type == types.ObjectService {
		clusterID, serviceID = obj.ClusterID, obj.ID
	}
	binds, err := storage.ImporterBinds(tx, clusterID, serviceID)
	if err != nil {
		return nil, err
	}
	bound := map[string]bool{}
	for _, b := range binds {
		src, err := storage.BindSource(tx, b)
		if err != nil {
			return nil, err
		}
		sp, err := storage.PrototypeOf(tx, src)
		if err != nil {
			return nil, err
		}
		bound[sp.Name] = true
	}

	var unbound []string
	for _, imp := range imports {
		if !bound[imp.Name] {
			unbound = append(unbound, imp.Name)
		}
	}
	if len(unbound) == 0 {
		return nil, nil
	}
	related, err := Ancestors(tx, obj)
	if err != nil {
		return nil, err
	}
	return &Issue{
		Reason: types.Reason{
			Message: MsgImportIssue,
			Placeholder: map[string]types.Placeholder{
				"source": placeholder(obj),
				"target": {Name: strings.Join(unbound, ", ")},
			},
		},
		Related: related,
	}, nil
}
