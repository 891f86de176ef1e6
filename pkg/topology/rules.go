package topology

import (
	"fmt"
	"maps"
	"slices"

	"github.com/cuemby/adcm/pkg/concern"
	"github.com/cuemby/adcm/pkg/errcode"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
)

// violation is the first broken component rule of a map
type violation struct {
	component *types.Object
	service   *types.Object
	msg       string
}

type ruleState struct {
	tx         *storage.Tx
	cluster    *types.Object
	services   map[string]*types.Object            // by prototype name
	components map[string]map[string]*types.Object // service name -> component name
	protos     map[int64]*types.Prototype
	hosts      map[int64][]int64 // component id -> host ids
	placed     map[int64]bool    // service id -> has placements
}

func newRuleState(tx *storage.Tx, cluster *types.Object, placements []Placement) (*ruleState, error) {
	s := &ruleState{
		tx:         tx,
		cluster:    cluster,
		services:   map[string]*types.Object{},
		components: map[string]map[string]*types.Object{},
		protos:     map[int64]*types.Prototype{},
		hosts:      map[int64][]int64{},
		placed:     map[int64]bool{},
	}
	services, err := storage.Services(tx, cluster.ID)
	if err != nil {
		return nil, err
	}
	for _, svc := range services {
		sp, err := s.proto(svc)
		if err != nil {
			return nil, err
		}
		s.services[sp.Name] = svc
		comps, err := storage.Components(tx, svc.ID)
		if err != nil {
			return nil, err
		}
		byName := map[string]*types.Object{}
		for _, c := range comps {
			cp, err := s.proto(c)
			if err != nil {
				return nil, err
			}
			byName[cp.Name] = c
		}
		s.components[sp.Name] = byName
	}
	for _, p := range placements {
		s.hosts[p.Component.ID] = append(s.hosts[p.Component.ID], p.Host.ID)
		s.placed[p.Service.ID] = true
	}
	return s, nil
}

func (s *ruleState) proto(obj *types.Object) (*types.Prototype, error) {
	if p, ok := s.protos[obj.PrototypeID]; ok {
		return p, nil
	}
	p, err := storage.PrototypeOf(s.tx, obj)
	if err != nil {
		return nil, err
	}
	s.protos[obj.PrototypeID] = p
	return p, nil
}

// checkRules evaluates constraints for the given services, then requires
// and bound_to across the cluster
func checkRules(tx *storage.Tx, cluster *types.Object, placements []Placement, services []*types.Object) (*violation, error) {
	s, err := newRuleState(tx, cluster, placements)
	if err != nil {
		return nil, err
	}
	clusterHosts, err := storage.ClusterHosts(tx, cluster.ID)
	if err != nil {
		return nil, err
	}

	for _, svc := range services {
		comps, err := storage.Components(tx, svc.ID)
		if err != nil {
			return nil, err
		}
		for _, comp := range comps {
			cp, err := s.proto(comp)
			if err != nil {
				return nil, err
			}
			c, err := ParseConstraint(cp.Constraint)
			if err != nil {
				return nil, errcode.New(errcode.InvalidConfigDefinition, "component %q: %v", comp.Name, err)
			}
			if err := c.Check(len(s.hosts[comp.ID]), len(clusterHosts)); err != nil {
				return &violation{component: comp, service: svc, msg: fmt.Sprintf("component %q of service %q %v", comp.Name, svc.Name, err)}, nil
			}
		}
	}

	if v, err := s.checkRequires(); v != nil || err != nil {
		return v, err
	}
	return s.checkBoundTo()
}

func (s *ruleState) checkRequires() (*violation, error) {
	for _, svcName := range slices.Sorted(maps.Keys(s.services)) {
		svc := s.services[svcName]
		sp, err := s.proto(svc)
		if err != nil {
			return nil, err
		}
		if s.placed[svc.ID] {
			if v := s.requirements(sp.Requires, svc, svc); v != nil {
				return v, nil
			}
		}
		for _, compName := range slices.Sorted(maps.Keys(s.components[svcName])) {
			comp := s.components[svcName][compName]
			if len(s.hosts[comp.ID]) == 0 {
				continue
			}
			cp, err := s.proto(comp)
			if err != nil {
				return nil, err
			}
			if v := s.requirements(cp.Requires, comp, svc); v != nil {
				return v, nil
			}
		}
	}
	return nil, nil
}

func (s *ruleState) requirements(reqs []types.Requirement, who, svc *types.Object) *violation {
	for _, req := range reqs {
		if _, ok := s.services[req.Service]; !ok {
			return &violation{component: componentOrNil(who), service: svc, msg: fmt.Sprintf("%s requires service %q in the cluster", who, req.Service)}
		}
		if req.Component == "" {
			continue
		}
		target, ok := s.components[req.Service][req.Component]
		if !ok || len(s.hosts[target.ID]) == 0 {
			return &violation{component: componentOrNil(who), service: svc, msg: fmt.Sprintf("%s requires component %q of service %q to be placed", who, req.Component, req.Service)}
		}
	}
	return nil
}

func componentOrNil(obj *types.Object) *types.Object {
	if obj.Type == types.ObjectComponent {
		return obj
	}
	return nil
}

func (s *ruleState) checkBoundTo() (*violation, error) {
	for _, svcName := range slices.Sorted(maps.Keys(s.services)) {
		svc := s.services[svcName]
		for _, compName := range slices.Sorted(maps.Keys(s.components[svcName])) {
			comp := s.components[svcName][compName]
			cp, err := s.proto(comp)
			if err != nil {
				return nil, err
			}
			if cp.BoundTo == nil {
				continue
			}
			target, ok := s.components[cp.BoundTo.Service][cp.BoundTo.Component]
			if !ok {
				if len(s.hosts[comp.ID]) > 0 {
					return &violation{component: comp, service: svc, msg: fmt.Sprintf("component %q is bound to %s/%s which is not in the cluster", comp.Name, cp.BoundTo.Service, cp.BoundTo.Component)}, nil
				}
				continue
			}
			mine := slices.Sorted(slices.Values(s.hosts[comp.ID]))
			theirs := slices.Sorted(slices.Values(s.hosts[target.ID]))
			if !slices.Equal(mine, theirs) {
				return &violation{component: comp, service: svc, msg: fmt.Sprintf("component %q should be placed on the same hosts as bound_to component %s/%s", comp.Name, cp.BoundTo.Service, cp.BoundTo.Component)}, nil
			}
		}
	}
	return nil, nil
}

// hcIssue checks the stored map of a cluster against the rules of all
// its services
func (e *Engine) hcIssue(tx *storage.Tx, cluster *types.Object) (*concern.Issue, error) {
	entries, err := Current(tx, cluster.ID)
	if err != nil {
		return nil, err
	}
	placements, err := Resolve(tx, cluster, entries)
	if err != nil {
		return nil, err
	}
	services, err := storage.Services(tx, cluster.ID)
	if err != nil {
		return nil, err
	}
	v, err := checkRules(tx, cluster, placements, services)
	if err != nil || v == nil {
		return nil, err
	}

	var related []types.ObjectRef
	if v.service != nil {
		related = append(related, v.service.Ref())
	}
	if v.component != nil {
		related = append(related, v.component.Ref())
		for _, p := range placements {
			if p.Component.ID == v.component.ID {
				related = append(related, p.Host.Ref())
			}
		}
	}
	return &concern.Issue{
		Reason: types.Reason{
			Message: concern.MsgHostComponentIssue,
			Placeholder: map[string]types.Placeholder{
				"source": {Type: cluster.Type, Name: cluster.Name, IDs: map[types.ObjectType]int64{cluster.Type: cluster.ID}},
				"target": {Name: v.msg},
			},
		},
		Related: related,
	}, nil
}
