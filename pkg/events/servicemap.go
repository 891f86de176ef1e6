package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// Placement is the cluster and service of a host-component entry
type Placement struct {
	Cluster int64 `json:"cluster"`
	Service int64 `json:"service"`
}

// ServiceMap is the topology index the status server aggregates statuses
// with. Map keys are decimal ids; placement keys are "<host>.<component>".
type ServiceMap struct {
	// HostService maps a placement key to where it lives
	HostService map[string]Placement `json:"hostservice"`
	// Component lists placement keys per cluster and service
	Component map[string]map[string][]string `json:"component"`
	// Service lists actively monitored component ids per cluster and service
	Service map[string]map[string][]int64 `json:"service"`
	// Host lists actively monitored host ids per cluster, 0 for free hosts
	Host map[string][]int64 `json:"host"`
}

// PlacementKey is the service map key of a host-component entry
func PlacementKey(hostID, componentID int64) string {
	return fmt.Sprintf("%d.%d", hostID, componentID)
}

func key(id int64) string { return strconv.FormatInt(id, 10) }

// BuildServiceMap computes the service map from the store. Entries of
// passively monitored services and components, and components of passive
// services, are left out.
func BuildServiceMap(tx *storage.Tx) (*ServiceMap, error) {
	m := &ServiceMap{
		HostService: map[string]Placement{},
		Component:   map[string]map[string][]string{},
		Service:     map[string]map[string][]int64{},
		Host:        map[string][]int64{},
	}

	protos := map[int64]*types.Prototype{}
	active := func(obj *types.Object) (bool, error) {
		p, ok := protos[obj.PrototypeID]
		if !ok {
			var err error
			if p, err = storage.PrototypeOf(tx, obj); err != nil {
				return false, err
			}
			protos[obj.PrototypeID] = p
		}
		return p.Monitoring != "passive", nil
	}

	passive := map[types.ObjectType]map[int64]bool{
		types.ObjectService:   {},
		types.ObjectComponent: {},
	}
	for _, kind := range []types.ObjectType{types.ObjectService, types.ObjectComponent} {
		objs, err := storage.ListObjects(tx, kind, nil)
		if err != nil {
			return nil, err
		}
		for _, obj := range objs {
			ok, err := active(obj)
			if err != nil {
				return nil, err
			}
			if !ok || (kind == types.ObjectComponent && passive[types.ObjectService][obj.ServiceID]) {
				passive[kind][obj.ID] = true
				continue
			}
			if kind == types.ObjectComponent {
				c, s := key(obj.ClusterID), key(obj.ServiceID)
				if m.Service[c] == nil {
					m.Service[c] = map[string][]int64{}
				}
				m.Service[c][s] = append(m.Service[c][s], obj.ID)
			}
		}
	}

	hcs, err := storage.HostComponents.List(tx, nil)
	if err != nil {
		return nil, err
	}
	for _, hc := range hcs {
		if passive[types.ObjectService][hc.ServiceID] || passive[types.ObjectComponent][hc.ComponentID] {
			continue
		}
		pk := PlacementKey(hc.HostID, hc.ComponentID)
		m.HostService[pk] = Placement{Cluster: hc.ClusterID, Service: hc.ServiceID}
		c, s := key(hc.ClusterID), key(hc.ServiceID)
		if m.Component[c] == nil {
			m.Component[c] = map[string][]string{}
		}
		m.Component[c][s] = append(m.Component[c][s], pk)
	}

	hosts, err := storage.ListObjects(tx, types.ObjectHost, nil)
	if err != nil {
		return nil, err
	}
	for _, h := range hosts {
		ok, err := active(h)
		if err != nil {
			return nil, err
		}
		if ok {
			c := key(h.ClusterID)
			m.Host[c] = append(m.Host[c], h.ID)
		}
	}
	return m, nil
}

// AffectsServiceMap reports whether an event changes the topology the
// service map is built from
func AffectsServiceMap(ev *types.Event) bool {
	switch ev.Event {
	case types.EventChangeHostComponentMap, types.EventAdd, types.EventRemove:
		return true
	case types.EventCreate, types.EventDelete:
		switch types.ObjectType(ev.Object.Type) {
		case types.ObjectCluster, types.ObjectService, types.ObjectComponent, types.ObjectHost:
			return true
		}
	}
	return false
}

// ServiceMapPusher watches the broker and pushes a fresh service map after
// topology changes. Bursts of events within the debounce window result in
// one push.
type ServiceMapPusher struct {
	store    *storage.Store
	client   *StatusClient
	broker   *Broker
	debounce time.Duration
	logger   zerolog.Logger
}

// NewServiceMapPusher creates a pusher
func NewServiceMapPusher(store *storage.Store, client *StatusClient, broker *Broker, debounce time.Duration) *ServiceMapPusher {
	return &ServiceMapPusher{
		store:    store,
		client:   client,
		broker:   broker,
		debounce: debounce,
		logger:   logger().With().Str("sub", "servicemap").Logger(),
	}
}

// Push builds and sends the service map once
func (p *ServiceMapPusher) Push(ctx context.Context) error {
	var m *ServiceMap
	if err := p.store.View(func(tx *storage.Tx) error {
		var err error
		m, err = BuildServiceMap(tx)
		return err
	}); err != nil {
		return fmt.Errorf("failed to build service map: %w", err)
	}
	if err := p.client.PostServiceMap(ctx, m); err != nil {
		return fmt.Errorf("failed to push service map: %w", err)
	}
	p.logger.Debug().Int("placements", len(m.HostService)).Msg("service map pushed")
	return nil
}

// Run pushes the map at start and after every topology change until ctx is
// cancelled
func (p *ServiceMapPusher) Run(ctx context.Context) error {
	sub := p.broker.Subscribe(AffectsServiceMap)
	defer p.broker.Unsubscribe(sub)

	push := func() {
		if err := p.Push(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("service map not delivered")
		}
	}
	push()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-sub:
			if !ok {
				return nil
			}
			if pending == nil {
				pending = time.After(p.debounce)
			}
		case <-pending:
			pending = nil
			push()
		}
	}
}
