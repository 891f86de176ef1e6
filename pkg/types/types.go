package types

import (
	"fmt"
	"slices"
	"time"
)

// ObjectType is the tag of the entity sum type
type ObjectType string

const (
	ObjectADCM      ObjectType = "adcm"
	ObjectCluster   ObjectType = "cluster"
	ObjectService   ObjectType = "service"
	ObjectComponent ObjectType = "component"
	ObjectProvider  ObjectType = "provider"
	ObjectHost      ObjectType = "host"
)

// ObjectTypes lists every entity kind in hierarchy order
var ObjectTypes = []ObjectType{
	ObjectADCM,
	ObjectCluster,
	ObjectService,
	ObjectComponent,
	ObjectProvider,
	ObjectHost,
}

// Valid reports whether t is a known entity kind
func (t ObjectType) Valid() bool {
	return slices.Contains(ObjectTypes, t)
}

// StateCreated is the state every new entity starts in.
// StateLocked is reserved: it is reported while a job lock is held and can
// never be assigned by an action outcome.
const (
	StateCreated = "created"
	StateLocked  = "locked"
)

// ObjectRef is a polymorphic (kind, id) pointer to an entity
type ObjectRef struct {
	Type ObjectType `json:"type"`
	ID   int64      `json:"id"`
}

// Ref builds an ObjectRef
func Ref(t ObjectType, id int64) ObjectRef {
	return ObjectRef{Type: t, ID: id}
}

// IsZero reports whether the ref points nowhere
func (r ObjectRef) IsZero() bool {
	return r.ID == 0
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s #%d", r.Type, r.ID)
}

// Object is the shared core of ADCM, Cluster, Service, Component,
// HostProvider and Host. The Type field selects the variant; the parent
// links that are meaningful for that variant are set, the others stay zero.
type Object struct {
	ID          int64
	Type        ObjectType
	PrototypeID int64
	Name        string // cluster/service/component/provider name, host fqdn
	Description string
	ConfigID    int64 // ObjectConfig id, 0 when the prototype has no config
	State       string
	MultiState  []string

	ClusterID  int64 // service, component, host (0 if host is free)
	ServiceID  int64 // component
	ProviderID int64 // host

	BeforeUpgrade *BeforeUpgrade `json:",omitempty"`
	CreatedAt     time.Time
}

// BeforeUpgrade keeps what an entity looked like before its last upgrade
type BeforeUpgrade struct {
	PrototypeID int64
	State       string
}

// Ref returns the polymorphic pointer to the object
func (o *Object) Ref() ObjectRef {
	return ObjectRef{Type: o.Type, ID: o.ID}
}

func (o *Object) String() string {
	return fmt.Sprintf("%s #%d \"%s\"", o.Type, o.ID, o.Name)
}

// FQDN returns the host name; only meaningful for hosts
func (o *Object) FQDN() string {
	return o.Name
}

// HasMultiState reports whether the named flag is set
func (o *Object) HasMultiState(name string) bool {
	return slices.Contains(o.MultiState, name)
}

// ObjectConfig holds the two version pointers into the ConfigLog chain
type ObjectConfig struct {
	ID       int64
	Current  int64
	Previous int64
	Owner    ObjectRef // entity or group config the chain belongs to
	GroupID  int64     // set when the chain belongs to a GroupConfig
}

// ConfigLog is one immutable configuration version
type ConfigLog struct {
	ID          int64
	ObjConfID   int64
	Config      map[string]any
	Attr        map[string]any
	Description string
	Date        time.Time
}

// Normalize restores integer values after a JSON round trip
func (c *ConfigLog) Normalize() {
	c.Config = NormalizeMap(c.Config)
	c.Attr = NormalizeMap(c.Attr)
}

// GroupConfig overlays configuration onto a subset of the owner's hosts
type GroupConfig struct {
	ID          int64
	Owner       ObjectRef
	Name        string
	Description string
	ConfigID    int64
	HostIDs     []int64
}

// HasHost reports group membership
func (g *GroupConfig) HasHost(hostID int64) bool {
	return slices.Contains(g.HostIDs, hostID)
}

// HostComponent places a component on a host
type HostComponent struct {
	ID          int64
	ClusterID   int64
	HostID      int64
	ServiceID   int64
	ComponentID int64
}

// HCKey identifies a placement independent of the row id
type HCKey struct {
	HostID      int64
	ServiceID   int64
	ComponentID int64
}

// Key returns the placement key of the row
func (hc *HostComponent) Key() HCKey {
	return HCKey{HostID: hc.HostID, ServiceID: hc.ServiceID, ComponentID: hc.ComponentID}
}

// ClusterBind is a directional import edge. ServiceID and SourceServiceID
// are zero for cluster-level granularity.
type ClusterBind struct {
	ID              int64
	ClusterID       int64
	ServiceID       int64
	SourceClusterID int64
	SourceServiceID int64
}
