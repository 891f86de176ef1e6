package types

// LicenseStatus tracks whether a bundle license has been accepted
type LicenseStatus string

const (
	LicenseAbsent     LicenseStatus = "absent"
	LicenseUnaccepted LicenseStatus = "unaccepted"
	LicenseAccepted   LicenseStatus = "accepted"
)

// Bundle is a versioned package of prototypes identified by content hash
type Bundle struct {
	ID          int64
	Name        string
	Version     string
	Edition     string
	Hash        string
	Description string
	License     LicenseStatus
}

// Prototype is an immutable type descriptor loaded from a bundle
type Prototype struct {
	ID             int64
	BundleID       int64
	Type           ObjectType
	ParentID       int64 // service prototype of a component prototype
	Name           string
	DisplayName    string
	Version        string
	Edition        string
	Description    string
	Path           string // directory inside the bundle the prototype was declared in
	Required       bool   // service must be present in every cluster of the bundle
	Shared         bool   // service may be added to clusters of other bundles
	Constraint     []string
	Requires       []Requirement
	BoundTo        *BoundTo `json:",omitempty"`
	Monitoring     string   // "active" or "passive"
	MinADCMVersion string
	License        LicenseStatus

	// ConfigGroupCustomization is the prototype-wide default for fields
	// that do not declare group_customization themselves.
	ConfigGroupCustomization bool
}

// Requirement names a service (and optionally a component) that must be present
type Requirement struct {
	Service   string
	Component string `json:",omitempty"`
}

// BoundTo names the component a component must share every host with
type BoundTo struct {
	Service   string
	Component string
}

// FieldType is the type of a prototype config row
type FieldType string

const (
	FieldInteger   FieldType = "integer"
	FieldFloat     FieldType = "float"
	FieldString    FieldType = "string"
	FieldText      FieldType = "text"
	FieldPassword  FieldType = "password"
	FieldBoolean   FieldType = "boolean"
	FieldOption    FieldType = "option"
	FieldFile      FieldType = "file"
	FieldJSON      FieldType = "json"
	FieldList      FieldType = "list"
	FieldMap       FieldType = "map"
	FieldStructure FieldType = "structure"
	FieldVariant   FieldType = "variant"
	FieldGroup     FieldType = "group"
)

// IsComplex reports field types whose values are lists or maps
func (t FieldType) IsComplex() bool {
	switch t {
	case FieldJSON, FieldList, FieldMap, FieldStructure:
		return true
	}
	return false
}

// PrototypeConfig is one (name, subname) row of a config spec. ActionID is
// set for rows that belong to an action's own config.
type PrototypeConfig struct {
	ID                 int64
	PrototypeID        int64
	ActionID           int64
	Name               string
	Subname            string
	DisplayName        string
	Description        string
	Type               FieldType
	Default            any
	Limits             Limits
	Required           bool
	GroupCustomization *bool          `json:",omitempty"`
	UIOptions          map[string]any `json:",omitempty"`
}

// Normalize restores integer values after a JSON round trip
func (c *PrototypeConfig) Normalize() {
	c.Default = Normalize(c.Default)
	c.Limits.Option = NormalizeMap(c.Limits.Option)
	c.Limits.YSpec = NormalizeMap(c.Limits.YSpec)
	if c.Limits.Source != nil {
		c.Limits.Source.Value = Normalize(c.Limits.Source.Value)
	}
}

// Limits carries the type-specific constraints of a config row
type Limits struct {
	Min *float64 `json:",omitempty"`
	Max *float64 `json:",omitempty"`

	Option map[string]any `json:",omitempty"` // label -> value

	// ReadOnly is either "any" or a list of states; Writable lists the
	// states in which the field may change.
	ReadOnly    []string `json:",omitempty"`
	ReadOnlyAny bool     `json:",omitempty"`
	Writable    []string `json:",omitempty"`

	Activatable bool `json:",omitempty"`
	Active      bool `json:",omitempty"`

	Source *VariantSource `json:",omitempty"`
	YSpec  map[string]any `json:",omitempty"`
}

// VariantSource tells where the allowed values of a variant field come from
type VariantSource struct {
	Type   string // inline, builtin, config
	Strict bool
	Value  any    `json:",omitempty"` // inline list
	Name   string `json:",omitempty"` // builtin function or config key "name/subname"
}

// ActionType distinguishes single-script actions from multi-step ones
type ActionType string

const (
	ActionJob  ActionType = "job"
	ActionTask ActionType = "task"
)

// ScriptType selects how a job script is executed
type ScriptType string

const (
	ScriptAnsible ScriptType = "ansible"
	ScriptPython  ScriptType = "python"
)

// Action is a declarative operation exposed by a prototype
type Action struct {
	ID          int64
	PrototypeID int64
	Name        string
	DisplayName string
	Description string
	Type        ActionType
	Script      string
	ScriptType  ScriptType
	Params      map[string]any `json:",omitempty"`
	LogFiles    []string       `json:",omitempty"`

	StateAvailable           []string `json:",omitempty"`
	StateAvailableAny        bool     `json:",omitempty"`
	StateUnavailable         []string `json:",omitempty"`
	MultiStateAvailable      []string `json:",omitempty"`
	MultiStateAvailableAny   bool     `json:",omitempty"`
	MultiStateUnavailable    []string `json:",omitempty"`
	StateOnSuccess           string   `json:",omitempty"`
	StateOnFail              string   `json:",omitempty"`
	MultiStateOnSuccessSet   []string `json:",omitempty"`
	MultiStateOnSuccessUnset []string `json:",omitempty"`
	MultiStateOnFailSet      []string `json:",omitempty"`
	MultiStateOnFailUnset    []string `json:",omitempty"`

	HostComponentMap []HCAction `json:",omitempty"`
	AllowToTerminate bool
}

// Normalize restores integer values after a JSON round trip
func (a *Action) Normalize() {
	a.Params = NormalizeMap(a.Params)
}

// HCActionKind is the permitted direction of a host-component delta
type HCActionKind string

const (
	HCAdd    HCActionKind = "add"
	HCRemove HCActionKind = "remove"
)

// HCAction allows an action to add or remove a component placement
type HCAction struct {
	Service   string
	Component string
	Action    HCActionKind
}

// SubAction is one ordered step of a multi-step action
type SubAction struct {
	ID                    int64
	ActionID              int64
	Name                  string
	DisplayName           string
	Script                string
	ScriptType            ScriptType
	Params                map[string]any `json:",omitempty"`
	StateOnFail           string         `json:",omitempty"`
	MultiStateOnFailSet   []string       `json:",omitempty"`
	MultiStateOnFailUnset []string       `json:",omitempty"`
}

// Normalize restores integer values after a JSON round trip
func (s *SubAction) Normalize() {
	s.Params = NormalizeMap(s.Params)
}

// VersionRange is an inclusive-or-strict [min, max] version window.
// Empty bounds are open.
type VersionRange struct {
	Min       string `json:",omitempty"`
	Max       string `json:",omitempty"`
	MinStrict bool   `json:",omitempty"`
	MaxStrict bool   `json:",omitempty"`
}

// Upgrade is a prototype-swap transition offered by a bundle
type Upgrade struct {
	ID                int64
	BundleID          int64
	Name              string
	Description       string
	Versions          VersionRange
	FromEdition       []string
	StateAvailable    []string
	StateAvailableAny bool
	StateOnSuccess    string
}

// PrototypeImport declares that a prototype consumes exported config groups
type PrototypeImport struct {
	ID            int64
	PrototypeID   int64
	Name          string // prototype name of the exporter
	Versions      VersionRange
	Required      bool
	Multibind     bool
	DefaultGroups []string // own config groups used while unbound
}

// PrototypeExport names a config group a prototype shares with importers
type PrototypeExport struct {
	ID          int64
	PrototypeID int64
	Name        string
}
