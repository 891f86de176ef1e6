package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/adcm/pkg/types"
	"gopkg.in/yaml.v3"
)

// DefinitionFile is the file a bundle directory declares its prototypes in
const DefinitionFile = "config.yaml"

// Bundle is a decoded bundle definition: its prototypes plus the content
// hash that names its directory under data/bundle
type Bundle struct {
	Hash       string
	Prototypes []PrototypeDef
}

// PrototypeDef is one top-level prototype of a bundle definition.
// Components of a service are declared inline.
type PrototypeDef struct {
	Type                     types.ObjectType        `yaml:"type"`
	Name                     string                  `yaml:"name"`
	DisplayName              string                  `yaml:"display_name"`
	Version                  string                  `yaml:"version"`
	Edition                  string                  `yaml:"edition"`
	Description              string                  `yaml:"description"`
	License                  string                  `yaml:"license"`
	Required                 bool                    `yaml:"required"`
	Shared                   bool                    `yaml:"shared"`
	Monitoring               string                  `yaml:"monitoring"`
	MinADCMVersion           string                  `yaml:"adcm_min_version"`
	ConfigGroupCustomization bool                    `yaml:"config_group_customization"`
	Path                     string                  `yaml:"path"`
	Constraint               []any                   `yaml:"constraint"`
	Requires                 []types.Requirement     `yaml:"requires"`
	BoundTo                  *types.BoundTo          `yaml:"bound_to"`
	Config                   []ConfigDef             `yaml:"config"`
	Actions                  map[string]ActionDef    `yaml:"actions"`
	Components               map[string]PrototypeDef `yaml:"components"`
	Upgrade                  []UpgradeDef            `yaml:"upgrade"`
	Import                   map[string]ImportDef    `yaml:"import"`
	Export                   []string                `yaml:"export"`
}

// ConfigDef is one config field; groups carry their members in Subs
type ConfigDef struct {
	Name               string          `yaml:"name"`
	DisplayName        string          `yaml:"display_name"`
	Description        string          `yaml:"description"`
	Type               types.FieldType `yaml:"type"`
	Default            any             `yaml:"default"`
	Required           bool            `yaml:"required"`
	Min                *float64        `yaml:"min"`
	Max                *float64        `yaml:"max"`
	Option             map[string]any  `yaml:"option"`
	ReadOnly           any             `yaml:"read_only"`
	Writable           []string        `yaml:"writable"`
	Activatable        bool            `yaml:"activatable"`
	Active             bool            `yaml:"active"`
	Source             *SourceDef      `yaml:"source"`
	YSpec              map[string]any  `yaml:"yspec"`
	GroupCustomization *bool           `yaml:"group_customization"`
	UIOptions          map[string]any  `yaml:"ui_options"`
	Subs               []ConfigDef     `yaml:"subs"`
}

// SourceDef is where a variant field takes its values from
type SourceDef struct {
	Type   string `yaml:"type"`
	Strict *bool  `yaml:"strict"`
	Value  any    `yaml:"value"`
	Name   string `yaml:"name"`
}

// ActionDef declares an action; task actions list their steps in Scripts
type ActionDef struct {
	DisplayName      string           `yaml:"display_name"`
	Description      string           `yaml:"description"`
	Type             types.ActionType `yaml:"type"`
	Script           string           `yaml:"script"`
	ScriptType       types.ScriptType `yaml:"script_type"`
	Params           map[string]any   `yaml:"params"`
	LogFiles         []string         `yaml:"log_files"`
	States           *StatesDef       `yaml:"states"`
	Masking          *MaskingDef      `yaml:"masking"`
	OnSuccess        *OutcomeDef      `yaml:"on_success"`
	OnFail           *OutcomeDef      `yaml:"on_fail"`
	HCACL            []types.HCAction `yaml:"hc_acl"`
	AllowToTerminate bool             `yaml:"allow_to_terminate"`
	Config           []ConfigDef      `yaml:"config"`
	Scripts          []ScriptDef      `yaml:"scripts"`
}

// StatesDef is the short form of availability and outcome states
type StatesDef struct {
	Available any    `yaml:"available"`
	OnSuccess string `yaml:"on_success"`
	OnFail    string `yaml:"on_fail"`
}

// MaskingDef gates an action on state and multi-state
type MaskingDef struct {
	State      *AvailabilityDef `yaml:"state"`
	MultiState *AvailabilityDef `yaml:"multi_state"`
}

// AvailabilityDef lists allowed ("any" or a list) and forbidden values
type AvailabilityDef struct {
	Available   any      `yaml:"available"`
	Unavailable []string `yaml:"unavailable"`
}

// OutcomeDef is what an action does to its target when it finishes
type OutcomeDef struct {
	State      string       `yaml:"state"`
	MultiState *MultiSetDef `yaml:"multi_state"`
}

// MultiSetDef names multi-state flags to set and unset
type MultiSetDef struct {
	Set   []string `yaml:"set"`
	Unset []string `yaml:"unset"`
}

// ScriptDef is one step of a task action
type ScriptDef struct {
	Name        string           `yaml:"name"`
	DisplayName string           `yaml:"display_name"`
	Script      string           `yaml:"script"`
	ScriptType  types.ScriptType `yaml:"script_type"`
	Params      map[string]any   `yaml:"params"`
	OnFail      *OutcomeDef      `yaml:"on_fail"`
}

// UpgradeDef declares an upgrade into the bundle
type UpgradeDef struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Versions    VersionsDef  `yaml:"versions"`
	FromEdition []string     `yaml:"from_edition"`
	States      *UpgradeSDef `yaml:"states"`
}

// UpgradeSDef is the state window and outcome of an upgrade
type UpgradeSDef struct {
	Available any    `yaml:"available"`
	OnSuccess string `yaml:"on_success"`
}

// VersionsDef is a version window; min_strict and max_strict exclude the
// bound itself
type VersionsDef struct {
	Min       string `yaml:"min"`
	Max       string `yaml:"max"`
	MinStrict string `yaml:"min_strict"`
	MaxStrict string `yaml:"max_strict"`
}

// ImportDef declares an import of an exporter's config groups
type ImportDef struct {
	Versions  VersionsDef `yaml:"versions"`
	Required  bool        `yaml:"required"`
	Multibind bool        `yaml:"multibind"`
	Default   []string    `yaml:"default"`
}

// Decode parses a bundle definition. The hash is the sha256 of data.
func Decode(data []byte) (*Bundle, error) {
	var protos []PrototypeDef
	if err := yaml.Unmarshal(data, &protos); err != nil {
		return nil, fmt.Errorf("failed to parse bundle definition: %w", err)
	}
	sum := sha256.Sum256(data)
	return &Bundle{Hash: hex.EncodeToString(sum[:]), Prototypes: protos}, nil
}

// ReadDir decodes <dir>/config.yaml
func ReadDir(dir string) (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(dir, DefinitionFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle definition: %w", err)
	}
	return Decode(data)
}
