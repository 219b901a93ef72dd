package engine

import (
	"fmt"
	"strings"
)

// SequenceEntry is one row of a sequence table.
type SequenceEntry struct {
	// Action is the name of the action to dispatch.
	Action string `json:"action" yaml:"action"`

	// Condition is an optional gate expression. Empty means always run.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Sequence orders the row. Positive values run in ascending order;
	// negative values are outcome hooks and never run in a normal pass.
	Sequence int `json:"sequence" yaml:"sequence"`
}

// Validate checks that the entry is well formed.
func (e SequenceEntry) Validate() error {
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("sequence entry %d has no action", e.Sequence)
	}
	if e.Sequence == 0 {
		return fmt.Errorf("sequence entry %s has sequence number 0", e.Action)
	}
	return nil
}

// FeatureAttributes are bit flags on a feature.
type FeatureAttributes uint16

const (
	// FeatureFavorSource selects Source as the feature's default state.
	FeatureFavorSource FeatureAttributes = 1 << iota

	// FeatureFavorAdvertise selects Advertised as the feature's default state.
	FeatureFavorAdvertise

	// FeatureUIDisallowAbsent prevents the UI from offering removal.
	FeatureUIDisallowAbsent
)

// Has reports whether all bits in flag are set.
func (a FeatureAttributes) Has(flag FeatureAttributes) bool {
	return a&flag == flag
}

var featureAttributeNames = []struct {
	flag FeatureAttributes
	name string
}{
	{FeatureFavorSource, "favor_source"},
	{FeatureFavorAdvertise, "favor_advertise"},
	{FeatureUIDisallowAbsent, "ui_disallow_absent"},
}

// Names returns the names of the set flags.
func (a FeatureAttributes) Names() []string {
	var names []string
	for _, n := range featureAttributeNames {
		if a.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return names
}

// ParseFeatureAttribute returns the flag called name.
func ParseFeatureAttribute(name string) (FeatureAttributes, error) {
	for _, n := range featureAttributeNames {
		if n.name == name {
			return n.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown feature attribute: %s", name)
}

// ComponentAttributes are bit flags on a component.
type ComponentAttributes uint16

const (
	// ComponentSourceOnly means the component can only run from source.
	ComponentSourceOnly ComponentAttributes = 1 << iota

	// ComponentOptional means the component may run from source or locally.
	ComponentOptional

	// ComponentRegistryKeyPath means the key path is a registry value.
	ComponentRegistryKeyPath

	// ComponentSharedDLLRefCount means the component increments a shared reference count.
	ComponentSharedDLLRefCount

	// ComponentPermanent means the component is never removed.
	ComponentPermanent

	// ComponentODBCDataSource means the key path is an ODBC data source.
	ComponentODBCDataSource
)

// Has reports whether all bits in flag are set.
func (a ComponentAttributes) Has(flag ComponentAttributes) bool {
	return a&flag == flag
}

var componentAttributeNames = []struct {
	flag ComponentAttributes
	name string
}{
	{ComponentSourceOnly, "source_only"},
	{ComponentOptional, "optional"},
	{ComponentRegistryKeyPath, "registry_key_path"},
	{ComponentSharedDLLRefCount, "shared_dll_refcount"},
	{ComponentPermanent, "permanent"},
	{ComponentODBCDataSource, "odbc_data_source"},
}

// Names returns the names of the set flags.
func (a ComponentAttributes) Names() []string {
	var names []string
	for _, n := range componentAttributeNames {
		if a.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return names
}

// ParseComponentAttribute returns the flag called name.
func ParseComponentAttribute(name string) (ComponentAttributes, error) {
	for _, n := range componentAttributeNames {
		if n.name == name {
			return n.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown component attribute: %s", name)
}

// FeatureSpec describes a feature before it is placed in a FeatureTree.
type FeatureSpec struct {
	// Name uniquely identifies the feature.
	Name string

	// Title is a display name.
	Title string

	// Parent is the parent feature name; empty for a root.
	Parent string

	// Level is compared against INSTALLLEVEL. Zero disables the feature.
	Level int

	// Attributes are feature flags.
	Attributes FeatureAttributes

	// Components lists member component names.
	Components []string

	// Installed is the state currently on the machine.
	Installed InstallState

	// Request is an explicit state request made before resolution.
	Request InstallState
}

// Feature is a user-selectable installation unit placed in a FeatureTree.
type Feature struct {
	// Name uniquely identifies the feature.
	Name string `json:"name"`

	// Title is a display name.
	Title string `json:"title,omitempty"`

	// Parent is the arena index of the parent feature, or -1 for a root.
	Parent int `json:"parent"`

	// Children are arena indices of direct child features.
	Children []int `json:"children,omitempty"`

	// Components are indices into the package component list.
	Components []int `json:"components,omitempty"`

	// Level is compared against INSTALLLEVEL. Zero disables the feature.
	Level int `json:"level"`

	// Attributes are feature flags.
	Attributes FeatureAttributes `json:"attributes"`

	// Installed is the state currently on the machine.
	Installed InstallState `json:"installed"`

	// ActionRequest is an explicit request made before resolution.
	ActionRequest InstallState `json:"action_request"`

	// Action is the resolved target state.
	Action InstallState `json:"action"`
}

// favored returns the state a feature takes when it is selected by level.
func (f *Feature) favored() InstallState {
	switch {
	case f.Attributes.Has(FeatureFavorSource):
		return StateSource
	case f.Attributes.Has(FeatureFavorAdvertise):
		return StateAdvertised
	default:
		return StateLocal
	}
}

// File is a payload file belonging to a component.
type File struct {
	// Name is the file name at the destination.
	Name string `json:"name"`

	// Source is the path of the file on the installation media.
	Source string `json:"source"`

	// Size is the uncompressed size in bytes.
	Size int64 `json:"size"`

	// Compressed means the file lives inside a cabinet and cannot run from source.
	Compressed bool `json:"compressed,omitempty"`
}

// ComponentFlags record which states a component's member features want.
// They are rebuilt by every resolution.
type ComponentFlags struct {
	AnyAbsent           bool `json:"any_absent"`
	HasLocalFeature     bool `json:"has_local_feature"`
	HasSourceFeature    bool `json:"has_source_feature"`
	HasAdvertiseFeature bool `json:"has_advertise_feature"`
}

// Component is the smallest installable unit. It may be shared by several features.
type Component struct {
	// Name uniquely identifies the component.
	Name string `json:"name"`

	// Directory is the destination directory identifier.
	Directory string `json:"directory,omitempty"`

	// Condition is evaluated during costing; false disables the component.
	Condition string `json:"condition,omitempty"`

	// Disabled is set for components excluded by their condition. Disabled
	// components are skipped by resolution.
	Disabled bool `json:"disabled,omitempty"`

	// Attributes are component flags.
	Attributes ComponentAttributes `json:"attributes"`

	// ForceLocalState is set when the source media cannot serve the component.
	ForceLocalState bool `json:"force_local_state"`

	// Files are the payload files of the component.
	Files []File `json:"files,omitempty"`

	// Installed is the state currently on the machine.
	Installed InstallState `json:"installed"`

	// ActionRequest is an explicit request made before resolution.
	ActionRequest InstallState `json:"action_request"`

	// Action is the resolved target state.
	Action InstallState `json:"action"`

	// Flags are the aggregate feature wishes from the last resolution.
	Flags ComponentFlags `json:"flags"`
}
