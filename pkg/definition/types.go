package definition

import (
	"fmt"
	"strings"

	"github.com/openfroyo/installengine/pkg/actions"
	"github.com/openfroyo/installengine/pkg/customaction"
	"github.com/openfroyo/installengine/pkg/engine"
	"github.com/openfroyo/installengine/pkg/media"
)

// Definition is a complete package definition.
type Definition struct {
	// Product identifies what is being installed.
	Product Product `json:"product"`

	// Properties are the default property values, in declaration order.
	Properties []Property `json:"-"`

	// Features are the feature tree entries.
	Features []Feature `json:"features" validate:"required,min=1,dive"`

	// Components are the installable components.
	Components []Component `json:"components,omitempty" validate:"dive"`

	// Sequences are the UI and execute sequence tables.
	Sequences Sequences `json:"sequences"`

	// LaunchConditions must hold for the install to start.
	LaunchConditions []actions.LaunchCondition `json:"launch_conditions,omitempty"`

	// CustomActions are package-defined actions.
	CustomActions []customaction.Definition `json:"custom_actions,omitempty" validate:"dive"`

	// Dialogs are shown by the UI sequence.
	Dialogs []Dialog `json:"dialogs,omitempty" validate:"dive"`

	// Media describes the installation source. Nil means every file is
	// assumed streamable.
	Media *media.Config `json:"media,omitempty"`

	// Source is the file the definition was loaded from.
	Source string `json:"-"`
}

// Product identifies the product.
type Product struct {
	Name         string `json:"name" validate:"required"`
	Version      string `json:"version" validate:"required"`
	Manufacturer string `json:"manufacturer,omitempty"`
	ProductCode  string `json:"product_code,omitempty"`
}

// Property is a default property value.
type Property struct {
	Name  string
	Value string
}

// Feature describes one feature.
type Feature struct {
	Name       string   `json:"name" validate:"required"`
	Title      string   `json:"title,omitempty"`
	Parent     string   `json:"parent,omitempty"`
	Level      int      `json:"level" validate:"gte=0"`
	Attributes []string `json:"attributes,omitempty" validate:"dive,oneof=favor_source favor_advertise ui_disallow_absent"`
	Components []string `json:"components,omitempty"`
	Installed  string   `json:"installed,omitempty" validate:"omitempty,oneof=absent local source advertised default"`
	Request    string   `json:"request,omitempty" validate:"omitempty,oneof=absent local source advertised default"`
}

// Component describes one component.
type Component struct {
	Name       string        `json:"name" validate:"required"`
	Directory  string        `json:"directory,omitempty"`
	Condition  string        `json:"condition,omitempty"`
	Attributes []string      `json:"attributes,omitempty" validate:"dive,oneof=source_only optional registry_key_path shared_dll_refcount permanent odbc_data_source"`
	Files      []engine.File `json:"files,omitempty"`
	Installed  string        `json:"installed,omitempty" validate:"omitempty,oneof=absent local source advertised default"`
	Request    string        `json:"request,omitempty" validate:"omitempty,oneof=absent local source advertised default"`
}

// Sequences holds both sequence tables.
type Sequences struct {
	UI      []engine.SequenceEntry `json:"ui,omitempty"`
	Execute []engine.SequenceEntry `json:"execute"`
}

// Dialog is a prompt shown during the UI sequence.
type Dialog struct {
	Name   string        `json:"name" validate:"required"`
	Title  string        `json:"title,omitempty"`
	Text   string        `json:"text,omitempty"`
	Fields []DialogField `json:"fields,omitempty" validate:"dive"`
}

// DialogField asks for one property value.
type DialogField struct {
	Property string `json:"property" validate:"required"`
	Prompt   string `json:"prompt,omitempty"`
}

func (f Feature) spec() (engine.FeatureSpec, error) {
	var attrs engine.FeatureAttributes
	for _, name := range f.Attributes {
		a, err := engine.ParseFeatureAttribute(name)
		if err != nil {
			return engine.FeatureSpec{}, fmt.Errorf("feature %s: %w", f.Name, err)
		}
		attrs |= a
	}
	installed, err := parseState(f.Installed)
	if err != nil {
		return engine.FeatureSpec{}, fmt.Errorf("feature %s: %w", f.Name, err)
	}
	request, err := parseState(f.Request)
	if err != nil {
		return engine.FeatureSpec{}, fmt.Errorf("feature %s: %w", f.Name, err)
	}

	return engine.FeatureSpec{
		Name:       f.Name,
		Title:      f.Title,
		Parent:     f.Parent,
		Level:      f.Level,
		Attributes: attrs,
		Components: append([]string(nil), f.Components...),
		Installed:  installed,
		Request:    request,
	}, nil
}

func (c Component) component() (engine.Component, error) {
	var attrs engine.ComponentAttributes
	for _, name := range c.Attributes {
		a, err := engine.ParseComponentAttribute(name)
		if err != nil {
			return engine.Component{}, fmt.Errorf("component %s: %w", c.Name, err)
		}
		attrs |= a
	}
	installed, err := parseState(c.Installed)
	if err != nil {
		return engine.Component{}, fmt.Errorf("component %s: %w", c.Name, err)
	}
	request, err := parseState(c.Request)
	if err != nil {
		return engine.Component{}, fmt.Errorf("component %s: %w", c.Name, err)
	}

	return engine.Component{
		Name:          c.Name,
		Directory:     c.Directory,
		Condition:     c.Condition,
		Attributes:    attrs,
		Files:         append([]engine.File(nil), c.Files...),
		Installed:     installed,
		ActionRequest: request,
	}, nil
}

func parseState(s string) (engine.InstallState, error) {
	if s == "" {
		return engine.StateUnknown, nil
	}
	state := engine.InstallState(strings.ToLower(s))
	if err := state.Validate(); err != nil {
		return "", err
	}
	return state, nil
}
