package engine

import (
	"fmt"

	"github.com/openfroyo/installengine/pkg/props"
)

// Product identifies the product being installed.
type Product struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Manufacturer string `json:"manufacturer,omitempty"`
	ProductCode  string `json:"product_code,omitempty"`
}

// Package is the mutable state of one installation session: properties,
// features, components, deferred scripts and the pass guard.
type Package struct {
	// Product identifies what is being installed.
	Product Product

	// Properties is the property store consulted by conditions and handlers.
	Properties *props.Store

	// Features is the feature tree.
	Features *FeatureTree

	// Components are the package components in declaration order.
	Components []Component

	// Script holds deferred actions.
	Script *Script

	componentIndex     map[string]int
	executeSequenceRun bool
}

// NewPackage validates and links features and components. A nil property
// store is replaced with an empty one.
func NewPackage(product Product, properties *props.Store, features []FeatureSpec, components []Component) (*Package, error) {
	if properties == nil {
		properties = props.New()
	}

	index := make(map[string]int, len(components))
	comps := make([]Component, len(components))
	for i, c := range components {
		if c.Name == "" {
			return nil, NewError(CodeInstallFailure, "component has empty name", nil)
		}
		if _, exists := index[c.Name]; exists {
			return nil, NewError(CodeInstallFailure, fmt.Sprintf("duplicate component: %s", c.Name), nil)
		}
		c.Installed = orUnknown(c.Installed)
		c.ActionRequest = orUnknown(c.ActionRequest)
		c.Action = StateUnknown
		c.Files = append([]File(nil), c.Files...)
		comps[i] = c
		index[c.Name] = i
	}

	tree, err := NewFeatureTree(features, index)
	if err != nil {
		return nil, err
	}

	return &Package{
		Product:        product,
		Properties:     properties,
		Features:       tree,
		Components:     comps,
		Script:         NewScript(),
		componentIndex: index,
	}, nil
}

// Component returns the named component.
func (p *Package) Component(name string) (*Component, bool) {
	i, ok := p.componentIndex[name]
	if !ok {
		return nil, false
	}
	return &p.Components[i], true
}

// Feature returns the named feature.
func (p *Package) Feature(name string) (*Feature, bool) {
	return p.Features.Get(name)
}

// ApplyResolution writes resolved actions and component flags back into the
// package. Disabled components keep their previous state.
func (p *Package) ApplyResolution(res *Resolution) {
	p.Features.Walk(func(_ int, f *Feature) {
		if state, ok := res.Features[f.Name]; ok {
			f.Action = state
		}
	})
	for i := range p.Components {
		c := &p.Components[i]
		r, ok := res.Components[c.Name]
		if !ok || r.Skipped {
			continue
		}
		c.Action = r.Action
		c.Flags = r.Flags
	}
}

// FullUninstall reports whether every feature resolved to Absent.
func (p *Package) FullUninstall() bool {
	if p.Features.Len() == 0 {
		return false
	}
	all := true
	p.Features.Walk(func(_ int, f *Feature) {
		if f.Action != StateAbsent {
			all = false
		}
	})
	return all
}

// ExecuteSequenceRan reports whether the execute sequence has been entered.
func (p *Package) ExecuteSequenceRan() bool {
	return p.executeSequenceRun
}

// markExecuteSequenceRun sets the execute guard, returning false if it was already set.
func (p *Package) markExecuteSequenceRun() bool {
	if p.executeSequenceRun {
		return false
	}
	p.executeSequenceRun = true
	return true
}
