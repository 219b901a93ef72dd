package policy

import (
	"github.com/openfroyo/installengine/pkg/engine"
)

// Input is the document policies are evaluated against.
type Input struct {
	Product       engine.Product    `json:"product"`
	Properties    map[string]string `json:"properties"`
	Features      []FeatureInput    `json:"features"`
	Components    []ComponentInput  `json:"components"`
	FullUninstall bool              `json:"full_uninstall"`
}

// FeatureInput is the policy view of a feature.
type FeatureInput struct {
	Name       string              `json:"name"`
	Parent     string              `json:"parent,omitempty"`
	Level      int                 `json:"level"`
	Attributes []string            `json:"attributes"`
	Installed  engine.InstallState `json:"installed"`
	Request    engine.InstallState `json:"request"`
	Action     engine.InstallState `json:"action"`
	Components []string            `json:"components"`
}

// ComponentInput is the policy view of a component.
type ComponentInput struct {
	Name       string              `json:"name"`
	Attributes []string            `json:"attributes"`
	Disabled   bool                `json:"disabled"`
	ForceLocal bool                `json:"force_local"`
	Installed  engine.InstallState `json:"installed"`
	Request    engine.InstallState `json:"request"`
	Action     engine.InstallState `json:"action"`
	Features   []string            `json:"features"`
	Size       int64               `json:"size"`
}

// NewInput captures the current state of pkg.
func NewInput(pkg *engine.Package) *Input {
	in := &Input{
		Product:       pkg.Product,
		Properties:    pkg.Properties.Snapshot(),
		Features:      make([]FeatureInput, 0, pkg.Features.Len()),
		Components:    make([]ComponentInput, len(pkg.Components)),
		FullUninstall: pkg.FullUninstall(),
	}

	for i, c := range pkg.Components {
		var size int64
		for _, f := range c.Files {
			size += f.Size
		}
		in.Components[i] = ComponentInput{
			Name:       c.Name,
			Attributes: nonNil(c.Attributes.Names()),
			Disabled:   c.Disabled,
			ForceLocal: c.ForceLocalState,
			Installed:  c.Installed,
			Request:    c.ActionRequest,
			Action:     c.Action,
			Features:   []string{},
			Size:       size,
		}
	}

	pkg.Features.Walk(func(_ int, f *engine.Feature) {
		parent := ""
		if f.Parent >= 0 {
			parent = pkg.Features.At(f.Parent).Name
		}
		components := make([]string, 0, len(f.Components))
		for _, ci := range f.Components {
			components = append(components, pkg.Components[ci].Name)
			in.Components[ci].Features = append(in.Components[ci].Features, f.Name)
		}
		in.Features = append(in.Features, FeatureInput{
			Name:       f.Name,
			Parent:     parent,
			Level:      f.Level,
			Attributes: nonNil(f.Attributes.Names()),
			Installed:  f.Installed,
			Request:    f.ActionRequest,
			Action:     f.Action,
			Components: components,
		})
	})

	return in
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
