package engine

import (
	"fmt"
	"strings"
)

// FeatureTree is an arena of features linked by parent and child indices.
// Features keep declaration order, which is also the resolution order.
type FeatureTree struct {
	features []Feature
	index    map[string]int
}

// NewFeatureTree places specs into an arena. components maps component names
// to their index in the package component list; every member a feature names
// must be present. Parents may be declared after their children.
func NewFeatureTree(specs []FeatureSpec, components map[string]int) (*FeatureTree, error) {
	t := &FeatureTree{
		features: make([]Feature, 0, len(specs)),
		index:    make(map[string]int, len(specs)),
	}

	// First pass: index all features
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, NewError(CodeInstallFailure, "feature has empty name", nil)
		}
		if _, exists := t.index[spec.Name]; exists {
			return nil, NewError(CodeInstallFailure, fmt.Sprintf("duplicate feature: %s", spec.Name), nil)
		}

		f := Feature{
			Name:          spec.Name,
			Title:         spec.Title,
			Parent:        -1,
			Level:         spec.Level,
			Attributes:    spec.Attributes,
			Installed:     orUnknown(spec.Installed),
			ActionRequest: orUnknown(spec.Request),
			Action:        StateUnknown,
		}
		for _, name := range spec.Components {
			ci, ok := components[name]
			if !ok {
				return nil, NewError(CodeInstallFailure,
					fmt.Sprintf("feature %s references unknown component %s", spec.Name, name), nil)
			}
			f.Components = append(f.Components, ci)
		}

		t.index[spec.Name] = len(t.features)
		t.features = append(t.features, f)
	}

	// Second pass: link parents and children
	for i, spec := range specs {
		if spec.Parent == "" {
			continue
		}
		pi, ok := t.index[spec.Parent]
		if !ok {
			return nil, NewError(CodeInstallFailure,
				fmt.Sprintf("feature %s has unknown parent %s", spec.Name, spec.Parent), nil)
		}
		t.features[i].Parent = pi
		t.features[pi].Children = append(t.features[pi].Children, i)
	}

	if err := t.detectCycles(); err != nil {
		return nil, err
	}

	return t, nil
}

// detectCycles walks each feature's parent chain. Every feature has at most one
// parent, so a chain longer than the arena must loop.
func (t *FeatureTree) detectCycles() error {
	for i := range t.features {
		path := []string{t.features[i].Name}
		for p, steps := t.features[i].Parent, 0; p >= 0; p, steps = t.features[p].Parent, steps+1 {
			path = append(path, t.features[p].Name)
			if p == i || steps > len(t.features) {
				return NewError(CodeInstallFailure,
					fmt.Sprintf("circular feature parent chain detected: %s", strings.Join(path, " -> ")), nil)
			}
		}
	}
	return nil
}

// Len returns the number of features.
func (t *FeatureTree) Len() int {
	return len(t.features)
}

// At returns the feature at arena index i.
func (t *FeatureTree) At(i int) *Feature {
	return &t.features[i]
}

// Index returns the arena index of the named feature.
func (t *FeatureTree) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Get returns the named feature.
func (t *FeatureTree) Get(name string) (*Feature, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return &t.features[i], true
}

// Roots returns the indices of features without a parent, in declaration order.
func (t *FeatureTree) Roots() []int {
	var roots []int
	for i := range t.features {
		if t.features[i].Parent < 0 {
			roots = append(roots, i)
		}
	}
	return roots
}

// Walk calls fn for every feature in declaration order.
func (t *FeatureTree) Walk(fn func(i int, f *Feature)) {
	for i := range t.features {
		fn(i, &t.features[i])
	}
}

func orUnknown(s InstallState) InstallState {
	if s == "" {
		return StateUnknown
	}
	return s
}
