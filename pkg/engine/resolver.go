package engine

import (
	"github.com/openfroyo/installengine/pkg/props"
)

// Resolution is the outcome of one feature/component state resolution. It is
// computed from the package without mutating it; ApplyResolution writes it back.
type Resolution struct {
	// InstallLevel is the threshold used for level-based selection.
	InstallLevel int `json:"install_level"`

	// OverrideMode is true when any of ADDLOCAL, REMOVE, ADDSOURCE or
	// REINSTALL was set and level-based selection was skipped.
	OverrideMode bool `json:"override_mode"`

	// Features maps feature names to their resolved action.
	Features map[string]InstallState `json:"features"`

	// Components maps component names to their resolved action and flags.
	Components map[string]ComponentResolution `json:"components"`
}

// ComponentResolution is the resolved state of one component.
type ComponentResolution struct {
	Action  InstallState   `json:"action"`
	Flags   ComponentFlags `json:"flags"`
	Skipped bool           `json:"skipped,omitempty"`
}

// overrides are applied in this order; a feature named by several takes the last.
var overrides = []struct {
	property string
	state    InstallState
}{
	{props.AddLocal, StateLocal},
	{props.Remove, StateAbsent},
	{props.AddSource, StateSource},
	{props.Reinstall, StateLocal},
}

const overrideAll = "ALL"

// Resolve decides the target action of every feature and component.
//
// Features are selected either by explicit override properties or, when none
// is set, by comparing each feature's Level with INSTALLLEVEL (default 1).
// In override mode only the named features are touched and every other
// feature stays Unknown, whatever its request. In level mode the explicit
// requests are kept, and the direct children of a feature that is disabled
// (Level 0) or above the threshold are reset to Unknown. A disabled feature
// is never selected in either mode. Components then take
// the strongest state wanted by any of their features, with Local beating
// Source beating Advertised beating Absent. A feature that would run a
// ForceLocalState component from source is promoted to Local first.
func Resolve(pkg *Package) *Resolution {
	tree := pkg.Features
	n := tree.Len()

	res := &Resolution{
		InstallLevel: pkg.Properties.Int(props.InstallLevel, 1),
		Features:     make(map[string]InstallState, n),
		Components:   make(map[string]ComponentResolution, len(pkg.Components)),
	}

	for _, o := range overrides {
		if pkg.Properties.Has(o.property) {
			res.OverrideMode = true
			break
		}
	}

	actions := make([]InstallState, n)
	for i := range actions {
		actions[i] = StateUnknown
	}
	if res.OverrideMode {
		for _, o := range overrides {
			applyOverride(tree, actions, pkg.Properties.List(o.property), o.state)
		}
	} else {
		tree.Walk(func(i int, f *Feature) {
			switch f.ActionRequest {
			case StateLocal, StateSource, StateAbsent, StateAdvertised, StateDefault:
				actions[i] = f.ActionRequest
			}
			if f.Level > 0 && f.Level <= res.InstallLevel && actions[i] == StateUnknown {
				actions[i] = f.favored()
			}
		})

		// Unselected parents reset their direct children
		tree.Walk(func(i int, f *Feature) {
			if f.Level > 0 && f.Level <= res.InstallLevel {
				return
			}
			for _, c := range f.Children {
				actions[c] = StateUnknown
			}
		})
	}

	tree.Walk(func(i int, f *Feature) {
		if f.Level <= 0 {
			actions[i] = StateUnknown
		}
	})

	// Default means the feature's favored state
	tree.Walk(func(i int, f *Feature) {
		if actions[i] == StateDefault {
			actions[i] = f.favored()
		}
	})

	flags := aggregateFlags(pkg, actions)

	// Promote features that would run a ForceLocalState component from source
	promoted := false
	tree.Walk(func(i int, f *Feature) {
		if actions[i] != StateSource {
			return
		}
		for _, ci := range f.Components {
			c := &pkg.Components[ci]
			if c.ForceLocalState && flags[ci].HasSourceFeature {
				actions[i] = StateLocal
				promoted = true
				return
			}
		}
	})
	if promoted {
		flags = aggregateFlags(pkg, actions)
	}

	tree.Walk(func(i int, f *Feature) {
		res.Features[f.Name] = actions[i]
	})

	for i := range pkg.Components {
		c := &pkg.Components[i]
		if c.Disabled {
			res.Components[c.Name] = ComponentResolution{Action: c.Action, Skipped: true}
			continue
		}
		res.Components[c.Name] = ComponentResolution{
			Action: decideComponent(c, flags[i]),
			Flags:  flags[i],
		}
	}

	return res
}

// applyOverride sets state on every feature named in names, or on all enabled
// features when names is exactly ALL. Unknown names are ignored.
func applyOverride(tree *FeatureTree, actions []InstallState, names []string, state InstallState) {
	for _, name := range names {
		if name == overrideAll {
			tree.Walk(func(i int, f *Feature) {
				if f.Level > 0 {
					actions[i] = state
				}
			})
			continue
		}
		if i, ok := tree.Index(name); ok {
			actions[i] = state
		}
	}
}

// aggregateFlags records, per component, which states its member features want.
func aggregateFlags(pkg *Package, actions []InstallState) []ComponentFlags {
	flags := make([]ComponentFlags, len(pkg.Components))
	pkg.Features.Walk(func(i int, f *Feature) {
		for _, ci := range f.Components {
			switch actions[i] {
			case StateAbsent:
				flags[ci].AnyAbsent = true
			case StateLocal:
				flags[ci].HasLocalFeature = true
			case StateSource:
				flags[ci].HasSourceFeature = true
			case StateAdvertised:
				flags[ci].HasAdvertiseFeature = true
			}
		}
	})
	return flags
}

// decideComponent applies the precedence Local > Source > Advertised > Absent.
func decideComponent(c *Component, flags ComponentFlags) InstallState {
	wantsInstall := flags.HasLocalFeature || flags.HasSourceFeature

	switch {
	case !c.Attributes.Has(ComponentOptional) && wantsInstall:
		if c.Attributes.Has(ComponentSourceOnly) && !c.ForceLocalState {
			return StateSource
		}
		return StateLocal
	case flags.HasLocalFeature:
		return StateLocal
	case flags.HasSourceFeature:
		return StateSource
	case flags.HasAdvertiseFeature:
		return StateAdvertised
	case flags.AnyAbsent:
		return StateAbsent
	case c.ActionRequest == StateDefault:
		return StateLocal
	default:
		return StateUnknown
	}
}
