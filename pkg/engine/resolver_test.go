package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/installengine/pkg/props"
)

func buildPackage(t *testing.T, properties map[string]string, features []FeatureSpec, components []Component) *Package {
	t.Helper()
	pkg, err := NewPackage(Product{Name: "Test"}, props.FromMap(properties), features, components)
	require.NoError(t, err)
	return pkg
}

func TestResolve_LevelSelection(t *testing.T) {
	pkg := buildPackage(t,
		map[string]string{props.InstallLevel: "100"},
		[]FeatureSpec{
			{Name: "A", Level: 3, Components: []string{"ca"}},
			{Name: "B", Level: 200, Components: []string{"cb"}},
			{Name: "C", Parent: "A", Level: 1, Components: []string{"cc"}},
		},
		[]Component{{Name: "ca"}, {Name: "cb"}, {Name: "cc"}},
	)

	res := Resolve(pkg)
	assert.False(t, res.OverrideMode)
	assert.Equal(t, 100, res.InstallLevel)
	assert.Equal(t, StateLocal, res.Features["A"])
	assert.Equal(t, StateUnknown, res.Features["B"])
	assert.Equal(t, StateLocal, res.Features["C"])
	assert.Equal(t, StateLocal, res.Components["ca"].Action)
	assert.Equal(t, StateUnknown, res.Components["cb"].Action)
	assert.Equal(t, StateLocal, res.Components["cc"].Action)
}

func TestResolve_DefaultInstallLevelIsOne(t *testing.T) {
	pkg := buildPackage(t, nil,
		[]FeatureSpec{{Name: "Core", Level: 1}, {Name: "Extras", Level: 2}},
		nil,
	)

	res := Resolve(pkg)
	assert.Equal(t, 1, res.InstallLevel)
	assert.Equal(t, StateLocal, res.Features["Core"])
	assert.Equal(t, StateUnknown, res.Features["Extras"])
}

func TestResolve_FavorAttributes(t *testing.T) {
	pkg := buildPackage(t, nil,
		[]FeatureSpec{
			{Name: "Src", Level: 1, Attributes: FeatureFavorSource},
			{Name: "Adv", Level: 1, Attributes: FeatureFavorAdvertise},
			{Name: "Loc", Level: 1},
		},
		nil,
	)

	res := Resolve(pkg)
	assert.Equal(t, StateSource, res.Features["Src"])
	assert.Equal(t, StateAdvertised, res.Features["Adv"])
	assert.Equal(t, StateLocal, res.Features["Loc"])
}

func TestResolve_DisabledFeatureResetsDirectChildren(t *testing.T) {
	pkg := buildPackage(t, nil,
		[]FeatureSpec{
			{Name: "Root", Level: 0, Request: StateLocal},
			{Name: "Child", Parent: "Root", Level: 1},
			{Name: "Grandchild", Parent: "Child", Level: 1},
			{Name: "Other", Level: 1},
		},
		nil,
	)

	res := Resolve(pkg)
	assert.Equal(t, StateUnknown, res.Features["Root"])
	assert.Equal(t, StateUnknown, res.Features["Child"])
	assert.Equal(t, StateLocal, res.Features["Grandchild"], "only one tree edge is reset")
	assert.Equal(t, StateLocal, res.Features["Other"])
}

func TestResolve_AddLocalAllSkipsDisabledFeatures(t *testing.T) {
	pkg := buildPackage(t, map[string]string{props.AddLocal: "ALL"},
		[]FeatureSpec{
			{Name: "Root", Level: 0},
			{Name: "Child", Parent: "Root", Level: 1},
			{Name: "Other", Level: 5},
		},
		nil,
	)

	res := Resolve(pkg)
	assert.True(t, res.OverrideMode)
	assert.Equal(t, StateUnknown, res.Features["Root"])
	assert.Equal(t, StateLocal, res.Features["Child"])
	assert.Equal(t, StateLocal, res.Features["Other"])
}

func TestResolve_AboveThresholdParentDeactivatesChildren(t *testing.T) {
	pkg := buildPackage(t, map[string]string{props.InstallLevel: "5"},
		[]FeatureSpec{
			{Name: "Optional", Level: 10},
			{Name: "Docs", Parent: "Optional", Level: 1, Request: StateSource},
			{Name: "Samples", Parent: "Docs", Level: 1},
			{Name: "Deep", Parent: "Optional", Level: 10},
			{Name: "Deeper", Parent: "Deep", Level: 2},
		},
		nil,
	)

	res := Resolve(pkg)
	assert.Equal(t, StateUnknown, res.Features["Optional"])
	assert.Equal(t, StateUnknown, res.Features["Docs"], "a direct child loses even an explicit request")
	assert.Equal(t, StateLocal, res.Features["Samples"])
	assert.Equal(t, StateUnknown, res.Features["Deep"])
	assert.Equal(t, StateUnknown, res.Features["Deeper"])
}

func TestResolve_RemoveAll(t *testing.T) {
	pkg := buildPackage(t, map[string]string{props.Remove: "ALL"},
		[]FeatureSpec{
			{Name: "A", Level: 1, Components: []string{"c1", "shared"}},
			{Name: "B", Level: 3, Components: []string{"c2", "shared"}},
		},
		[]Component{{Name: "c1"}, {Name: "c2"}, {Name: "shared"}},
	)

	res := Resolve(pkg)
	assert.True(t, res.OverrideMode)
	for _, f := range []string{"A", "B"} {
		assert.Equal(t, StateAbsent, res.Features[f])
	}
	for _, c := range []string{"c1", "c2", "shared"} {
		assert.Equal(t, StateAbsent, res.Components[c].Action, c)
		assert.True(t, res.Components[c].Flags.AnyAbsent, c)
	}

	pkg.ApplyResolution(res)
	assert.True(t, pkg.FullUninstall())
}

func TestResolve_AddLocalTouchesOnlyNamedFeatures(t *testing.T) {
	pkg := buildPackage(t, map[string]string{props.AddLocal: "FeatureA", props.InstallLevel: "1000"},
		[]FeatureSpec{
			{Name: "FeatureA", Level: 1},
			{Name: "FeatureB", Level: 1},
			{Name: "FeatureC", Level: 2},
		},
		nil,
	)

	res := Resolve(pkg)
	assert.Equal(t, StateLocal, res.Features["FeatureA"])
	assert.Equal(t, StateUnknown, res.Features["FeatureB"])
	assert.Equal(t, StateUnknown, res.Features["FeatureC"])
}

func TestResolve_OverrideModeIgnoresRequests(t *testing.T) {
	pkg := buildPackage(t, map[string]string{props.AddLocal: "A"},
		[]FeatureSpec{
			{Name: "A", Level: 1},
			{Name: "B", Level: 1, Request: StateDefault},
			{Name: "C", Level: 1, Request: StateLocal, Components: []string{"X"}},
		},
		[]Component{{Name: "X"}},
	)

	res := Resolve(pkg)
	assert.True(t, res.OverrideMode)
	assert.Equal(t, StateLocal, res.Features["A"])
	assert.Equal(t, StateUnknown, res.Features["B"])
	assert.Equal(t, StateUnknown, res.Features["C"])
	assert.Equal(t, StateUnknown, res.Components["X"].Action)
}

func TestResolve_OverridesApplyInOrder(t *testing.T) {
	pkg := buildPackage(t, map[string]string{
		props.AddLocal:  "A, B",
		props.Remove:    "A",
		props.AddSource: "B,C",
		props.Reinstall: "C",
	},
		[]FeatureSpec{{Name: "A", Level: 1}, {Name: "B", Level: 1}, {Name: "C", Level: 1}, {Name: "D", Level: 1}},
		nil,
	)

	res := Resolve(pkg)
	assert.Equal(t, StateAbsent, res.Features["A"])
	assert.Equal(t, StateSource, res.Features["B"])
	assert.Equal(t, StateLocal, res.Features["C"])
	assert.Equal(t, StateUnknown, res.Features["D"])
}

func TestResolve_LocalBeatsAbsentForSharedComponent(t *testing.T) {
	pkg := buildPackage(t, map[string]string{props.AddLocal: "A", props.Remove: "B"},
		[]FeatureSpec{
			{Name: "A", Level: 1, Components: []string{"X"}},
			{Name: "B", Level: 1, Components: []string{"X"}},
		},
		[]Component{{Name: "X"}},
	)

	res := Resolve(pkg)
	x := res.Components["X"]
	assert.Equal(t, StateLocal, x.Action)
	assert.True(t, x.Flags.AnyAbsent)
	assert.True(t, x.Flags.HasLocalFeature)
}

func TestResolve_ComponentPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		attributes ComponentAttributes
		forceLocal bool
		features   []InstallState
		want       InstallState
	}{
		{name: "source only", attributes: ComponentSourceOnly, features: []InstallState{StateSource}, want: StateSource},
		{name: "source only wanted locally", attributes: ComponentSourceOnly, features: []InstallState{StateLocal}, want: StateSource},
		{name: "source only forced local", attributes: ComponentSourceOnly, forceLocal: true, features: []InstallState{StateSource}, want: StateLocal},
		{name: "plain wanted from source", features: []InstallState{StateSource}, want: StateLocal},
		{name: "optional from source", attributes: ComponentOptional, features: []InstallState{StateSource}, want: StateSource},
		{name: "optional local beats source", attributes: ComponentOptional, features: []InstallState{StateSource, StateLocal}, want: StateLocal},
		{name: "advertised", features: []InstallState{StateAdvertised}, want: StateAdvertised},
		{name: "advertised beats absent", features: []InstallState{StateAbsent, StateAdvertised}, want: StateAdvertised},
		{name: "absent", features: []InstallState{StateAbsent}, want: StateAbsent},
		{name: "unwanted", features: []InstallState{StateUnknown}, want: StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var specs []FeatureSpec
			for i, state := range tt.features {
				specs = append(specs, FeatureSpec{
					Name:       string(rune('A' + i)),
					Level:      1,
					Components: []string{"X"},
					Request:    state,
				})
			}
			// A level threshold of 0 leaves only the explicit requests in place
			pkg := buildPackage(t, map[string]string{props.InstallLevel: "0"}, specs,
				[]Component{{Name: "X", Attributes: tt.attributes, ForceLocalState: tt.forceLocal}})

			res := Resolve(pkg)
			assert.Equal(t, tt.want, res.Components["X"].Action)
		})
	}
}

func TestResolve_ForceLocalPromotesFeature(t *testing.T) {
	pkg := buildPackage(t, nil,
		[]FeatureSpec{
			{Name: "E", Level: 1, Attributes: FeatureFavorSource, Components: []string{"D", "Y"}},
			{Name: "F", Level: 1, Attributes: FeatureFavorSource, Components: []string{"Z"}},
		},
		[]Component{
			{Name: "D", ForceLocalState: true, Attributes: ComponentOptional},
			{Name: "Y", Attributes: ComponentOptional},
			{Name: "Z", Attributes: ComponentOptional},
		},
	)

	res := Resolve(pkg)
	assert.Equal(t, StateLocal, res.Features["E"])
	assert.Equal(t, StateSource, res.Features["F"])
	assert.Equal(t, StateLocal, res.Components["D"].Action)
	assert.Equal(t, StateLocal, res.Components["Y"].Action, "the whole promoted feature runs locally")
	assert.Equal(t, StateSource, res.Components["Z"].Action)
	assert.False(t, res.Components["D"].Flags.HasSourceFeature)
}

func TestResolve_DisabledComponentSkipped(t *testing.T) {
	pkg := buildPackage(t, nil,
		[]FeatureSpec{{Name: "A", Level: 1, Components: []string{"on", "off"}}},
		[]Component{{Name: "on"}, {Name: "off", Disabled: true, Installed: StateLocal}},
	)

	res := Resolve(pkg)
	assert.True(t, res.Components["off"].Skipped)
	pkg.ApplyResolution(res)

	off, ok := pkg.Component("off")
	require.True(t, ok)
	assert.Equal(t, StateUnknown, off.Action)
	assert.Equal(t, StateLocal, off.Installed)
	on, _ := pkg.Component("on")
	assert.Equal(t, StateLocal, on.Action)
}

func TestResolve_DefaultRequestNormalized(t *testing.T) {
	pkg := buildPackage(t, map[string]string{props.InstallLevel: "0"},
		[]FeatureSpec{
			{Name: "A", Level: 1, Request: StateDefault, Attributes: FeatureFavorAdvertise},
			{Name: "B", Level: 1},
		},
		[]Component{{Name: "loose", ActionRequest: StateDefault}},
	)

	res := Resolve(pkg)
	assert.Equal(t, StateAdvertised, res.Features["A"])
	assert.Equal(t, StateUnknown, res.Features["B"])
	assert.Equal(t, StateLocal, res.Components["loose"].Action)

	for name, state := range res.Features {
		assert.NotEqual(t, StateDefault, state, name)
	}
	for name, c := range res.Components {
		assert.NotEqual(t, StateDefault, c.Action, name)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	pkg := buildPackage(t, map[string]string{props.AddLocal: "A", props.Remove: "B"},
		[]FeatureSpec{
			{Name: "A", Level: 1, Components: []string{"X", "Y"}},
			{Name: "B", Level: 1, Components: []string{"X", "Z"}},
			{Name: "C", Parent: "A", Level: 1, Attributes: FeatureFavorSource, Components: []string{"W"}},
		},
		[]Component{{Name: "X"}, {Name: "Y"}, {Name: "Z"}, {Name: "W", ForceLocalState: true}},
	)

	first := Resolve(pkg)
	pkg.ApplyResolution(first)
	second := Resolve(pkg)
	assert.Equal(t, first, second)
}

func TestResolve_DoesNotMutatePackage(t *testing.T) {
	pkg := buildPackage(t, nil,
		[]FeatureSpec{{Name: "A", Level: 1, Components: []string{"X"}}},
		[]Component{{Name: "X"}},
	)

	_ = Resolve(pkg)
	a, _ := pkg.Feature("A")
	x, _ := pkg.Component("X")
	assert.Equal(t, StateUnknown, a.Action)
	assert.Equal(t, StateUnknown, x.Action)
	assert.Equal(t, ComponentFlags{}, x.Flags)
}
