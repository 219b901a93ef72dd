package condition

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/installengine/pkg/engine"
	"github.com/openfroyo/installengine/pkg/props"
)

func testPackage(t *testing.T) *engine.Package {
	t.Helper()
	pkg, err := engine.NewPackage(
		engine.Product{Name: "Widget"},
		props.FromMap(map[string]string{
			"VersionNT":    "601",
			"ProductName":  "Widget Pro",
			"UILevel":      "5",
			"ALLUSERS":     "1",
			"INSTALLLEVEL": "3",
		}),
		[]engine.FeatureSpec{
			{Name: "Core", Level: 1, Components: []string{"Main"}, Installed: engine.StateLocal},
			{Name: "Docs", Level: 1, Components: []string{"Manual"}},
		},
		[]engine.Component{{Name: "Main"}, {Name: "Manual", Installed: engine.StateAbsent}},
	)
	require.NoError(t, err)
	pkg.ApplyResolution(engine.Resolve(pkg))
	return pkg
}

func TestEvaluate(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	e.lookupEnv = func(name string) string {
		if name == "PROCESSOR_ARCHITECTURE" {
			return "AMD64"
		}
		return ""
	}
	pkg := testPackage(t)

	tests := []struct {
		condition string
		want      bool
	}{
		{"", true},
		{"   ", true},
		{"Installed", false},
		{"NOT Installed", true},
		{"not installed", true},
		{"VersionNT", true},
		{"VersionNT >= 600", true},
		{"VersionNT < 600", false},
		{"VersionNT = 601 AND UILevel > 3", true},
		{"VersionNT = 500 OR ALLUSERS = 1", true},
		{"ProductName = \"Widget Pro\"", true},
		{"ProductName ~= \"widget pro\"", true},
		{"ProductName = \"widget pro\"", false},
		{"ProductName >< \"Pro\"", true},
		{"ProductName << \"Widget\"", true},
		{"ProductName >> \"Pro\"", true},
		{"ProductName = 5", false},
		{"ProductName <> 5", true},
		{"Missing = \"\"", true},
		{"Missing <> 0", true},
		{"%PROCESSOR_ARCHITECTURE = \"AMD64\"", true},
		{"&Core = 3", true},
		{"!Core = 3", true},
		{"&Docs = 3", true},
		{"?Manual = 2", true},
		{"$Main = 3", true},
		{"&Ghost = 3", false},
		{"1 XOR 0", true},
		{"1 XOR 1", false},
		{"Installed EQV 0", true},
		{"Installed IMP 0", true},
		{"1 IMP Installed", false},
		{"NOT (VersionNT >= 600 AND UILevel = 5)", false},
		{"1 OR 1 AND 0", true},
		{"(1 OR 1) AND 0", false},
		{"-1 < 0", true},
	}

	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			got, err := e.Evaluate(context.Background(), tt.condition, pkg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_SyntaxErrors(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	pkg := testPackage(t)

	for _, condition := range []string{
		"VersionNT >=",
		"(Installed",
		"Installed)",
		"\"unterminated",
		"A # B",
		"AND Installed",
	} {
		t.Run(condition, func(t *testing.T) {
			_, err := e.Evaluate(context.Background(), condition, pkg)
			require.Error(t, err)
			var se *SyntaxError
			assert.True(t, errors.As(err, &se), "want *SyntaxError, got %T", err)
		})
	}
}

func TestTranslate(t *testing.T) {
	got, err := Translate(`NOT Installed AND VersionNT ~>= "6"`)
	require.NoError(t, err)
	assert.Equal(t, `((not _truth(_prop("Installed"))) and _cmp("~>=", _prop("VersionNT"), "6"))`, got)
}
