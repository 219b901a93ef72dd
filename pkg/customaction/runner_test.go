package customaction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/installengine/pkg/engine"
	"github.com/openfroyo/installengine/pkg/props"
)

func newPackage(t *testing.T) *engine.Package {
	t.Helper()
	pkg, err := engine.NewPackage(
		engine.Product{Name: "Widget", Version: "2.1.0"},
		props.FromMap(map[string]string{"INSTALLDIR": "/opt/widget"}),
		[]engine.FeatureSpec{{Name: "Core", Level: 1, Components: []string{"Main"}}},
		[]engine.Component{{Name: "Main"}},
	)
	require.NoError(t, err)
	return pkg
}

func newRunner(t *testing.T, defs []Definition, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunner(defs, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func TestNewRunner_Validation(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{"missing name", []Definition{{Type: TypeProperty, Property: "X"}}},
		{"bad type", []Definition{{Name: "A", Type: "exe"}}},
		{"property without target", []Definition{{Name: "A", Type: TypeProperty}}},
		{"starlark without script", []Definition{{Name: "A", Type: TypeStarlark}}},
		{"wasm without module", []Definition{{Name: "A", Type: TypeWASM}}},
		{"bad execution", []Definition{{Name: "A", Type: TypeProperty, Property: "X", Execution: "later"}}},
		{"bad checksum", []Definition{{Name: "A", Type: TypeWASM, Module: "a.wasm", Checksum: "abc"}}},
		{"duplicate", []Definition{
			{Name: "A", Type: TypeProperty, Property: "X"},
			{Name: "A", Type: TypeProperty, Property: "Y"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.defs)
			assert.Error(t, err)
		})
	}
}

func TestRunCustomAction_Unknown(t *testing.T) {
	r := newRunner(t, nil)
	handled, err := r.RunCustomAction(context.Background(), newPackage(t), "Nope", false)
	assert.False(t, handled)
	assert.NoError(t, err)
}

func TestRunCustomAction_Property(t *testing.T) {
	r := newRunner(t, []Definition{
		{Name: "SetDataDir", Type: TypeProperty, Property: "DATADIR", Value: "[INSTALLDIR]/data"},
	})
	pkg := newPackage(t)

	handled, err := r.RunCustomAction(context.Background(), pkg, "SetDataDir", false)
	require.True(t, handled)
	require.NoError(t, err)
	assert.Equal(t, "/opt/widget/data", pkg.Properties.Get("DATADIR"))
}

func TestRunCustomAction_Starlark(t *testing.T) {
	tests := []struct {
		name   string
		script string
		code   engine.Code
	}{
		{"no result", `set_property("SEEN", "yes")`, engine.CodeSuccess},
		{"true", `result = True`, engine.CodeSuccess},
		{"false", `result = False`, engine.CodeInstallFailure},
		{"user exit", `result = 1602`, engine.CodeUserExit},
		{"other code", `result = 7`, engine.CodeInstallFailure},
		{"fail builtin", `fail("boom")`, engine.CodeInstallFailure},
		{"syntax error", `result = (`, engine.CodeInstallFailure},
		{"bad result type", `result = "ok"`, engine.CodeInstallFailure},
		{"reads properties", `result = property("INSTALLDIR") == "/opt/widget" and property("MISSING", "d") == "d"`, engine.CodeSuccess},
		{"reads states", `result = feature_action("Core") == "unknown" and component_action("Nope") == None`, engine.CodeSuccess},
		{"formats", `result = format("[INSTALLDIR]/bin") == "/opt/widget/bin"`, engine.CodeSuccess},
		{"product", `result = product.name == "Widget" and action == "Script"`, engine.CodeSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRunner(t, []Definition{{Name: "Script", Type: TypeStarlark, Script: tt.script}})
			handled, err := r.RunCustomAction(context.Background(), newPackage(t), "Script", false)
			assert.True(t, handled)
			assert.Equal(t, tt.code, engine.ResultCode(err), "err: %v", err)
		})
	}
}

func TestRunCustomAction_StarlarkSetsProperty(t *testing.T) {
	r := newRunner(t, []Definition{{Name: "Script", Type: TypeStarlark, Script: `set_property("PORT", 8080)`}})
	pkg := newPackage(t)
	_, err := r.RunCustomAction(context.Background(), pkg, "Script", false)
	require.NoError(t, err)
	assert.Equal(t, "8080", pkg.Properties.Get("PORT"))
}

func TestRunCustomAction_StarlarkStepLimit(t *testing.T) {
	r := newRunner(t, []Definition{{
		Name: "Spin", Type: TypeStarlark,
		Script: "def spin():\n    for i in range(1000000000):\n        pass\nspin()\n",
	}}, WithMaxSteps(1000))
	_, err := r.RunCustomAction(context.Background(), newPackage(t), "Spin", false)
	assert.Equal(t, engine.CodeInstallFailure, engine.ResultCode(err))
}

func TestRunCustomAction_ContinueOnError(t *testing.T) {
	r := newRunner(t, []Definition{
		{Name: "Soft", Type: TypeStarlark, Script: `result = False`, ContinueOnError: true},
		{Name: "Quit", Type: TypeStarlark, Script: `result = 1602`, ContinueOnError: true},
	})
	pkg := newPackage(t)

	_, err := r.RunCustomAction(context.Background(), pkg, "Soft", false)
	assert.NoError(t, err)

	_, err = r.RunCustomAction(context.Background(), pkg, "Quit", false)
	assert.True(t, engine.IsUserExit(err), "user exit is never ignored")
}

func TestRunCustomAction_Deferral(t *testing.T) {
	r := newRunner(t, []Definition{
		{Name: "Now", Type: TypeProperty, Property: "NOW", Value: "1"},
		{Name: "Later", Type: TypeProperty, Property: "LATER", Value: "1", Execution: ExecDeferred},
		{Name: "Commit", Type: TypeProperty, Property: "COMMIT", Value: "1", Execution: ExecCommit},
		{Name: "Undo", Type: TypeProperty, Property: "UNDO", Value: "1", Execution: ExecRollback},
	})
	pkg := newPackage(t)
	pkg.Script.StartRecording()

	for _, name := range []string{"Now", "Later", "Commit", "Undo"} {
		handled, err := r.RunCustomAction(context.Background(), pkg, name, false)
		require.True(t, handled)
		require.NoError(t, err)
	}

	assert.Equal(t, "1", pkg.Properties.Get("NOW"))
	assert.False(t, pkg.Properties.Has("LATER"))
	assert.Equal(t, []string{"Later"}, pkg.Script.Pending(engine.ScriptInstall))
	assert.Equal(t, []string{"Commit"}, pkg.Script.Pending(engine.ScriptCommit))
	assert.Equal(t, []string{"Undo"}, pkg.Script.Pending(engine.ScriptRollback))

	pkg.Script.StopRecording()
	_, err := r.RunCustomAction(context.Background(), pkg, "Later", false)
	require.NoError(t, err)
	assert.Equal(t, "1", pkg.Properties.Get("LATER"))
}

func TestRunCustomAction_ForcedReplayRunsWhileRecording(t *testing.T) {
	r := newRunner(t, []Definition{
		{Name: "Later", Type: TypeProperty, Property: "LATER", Value: "1", Execution: ExecDeferred},
	})
	pkg := newPackage(t)
	pkg.Script.StartRecording()

	handled, err := r.RunCustomAction(context.Background(), pkg, "Later", true)
	require.True(t, handled)
	require.NoError(t, err)
	assert.Equal(t, "1", pkg.Properties.Get("LATER"))
	assert.Zero(t, pkg.Script.Len(engine.ScriptInstall))
}

// Deferred custom actions run when the engine replays the install script.
func TestRunCustomAction_ThroughEngine(t *testing.T) {
	r := newRunner(t, []Definition{
		{Name: "Later", Type: TypeStarlark, Execution: ExecDeferred,
			Script: `set_property("ORDER", property("ORDER") + "L")`},
	})
	mark := func(ctx context.Context, s *engine.Session) error {
		s.Properties().Set("ORDER", s.Properties().Get("ORDER")+"M")
		return nil
	}
	registry := engine.NewRegistry(map[string]engine.Handler{
		"InstallInitialize": engine.HandlerFunc(func(_ context.Context, s *engine.Session) error {
			s.Package().Script.StartRecording()
			return nil
		}),
		"Mark": engine.HandlerFunc(mark),
		"InstallFinalize": engine.HandlerFunc(func(ctx context.Context, s *engine.Session) error {
			return s.Flush(ctx, engine.ScriptInstall)
		}),
	})
	reader := engine.NewMemoryReader(map[engine.TableKind][]engine.SequenceEntry{
		engine.TableExecute: {
			{Action: "InstallInitialize", Sequence: 1},
			{Action: "Later", Sequence: 2},
			{Action: "Mark", Sequence: 3},
			{Action: "InstallFinalize", Sequence: 4},
		},
	})
	pkg := newPackage(t)
	s := engine.New(registry, reader, nil, engine.WithCustomActions(r)).NewSession(pkg)

	require.NoError(t, s.Install(context.Background(), false))
	assert.Equal(t, "LM", pkg.Properties.Get("ORDER"))
}

// The helpers below assemble minimal WASI modules so the tests need no
// toolchain to produce fixtures.

func uleb(n uint32) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(n int32) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if (n == 0 && b&0x40 == 0) || (n == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func section(id byte, content ...[]byte) []byte {
	var body []byte
	for _, c := range content {
		body = append(body, c...)
	}
	out := append([]byte{id}, uleb(uint32(len(body)))...)
	return append(out, body...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// exitModule exits with code from _start.
func exitModule(code int32) []byte {
	body := cat([]byte{0x00, 0x41}, sleb(code), []byte{0x10, 0x00, 0x0b})
	return cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(1, vec(
			[]byte{0x60, 0x01, 0x7f, 0x00},
			[]byte{0x60, 0x00, 0x00},
		)),
		section(2, vec(cat(name("wasi_snapshot_preview1"), name("proc_exit"), []byte{0x00, 0x00}))),
		section(3, vec([]byte{0x01})),
		section(5, vec([]byte{0x00, 0x01})),
		section(7, vec(
			cat(name("memory"), []byte{0x02, 0x00}),
			cat(name("_start"), []byte{0x00, 0x01}),
		)),
		section(10, vec(cat(uleb(uint32(len(body))), body))),
	)
}

// setPropertyModule calls env.set_property(key, value) and returns.
func setPropertyModule(key, value string) []byte {
	body := cat(
		[]byte{0x00},
		[]byte{0x41}, sleb(0),
		[]byte{0x41}, sleb(int32(len(key))),
		[]byte{0x41}, sleb(64),
		[]byte{0x41}, sleb(int32(len(value))),
		[]byte{0x10, 0x00, 0x1a, 0x0b},
	)
	return cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(1, vec(
			[]byte{0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f},
			[]byte{0x60, 0x00, 0x00},
		)),
		section(2, vec(cat(name("env"), name("set_property"), []byte{0x00, 0x00}))),
		section(3, vec([]byte{0x01})),
		section(5, vec([]byte{0x00, 0x01})),
		section(7, vec(
			cat(name("memory"), []byte{0x02, 0x00}),
			cat(name("_start"), []byte{0x00, 0x01}),
		)),
		section(10, vec(cat(uleb(uint32(len(body))), body))),
		section(11, vec(
			cat([]byte{0x00, 0x41}, sleb(0), []byte{0x0b}, name(key)),
			cat([]byte{0x00, 0x41}, sleb(64), []byte{0x0b}, name(value)),
		)),
	)
}

func writeModule(t *testing.T, dir, file string, data []byte) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), data, 0o644))
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestRunCustomAction_WASMExitCodes(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "ok.wasm", exitModule(0))
	writeModule(t, dir, "fail.wasm", exitModule(3))
	writeModule(t, dir, "quit.wasm", exitModule(1602))

	r := newRunner(t, []Definition{
		{Name: "Ok", Type: TypeWASM, Module: "ok.wasm"},
		{Name: "Fail", Type: TypeWASM, Module: "fail.wasm"},
		{Name: "Quit", Type: TypeWASM, Module: "quit.wasm"},
		{Name: "Missing", Type: TypeWASM, Module: "missing.wasm"},
	}, WithBaseDir(dir))
	pkg := newPackage(t)

	tests := map[string]engine.Code{
		"Ok":      engine.CodeSuccess,
		"Fail":    engine.CodeInstallFailure,
		"Quit":    engine.CodeUserExit,
		"Missing": engine.CodeInstallFailure,
	}
	for action, want := range tests {
		t.Run(action, func(t *testing.T) {
			handled, err := r.RunCustomAction(context.Background(), pkg, action, false)
			assert.True(t, handled)
			assert.Equal(t, want, engine.ResultCode(err), "err: %v", err)
		})
	}
}

func TestRunCustomAction_WASMSetsProperty(t *testing.T) {
	dir := t.TempDir()
	sum := writeModule(t, dir, "set.wasm", setPropertyModule("WIDGETS", "ready"))

	r := newRunner(t, []Definition{
		{Name: "Set", Type: TypeWASM, Module: "set.wasm", Checksum: sum},
	}, WithBaseDir(dir))
	pkg := newPackage(t)

	_, err := r.RunCustomAction(context.Background(), pkg, "Set", false)
	require.NoError(t, err)
	assert.Equal(t, "ready", pkg.Properties.Get("WIDGETS"))
}

func TestRunCustomAction_WASMChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "ok.wasm", exitModule(0))

	r := newRunner(t, []Definition{
		{Name: "Ok", Type: TypeWASM, Module: "ok.wasm", Checksum: hex.EncodeToString(make([]byte, 32))},
	}, WithBaseDir(dir))

	_, err := r.RunCustomAction(context.Background(), newPackage(t), "Ok", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}
