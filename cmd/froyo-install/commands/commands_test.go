package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/installengine/pkg/definition"
	"github.com/openfroyo/installengine/pkg/engine"
	"github.com/openfroyo/installengine/pkg/props"
)

var sampleDefinition = filepath.Join("..", "..", "..", "pkg", "definition", "testdata", "sample.cue")

// noSharedPolicy blocks any install that puts the Shared component on disk.
const noSharedPolicy = `# Shared must not be installed locally
# severity: error
package installengine.policies.noshared

import rego.v1

deny contains violation if {
	some c in input.components
	c.name == "Shared"
	c.action == "local"
	violation := {"message": "Shared may not be installed", "subject": c.name}
}
`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writePolicy(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "no-shared.rego")
	require.NoError(t, os.WriteFile(path, []byte(noSharedPolicy), 0o600))
	return path
}

func TestParseProperties(t *testing.T) {
	got, err := parseProperties([]string{"ADDLOCAL=Core,Docs", "TARGETDIR=", " REMOVE =ALL", "EXPR=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"ADDLOCAL":  "Core,Docs",
		"TARGETDIR": "",
		"REMOVE":    "ALL",
		"EXPR":      "a=b",
	}, got)

	for _, bad := range []string{"NOVALUE", "=value", " =x"} {
		_, err := parseProperties([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestPlanJSON(t *testing.T) {
	out, err := execute(t, "", "plan", sampleDefinition, "--json", "--property", "VersionNT=601")
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "plan_sample", []byte(out))
}

func TestPlanOverride(t *testing.T) {
	out, err := execute(t, "", "plan", sampleDefinition, "--json",
		"--property", "VersionNT=601", "--property", "ADDLOCAL=ALL")
	require.NoError(t, err)

	var report planReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.OverrideMode)

	actions := map[string]string{}
	for _, f := range report.Features {
		actions[f.Name] = f.Action
	}
	assert.Equal(t, map[string]string{
		"Core":   "local",
		"Docs":   "local",
		"Legacy": "unknown",
	}, actions, "ALL skips disabled features")
}

func TestPlanTable(t *testing.T) {
	out, err := execute(t, "", "plan", sampleDefinition, "--property", "VersionNT=601")
	require.NoError(t, err)

	assert.Contains(t, out, "Widget 2.1.0")
	assert.Contains(t, out, "Install level: 3\n")
	assert.Contains(t, out, "Space required: 1250 bytes")
	assert.Regexp(t, `Docs\s+Core\s+4\s+unknown\s+unknown`, out)
	assert.Regexp(t, `Old\s+unknown\s+unknown\s+disabled`, out)
	assert.Regexp(t, `Main\s+unknown\s+local\s+force-local`, out)
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "", "validate", sampleDefinition, "--property", "VersionNT=601")
	require.NoError(t, err)
	assert.Contains(t, out, "Widget 2.1.0 is valid (5 policies evaluated)")
}

func TestValidate_PolicyViolation(t *testing.T) {
	out, err := execute(t, "", "validate", sampleDefinition,
		"--property", "VersionNT=601", "--policy", writePolicy(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 blocking policy violations")
	assert.Contains(t, out, "error: [no-shared] Shared: Shared may not be installed")
}

func TestValidate_DefinitionErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`product:
  name: Broken
  version: "1.0"
features:
  - name: Core
    parent: Missing
sequences:
  execute: []
`), 0o600))

	out, err := execute(t, "", "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definition errors")
	assert.Contains(t, out, "error: ")
	assert.Contains(t, out, "Missing")
}

func TestImportAndInstallFromDB(t *testing.T) {
	db := filepath.Join(t.TempDir(), "install.db")

	out, err := execute(t, "", "import", sampleDefinition, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 5 UI and 10 execute rows")

	out, err = execute(t, "", "install", sampleDefinition, "--db", db, "--tables-from-db",
		"--property", "VersionNT=601")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Outcome: success (result 0)")
}

func TestInstallAndHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "install.db")

	out, err := execute(t, "", "install", sampleDefinition, "--db", db, "--json",
		"--property", "VersionNT=601")
	require.NoError(t, err, out)

	var summary installSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "success", summary.Outcome)
	assert.Equal(t, 0, summary.ResultCode)
	assert.Empty(t, summary.Error)

	var copied []string
	for _, op := range summary.Operations {
		if op.Kind == "copy-file" {
			copied = append(copied, op.Target)
		}
	}
	assert.Equal(t, []string{"Main", "Shared"}, copied)

	out, err = execute(t, "", "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, summary.RunID)
	assert.Contains(t, out, "completed")

	out, err = execute(t, "", "history", "show", summary.RunID, "--db", db, "--json")
	require.NoError(t, err)

	var detail struct {
		Run struct {
			Status     string `json:"status"`
			Outcome    string `json:"outcome"`
			Properties string `json:"properties"`
		} `json:"run"`
		Events     []json.RawMessage `json:"events"`
		Operations []json.RawMessage `json:"operations"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, "completed", detail.Run.Status)
	assert.Equal(t, "success", detail.Run.Outcome)
	assert.NotEmpty(t, detail.Events)
	assert.Len(t, detail.Operations, len(summary.Operations))

	var snapshot map[string]string
	require.NoError(t, json.Unmarshal([]byte(detail.Run.Properties), &snapshot))
	assert.Equal(t, "/opt/widget/installed", snapshot["MARKER"])
	assert.Equal(t, "1", snapshot["DONE"])
	assert.Equal(t, "1", snapshot["CostingComplete"])
}

func TestInstall_LaunchConditionFails(t *testing.T) {
	db := filepath.Join(t.TempDir(), "install.db")

	out, err := execute(t, "", "install", sampleDefinition, "--db", db, "--property", "VersionNT=501")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "install failure")
	assert.Contains(t, out, "Outcome: failure")
	assert.Contains(t, out, "Widget requires a newer system")

	out, err = execute(t, "", "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "failed")
}

func TestInstall_PolicyViolation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "install.db")

	out, err := execute(t, "", "install", sampleDefinition, "--db", db,
		"--property", "VersionNT=601", "--policy", writePolicy(t))
	require.Error(t, err)
	assert.Contains(t, out, "Outcome: failure")
	assert.Contains(t, out, "Operations: 0")
}

func TestInstall_UICancelled(t *testing.T) {
	db := filepath.Join(t.TempDir(), "install.db")

	out, err := execute(t, "\nn\n", "install", sampleDefinition, "--db", db, "--ui",
		"--property", "VersionNT=601")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUserExit)
	assert.Contains(t, out, "== Welcome to Widget ==")
	assert.Contains(t, out, "Install location [/opt/widget]: ")
	assert.Contains(t, out, "Outcome: user-exit")

	out, err = execute(t, "", "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")
}

func TestConsoleDialogs(t *testing.T) {
	def, err := definition.Load(sampleDefinition)
	require.NoError(t, err)
	pkg, err := def.Package(nil)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("piped input is not a terminal", func(t *testing.T) {
		var out bytes.Buffer
		dialogs := newConsoleDialogs(def, strings.NewReader("\n\n"), &out)
		t.Cleanup(func() { _ = dialogs.Close() })
		assert.False(t, dialogs.interactive)

		_, err := dialogs.ShowDialog(ctx, pkg, "Welcome")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Continue? [Y/n]: ", "prompts are written when readline does not draw them")
	})

	t.Run("sets answered fields", func(t *testing.T) {
		var out bytes.Buffer
		dialogs := newConsoleDialogs(def, strings.NewReader("/srv/widget\n\n"), &out)
		t.Cleanup(func() { _ = dialogs.Close() })

		shown, err := dialogs.ShowDialog(ctx, pkg, "Welcome")
		require.NoError(t, err)
		assert.True(t, shown)
		assert.Equal(t, "/srv/widget", pkg.Properties.Get("TARGETDIR"))
		assert.Contains(t, out.String(), "Setup will install Widget on your computer.")
	})

	t.Run("empty answer keeps value", func(t *testing.T) {
		pkg.Properties.Set("TARGETDIR", "/opt/widget")
		dialogs := newConsoleDialogs(def, strings.NewReader("\ny\n"), &bytes.Buffer{})
		t.Cleanup(func() { _ = dialogs.Close() })

		shown, err := dialogs.ShowDialog(ctx, pkg, "Welcome")
		require.NoError(t, err)
		assert.True(t, shown)
		assert.Equal(t, "/opt/widget", pkg.Properties.Get("TARGETDIR"))
	})

	t.Run("unknown dialog", func(t *testing.T) {
		dialogs := newConsoleDialogs(def, strings.NewReader(""), &bytes.Buffer{})
		shown, err := dialogs.ShowDialog(ctx, pkg, "Nope")
		require.NoError(t, err)
		assert.False(t, shown)
	})

	t.Run("no input exits", func(t *testing.T) {
		dialogs := newConsoleDialogs(def, strings.NewReader(""), &bytes.Buffer{})
		t.Cleanup(func() { _ = dialogs.Close() })
		shown, err := dialogs.ShowDialog(ctx, pkg, "Welcome")
		assert.True(t, shown)
		assert.Equal(t, engine.CodeUserExit, engine.ResultCode(err))
	})
}

func TestInstall_UILevelProperty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "install.db")

	out, err := execute(t, "/srv/widget\ny\n", "install", sampleDefinition, "--db", db,
		"--property", "VersionNT=601", "--property", props.UILevel+"=5")
	require.NoError(t, err, out)
	assert.Contains(t, out, "== Welcome to Widget ==")
	assert.Contains(t, out, "Outcome: success (result 0)")

	out, err = execute(t, "", "install", sampleDefinition, "--db", db, "--ui=false",
		"--property", "VersionNT=601", "--property", props.UILevel+"=5")
	require.NoError(t, err, out)
	assert.NotContains(t, out, "== Welcome", "explicit --ui=false wins over UILevel")
}

func TestPlanWatch(t *testing.T) {
	data, err := os.ReadFile(sampleDefinition)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "widget.cue")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newPlanCommand()
	cmd.SetContext(ctx)
	var out lockedBuffer
	cmd.SetOut(&out)

	replanned := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- watchPlan(cmd, path, func() {
			select {
			case replanned <- struct{}{}:
			default:
			}
		})
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, data, 0o600)
		select {
		case <-replanned:
			return true
		default:
			return false
		}
	}, 5*time.Second, 250*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

// lockedBuffer is a bytes.Buffer safe for the watcher goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
