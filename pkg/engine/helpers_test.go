package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfroyo/installengine/pkg/props"
)

// mapConditions evaluates conditions by table lookup. Unknown conditions are true.
type mapConditions map[string]bool

func (m mapConditions) Evaluate(_ context.Context, condition string, _ *Package) (bool, error) {
	if condition == "" {
		return true, nil
	}
	if condition == "BROKEN" {
		return false, fmt.Errorf("syntax error in %q", condition)
	}
	v, ok := m[condition]
	if !ok {
		return true, nil
	}
	return v, nil
}

// callLog collects the order in which handlers, custom actions and dialogs run.
type callLog struct {
	mu    sync.Mutex
	lines []string
}

func (t *callLog) add(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}

func (t *callLog) get() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// record returns a handler that appends its name to tr and returns err.
func record(tr *callLog, name string, err error) Handler {
	return HandlerFunc(func(_ context.Context, _ *Session) error {
		tr.add("%s", name)
		return err
	})
}

func startRecording(tr *callLog) Handler {
	return HandlerFunc(func(_ context.Context, s *Session) error {
		tr.add("InstallInitialize")
		s.Package().Script.StartRecording()
		return nil
	})
}

func finalize(tr *callLog) Handler {
	return HandlerFunc(func(ctx context.Context, s *Session) error {
		tr.add("InstallFinalize")
		s.Package().Script.StopRecording()
		if err := s.Flush(ctx, ScriptInstall); err != nil {
			return err
		}
		return s.Flush(ctx, ScriptCommit)
	})
}

func executeAction(tr *callLog) Handler {
	return HandlerFunc(func(ctx context.Context, s *Session) error {
		tr.add("ExecuteAction")
		return s.RunSequence(ctx, TableExecute, false)
	})
}

// fakeCustom handles actions listed in known.
type fakeCustom struct {
	tr    *callLog
	known map[string]error
}

func (f *fakeCustom) RunCustomAction(_ context.Context, _ *Package, action string, _ bool) (bool, error) {
	err, ok := f.known[action]
	if !ok {
		return false, nil
	}
	f.tr.add("custom:%s", action)
	return true, err
}

// fakeDialogs shows dialogs listed in known.
type fakeDialogs struct {
	tr    *callLog
	known map[string]bool
}

func (f *fakeDialogs) ShowDialog(_ context.Context, _ *Package, name string) (bool, error) {
	if !f.known[name] {
		return false, nil
	}
	f.tr.add("dialog:%s", name)
	return true, nil
}

// traceNotifier records notifications into a callLog.
type traceNotifier struct {
	tr *callLog
}

func (n traceNotifier) ActionStarted(_ context.Context, action string) {
	n.tr.add("start %s", action)
}

func (n traceNotifier) ActionFinished(_ context.Context, action string, err error) {
	n.tr.add("end %s %s", action, ResultCode(err))
}

// countingObserver counts observer calls.
type countingObserver struct {
	NopObserver
	dispatched []string
	deferred   []string
	skipped    []string
	notFound   []string
	outcomes   []Outcome
}

func (o *countingObserver) ActionDispatched(action string, _ time.Duration, _ Code) {
	o.dispatched = append(o.dispatched, action)
}

func (o *countingObserver) ActionDeferred(action string, _ ScriptKind) {
	o.deferred = append(o.deferred, action)
}

func (o *countingObserver) ActionSkipped(_ TableKind, action string) {
	o.skipped = append(o.skipped, action)
}

func (o *countingObserver) ActionNotFound(action string) {
	o.notFound = append(o.notFound, action)
}

func (o *countingObserver) OutcomeReached(outcome Outcome) {
	o.outcomes = append(o.outcomes, outcome)
}

// rows builds sequence entries from "Action:seq" or "Action:seq:condition" strings.
func rows(specs ...string) []SequenceEntry {
	out := make([]SequenceEntry, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		var seq int
		_, _ = fmt.Sscanf(parts[1], "%d", &seq)
		e := SequenceEntry{Action: parts[0], Sequence: seq}
		if len(parts) == 3 {
			e.Condition = parts[2]
		}
		out = append(out, e)
	}
	return out
}

func newTestPackage(t *testing.T) *Package {
	t.Helper()
	pkg, err := NewPackage(Product{Name: "Test"}, props.New(), nil, nil)
	require.NoError(t, err)
	return pkg
}

func newTestSession(t *testing.T, tables map[TableKind][]SequenceEntry, handlers map[string]Handler, opts ...Option) *Session {
	t.Helper()
	e := New(NewRegistry(handlers), NewMemoryReader(tables), mapConditions{}, opts...)
	return e.NewSession(newTestPackage(t))
}
