// Package condition evaluates installer conditions such as
//
//	NOT Installed AND (VersionNT >= 600 OR &Docs = 3)
//
// Conditions are translated to Starlark expressions and evaluated against the
// properties, feature states and component states of a package.
package condition

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"github.com/openfroyo/installengine/pkg/engine"
)

const defaultMaxSteps = 100000

// Evaluator implements engine.ConditionEvaluator.
type Evaluator struct {
	logger    zerolog.Logger
	maxSteps  uint64
	lookupEnv func(string) string
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator(logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		logger:    logger.With().Str("component", "condition").Logger(),
		maxSteps:  defaultMaxSteps,
		lookupEnv: os.Getenv,
	}
}

// Evaluate returns the truth of condition for pkg. An empty condition is true.
// Malformed conditions return a *SyntaxError.
func (e *Evaluator) Evaluate(ctx context.Context, condition string, pkg *engine.Package) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return true, nil
	}

	expr, err := Translate(condition)
	if err != nil {
		return false, err
	}

	thread := &starlark.Thread{
		Name: "condition",
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Debug().Str("condition", condition).Msg(msg)
		},
	}
	thread.SetMaxExecutionSteps(e.maxSteps)
	stop := context.AfterFunc(ctx, func() { thread.Cancel("context cancelled") })
	defer stop()

	v, err := starlark.Eval(thread, "condition", expr, e.builtins(pkg))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", condition, err)
	}

	result := bool(v.Truth())
	e.logger.Trace().
		Str("condition", condition).
		Str("starlark", expr).
		Bool("result", result).
		Msg("Condition evaluated")
	return result, nil
}

// builtins exposes package state to the translated expression.
func (e *Evaluator) builtins(pkg *engine.Package) starlark.StringDict {
	stateOf := func(name string, lookup func(string) (engine.InstallState, bool)) starlark.Value {
		state, ok := lookup(name)
		if !ok {
			return starlark.String("")
		}
		return starlark.MakeInt(state.Code())
	}

	return starlark.StringDict{
		"_prop": nameBuiltin("_prop", func(name string) starlark.Value {
			return toValue(pkg.Properties.Get(name))
		}),
		"_env": nameBuiltin("_env", func(name string) starlark.Value {
			return toValue(e.lookupEnv(name))
		}),
		"_component_action": nameBuiltin("_component_action", func(name string) starlark.Value {
			return stateOf(name, func(n string) (engine.InstallState, bool) {
				c, ok := pkg.Component(n)
				if !ok {
					return "", false
				}
				return c.Action, true
			})
		}),
		"_component_installed": nameBuiltin("_component_installed", func(name string) starlark.Value {
			return stateOf(name, func(n string) (engine.InstallState, bool) {
				c, ok := pkg.Component(n)
				if !ok {
					return "", false
				}
				return c.Installed, true
			})
		}),
		"_feature_action": nameBuiltin("_feature_action", func(name string) starlark.Value {
			return stateOf(name, func(n string) (engine.InstallState, bool) {
				f, ok := pkg.Feature(n)
				if !ok {
					return "", false
				}
				return f.Action, true
			})
		}),
		"_feature_installed": nameBuiltin("_feature_installed", func(name string) starlark.Value {
			return stateOf(name, func(n string) (engine.InstallState, bool) {
				f, ok := pkg.Feature(n)
				if !ok {
					return "", false
				}
				return f.Installed, true
			})
		}),
		"_truth": starlark.NewBuiltin("_truth", truth),
		"_cmp":   starlark.NewBuiltin("_cmp", compare),
	}
}

func nameBuiltin(fn string, impl func(string) starlark.Value) *starlark.Builtin {
	return starlark.NewBuiltin(fn, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
			return nil, err
		}
		return impl(name), nil
	})
}

// toValue turns a property value into an int when it is a plain integer and a
// string otherwise.
func toValue(s string) starlark.Value {
	if n, err := strconv.Atoi(s); err == nil {
		return starlark.MakeInt(n)
	}
	return starlark.String(s)
}

// truth is true for a non-empty string or a non-zero integer.
func truth(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	return v.Truth(), nil
}

// compare applies an installer comparison operator. Two integers compare
// numerically, where >< tests shared bits and << and >> compare the high and
// low words. Two strings compare lexically, where ><, << and >> test
// containment. Mixing the two is false for every operator except <>.
func compare(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var op string
	var left, right starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &op, &left, &right); err != nil {
		return nil, err
	}

	fold := strings.HasPrefix(op, "~")
	op = strings.TrimPrefix(op, "~")

	li, lInt := left.(starlark.Int)
	ri, rInt := right.(starlark.Int)
	switch {
	case lInt && rInt:
		return starlark.Bool(compareInts(op, li, ri)), nil
	case lInt || rInt:
		return starlark.Bool(op == "<>"), nil
	}

	ls, _ := starlark.AsString(left)
	rs, _ := starlark.AsString(right)
	if fold {
		ls, rs = strings.ToLower(ls), strings.ToLower(rs)
	}
	return starlark.Bool(compareStrings(op, ls, rs)), nil
}

func compareInts(op string, left, right starlark.Int) bool {
	l, _ := left.Int64()
	r, _ := right.Int64()
	switch op {
	case "=":
		return l == r
	case "<>":
		return l != r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	case "><":
		return l&r != 0
	case "<<":
		return l>>16 == r
	case ">>":
		return l&0xffff == r
	default:
		return false
	}
}

func compareStrings(op, l, r string) bool {
	switch op {
	case "=":
		return l == r
	case "<>":
		return l != r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	case "><":
		return strings.Contains(l, r)
	case "<<":
		return strings.HasPrefix(l, r)
	case ">>":
		return strings.HasSuffix(l, r)
	default:
		return false
	}
}
