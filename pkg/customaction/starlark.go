package customaction

import (
	"context"
	"errors"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/installengine/pkg/engine"
)

// resultGlobal is the global a script assigns to report its result. True,
// None or 0 mean success; False or a nonzero installer code mean otherwise.
const resultGlobal = "result"

func (r *Runner) runStarlark(ctx context.Context, pkg *engine.Package, def Definition) error {
	thread := &starlark.Thread{
		Name: def.Name,
		Print: func(_ *starlark.Thread, msg string) {
			r.logger.Info().Str("action", def.Name).Msg(msg)
		},
	}
	if r.maxSteps > 0 {
		thread.SetMaxExecutionSteps(r.maxSteps)
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	globals, err := starlark.ExecFile(thread, def.Name+".star", def.Script, r.predeclared(pkg, def))
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			r.logger.Debug().Str("action", def.Name).Str("backtrace", evalErr.Backtrace()).Msg("Script failed")
		}
		return engine.NewError(engine.CodeInstallFailure, "custom action script failed", err).WithAction(def.Name)
	}

	switch v := globals[resultGlobal].(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.Bool:
		if v {
			return nil
		}
		return engine.NewError(engine.CodeInstallFailure, "custom action reported failure", nil).WithAction(def.Name)
	case starlark.Int:
		code, ok := v.Int64()
		if !ok {
			return engine.NewError(engine.CodeInstallFailure, "custom action result out of range", nil).WithAction(def.Name)
		}
		return resultError(def.Name, int(code))
	default:
		return engine.NewError(engine.CodeInstallFailure,
			fmt.Sprintf("custom action result must be bool or int, got %s", v.Type()), nil).WithAction(def.Name)
	}
}

func (r *Runner) predeclared(pkg *engine.Package, def Definition) starlark.StringDict {
	store := pkg.Properties

	property := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var fallback string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &fallback); err != nil {
			return nil, err
		}
		if v, ok := store.Lookup(name); ok {
			return starlark.String(v), nil
		}
		return starlark.String(fallback), nil
	}

	setProperty := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var value starlark.Value
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "value", &value); err != nil {
			return nil, err
		}
		s, ok := starlark.AsString(value)
		if !ok {
			s = value.String()
		}
		store.Set(name, s)
		return starlark.None, nil
	}

	format := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var text string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &text); err != nil {
			return nil, err
		}
		return starlark.String(store.Deformat(text)), nil
	}

	featureAction := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		f, ok := pkg.Feature(name)
		if !ok {
			return starlark.None, nil
		}
		return starlark.String(f.Action), nil
	}

	componentAction := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		c, ok := pkg.Component(name)
		if !ok {
			return starlark.None, nil
		}
		return starlark.String(c.Action), nil
	}

	product := starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"name":         starlark.String(pkg.Product.Name),
		"version":      starlark.String(pkg.Product.Version),
		"manufacturer": starlark.String(pkg.Product.Manufacturer),
		"code":         starlark.String(pkg.Product.ProductCode),
	})

	return starlark.StringDict{
		"struct":           starlarkstruct.Default,
		"product":          product,
		"action":           starlark.String(def.Name),
		"property":         starlark.NewBuiltin("property", property),
		"set_property":     starlark.NewBuiltin("set_property", setProperty),
		"format":           starlark.NewBuiltin("format", format),
		"feature_action":   starlark.NewBuiltin("feature_action", featureAction),
		"component_action": starlark.NewBuiltin("component_action", componentAction),
	}
}
