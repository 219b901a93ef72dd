package actions

import (
	"context"
	"strconv"

	"github.com/openfroyo/installengine/pkg/engine"
)

// Costing properties.
const (
	PropCostingComplete = "CostingComplete"
	PropSpaceRequired   = "PrimaryVolumeSpaceRequired"
)

func (a *builtins) costInitialize(_ context.Context, s *engine.Session) error {
	pkg := s.Package()
	pkg.Properties.Set(PropCostingComplete, "0")

	for i := range pkg.Components {
		pkg.Components[i].Disabled = false
	}

	s.Logger().Debug().
		Int("components", len(pkg.Components)).
		Int("features", pkg.Features.Len()).
		Msg("Costing initialized")
	return nil
}

// fileCost marks components whose files cannot be used from the source media
// as ForceLocalState and totals the payload size.
func (a *builtins) fileCost(ctx context.Context, s *engine.Session) error {
	pkg := s.Package()
	var total int64
	forced := 0

	for i := range pkg.Components {
		c := &pkg.Components[i]
		for _, f := range c.Files {
			total += f.Size
			if c.ForceLocalState {
				continue
			}
			if f.Compressed || (a.cfg.Media != nil && !a.cfg.Media.Streamable(ctx, f)) {
				c.ForceLocalState = true
				forced++
				s.Logger().Debug().
					Str("component", c.Name).
					Str("file", f.Name).
					Msg("File not usable from source, forcing local install")
			}
		}
	}

	pkg.Properties.Set(PropSpaceRequired, strconv.FormatInt(total, 10))
	s.Logger().Debug().
		Int64("bytes", total).
		Int("forced_local", forced).
		Msg("File costing complete")
	return nil
}

// costFinalize evaluates component conditions and resolves install states.
func (a *builtins) costFinalize(ctx context.Context, s *engine.Session) error {
	pkg := s.Package()

	for i := range pkg.Components {
		c := &pkg.Components[i]
		if c.Condition == "" {
			continue
		}
		ok, err := s.Evaluate(ctx, c.Condition)
		if err != nil {
			s.Logger().Warn().
				Err(err).
				Str("component", c.Name).
				Msg("Component condition could not be evaluated, leaving component enabled")
			continue
		}
		c.Disabled = !ok
	}

	res := s.ResolveStates(ctx)
	pkg.Properties.Set(PropCostingComplete, "1")

	s.Logger().Info().
		Int("install_level", res.InstallLevel).
		Bool("override_mode", res.OverrideMode).
		Msg("Costing finalized")
	return nil
}

func (a *builtins) launchConditions(ctx context.Context, s *engine.Session) error {
	for _, lc := range a.cfg.LaunchConditions {
		ok, err := s.Evaluate(ctx, lc.Condition)
		if err != nil {
			return engine.Failure(LaunchConditions, "invalid launch condition", err)
		}
		if !ok {
			msg := s.Properties().Deformat(lc.Description)
			s.Logger().Error().
				Str("condition", lc.Condition).
				Msg(msg)
			return engine.NewError(engine.CodeInstallFailure, msg, nil).
				WithAction(LaunchConditions).
				WithDetail("condition", lc.Condition)
		}
	}
	return nil
}

// installValidate checks that resolution left no Default state and runs the
// configured validator.
func (a *builtins) installValidate(ctx context.Context, s *engine.Session) error {
	pkg := s.Package()

	var bad []string
	pkg.Features.Walk(func(_ int, f *engine.Feature) {
		if f.Action == engine.StateDefault {
			bad = append(bad, "feature "+f.Name)
		}
	})
	for _, c := range pkg.Components {
		if c.Action == engine.StateDefault {
			bad = append(bad, "component "+c.Name)
		}
	}
	if len(bad) > 0 {
		return engine.NewError(engine.CodeInstallFailure, "unresolved install states", nil).
			WithAction(InstallValidate).
			WithDetail("items", bad)
	}

	if a.cfg.Validator == nil {
		return nil
	}
	if err := a.cfg.Validator.Validate(ctx, pkg); err != nil {
		return engine.Failure(InstallValidate, "install validation failed", err)
	}
	return nil
}
