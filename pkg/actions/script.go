package actions

import (
	"context"

	"github.com/openfroyo/installengine/pkg/engine"
)

func (a *builtins) installInitialize(_ context.Context, s *engine.Session) error {
	s.Package().Script.StartRecording()
	s.Logger().Debug().Msg("Script recording started")
	return nil
}

// installExecute replays the install script recorded so far.
func (a *builtins) installExecute(ctx context.Context, s *engine.Session) error {
	return s.Flush(ctx, engine.ScriptInstall)
}

// installFinalize unpublishes the product on a full uninstall, then replays
// the install script and, if that succeeds, the commit script.
func (a *builtins) installFinalize(ctx context.Context, s *engine.Session) error {
	pkg := s.Package()
	if pkg.FullUninstall() {
		a.cfg.Ledger.Add(InstallFinalize, "unpublish-product", pkg.Product.Name, pkg.Product.ProductCode)
	}

	pkg.Script.StopRecording()
	if err := s.Flush(ctx, engine.ScriptInstall); err != nil {
		return err
	}
	return s.Flush(ctx, engine.ScriptCommit)
}

func (a *builtins) executeAction(ctx context.Context, s *engine.Session) error {
	return s.RunSequence(ctx, engine.TableExecute, false)
}
