package actions

import (
	"context"
	"path"

	"github.com/openfroyo/installengine/pkg/engine"
)

// installing reports whether a component is being placed on the machine.
func installing(c *engine.Component) bool {
	return c.Action == engine.StateLocal || c.Action == engine.StateSource
}

// removing reports whether an installed component is being removed.
func removing(c *engine.Component) bool {
	return c.Action == engine.StateAbsent && c.Installed.IsInstalled() &&
		!c.Attributes.Has(engine.ComponentPermanent)
}

// eachComponent records kind for every component matching keep.
func (a *builtins) eachComponent(s *engine.Session, action, kind string, keep func(*engine.Component) bool) {
	pkg := s.Package()
	n := 0
	for i := range pkg.Components {
		c := &pkg.Components[i]
		if c.Disabled || !keep(c) {
			continue
		}
		a.cfg.Ledger.Add(action, kind, c.Name, c.Directory)
		n++
	}
	s.Logger().Debug().Str("action", action).Int("components", n).Msg("Components processed")
}

func (a *builtins) processComponents(_ context.Context, s *engine.Session) error {
	a.eachComponent(s, ProcessComponents, "register-component", installing)
	a.eachComponent(s, ProcessComponents, "unregister-component", removing)
	return nil
}

func (a *builtins) unpublishFeatures(_ context.Context, s *engine.Session) error {
	s.Package().Features.Walk(func(_ int, f *engine.Feature) {
		if f.Action == engine.StateAbsent && f.Installed.IsInstalled() {
			a.cfg.Ledger.Add(UnpublishFeatures, "unpublish-feature", f.Name, "")
		}
	})
	return nil
}

func (a *builtins) removeFiles(_ context.Context, s *engine.Session) error {
	pkg := s.Package()
	for i := range pkg.Components {
		c := &pkg.Components[i]
		if c.Disabled || !removing(c) {
			continue
		}
		for _, f := range c.Files {
			a.cfg.Ledger.Add(RemoveFiles, "remove-file", c.Name, path.Join(c.Directory, f.Name))
		}
	}
	return nil
}

func (a *builtins) createFolders(_ context.Context, s *engine.Session) error {
	seen := make(map[string]bool)
	pkg := s.Package()
	for i := range pkg.Components {
		c := &pkg.Components[i]
		if c.Disabled || c.Action != engine.StateLocal || c.Directory == "" || seen[c.Directory] {
			continue
		}
		seen[c.Directory] = true
		a.cfg.Ledger.Add(CreateFolders, "create-folder", c.Name, c.Directory)
	}
	return nil
}

// installFiles copies files of local components; source components are
// registered to run from the media.
func (a *builtins) installFiles(ctx context.Context, s *engine.Session) error {
	pkg := s.Package()
	for i := range pkg.Components {
		if err := ctx.Err(); err != nil {
			return engine.NewError(engine.CodeUserExit, "install cancelled", err).WithAction(InstallFiles)
		}
		c := &pkg.Components[i]
		if c.Disabled {
			continue
		}
		switch c.Action {
		case engine.StateLocal:
			for _, f := range c.Files {
				a.cfg.Ledger.Add(InstallFiles, "copy-file", c.Name, path.Join(c.Directory, f.Name))
			}
		case engine.StateSource:
			for _, f := range c.Files {
				a.cfg.Ledger.Add(InstallFiles, "run-from-source", c.Name, f.Source)
			}
		}
	}
	return nil
}

func (a *builtins) writeRegistryValues(_ context.Context, s *engine.Session) error {
	a.eachComponent(s, WriteRegistryValues, "write-registry", func(c *engine.Component) bool {
		return installing(c) && c.Attributes.Has(engine.ComponentRegistryKeyPath)
	})
	return nil
}

func (a *builtins) createShortcuts(_ context.Context, s *engine.Session) error {
	a.eachComponent(s, CreateShortcuts, "create-shortcut", func(c *engine.Component) bool {
		return c.Action == engine.StateLocal || c.Action == engine.StateAdvertised
	})
	return nil
}

func (a *builtins) installServices(_ context.Context, s *engine.Session) error {
	a.eachComponent(s, InstallServices, "install-service", func(c *engine.Component) bool {
		return c.Action == engine.StateLocal && c.Attributes.Has(engine.ComponentSharedDLLRefCount)
	})
	return nil
}

func (a *builtins) installODBC(_ context.Context, s *engine.Session) error {
	a.eachComponent(s, InstallODBC, "install-odbc", func(c *engine.Component) bool {
		return installing(c) && c.Attributes.Has(engine.ComponentODBCDataSource)
	})
	return nil
}

// selfRegModules has no implementation; the sequencer continues past it.
func (a *builtins) selfRegModules(_ context.Context, s *engine.Session) error {
	s.Logger().Warn().Str("action", SelfRegModules).Msg("Self-registration is not supported, skipping")
	return engine.NewError(engine.CodeNotImplemented, "self-registration not supported", nil).WithAction(SelfRegModules)
}

func (a *builtins) registerProduct(_ context.Context, s *engine.Session) error {
	pkg := s.Package()
	if pkg.FullUninstall() {
		return nil
	}
	a.cfg.Ledger.Add(RegisterProduct, "register-product", pkg.Product.Name, pkg.Product.Version)
	return nil
}

func (a *builtins) publishFeatures(_ context.Context, s *engine.Session) error {
	s.Package().Features.Walk(func(_ int, f *engine.Feature) {
		if f.Action.IsInstalled() {
			a.cfg.Ledger.Add(PublishFeatures, "publish-feature", f.Name, string(f.Action))
		}
	})
	return nil
}

func (a *builtins) publishProduct(_ context.Context, s *engine.Session) error {
	pkg := s.Package()
	if pkg.FullUninstall() {
		return nil
	}
	a.cfg.Ledger.Add(PublishProduct, "publish-product", pkg.Product.Name, pkg.Product.ProductCode)
	return nil
}
