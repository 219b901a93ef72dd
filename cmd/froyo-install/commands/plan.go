package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/installengine/pkg/actions"
	"github.com/openfroyo/installengine/pkg/condition"
	"github.com/openfroyo/installengine/pkg/definition"
	"github.com/openfroyo/installengine/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		properties []string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "plan <definition>",
		Short: "Show the resolved feature and component states",
		Long: `Run costing against a package definition without installing anything and
show what each feature and component would do.

Only CostInitialize, FileCost and CostFinalize run, so no sequence table,
dialog or custom action is involved.`,
		Example: `  # Show the default selection
  froyo-install plan widget.cue

  # Preview a removal as JSON
  froyo-install plan widget.cue --property REMOVE=ALL --json

  # Re-plan every time the definition is saved
  froyo-install plan widget.cue --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseProperties(properties)
			if err != nil {
				return err
			}
			if err := renderPlan(cmd, args[0], overrides); err != nil {
				if !watch {
					return err
				}
				log.Error().Err(err).Msg("Plan failed")
			}
			if !watch {
				return nil
			}
			return watchPlan(cmd, args[0], func() {
				if err := renderPlan(cmd, args[0], overrides); err != nil {
					log.Error().Err(err).Msg("Plan failed")
				}
			})
		},
	}

	cmd.Flags().StringArrayVarP(&properties, "property", "p", nil, "set a property (NAME=VALUE, repeatable)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-run the plan whenever the definition changes")

	return cmd
}

// renderPlan loads the definition at path, costs it and prints the report.
func renderPlan(cmd *cobra.Command, path string, overrides map[string]string) error {
	def, err := definition.Load(path)
	if err != nil {
		return err
	}

	plan, err := dryResolve(cmd.Context(), def, overrides, log.Logger)
	if err != nil {
		return err
	}
	report := newPlanReport(plan)
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	return report.writeTable(cmd.OutOrStdout())
}

const planDebounce = 200 * time.Millisecond

// watchPlan calls replan after each change to the file at path until the
// command context is done. Bursts of events are coalesced.
func watchPlan(cmd *cobra.Command, path string, replan func()) error {
	ctx := cmd.Context()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors replace files, so watch the parent directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	log.Info().Str("definition", path).Msg("Watching for changes")

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(planDebounce)

		case <-debounce.C:
			fmt.Fprintln(cmd.OutOrStdout())
			replan()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// plan is a costed package and its resolution.
type plan struct {
	pkg *engine.Package
	res *engine.Resolution
}

// resolutionCapture keeps the last resolution the engine reports.
type resolutionCapture struct {
	engine.NopObserver
	last *engine.Resolution
}

func (c *resolutionCapture) StatesResolved(res *engine.Resolution) {
	c.last = res
}

// dryResolve builds the package for def and runs the costing actions on it.
func dryResolve(ctx context.Context, def *definition.Definition, overrides map[string]string, logger zerolog.Logger) (*plan, error) {
	pkg, err := def.Package(overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to build package: %w", err)
	}

	src, err := openMedia(ctx, def, logger)
	if err != nil {
		return nil, err
	}
	if src != nil {
		defer func() { _ = src.Close() }()
	}

	capture := &resolutionCapture{}
	registry := actions.NewRegistry(builtinConfig(def, src, nil, nil))
	eng := engine.New(registry, def.Reader(), condition.NewEvaluator(logger),
		engine.WithLogger(logger),
		engine.WithObserver(capture),
	)

	session := eng.NewSession(pkg)
	for _, action := range []string{actions.CostInitialize, actions.FileCost, actions.CostFinalize} {
		if err := session.Dispatch(ctx, action, engine.ScriptInstall, true); err != nil {
			return nil, fmt.Errorf("%s: %w", action, err)
		}
	}
	if capture.last == nil {
		return nil, fmt.Errorf("costing did not resolve feature states")
	}
	return &plan{pkg: pkg, res: capture.last}, nil
}

type planReport struct {
	Product       string            `json:"product"`
	Version       string            `json:"version"`
	InstallLevel  int               `json:"install_level"`
	OverrideMode  bool              `json:"override_mode"`
	SpaceRequired int               `json:"space_required"`
	Features      []featureReport   `json:"features"`
	Components    []componentReport `json:"components"`
}

type featureReport struct {
	Name      string `json:"name"`
	Parent    string `json:"parent,omitempty"`
	Level     int    `json:"level"`
	Installed string `json:"installed"`
	Action    string `json:"action"`
}

type componentReport struct {
	Name       string `json:"name"`
	Installed  string `json:"installed"`
	Action     string `json:"action"`
	ForceLocal bool   `json:"force_local"`
	Disabled   bool   `json:"disabled"`
}

func newPlanReport(p *plan) *planReport {
	report := &planReport{
		Product:       p.pkg.Product.Name,
		Version:       p.pkg.Product.Version,
		InstallLevel:  p.res.InstallLevel,
		OverrideMode:  p.res.OverrideMode,
		SpaceRequired: p.pkg.Properties.Int(actions.PropSpaceRequired, 0),
		Features:      []featureReport{},
		Components:    []componentReport{},
	}

	p.pkg.Features.Walk(func(_ int, f *engine.Feature) {
		fr := featureReport{
			Name:      f.Name,
			Level:     f.Level,
			Installed: string(f.Installed),
			Action:    string(f.Action),
		}
		if f.Parent >= 0 {
			fr.Parent = p.pkg.Features.At(f.Parent).Name
		}
		report.Features = append(report.Features, fr)
	})

	for _, c := range p.pkg.Components {
		report.Components = append(report.Components, componentReport{
			Name:       c.Name,
			Installed:  string(c.Installed),
			Action:     string(c.Action),
			ForceLocal: c.ForceLocalState,
			Disabled:   c.Disabled,
		})
	}
	return report
}

func (r *planReport) writeTable(out io.Writer) error {
	fmt.Fprintf(out, "%s %s\n", r.Product, r.Version)
	fmt.Fprintf(out, "Install level: %d", r.InstallLevel)
	if r.OverrideMode {
		fmt.Fprint(out, " (overridden)")
	}
	fmt.Fprintf(out, "\nSpace required: %d bytes\n\n", r.SpaceRequired)

	features := newTable(false, "FEATURE", "PARENT", "LEVEL", "INSTALLED", "ACTION")
	for _, f := range r.Features {
		parent := f.Parent
		if parent == "" {
			parent = "-"
		}
		features.Row(f.Name, parent, strconv.Itoa(f.Level), f.Installed, f.Action)
	}
	if err := renderTable(out, features); err != nil {
		return err
	}

	fmt.Fprintln(out)
	components := newTable(false, "COMPONENT", "INSTALLED", "ACTION", "FLAGS")
	for _, c := range r.Components {
		flags := "-"
		switch {
		case c.Disabled:
			flags = "disabled"
		case c.ForceLocal:
			flags = "force-local"
		}
		components.Row(c.Name, c.Installed, c.Action, flags)
	}
	return renderTable(out, components)
}
