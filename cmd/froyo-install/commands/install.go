package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openfroyo/installengine/pkg/actions"
	"github.com/openfroyo/installengine/pkg/condition"
	"github.com/openfroyo/installengine/pkg/customaction"
	"github.com/openfroyo/installengine/pkg/definition"
	"github.com/openfroyo/installengine/pkg/engine"
	"github.com/openfroyo/installengine/pkg/policy"
	"github.com/openfroyo/installengine/pkg/props"
	"github.com/openfroyo/installengine/pkg/stores"
)

// UI levels at or above this run the UI sequence.
const uiLevelReduced = 4

func newInstallCommand() *cobra.Command {
	var (
		ui           bool
		properties   []string
		policyPaths  []string
		tablesFromDB bool
	)

	cmd := &cobra.Command{
		Use:   "install <definition>",
		Short: "Run an installation",
		Long: `Run an installation from a package definition.

The UI sequence runs first when --ui is given or the UILevel property is 4 or
higher; otherwise only the execute sequence runs. Properties from the
definition are seeded first and --property overrides them.

Each run is recorded in the database with its outcome, every action start
and end, and the operations performed by the built-in actions.`,
		Example: `  # Silent install with default feature selection
  froyo-install install widget.cue

  # Install everything, with the interactive dialogs
  froyo-install install widget.cue --ui --property ADDLOCAL=ALL

  # Remove the product
  froyo-install install widget.cue --property REMOVE=ALL

  # Use sequence tables imported earlier with 'froyo-install import'
  froyo-install install widget.cue --tables-from-db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseProperties(properties)
			if err != nil {
				return err
			}
			def, err := definition.Load(args[0])
			if err != nil {
				return err
			}

			return runInstall(cmd, def, installOptions{
				ui:           ui,
				uiSet:        cmd.Flags().Changed("ui"),
				overrides:    overrides,
				policyPaths:  policyPaths,
				tablesFromDB: tablesFromDB,
			})
		},
	}

	cmd.Flags().BoolVar(&ui, "ui", false, "run the UI sequence before the execute sequence")
	cmd.Flags().StringArrayVarP(&properties, "property", "p", nil, "set a property (NAME=VALUE, repeatable)")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy files or directories")
	cmd.Flags().BoolVar(&tablesFromDB, "tables-from-db", false, "read sequence tables from the database")

	return cmd
}

type installOptions struct {
	ui           bool
	uiSet        bool
	overrides    map[string]string
	policyPaths  []string
	tablesFromDB bool
}

// installSummary is printed when a run finishes.
type installSummary struct {
	RunID      string              `json:"run_id"`
	Product    string              `json:"product"`
	Version    string              `json:"version"`
	Outcome    string              `json:"outcome"`
	ResultCode int                 `json:"result_code"`
	Error      string              `json:"error,omitempty"`
	Operations []actions.Operation `json:"operations"`
}

func runInstall(cmd *cobra.Command, def *definition.Definition, opts installOptions) (retErr error) {
	ctx := cmd.Context()

	tel, err := newTelemetry()
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		retErr = errors.Join(retErr, tel.Shutdown(shutdownCtx))
	}()
	logger := tel.Logger.Zerolog()

	pkg, err := def.Package(opts.overrides)
	if err != nil {
		return fmt.Errorf("failed to build package: %w", err)
	}
	if !opts.uiSet {
		opts.ui = pkg.Properties.Int(props.UILevel, 0) >= uiLevelReduced
	}

	store, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var reader engine.SequenceReader = def.Reader()
	if opts.tablesFromDB {
		reader = store
	}

	src, err := openMedia(ctx, def, logger)
	if err != nil {
		return err
	}
	if src != nil {
		defer func() { _ = src.Close() }()
	}

	validator, err := newPolicyEngine(ctx, opts.policyPaths, logger)
	if err != nil {
		return err
	}

	custom, err := customaction.NewRunner(def.CustomActions,
		customaction.WithLogger(logger),
		customaction.WithBaseDir(baseDir(def)),
	)
	if err != nil {
		return fmt.Errorf("failed to load custom actions: %w", err)
	}
	defer func() { _ = custom.Close(context.WithoutCancel(ctx)) }()

	ledger := actions.NewLedger()
	registry := actions.NewRegistry(builtinConfig(def, src, validator, ledger))

	runID := uuid.New().String()
	ctx, run := tel.StartRun(ctx, runID, pkg.Product)

	record := &stores.Run{
		ID:          runID,
		Product:     pkg.Product.Name,
		Version:     pkg.Product.Version,
		ProductCode: pkg.Product.ProductCode,
		Status:      stores.RunStatusRunning,
		UI:          opts.ui,
		Properties:  propertiesJSON(pkg.Properties),
		StartedAt:   time.Now(),
	}
	if err := store.RecordRun(ctx, record); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	dialogs := newConsoleDialogs(def, cmd.InOrStdin(), cmd.OutOrStdout())
	defer func() { _ = dialogs.Close() }()

	engineOpts := append(run.EngineOptions(stores.NewRunJournal(store, runID, logger)),
		engine.WithCustomActions(custom),
		engine.WithDialogs(dialogs),
	)
	eng := engine.New(registry, reader, condition.NewEvaluator(logger), engineOpts...)

	installErr := eng.NewSession(pkg).Install(ctx, opts.ui)
	outcome := run.End(installErr)

	var violations *policy.ViolationError
	if errors.As(installErr, &violations) {
		for _, v := range violations.Violations {
			_ = tel.Events.PublishPolicyViolation(runID, v.Policy, v.Subject, v.Message)
		}
	}

	// Bookkeeping must survive a cancelled install.
	saveCtx := context.WithoutCancel(ctx)
	if err := store.RecordOperations(saveCtx, runID, ledger.Operations()); err != nil {
		run.Logger.WithError(err).Warn("Failed to record operations")
	}

	now := time.Now()
	record.Status = stores.StatusFor(installErr)
	record.ResultCode = int(engine.ResultCode(installErr))
	record.Outcome = outcome.String()
	record.Properties = propertiesJSON(pkg.Properties)
	record.CompletedAt = &now
	if installErr != nil {
		msg := installErr.Error()
		record.Error = &msg
	}
	if err := store.RecordRun(saveCtx, record); err != nil {
		run.Logger.WithError(err).Warn("Failed to update run")
	}

	summary := installSummary{
		RunID:      runID,
		Product:    pkg.Product.Name,
		Version:    pkg.Product.Version,
		Outcome:    outcome.String(),
		ResultCode: record.ResultCode,
		Operations: ledger.Operations(),
	}
	if installErr != nil {
		summary.Error = installErr.Error()
	}
	if err := printSummary(cmd, summary); err != nil {
		return err
	}

	if engine.IsSuccessEquivalent(installErr) {
		return nil
	}
	return fmt.Errorf("install %s: %w", outcome, installErr)
}

func printSummary(cmd *cobra.Command, s installSummary) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(out, "\nRun %s: %s %s\n", s.RunID, s.Product, s.Version)
	fmt.Fprintf(out, "Outcome: %s (result %d)\n", s.Outcome, s.ResultCode)
	if s.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", s.Error)
	}
	fmt.Fprintf(out, "Operations: %d\n", len(s.Operations))
	for _, op := range s.Operations {
		fmt.Fprintf(out, "  %-20s %-18s %s\n", op.Action, op.Kind, op.Target)
	}
	return nil
}

// propertiesJSON renders the property snapshot for the run record.
func propertiesJSON(store *props.Store) string {
	data, err := json.Marshal(store.Snapshot())
	if err != nil {
		return "{}"
	}
	return string(data)
}
