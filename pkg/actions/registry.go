// Package actions provides the built-in installer actions.
//
// Costing and script actions (CostInitialize, FileCost, CostFinalize,
// InstallValidate, InstallInitialize, InstallExecute, InstallExecuteAgain,
// InstallFinalize, ExecuteAction) drive the engine. Side-effecting actions
// such as InstallFiles or WriteRegistryValues record the work they perform on
// a Ledger.
package actions

import (
	"context"

	"github.com/openfroyo/installengine/pkg/engine"
)

// Action names.
const (
	CostInitialize      = "CostInitialize"
	FileCost            = "FileCost"
	CostFinalize        = "CostFinalize"
	LaunchConditions    = "LaunchConditions"
	InstallValidate     = "InstallValidate"
	InstallInitialize   = "InstallInitialize"
	InstallExecute      = "InstallExecute"
	InstallExecuteAgain = "InstallExecuteAgain"
	InstallFinalize     = "InstallFinalize"
	ExecuteAction       = "ExecuteAction"
	ProcessComponents   = "ProcessComponents"
	UnpublishFeatures   = "UnpublishFeatures"
	RemoveFiles         = "RemoveFiles"
	CreateFolders       = "CreateFolders"
	InstallFiles        = "InstallFiles"
	WriteRegistryValues = "WriteRegistryValues"
	CreateShortcuts     = "CreateShortcuts"
	InstallServices     = "InstallServices"
	InstallODBC         = "InstallODBC"
	SelfRegModules      = "SelfRegModules"
	RegisterProduct     = "RegisterProduct"
	PublishFeatures     = "PublishFeatures"
	PublishProduct      = "PublishProduct"
)

// SourceMedia reports whether payload files can be used in place from the
// installation source.
type SourceMedia interface {
	Streamable(ctx context.Context, file engine.File) bool
}

// Validator checks a resolved package before the install proceeds.
type Validator interface {
	Validate(ctx context.Context, pkg *engine.Package) error
}

// LaunchCondition must hold for the install to start.
type LaunchCondition struct {
	Condition   string `json:"condition" yaml:"condition"`
	Description string `json:"description" yaml:"description"`
}

// Config wires the built-in actions to their collaborators. Every field is optional.
type Config struct {
	// Media is consulted by FileCost. Without it every file is assumed streamable.
	Media SourceMedia

	// Validator is run by InstallValidate.
	Validator Validator

	// Ledger receives the operations of side-effecting actions.
	Ledger *Ledger

	// LaunchConditions are checked by LaunchConditions.
	LaunchConditions []LaunchCondition
}

// NewRegistry builds the built-in action registry.
func NewRegistry(cfg Config) *engine.Registry {
	if cfg.Ledger == nil {
		cfg.Ledger = NewLedger()
	}
	a := &builtins{cfg: cfg}

	return engine.NewRegistry(map[string]engine.Handler{
		CostInitialize:      engine.HandlerFunc(a.costInitialize),
		FileCost:            engine.HandlerFunc(a.fileCost),
		CostFinalize:        engine.HandlerFunc(a.costFinalize),
		LaunchConditions:    engine.HandlerFunc(a.launchConditions),
		InstallValidate:     engine.HandlerFunc(a.installValidate),
		InstallInitialize:   engine.HandlerFunc(a.installInitialize),
		InstallExecute:      engine.HandlerFunc(a.installExecute),
		InstallExecuteAgain: engine.HandlerFunc(a.installExecute),
		InstallFinalize:     engine.HandlerFunc(a.installFinalize),
		ExecuteAction:       engine.HandlerFunc(a.executeAction),
		ProcessComponents:   engine.HandlerFunc(a.processComponents),
		UnpublishFeatures:   engine.HandlerFunc(a.unpublishFeatures),
		RemoveFiles:         engine.HandlerFunc(a.removeFiles),
		CreateFolders:       engine.HandlerFunc(a.createFolders),
		InstallFiles:        engine.HandlerFunc(a.installFiles),
		WriteRegistryValues: engine.HandlerFunc(a.writeRegistryValues),
		CreateShortcuts:     engine.HandlerFunc(a.createShortcuts),
		InstallServices:     engine.HandlerFunc(a.installServices),
		InstallODBC:         engine.HandlerFunc(a.installODBC),
		SelfRegModules:      engine.HandlerFunc(a.selfRegModules),
		RegisterProduct:     engine.HandlerFunc(a.registerProduct),
		PublishFeatures:     engine.HandlerFunc(a.publishFeatures),
		PublishProduct:      engine.HandlerFunc(a.publishProduct),
	})
}

type builtins struct {
	cfg Config
}
