package stores

import (
	"context"
	"database/sql"
	"iter"
	"time"

	"github.com/openfroyo/installengine/pkg/actions"
	"github.com/openfroyo/installengine/pkg/engine"
)

// RunStatus represents the status of an install run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StatusFor maps an install result to the run status recorded for it.
func StatusFor(err error) RunStatus {
	switch {
	case engine.IsSuccessEquivalent(err):
		return RunStatusCompleted
	case engine.IsUserExit(err):
		return RunStatusCancelled
	default:
		return RunStatusFailed
	}
}

// EventPhase marks the start or end of an action.
type EventPhase string

const (
	PhaseStarted  EventPhase = "started"
	PhaseFinished EventPhase = "finished"
)

// Run represents one install session
type Run struct {
	ID          string     `json:"id"`
	Product     string     `json:"product"`
	Version     string     `json:"version"`
	ProductCode string     `json:"product_code"`
	Status      RunStatus  `json:"status"`
	UI          bool       `json:"ui"`
	ResultCode  int        `json:"result_code"`
	Outcome     string     `json:"outcome,omitempty"`
	Properties  string     `json:"properties"` // JSON object
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ActionEvent is an append-only record of an action starting or finishing
type ActionEvent struct {
	ID         int64      `json:"id"`
	RunID      string     `json:"run_id"`
	Action     string     `json:"action"`
	Phase      EventPhase `json:"phase"`
	ResultCode *int       `json:"result_code,omitempty"`
	Error      *string    `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// OperationRecord is a persisted ledger operation
type OperationRecord struct {
	ID    int64  `json:"id"`
	RunID string `json:"run_id"`
	actions.Operation
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Sequence tables
	ImportTables(ctx context.Context, tables map[engine.TableKind][]engine.SequenceEntry) error
	Read(ctx context.Context, table engine.TableKind) iter.Seq[engine.SequenceEntry]
	Lookup(ctx context.Context, table engine.TableKind, sequence int) iter.Seq[engine.SequenceEntry]

	// Run operations
	RecordRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Action events
	AppendActionEvent(ctx context.Context, event *ActionEvent) error
	ListActionEvents(ctx context.Context, runID string) ([]*ActionEvent, error)

	// Ledger operations
	RecordOperations(ctx context.Context, runID string, ops []actions.Operation) error
	ListOperations(ctx context.Context, runID string) ([]*OperationRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var _ Store = (*SQLiteStore)(nil)
var _ engine.SequenceReader = (*SQLiteStore)(nil)
