package stores

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/installengine/pkg/engine"
)

// RunJournal persists action notifications of one run as action events. It
// implements engine.Notifier; write failures are logged and never reach the
// session.
type RunJournal struct {
	store  Store
	runID  string
	logger zerolog.Logger
	now    func() time.Time
}

// NewRunJournal creates a journal appending events for runID to store.
func NewRunJournal(store Store, runID string, logger zerolog.Logger) *RunJournal {
	return &RunJournal{
		store:  store,
		runID:  runID,
		logger: logger.With().Str("component", "journal").Str("run_id", runID).Logger(),
		now:    time.Now,
	}
}

// ActionStarted records the start of action.
func (j *RunJournal) ActionStarted(ctx context.Context, action string) {
	j.append(ctx, &ActionEvent{
		RunID:     j.runID,
		Action:    action,
		Phase:     PhaseStarted,
		Timestamp: j.now(),
	})
}

// ActionFinished records the end of action and its result.
func (j *RunJournal) ActionFinished(ctx context.Context, action string, err error) {
	code := int(engine.ResultCode(err))
	event := &ActionEvent{
		RunID:      j.runID,
		Action:     action,
		Phase:      PhaseFinished,
		ResultCode: &code,
		Timestamp:  j.now(),
	}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
	}
	j.append(ctx, event)
}

func (j *RunJournal) append(ctx context.Context, event *ActionEvent) {
	if err := j.store.AppendActionEvent(context.WithoutCancel(ctx), event); err != nil {
		j.logger.Warn().Err(err).Str("action", event.Action).Msg("Failed to record action event")
	}
}

var _ engine.Notifier = (*RunJournal)(nil)
