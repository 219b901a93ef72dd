package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/installengine/pkg/engine"
)

// Event is a telemetry event emitted during an install run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Action is the associated action name, if applicable.
	Action string `json:"action,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]any `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeActionStarted   = "action.started"
	EventTypeActionFinished  = "action.finished"
	EventTypeActionFailed    = "action.failed"
	EventTypePolicyViolation = "policy.violation"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// ErrPublisherStopped is returned by Publish after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// ErrBufferFull is returned by Publish when an asynchronous buffer is full.
var ErrBufferFull = errors.New("event buffer full, event dropped")

// EventSubscriber handles a delivered event.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. In async mode events are
// buffered and delivered in publish order by a single goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates an event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	if ep.stopped {
		return ErrPublisherStopped
	}
	for _, filter := range ep.filters {
		if !filter(event) {
			return nil
		}
	}

	if !ep.config.EnableAsync {
		ep.deliverLocked(event)
		return nil
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, product, version string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "installer",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started for %s %s", runID, product, version),
		Level:   EventLevelInfo,
		Data: map[string]any{
			"product": product,
			"version": version,
		},
	})
}

// PublishRunCompleted publishes the terminal outcome of a run. Failed
// outcomes are published as run.failed.
func (ep *EventPublisher) PublishRunCompleted(runID string, outcome engine.Outcome, duration time.Duration, err error) error {
	event := Event{
		Type:    EventTypeRunCompleted,
		Source:  "installer",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed: %s", runID, outcome),
		Level:   EventLevelInfo,
		Data: map[string]any{
			"outcome":  outcome.String(),
			"duration": duration.Seconds(),
		},
	}
	if outcome == engine.OutcomeFailure {
		event.Type = EventTypeRunFailed
		event.Level = EventLevelError
		if err != nil {
			event.Message = fmt.Sprintf("Run %s failed: %v", runID, err)
			event.Data["error"] = err.Error()
		}
	} else if outcome != engine.OutcomeSuccess {
		event.Level = EventLevelWarning
	}
	return ep.Publish(event)
}

// PublishPolicyViolation publishes a policy violation found before install.
func (ep *EventPublisher) PublishPolicyViolation(runID, policyName, subject, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		RunID:   runID,
		Message: fmt.Sprintf("Policy %s violated by %s: %s", policyName, subject, reason),
		Level:   EventLevelError,
		Data: map[string]any{
			"policy":  policyName,
			"subject": subject,
			"reason":  reason,
		},
	})
}

// Subscribe adds a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		ep.mu.RLock()
		for _, event := range batch {
			ep.deliverLocked(event)
		}
		ep.mu.RUnlock()
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// Deliver as soon as the buffer is momentarily empty so
			// subscribers never wait for a full batch.
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				flush()
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverLocked calls matching subscribers. ep.mu must be held.
func (ep *EventPublisher) deliverLocked(event Event) {
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops accepting events and waits for buffered events to be
// delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.mu.Lock()
	ep.stopped = true
	ep.mu.Unlock()
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// EventNotifier publishes action notifications of one run. It implements
// engine.Notifier.
type EventNotifier struct {
	publisher *EventPublisher
	runID     string
	logger    *Logger
}

// NewEventNotifier creates a notifier publishing to ep under runID.
func NewEventNotifier(ep *EventPublisher, runID string, logger *Logger) *EventNotifier {
	return &EventNotifier{publisher: ep, runID: runID, logger: logger}
}

// ActionStarted implements engine.Notifier.
func (n *EventNotifier) ActionStarted(_ context.Context, action string) {
	n.publish(Event{
		Type:    EventTypeActionStarted,
		Source:  "engine",
		RunID:   n.runID,
		Action:  action,
		Message: fmt.Sprintf("Action %s started", action),
		Level:   EventLevelInfo,
	})
}

// ActionFinished implements engine.Notifier.
func (n *EventNotifier) ActionFinished(_ context.Context, action string, err error) {
	code := engine.ResultCode(err)
	event := Event{
		Type:    EventTypeActionFinished,
		Source:  "engine",
		RunID:   n.runID,
		Action:  action,
		Message: fmt.Sprintf("Action %s finished: %s", action, code),
		Level:   EventLevelInfo,
		Data: map[string]any{
			"code": int(code),
		},
	}
	if !engine.IsSuccessEquivalent(err) {
		event.Type = EventTypeActionFailed
		event.Level = EventLevelError
		event.Data["error"] = err.Error()
	}
	n.publish(event)
}

func (n *EventNotifier) publish(event Event) {
	if err := n.publisher.Publish(event); err != nil && n.logger != nil {
		n.logger.WithError(err).WithAction(event.Action).Warn("Failed to publish event")
	}
}

var _ engine.Notifier = (*EventNotifier)(nil)
