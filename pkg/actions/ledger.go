package actions

import (
	"sync"
	"time"
)

// Operation is one unit of work a side-effecting action performed.
type Operation struct {
	// Action is the action that performed the operation.
	Action string `json:"action"`

	// Kind names the operation, e.g. copy-file or write-registry.
	Kind string `json:"kind"`

	// Target is the feature, component or file the operation applies to.
	Target string `json:"target"`

	// Detail carries operation-specific information such as a destination path.
	Detail string `json:"detail,omitempty"`

	// At is when the operation was recorded.
	At time.Time `json:"at"`
}

// Ledger records the operations performed by side-effecting actions in order.
type Ledger struct {
	mu  sync.Mutex
	ops []Operation
	now func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// Add appends an operation.
func (l *Ledger) Add(action, kind, target, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, Operation{
		Action: action,
		Kind:   kind,
		Target: target,
		Detail: detail,
		At:     l.now(),
	})
}

// Operations returns a copy of the recorded operations.
func (l *Ledger) Operations() []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Operation(nil), l.ops...)
}

// Len returns the number of recorded operations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}
