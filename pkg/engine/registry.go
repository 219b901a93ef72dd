package engine

import (
	"context"
	"sort"
)

// Handler implements a built-in action.
type Handler interface {
	Run(ctx context.Context, s *Session) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, s *Session) error

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, s *Session) error {
	return f(ctx, s)
}

// immediateActions always run when dispatched, even while recording.
var immediateActions = map[string]bool{
	"InstallFinalize":     true,
	"InstallExecute":      true,
	"InstallExecuteAgain": true,
}

// Registry maps action names to built-in handlers. It is fixed at construction.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates a registry from handlers. The map is copied.
func NewRegistry(handlers map[string]Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for name, h := range handlers {
		if h != nil {
			r.handlers[name] = h
		}
	}
	return r
}

// Lookup returns the handler for action.
func (r *Registry) Lookup(action string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[action]
	return h, ok
}

// Names returns the registered action names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	return len(r.handlers)
}
