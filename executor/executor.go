package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/parley-labs/parley/model"
)

// Result is what a capability hands back to the engine. Output goes into
// working data at the action's output binding; Event overrides the action's
// declared success event; Reply contributes to the step's response.
type Result struct {
	Output map[string]any
	Event  string
	Reply  *model.Response
}

// ActionExecutor looks up a capability by name and runs it. The engine owns
// retries, output binding, and error transitions; executors only do the work.
type ActionExecutor interface {
	Run(ctx context.Context, name string, config map[string]any, workingData map[string]any) (*Result, error)
}

type ActionFunc func(ctx context.Context, config map[string]any, workingData map[string]any) (*Result, error)

type UnknownActionError struct {
	Name string
}

func (e UnknownActionError) Error() string {
	return fmt.Sprintf("no executor registered for action %q", e.Name)
}

var _ ActionExecutor = new(Registry)

// Registry dispatches action names to registered capabilities through a
// lookup table resolved at startup.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]ActionFunc)}
}

func (r *Registry) Register(name string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = fn
}

func (r *Registry) Run(ctx context.Context, name string, config map[string]any, workingData map[string]any) (*Result, error) {
	r.mu.RLock()
	fn, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, UnknownActionError{Name: name}
	}
	return fn(ctx, config, workingData)
}
