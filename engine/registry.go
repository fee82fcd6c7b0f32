// Package engine provides Engine implementations for quotarelay hosts.
//
// Registry dispatches calls to handlers keyed by call kind, which lets a host
// expose a closed set of commands behind the relay.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ineyio/quotarelay"
)

// RawCall is a call decoded off the wire whose arguments are still JSON.
type RawCall struct {
	Name string          `json:"call"`
	Args json.RawMessage `json:"args,omitempty"`
}

var _ quotarelay.Call = RawCall{}

// Kind implements quotarelay.Call.
func (c RawCall) Kind() string { return c.Name }

// Args extracts typed arguments from call. RawCall arguments are decoded
// from JSON; any other call must already be a T.
func Args[T any](call quotarelay.Call) (T, error) {
	var zero T
	switch c := call.(type) {
	case RawCall:
		var v T
		if len(c.Args) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(c.Args, &v); err != nil {
			return zero, fmt.Errorf("engine: decode %s args: %w", c.Name, err)
		}
		return v, nil
	case T:
		return c, nil
	default:
		return zero, fmt.Errorf("engine: unexpected call type %T", call)
	}
}

// Handler executes one kind of call.
type Handler func(ctx context.Context, origin quotarelay.Origin, call quotarelay.Call) (quotarelay.PostExecutionInfo, error)

// Registry is an Engine that routes calls to registered handlers by kind.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

var _ quotarelay.Engine = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for kind. Registering a kind twice is an error.
func (r *Registry) Register(kind string, h Handler) error {
	if kind == "" {
		return fmt.Errorf("engine: call kind is required")
	}
	if h == nil {
		return fmt.Errorf("engine: handler for %q is nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[kind]; ok {
		return fmt.Errorf("engine: duplicate call kind %q", kind)
	}
	r.handlers[kind] = h
	return nil
}

// Kinds returns the registered call kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Execute implements quotarelay.Engine.
func (r *Registry) Execute(ctx context.Context, origin quotarelay.Origin, call quotarelay.Call) (quotarelay.PostExecutionInfo, error) {
	if call == nil {
		return quotarelay.PostExecutionInfo{}, fmt.Errorf("%w: nil call", quotarelay.ErrUnknownCall)
	}

	r.mu.RLock()
	h, ok := r.handlers[call.Kind()]
	r.mu.RUnlock()

	if !ok {
		return quotarelay.PostExecutionInfo{}, fmt.Errorf("%w %q", quotarelay.ErrUnknownCall, call.Kind())
	}
	return h(ctx, origin, call)
}
