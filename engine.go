package quotarelay

import "context"

// Call is an opaque command forwarded to the Engine. The relay never
// inspects it beyond its kind, which is used for logging.
type Call interface {
	Kind() string
}

// Engine executes forwarded calls on behalf of an origin.
type Engine interface {
	Execute(ctx context.Context, origin Origin, call Call) (PostExecutionInfo, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, origin Origin, call Call) (PostExecutionInfo, error)

// Execute implements Engine.
func (f EngineFunc) Execute(ctx context.Context, origin Origin, call Call) (PostExecutionInfo, error) {
	return f(ctx, origin, call)
}

// PostExecutionInfo is what the engine reports about a completed call.
type PostExecutionInfo struct {
	// ActualWeight is the weight the engine consumed, if it reports one.
	ActualWeight uint64 `json:"actual_weight,omitempty"`
}
