// Package mock provides a configurable Engine for tests and examples.
package mock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/quotarelay"
)

// ErrRejected is returned by an Engine configured with WithFailAfter once
// the threshold is reached.
var ErrRejected = errors.New("mock: call rejected")

// Engine is a mock execution engine.
type Engine struct {
	latency   time.Duration
	failAfter int
	callCount atomic.Int64
	staticErr error
	info      quotarelay.PostExecutionInfo
	fn        func(quotarelay.Origin, quotarelay.Call) (quotarelay.PostExecutionInfo, error)

	mu      sync.Mutex
	origins []quotarelay.Origin
}

var _ quotarelay.Engine = (*Engine)(nil)

// Option configures a mock Engine.
type Option func(*Engine)

// New creates a mock engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		info: quotarelay.PostExecutionInfo{ActualWeight: 10_000},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(e *Engine) { e.latency = d }
}

// WithFailAfter makes the engine fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(e *Engine) { e.failAfter = n }
}

// WithError makes the engine always return this error.
func WithError(err error) Option {
	return func(e *Engine) { e.staticErr = err }
}

// WithInfo sets the PostExecutionInfo returned on success.
func WithInfo(info quotarelay.PostExecutionInfo) Option {
	return func(e *Engine) { e.info = info }
}

// WithFunc sets a custom execution function.
func WithFunc(fn func(quotarelay.Origin, quotarelay.Call) (quotarelay.PostExecutionInfo, error)) Option {
	return func(e *Engine) { e.fn = fn }
}

// Execute implements quotarelay.Engine.
func (e *Engine) Execute(ctx context.Context, origin quotarelay.Origin, call quotarelay.Call) (quotarelay.PostExecutionInfo, error) {
	if e.latency > 0 {
		select {
		case <-time.After(e.latency):
		case <-ctx.Done():
			return quotarelay.PostExecutionInfo{}, ctx.Err()
		}
	}

	count := e.callCount.Add(1)

	e.mu.Lock()
	e.origins = append(e.origins, origin)
	e.mu.Unlock()

	if e.staticErr != nil {
		return quotarelay.PostExecutionInfo{}, e.staticErr
	}

	if e.failAfter > 0 && int(count) > e.failAfter {
		return quotarelay.PostExecutionInfo{}, ErrRejected
	}

	if e.fn != nil {
		return e.fn(origin, call)
	}

	return e.info, nil
}

// CallCount returns the number of calls forwarded to the engine.
func (e *Engine) CallCount() int64 { return e.callCount.Load() }

// Origins returns the origins of all forwarded calls in arrival order.
func (e *Engine) Origins() []quotarelay.Origin {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]quotarelay.Origin, len(e.origins))
	copy(out, e.origins)
	return out
}

// Call is a trivial call kind for tests.
type Call string

// Kind implements quotarelay.Call.
func (c Call) Kind() string { return string(c) }
