package testutil

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/taskflow/taskflow/internal/engine"
	"github.com/taskflow/taskflow/internal/ir"
)

// CountingHandler wraps an effect handler and counts invocations.
// Used to assert the re-entrancy contract: a state-guarded effect runs
// exactly once no matter how often the evaluator is re-invoked.
type CountingHandler struct {
	calls   atomic.Int64
	handler engine.EffectHandler
}

// NewCountingHandler wraps h.
func NewCountingHandler(h engine.EffectHandler) *CountingHandler {
	return &CountingHandler{handler: h}
}

// Handle is the engine.EffectHandler to register.
func (c *CountingHandler) Handle(ctx context.Context, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (any, error) {
	c.calls.Add(1)
	return c.handler(ctx, req, snap, hc)
}

// Calls returns the number of invocations so far.
func (c *CountingHandler) Calls() int {
	return int(c.calls.Load())
}

// StaticHandler returns the same patches on every invocation.
func StaticHandler(patches ...ir.Patch) engine.EffectHandler {
	return func(ctx context.Context, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (any, error) {
		return patches, nil
	}
}

// FailingHandler always returns the given error message.
func FailingHandler(message string) engine.EffectHandler {
	return func(ctx context.Context, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (any, error) {
		return nil, fmt.Errorf("%s", message)
	}
}

// PanickingHandler always panics with the given value.
func PanickingHandler(v any) engine.EffectHandler {
	return func(ctx context.Context, req ir.Requirement, snap ir.Snapshot, hc ir.HostContext) (any, error) {
		panic(v)
	}
}
