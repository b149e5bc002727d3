package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/taskflow/taskflow/internal/ir"
)

// DefaultMaxIterations caps evaluator invocations per intent. The
// circuit breaker against flows whose effects never converge.
const DefaultMaxIterations = 100

// ComputeStatus is the evaluator's verdict for one invocation.
type ComputeStatus string

const (
	ComputeComplete ComputeStatus = "complete"
	ComputeHalted   ComputeStatus = "halted"
	ComputePending  ComputeStatus = "pending"
	ComputeError    ComputeStatus = "error"
)

// ComputeResult is what the evaluator hands back.
type ComputeResult struct {
	Status       ComputeStatus
	Snapshot     ir.Snapshot
	Requirements []ir.Requirement
}

// Evaluator is the external pure-compute collaborator: given the same
// snapshot, intent and frozen context it always returns the same
// result. The engine never assumes evaluator state persists between
// calls.
type Evaluator interface {
	Compute(snap ir.Snapshot, intent ir.Intent, hc ir.HostContext) (ComputeResult, error)

	// HasAction reports whether the evaluator can run the named action.
	// Checked before any job is enqueued; an unknown action fails the
	// intent with no partial work.
	HasAction(name string) bool

	// SchemaHash identifies the flow definition; recorded into every
	// genesis snapshot's meta.
	SchemaHash() string
}

// TerminalStatus is the typed result kind callers of Dispatch receive.
type TerminalStatus string

const (
	TerminalComplete TerminalStatus = "complete"
	TerminalHalted   TerminalStatus = "halted"
	TerminalError    TerminalStatus = "error"
)

// Result is the terminal outcome of one dispatched intent. Err is set
// only for TerminalError and is always a *HostError - never a raw
// exception escaping effect code.
type Result struct {
	Status     TerminalStatus
	Snapshot   ir.Snapshot
	Err        error
	Iterations int
}

// Engine hosts any number of execution keys, each with its own mailbox
// and snapshot, and drains them independently.
//
// Thread-safety model:
//   - Dispatch: safe from any goroutine; dispatches for the same key
//     serialize, dispatches for different keys run in parallel
//   - RegisterHandler: call before dispatching
//   - Context/CurrentSnapshot: safe from any goroutine
type Engine struct {
	eval      Evaluator
	clock     Clock
	intentGen IntentIDGenerator
	recorder  *Recorder
	observer  Observer

	maxIterations int

	handlersMu sync.RWMutex
	handlers   map[string]EffectHandler

	mu       sync.Mutex
	contexts map[ExecutionKey]*ExecutionContext
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxIterations sets the evaluator-invocation ceiling per intent.
// Default: 100 (DefaultMaxIterations).
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		e.maxIterations = n
	}
}

// WithClock injects the time source for frozen host contexts.
// Default: WallClock. Tests and replays inject FixedClock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIntentIDs injects the generator used when a dispatched intent
// carries no id. Default: UUIDv7Generator.
func WithIntentIDs(g IntentIDGenerator) Option {
	return func(e *Engine) {
		e.intentGen = g
	}
}

// WithTraceSink attaches a trace sink. Default: no tracing.
func WithTraceSink(sink TraceSink) Option {
	return func(e *Engine) {
		e.recorder = NewRecorder(sink)
	}
}

// WithObserver attaches per-phase callbacks.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// New creates an Engine around a pure evaluator.
func New(eval Evaluator, opts ...Option) *Engine {
	e := &Engine{
		eval:          eval,
		clock:         WallClock{},
		intentGen:     UUIDv7Generator{},
		maxIterations: DefaultMaxIterations,
		handlers:      make(map[string]EffectHandler),
		contexts:      make(map[ExecutionKey]*ExecutionContext),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterHandler binds an effect type to its handler. Re-registering
// an effect type replaces the previous handler.
func (e *Engine) RegisterHandler(effectType string, h EffectHandler) {
	e.handlersMu.Lock()
	e.handlers[effectType] = h
	e.handlersMu.Unlock()
}

// ValidateHandlers checks that every declared effect type has a
// registered handler. Called at startup with the flow's declared
// effect types so misconfiguration surfaces before any intent runs.
func (e *Engine) ValidateHandlers(effectTypes []string) error {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	for _, t := range effectTypes {
		if _, ok := e.handlers[t]; !ok {
			return &HostError{
				Code:       ErrCodeMissingHandler,
				Message:    fmt.Sprintf("no handler registered for effect type %q", t),
				EffectType: t,
			}
		}
	}
	return nil
}

// handlerSet returns the current registry view for one drain pass.
func (e *Engine) handlerSet() map[string]EffectHandler {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	out := make(map[string]EffectHandler, len(e.handlers))
	for k, v := range e.handlers {
		out[k] = v
	}
	return out
}

// Context returns the execution context for a key, creating it with a
// genesis snapshot on first use.
func (e *Engine) Context(key ExecutionKey) *ExecutionContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	ec, ok := e.contexts[key]
	if !ok {
		ec = newExecutionContext(key, ir.Genesis(nil, e.eval.SchemaHash()))
		e.contexts[key] = ec
	}
	return ec
}

// Seed installs an initial snapshot for a key. Must happen before the
// key processes any job.
func (e *Engine) Seed(key ExecutionKey, data ir.Object) error {
	return e.Context(key).Seed(ir.Genesis(data, e.eval.SchemaHash()))
}

// Dispatch runs one intent against one execution key and drains to a
// terminal result.
//
// The returned error covers infrastructure only (context cancellation).
// Everything else - configuration errors, effect failures the flow did
// not recover, the iteration ceiling - arrives as a typed Result with
// Status TerminalError and a *HostError cause. Callers never see a raw
// panic from effect code.
func (e *Engine) Dispatch(ctx context.Context, key ExecutionKey, intent ir.Intent) (Result, error) {
	if intent.ID == "" {
		intent.ID = e.intentGen.Generate()
	}
	if intent.Input == nil {
		intent.Input = ir.Object{}
	}

	ec := e.Context(key)

	if !e.eval.HasAction(intent.Action) {
		slog.Warn("intent names unknown action",
			"key", key,
			"intent_id", intent.ID,
			"action", intent.Action,
		)
		return Result{
			Status:   TerminalError,
			Snapshot: ec.CurrentSnapshot(),
			Err: &HostError{
				Code:     ErrCodeActionNotFound,
				Message:  fmt.Sprintf("action %q not found", intent.Action),
				Key:      string(key),
				IntentID: intent.ID,
				Action:   intent.Action,
			},
		}, nil
	}

	// Acquire the single-writer token for this key. Dispatches for the
	// same key queue here; different keys proceed in parallel.
	select {
	case ec.running <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-ec.running }()

	slog.Info("dispatch",
		"key", key,
		"intent_id", intent.ID,
		"action", intent.Action,
	)

	d := &drain{
		engine:   e,
		ec:       ec,
		intent:   intent,
		hc:       buildHostContext(intent.ID, e.clock),
		handlers: e.handlerSet(),
		inflight: make(map[string]struct{}),
	}
	ec.mailbox.Enqueue(startIntentJob(intent))

	result, err := d.run(ctx)
	e.recorder.Forget(intent.ID)
	if err != nil {
		return Result{}, err
	}

	slog.Info("dispatch finished",
		"key", key,
		"intent_id", intent.ID,
		"status", result.Status,
		"iterations", result.Iterations,
	)
	return result, nil
}
