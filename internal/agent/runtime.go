package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/harmonia-ai/harmonia/internal/graph"
	"github.com/harmonia-ai/harmonia/internal/llm"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

// execCtxKey carries the ExecutionContext through the graph run.
type execCtxKey struct{}

// WithExecutionContext attaches an execution context for node bodies.
func WithExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, execCtxKey{}, ec)
}

// ExecutionFrom retrieves the execution context attached by Execute. Nodes
// always run under Execute, so a missing context is a wiring bug; a stub
// with a no-op reporter is returned to keep node bodies nil-safe anyway.
func ExecutionFrom(ctx context.Context) *ExecutionContext {
	if ec, ok := ctx.Value(execCtxKey{}).(*ExecutionContext); ok {
		return ec
	}
	return &ExecutionContext{Progress: NopProgress{}}
}

// Runtime wraps one compiled agent graph behind the uniform execute
// contract. A runtime is immutable after construction and safe for
// concurrent Execute calls.
type Runtime struct {
	id       string
	name     string
	compiled *graph.Compiled[State]
	logger   *slog.Logger
}

// NewRuntime compiles the engine and wraps it. The engine should already
// have its nodes and edges wired; compilation errors are wiring bugs
// surfaced at construction, not at dispatch.
func NewRuntime(id, name string, engine *graph.Engine[State], logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiled, err := engine.Compile()
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}
	return &Runtime{id: id, name: name, compiled: compiled, logger: logger}, nil
}

// ID returns the agent identifier.
func (r *Runtime) ID() string { return r.id }

// Name returns the agent display name.
func (r *Runtime) Name() string { return r.name }

// Execute runs the agent's graph over the command. The returned error is
// reserved for unhandled faults; failures a node anticipated come back as a
// result with Success=false. The translation rule is uniform: a non-empty
// state Error always yields Success=false.
func (r *Runtime) Execute(ctx context.Context, command string, ec *ExecutionContext) (models.ExecutionResult, error) {
	if ec == nil {
		ec = &ExecutionContext{Progress: NopProgress{}}
	}
	if ec.Progress == nil {
		ec.Progress = NopProgress{}
	}
	if ec.LLM == nil {
		// Node bodies may assume a client; an unconfigured one degrades to
		// per-node invocation failures instead of a nil dereference.
		ec.LLM = llm.NewFailingClient(errors.New("no model client configured"))
	}
	ec.Command = command
	ctx = WithExecutionContext(ctx, ec)

	started := time.Now()
	final, err := r.compiled.Run(ctx, State{Command: command})
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("agent %s: %w", r.id, err)
	}

	r.logger.Info("agent execution finished",
		"agent_id", r.id,
		"duration", time.Since(started),
		"last_step", final.CurrentStep,
		"has_error", final.Error != "",
	)

	metadata := map[string]string{
		"agent_id":  r.id,
		"last_step": final.CurrentStep,
	}
	if ec.Tracker != nil {
		metadata["steps"] = strconv.Itoa(len(ec.Tracker.Steps()))
	}

	if final.Error != "" {
		// A node encoded a recoverable failure: the friendly message wins,
		// the raw reason travels in metadata.
		message := final.FinalResponse
		if message == "" {
			message = final.Error
		}
		metadata["error_detail"] = final.Error
		return models.ExecutionResult{Success: false, Error: message, Metadata: metadata}, nil
	}

	return models.ExecutionResult{Success: true, Response: final.FinalResponse, Metadata: metadata}, nil
}

// TraceObserver returns a graph observer that records every node invocation
// into the tracker attached to the run's execution context.
func TraceObserver() graph.Observer[State] {
	return func(ctx context.Context, node string, started time.Time, duration time.Duration, err error) {
		ec := ExecutionFrom(ctx)
		if ec.Tracker != nil {
			ec.Tracker.RecordNode(node, started, duration, err)
		}
	}
}
