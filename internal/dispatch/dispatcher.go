// Package dispatch connects the command queue to agent execution: it owns
// the task lifecycle from queued admission to the terminal event.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harmonia-ai/harmonia/internal/agent"
	"github.com/harmonia-ai/harmonia/internal/broadcast"
	"github.com/harmonia-ai/harmonia/internal/llm"
	"github.com/harmonia-ai/harmonia/internal/store"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

// Dispatcher executes one task end to end. Dispatch is safe to retry after a
// crash because it re-reads the task's current status, but the caller must
// never run two dispatches for the same task concurrently.
type Dispatcher struct {
	store       store.TaskStore
	registry    *agent.Registry
	broadcaster *broadcast.Broadcaster
	llm         llm.Client
	evaluator   Evaluator
	logger      *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEvaluator attaches the post-completion evaluation hook.
func WithEvaluator(e Evaluator) DispatcherOption {
	return func(d *Dispatcher) { d.evaluator = e }
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher wires a dispatcher over its collaborators.
func NewDispatcher(s store.TaskStore, registry *agent.Registry, b *broadcast.Broadcaster, client llm.Client, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:       s,
		registry:    registry,
		broadcaster: b,
		llm:         client,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs the task through its agent and persists the terminal state.
// It never panics out: unhandled faults are caught at the top, recorded as a
// task failure, and any secondary persistence failure is only logged.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID string) {
	var task *models.Task

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panic recovered", "task_id", taskID, "panic", r)
			if task != nil {
				d.failTask(task, fmt.Sprintf("internal fault: %v", r), nil)
			}
		}
	}()

	task, err := d.store.Get(taskID)
	if err != nil {
		// Without a task record there is nowhere to report the failure.
		d.logger.Error("dispatch: task not found", "task_id", taskID, "error", err)
		return
	}

	runtime, ok := d.registry.Resolve(task.AgentID)
	if !ok {
		d.failTask(task, fmt.Sprintf("unknown agent %q", task.AgentID), nil)
		return
	}

	progress := agent.NewTaskProgress(task.ID, task.OwnerID, d.store, d.broadcaster, d.logger)
	if err := progress.StatusChange(models.TaskStatusQueued, models.TaskStatusInProgress); err != nil {
		d.logger.Error("dispatch: cannot start task", "task_id", taskID, "error", err)
		return
	}

	tracker := agent.NewTracker()
	ec := &agent.ExecutionContext{
		OwnerID:  task.OwnerID,
		ThreadID: task.ThreadID,
		Metadata: task.Metadata,
		Progress: progress,
		LLM:      d.llm,
		Consult:  d.consultFor(task, progress, tracker),
		Tracker:  tracker,
	}

	result, err := runtime.Execute(ctx, task.Command, ec)
	if err != nil {
		d.failTask(task, fmt.Sprintf("execution fault: %v", err), nil)
		return
	}

	if !result.Success {
		d.failTask(task, result.Error, result.Metadata)
		return
	}

	d.completeTask(ctx, task, result)
}

// consultFor builds the nested-invocation hook for one task. The nested run
// reports no progress of its own; the parent task carries the tool_call
// sub-state for the duration.
func (d *Dispatcher) consultFor(task *models.Task, progress agent.ProgressReporter, tracker *agent.Tracker) agent.ConsultFunc {
	return func(ctx context.Context, targetID, command string) (models.ExecutionResult, error) {
		target, ok := d.registry.Resolve(targetID)
		if !ok {
			return models.ExecutionResult{}, fmt.Errorf("unknown consultation target %q", targetID)
		}

		if err := progress.ConsultationStarted(targetID, target.Name()); err != nil {
			return models.ExecutionResult{}, err
		}

		nested := &agent.ExecutionContext{
			OwnerID:  task.OwnerID,
			ThreadID: task.ThreadID,
			Progress: agent.NopProgress{},
			LLM:      d.llm,
			Tracker:  tracker,
		}

		started := time.Now()
		result, err := target.Execute(ctx, command, nested)
		tracker.Record(models.StepTypeTool, "consult:"+targetID, started, time.Since(started), command, result.Response, nil)
		if err != nil {
			return models.ExecutionResult{}, err
		}

		if cerr := progress.ConsultationCompleted(); cerr != nil {
			return models.ExecutionResult{}, cerr
		}
		return result, nil
	}
}

func (d *Dispatcher) completeTask(ctx context.Context, task *models.Task, result models.ExecutionResult) {
	updated, err := d.store.SetStatus(task.ID, models.TaskStatusCompleted, store.StatusChange{
		Result: &result.Response,
	})
	if err != nil {
		d.logger.Error("dispatch: persist completion", "task_id", task.ID, "error", err)
		return
	}

	if d.evaluator != nil {
		if err := d.evaluator.Evaluate(ctx, updated, result); err != nil {
			d.logger.Warn("dispatch: evaluation failed", "task_id", task.ID, "error", err)
		}
	}

	d.broadcaster.Broadcast(broadcast.Event{
		Type:      broadcast.EventTaskCompleted,
		TaskID:    task.ID,
		OwnerID:   task.OwnerID,
		OldStatus: models.TaskStatusInProgress,
		NewStatus: models.TaskStatusCompleted,
		Result:    result.Response,
		Metadata:  result.Metadata,
	})
}

func (d *Dispatcher) failTask(task *models.Task, message string, metadata map[string]string) {
	old := task.Status
	if current, err := d.store.Get(task.ID); err == nil {
		old = current.Status
	}

	if _, err := d.store.SetStatus(task.ID, models.TaskStatusFailed, store.StatusChange{
		ErrorMessage: &message,
	}); err != nil {
		d.logger.Error("dispatch: persist failure", "task_id", task.ID, "error", err)
		return
	}

	d.broadcaster.Broadcast(broadcast.Event{
		Type:      broadcast.EventTaskFailed,
		TaskID:    task.ID,
		OwnerID:   task.OwnerID,
		OldStatus: old,
		NewStatus: models.TaskStatusFailed,
		Error:     message,
		Metadata:  metadata,
	})
}
