package agent

import (
	"context"

	"github.com/harmonia-ai/harmonia/internal/llm"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

// ProgressReporter is the callback surface node bodies use to report
// lifecycle changes. Every method persists first and broadcasts second, so
// the event stream for a task matches the order of persisted transitions.
type ProgressReporter interface {
	// StatusChange transitions the task's status.
	StatusChange(old, new models.TaskStatus) error
	// ProgressUpdate persists and broadcasts a progress percentage and the
	// node that reported it. Percent is clamped to [0,100].
	ProgressUpdate(percent int, node string) error
	// ConsultationStarted transitions the task to tool_call with the
	// consultation target recorded.
	ConsultationStarted(targetID, nickname string) error
	// ConsultationCompleted broadcasts the end of a nested consultation.
	// It does not revert the status; the next node transitions back.
	ConsultationCompleted() error
}

// ConsultFunc runs a nested invocation of another agent mid-task. The
// dispatcher binds it to the registry, the progress reporter, and the
// current task so the tool_call sub-state is tracked automatically.
type ConsultFunc func(ctx context.Context, targetID, command string) (models.ExecutionResult, error)

// ExecutionContext bundles everything a node body may need. It is built by
// the dispatcher per task and owned by one execution.
type ExecutionContext struct {
	// OwnerID is the submitting user.
	OwnerID string
	// ThreadID is the originating conversation thread, if any.
	ThreadID string
	// Command is the submitted command text.
	Command string
	// Metadata carries free-form submission metadata.
	Metadata map[string]string
	// Progress reports lifecycle changes for the task.
	Progress ProgressReporter
	// LLM is the opaque model invocation client.
	LLM llm.Client
	// Consult runs a nested agent invocation, or is nil when the runtime
	// has no registry access.
	Consult ConsultFunc
	// Tracker records execution steps for this run, or is nil.
	Tracker *Tracker
}

// NopProgress discards all progress reports. Used in tests and nested
// consultations that track progress on the parent task.
type NopProgress struct{}

// StatusChange implements ProgressReporter.
func (NopProgress) StatusChange(models.TaskStatus, models.TaskStatus) error { return nil }

// ProgressUpdate implements ProgressReporter.
func (NopProgress) ProgressUpdate(int, string) error { return nil }

// ConsultationStarted implements ProgressReporter.
func (NopProgress) ConsultationStarted(string, string) error { return nil }

// ConsultationCompleted implements ProgressReporter.
func (NopProgress) ConsultationCompleted() error { return nil }
