package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task was created but has not started.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusInProgress indicates the task's agent graph is executing.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusToolCall indicates the task is consulting another agent.
	TaskStatusToolCall TaskStatus = "tool_call"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task finished with an error.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusInProgress, TaskStatusToolCall, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status is completed or failed.
// Terminal statuses are immutable: no further status writes are permitted.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
// The allowed edges are:
//
//	queued      -> in_progress | failed
//	in_progress -> tool_call | completed | failed
//	tool_call   -> in_progress | failed
//
// Failure is reachable from every non-terminal state: a task can be rejected
// before it ever starts (unknown agent, queue admission refused) or abort
// mid-consultation. Completion is stricter. Direct queued -> completed is
// disallowed: successful runs must pass through in_progress so every
// completed task emits a start event.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusInProgress || next == TaskStatusFailed
	case TaskStatusInProgress:
		return next == TaskStatusToolCall || next == TaskStatusCompleted || next == TaskStatusFailed
	case TaskStatusToolCall:
		return next == TaskStatusInProgress || next == TaskStatusFailed
	default:
		// Completed and failed are terminal.
		return false
	}
}

// Task represents one persisted record of a single agent invocation.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// OwnerID identifies the user that submitted the command.
	OwnerID string `json:"owner_id"`
	// AgentID identifies the target agent specialization.
	AgentID string `json:"agent_id"`
	// AgentName is the display name of the target agent.
	AgentName string `json:"agent_name,omitempty"`
	// ThreadID is the originating conversation thread, if any.
	ThreadID string `json:"thread_id,omitempty"`
	// Command is the command text the agent executes.
	Command string `json:"command"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// ProgressPercentage is the last reported progress, 0-100.
	ProgressPercentage int `json:"progress_percentage"`
	// CurrentNode is the graph node currently executing, if known.
	CurrentNode string `json:"current_node,omitempty"`
	// ConsultationTargetID identifies the nested agent being consulted.
	// Non-empty iff Status is tool_call.
	ConsultationTargetID string `json:"consultation_target_id,omitempty"`
	// ConsultationNickname is the display name of the consulted agent.
	ConsultationNickname string `json:"consultation_nickname,omitempty"`
	// Result holds the final response for completed tasks.
	Result *string `json:"result,omitempty"`
	// ErrorMessage holds the failure description for failed tasks.
	ErrorMessage *string `json:"error_message,omitempty"`
	// Metadata carries free-form submission metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
	// CreatedAt is when the task record was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is set exactly on the transition into in_progress.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is set exactly on the transition into a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal returns true if the task has reached a terminal status.
func (t *Task) Terminal() bool {
	return t.Status.IsTerminal()
}
