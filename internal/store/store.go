// Package store persists task records and enforces the task lifecycle at
// the storage boundary: status transitions follow the state machine, the
// matching timestamp is stamped atomically with each transition, and a
// terminal task can never be written again.
package store

import (
	"errors"
	"fmt"

	"github.com/harmonia-ai/harmonia/pkg/models"
)

// ErrNotFound indicates the requested task does not exist.
var ErrNotFound = errors.New("task not found")

// ErrTerminalStatus indicates a status write was attempted on a task that
// already reached completed or failed.
var ErrTerminalStatus = errors.New("task status is terminal")

// TaskSpec describes a task to create. Status is always queued on creation.
type TaskSpec struct {
	ID        string
	OwnerID   string
	AgentID   string
	AgentName string
	ThreadID  string
	Command   string
	Metadata  map[string]string
}

// StatusChange carries the optional fields stamped alongside a status
// transition.
type StatusChange struct {
	// Result is persisted when transitioning into completed.
	Result *string
	// ErrorMessage is persisted when transitioning into failed.
	ErrorMessage *string
	// ConsultationTargetID and ConsultationNickname are persisted when
	// transitioning into tool_call and cleared when leaving it.
	ConsultationTargetID string
	ConsultationNickname string
}

// TaskUpdate is a partial update of non-lifecycle fields.
type TaskUpdate struct {
	AgentName *string
	Metadata  map[string]string
}

// TaskStore is the persistence contract for task records. All mutating
// operations are atomic per task and safe for concurrent use.
type TaskStore interface {
	// Create inserts a new task with status queued.
	Create(spec TaskSpec) (*models.Task, error)
	// Get returns the task or ErrNotFound.
	Get(id string) (*models.Task, error)
	// Update applies a partial update of non-lifecycle fields.
	Update(id string, update TaskUpdate) (*models.Task, error)
	// SetStatus transitions the task to the given status, validating the
	// state machine edge, stamping started_at/completed_at as required and
	// applying the change fields. Returns the updated task.
	SetStatus(id string, status models.TaskStatus, change StatusChange) (*models.Task, error)
	// UpdateProgress persists the progress percentage and current node.
	UpdateProgress(id string, percent int, node string) error
	// ListByOwner returns the owner's most recent tasks, newest first.
	ListByOwner(ownerID string, limit int) ([]*models.Task, error)
	// ListByStatus returns every task in the given status across owners,
	// oldest first. Used to re-admit queued tasks on startup.
	ListByStatus(status models.TaskStatus) ([]*models.Task, error)
	// DeleteByStatus removes all of the owner's tasks in the given status
	// and returns the deleted IDs.
	DeleteByStatus(ownerID string, status models.TaskStatus) ([]string, error)
	// Close releases the store's resources.
	Close() error
}

// validateTransition checks the state-machine edge and returns a descriptive
// error for the two ways a transition can be rejected.
func validateTransition(current, next models.TaskStatus) error {
	if current.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalStatus, current)
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition %s -> %s", current, next)
	}
	return nil
}
