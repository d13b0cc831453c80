package models

import (
	"fmt"
	"time"
)

// Priority is the declared business priority of a submitted command.
type Priority int

const (
	// PriorityLow is background work.
	PriorityLow Priority = iota
	// PriorityNormal is the default priority.
	PriorityNormal
	// PriorityHigh is expedited work.
	PriorityHigh
	// PriorityUrgent preempts everything else in the queue.
	PriorityUrgent
)

// QueueKey returns the ordering key for the command queue. Lower keys
// dequeue first, so a higher business priority maps to a smaller key.
func (p Priority) QueueKey() int {
	return -int(p)
}

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// QueuedCommand is a submitted command awaiting dispatch. It is created at
// submission time and consumed exactly once by the dispatcher loop.
type QueuedCommand struct {
	// ID is the generated identifier, shared with the created task.
	ID string `json:"id"`
	// OwnerID identifies the submitting user.
	OwnerID string `json:"owner_id"`
	// ThreadID is the originating conversation thread, if any.
	ThreadID string `json:"thread_id,omitempty"`
	// Command is the command text.
	Command string `json:"command"`
	// AgentID identifies the target agent specialization.
	AgentID string `json:"agent_id"`
	// Priority orders admission ahead of dispatch.
	Priority Priority `json:"priority"`
	// EnqueuedAt breaks ties between equal priorities (FIFO).
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Metadata carries free-form submission metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScheduledCommand is a stored recurring command definition. The scheduler
// materializes a fresh task from it on every interval tick.
type ScheduledCommand struct {
	// ID identifies the definition.
	ID string `yaml:"id" json:"id"`
	// OwnerID is the user the materialized tasks belong to.
	OwnerID string `yaml:"owner_id" json:"owner_id"`
	// AgentID is the target agent for materialized tasks.
	AgentID string `yaml:"agent_id" json:"agent_id"`
	// Command is the command text submitted on each tick.
	Command string `yaml:"command" json:"command"`
	// Interval is how often the command fires.
	Interval time.Duration `yaml:"interval" json:"interval"`
	// Priority is the admission priority of materialized commands.
	Priority string `yaml:"priority" json:"priority"`
	// Enabled gates the definition without deleting it.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Metadata is copied onto every materialized command.
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Validate checks that the definition can be scheduled.
func (s *ScheduledCommand) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scheduled command missing id")
	}
	if s.AgentID == "" {
		return fmt.Errorf("scheduled command %s missing agent_id", s.ID)
	}
	if s.Command == "" {
		return fmt.Errorf("scheduled command %s missing command", s.ID)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("scheduled command %s has non-positive interval", s.ID)
	}
	if _, err := ParsePriority(s.Priority); err != nil {
		return fmt.Errorf("scheduled command %s: %w", s.ID, err)
	}
	return nil
}
