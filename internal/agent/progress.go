package agent

import (
	"fmt"
	"log/slog"

	"github.com/harmonia-ai/harmonia/internal/broadcast"
	"github.com/harmonia-ai/harmonia/internal/store"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

// TaskProgress is the ProgressReporter bound to one task. Every report
// persists through the TaskStore and then broadcasts, in that order, so
// listeners observe transitions exactly as they were committed.
type TaskProgress struct {
	taskID      string
	ownerID     string
	store       store.TaskStore
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger
}

// NewTaskProgress binds a reporter to a task.
func NewTaskProgress(taskID, ownerID string, s store.TaskStore, b *broadcast.Broadcaster, logger *slog.Logger) *TaskProgress {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskProgress{
		taskID:      taskID,
		ownerID:     ownerID,
		store:       s,
		broadcaster: b,
		logger:      logger,
	}
}

// StatusChange persists the transition and broadcasts it.
func (p *TaskProgress) StatusChange(old, new models.TaskStatus) error {
	if _, err := p.store.SetStatus(p.taskID, new, store.StatusChange{}); err != nil {
		return fmt.Errorf("persist status %s: %w", new, err)
	}
	p.broadcaster.Broadcast(broadcast.Event{
		Type:      broadcast.EventTaskStatusChanged,
		TaskID:    p.taskID,
		OwnerID:   p.ownerID,
		OldStatus: old,
		NewStatus: new,
	})
	return nil
}

// ProgressUpdate clamps the percentage, persists it, and broadcasts it.
func (p *TaskProgress) ProgressUpdate(percent int, node string) error {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	if err := p.store.UpdateProgress(p.taskID, percent, node); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	p.broadcaster.Broadcast(broadcast.Event{
		Type:    broadcast.EventTaskProgress,
		TaskID:  p.taskID,
		OwnerID: p.ownerID,
		Percent: percent,
		Node:    node,
	})
	return nil
}

// ConsultationStarted transitions the task into tool_call with the target
// recorded, then broadcasts.
func (p *TaskProgress) ConsultationStarted(targetID, nickname string) error {
	_, err := p.store.SetStatus(p.taskID, models.TaskStatusToolCall, store.StatusChange{
		ConsultationTargetID: targetID,
		ConsultationNickname: nickname,
	})
	if err != nil {
		return fmt.Errorf("persist consultation start: %w", err)
	}
	p.broadcaster.Broadcast(broadcast.Event{
		Type:                 broadcast.EventConsultationStarted,
		TaskID:               p.taskID,
		OwnerID:              p.ownerID,
		OldStatus:            models.TaskStatusInProgress,
		NewStatus:            models.TaskStatusToolCall,
		ConsultationTargetID: targetID,
		ConsultationNickname: nickname,
	})
	return nil
}

// ConsultationCompleted broadcasts the end of the nested consultation. The
// status stays tool_call until the next node transitions back.
func (p *TaskProgress) ConsultationCompleted() error {
	p.broadcaster.Broadcast(broadcast.Event{
		Type:    broadcast.EventConsultationCompleted,
		TaskID:  p.taskID,
		OwnerID: p.ownerID,
	})
	return nil
}

var _ ProgressReporter = (*TaskProgress)(nil)
