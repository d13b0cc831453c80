package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harmonia-ai/harmonia/internal/agent"
	"github.com/harmonia-ai/harmonia/internal/broadcast"
	"github.com/harmonia-ai/harmonia/internal/queue"
	"github.com/harmonia-ai/harmonia/internal/store"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

// Submission is one incoming command.
type Submission struct {
	OwnerID  string
	ThreadID string
	AgentID  string
	Command  string
	Priority models.Priority
	Metadata map[string]string
}

// Service is the submission front: it creates the task record, announces
// it, and admits the command into the priority queue. Its consumer loop
// upholds the at-most-once dispatch invariant by starting exactly one
// Dispatch goroutine per dequeued command.
type Service struct {
	store       store.TaskStore
	queue       *queue.Queue
	broadcaster *broadcast.Broadcaster
	registry    *agent.Registry
	dispatcher  *Dispatcher
	logger      *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewService wires the submission service.
func NewService(d *Dispatcher, s store.TaskStore, q *queue.Queue, b *broadcast.Broadcaster, registry *agent.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       s,
		queue:       q,
		broadcaster: b,
		registry:    registry,
		dispatcher:  d,
		logger:      logger,
	}
}

// Submit creates a queued task for the command and admits it. The returned
// task is the persisted record; its ID doubles as the queue entry ID.
func (s *Service) Submit(sub Submission) (*models.Task, error) {
	if sub.Command == "" {
		return nil, fmt.Errorf("submit: empty command")
	}

	agentName := sub.AgentID
	if rt, ok := s.registry.Resolve(sub.AgentID); ok {
		agentName = rt.Name()
	}

	// The declared priority rides along in metadata so a restart can
	// re-admit the task at the same priority.
	metadata := map[string]string{"priority": sub.Priority.String()}
	for k, v := range sub.Metadata {
		metadata[k] = v
	}
	sub.Metadata = metadata

	task, err := s.store.Create(store.TaskSpec{
		ID:        uuid.NewString(),
		OwnerID:   sub.OwnerID,
		AgentID:   sub.AgentID,
		AgentName: agentName,
		ThreadID:  sub.ThreadID,
		Command:   sub.Command,
		Metadata:  sub.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	s.broadcaster.Broadcast(broadcast.Event{
		Type:      broadcast.EventTaskStatusChanged,
		TaskID:    task.ID,
		OwnerID:   task.OwnerID,
		NewStatus: models.TaskStatusQueued,
	})

	err = s.queue.Enqueue(&models.QueuedCommand{
		ID:         task.ID,
		OwnerID:    sub.OwnerID,
		ThreadID:   sub.ThreadID,
		Command:    sub.Command,
		AgentID:    sub.AgentID,
		Priority:   sub.Priority,
		EnqueuedAt: time.Now(),
		Metadata:   sub.Metadata,
	})
	if err != nil {
		// The task exists but will never dispatch; fail it so the record
		// does not sit queued forever.
		msg := fmt.Sprintf("admission rejected: %v", err)
		if _, ferr := s.store.SetStatus(task.ID, models.TaskStatusFailed, store.StatusChange{ErrorMessage: &msg}); ferr != nil {
			s.logger.Error("submit: cannot fail rejected task", "task_id", task.ID, "error", ferr)
		}
		return nil, fmt.Errorf("submit: %w", err)
	}

	s.logger.Info("command submitted",
		"task_id", task.ID,
		"owner_id", sub.OwnerID,
		"agent_id", sub.AgentID,
		"priority", sub.Priority.String(),
	)
	return task, nil
}

// Recover re-admits tasks that were persisted as queued but never
// dispatched, such as after a crash or a submission from another process.
// Priority declared at submission time survives in the task metadata.
func (s *Service) Recover() (int, error) {
	tasks, err := s.store.ListByStatus(models.TaskStatusQueued)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}

	admitted := 0
	for _, task := range tasks {
		priority, _ := models.ParsePriority(task.Metadata["priority"])
		err := s.queue.Enqueue(&models.QueuedCommand{
			ID:         task.ID,
			OwnerID:    task.OwnerID,
			ThreadID:   task.ThreadID,
			Command:    task.Command,
			AgentID:    task.AgentID,
			Priority:   priority,
			EnqueuedAt: task.CreatedAt,
			Metadata:   task.Metadata,
		})
		if err != nil {
			return admitted, fmt.Errorf("recover task %s: %w", task.ID, err)
		}
		admitted++
	}

	if admitted > 0 {
		s.logger.Info("recovered queued tasks", "count", admitted)
	}
	return admitted, nil
}

// Start launches the consumer loop. Each dequeued command gets its own
// dispatch goroutine; the command stays in the queue's active set until the
// dispatch returns.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	// Cancellation stops the dequeue wait only. Work already admitted runs
	// on a detached context, so a shutdown signal cannot abort a dispatch
	// mid-graph and persist it failed with "context canceled".
	runCtx := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			cmd, err := s.queue.Dequeue(ctx)
			if err != nil {
				return
			}

			s.wg.Add(1)
			go func(id string) {
				defer s.wg.Done()
				defer s.queue.MarkComplete(id)
				s.dispatcher.Dispatch(runCtx, id)
			}(cmd.ID)
		}
	}()
}

// Close drains the service: no new enqueues are admitted, already-queued
// commands still dispatch, and Close returns once every in-flight dispatch
// finished.
func (s *Service) Close() {
	s.queue.Close()
	s.wg.Wait()
	if s.cancel != nil {
		s.cancel()
	}
}
