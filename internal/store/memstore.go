package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harmonia-ai/harmonia/pkg/models"
)

// MemStore is an in-memory TaskStore with the same lifecycle enforcement as
// the SQLite store. Used by tests and by components that don't need
// durability.
type MemStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{tasks: make(map[string]*models.Task)}
}

// Create inserts a new task with status queued.
func (m *MemStore) Create(spec TaskSpec) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[spec.ID]; exists {
		return nil, fmt.Errorf("task %s already exists", spec.ID)
	}

	task := &models.Task{
		ID:        spec.ID,
		OwnerID:   spec.OwnerID,
		AgentID:   spec.AgentID,
		AgentName: spec.AgentName,
		ThreadID:  spec.ThreadID,
		Command:   spec.Command,
		Status:    models.TaskStatusQueued,
		Metadata:  copyMeta(spec.Metadata),
		CreatedAt: time.Now().UTC(),
	}
	m.tasks[task.ID] = task
	return cloneTask(task), nil
}

// Get returns the task or ErrNotFound.
func (m *MemStore) Get(id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

// Update applies a partial update of non-lifecycle fields.
func (m *MemStore) Update(id string, update TaskUpdate) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.AgentName != nil {
		task.AgentName = *update.AgentName
	}
	if update.Metadata != nil {
		task.Metadata = copyMeta(update.Metadata)
	}
	return cloneTask(task), nil
}

// SetStatus transitions the task atomically under the store lock.
func (m *MemStore) SetStatus(id string, status models.TaskStatus, change StatusChange) (*models.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}

	if err := validateTransition(task.Status, status); err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}

	now := time.Now().UTC()
	switch {
	case status == models.TaskStatusInProgress && task.StartedAt == nil:
		task.StartedAt = &now
	case status.IsTerminal():
		task.CompletedAt = &now
	}

	if status == models.TaskStatusToolCall {
		task.ConsultationTargetID = change.ConsultationTargetID
		task.ConsultationNickname = change.ConsultationNickname
	} else {
		task.ConsultationTargetID = ""
		task.ConsultationNickname = ""
	}

	if change.Result != nil {
		task.Result = change.Result
	}
	if change.ErrorMessage != nil {
		task.ErrorMessage = change.ErrorMessage
	}

	task.Status = status
	return cloneTask(task), nil
}

// UpdateProgress persists the latest progress percentage and node name.
func (m *MemStore) UpdateProgress(id string, percent int, node string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	task.ProgressPercentage = percent
	task.CurrentNode = node
	return nil
}

// ListByOwner returns the owner's tasks, newest first.
func (m *MemStore) ListByOwner(ownerID string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tasks []*models.Task
	for _, task := range m.tasks {
		if task.OwnerID == ownerID {
			tasks = append(tasks, cloneTask(task))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// ListByStatus returns every task in the given status, oldest first.
func (m *MemStore) ListByStatus(status models.TaskStatus) ([]*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tasks []*models.Task
	for _, task := range m.tasks {
		if task.Status == status {
			tasks = append(tasks, cloneTask(task))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// DeleteByStatus removes all of the owner's tasks in the given status.
func (m *MemStore) DeleteByStatus(ownerID string, status models.TaskStatus) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, task := range m.tasks {
		if task.OwnerID == ownerID && task.Status == status {
			ids = append(ids, id)
			delete(m.tasks, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}

func cloneTask(t *models.Task) *models.Task {
	out := *t
	out.Metadata = copyMeta(t.Metadata)
	if t.Result != nil {
		v := *t.Result
		out.Result = &v
	}
	if t.ErrorMessage != nil {
		v := *t.ErrorMessage
		out.ErrorMessage = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		out.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		out.CompletedAt = &v
	}
	return &out
}

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// Ensure MemStore satisfies the TaskStore contract.
var _ TaskStore = (*MemStore)(nil)
