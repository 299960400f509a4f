package rules

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults applied to tasks created by workflow actions
const (
	TaskStatusTodo     = "Todo"
	TaskPriorityMedium = "Medium"
)

// SystemActorID is recorded as the task creator when no actor is present,
// e.g. for background jobs
var SystemActorID = uuid.Nil.String()

// Task is a follow-up task record
type Task struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Status       string    `json:"status"`
	Priority     string    `json:"priority"`
	TenantID     string    `json:"tenantId"`
	CreatedBy    string    `json:"createdBy"`
	TaskableType string    `json:"taskableType"`
	TaskableID   string    `json:"taskableId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewTask holds the fields for a task to be created
type NewTask struct {
	Subject      string
	Status       string
	Priority     string
	TenantID     string
	CreatedBy    string
	TaskableType string
	TaskableID   string
}

// TaskStore persists tasks created by workflow actions
type TaskStore interface {
	CreateTask(ctx context.Context, t NewTask) (*Task, error)
	ListTasks(ctx context.Context, tenantID string) ([]*Task, error)
}

// Mailer dispatches a single email
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// InMemoryTaskStore keeps tasks in creation order
type InMemoryTaskStore struct {
	tasks []*Task
	mu    sync.RWMutex
}

func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{}
}

func (s *InMemoryTaskStore) CreateTask(_ context.Context, t NewTask) (*Task, error) {
	task := &Task{
		ID:           uuid.New().String(),
		Subject:      t.Subject,
		Status:       t.Status,
		Priority:     t.Priority,
		TenantID:     t.TenantID,
		CreatedBy:    t.CreatedBy,
		TaskableType: t.TaskableType,
		TaskableID:   t.TaskableID,
		CreatedAt:    time.Now(),
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()

	return task, nil
}

// ListTasks returns the tasks of a tenant; an empty tenantID returns all
func (s *InMemoryTaskStore) ListTasks(_ context.Context, tenantID string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if tenantID == "" || t.TenantID == tenantID {
			out = append(out, t)
		}
	}
	return out, nil
}
