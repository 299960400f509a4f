package rules

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresTaskStore implements TaskStore backed by the tasks table
type PostgresTaskStore struct {
	db *sql.DB
}

func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

// CreateTask inserts a task and returns it with its generated id and timestamp
func (s *PostgresTaskStore) CreateTask(ctx context.Context, t NewTask) (*Task, error) {
	task := &Task{
		ID:           uuid.New().String(),
		Subject:      t.Subject,
		Status:       t.Status,
		Priority:     t.Priority,
		TenantID:     t.TenantID,
		CreatedBy:    t.CreatedBy,
		TaskableType: t.TaskableType,
		TaskableID:   t.TaskableID,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, tenant_id, subject, status, priority, created_by, taskable_type, taskable_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`, task.ID, task.TenantID, task.Subject, task.Status, task.Priority,
		task.CreatedBy, task.TaskableType, task.TaskableID).Scan(&task.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	return task, nil
}

// ListTasks returns a tenant's tasks, newest first
func (s *PostgresTaskStore) ListTasks(ctx context.Context, tenantID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, subject, status, priority, created_by, taskable_type, taskable_id, created_at
		FROM tasks
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Subject, &t.Status, &t.Priority,
			&t.CreatedBy, &t.TaskableType, &t.TaskableID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}
