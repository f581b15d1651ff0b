package models

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusBacklog    TaskStatus = "Backlog"
	TaskStatusPlanned    TaskStatus = "Planned"
	TaskStatusInProgress TaskStatus = "InProgress"
	TaskStatusCompleted  TaskStatus = "Completed"

	// DefaultTaskStatus is given to tasks whose column is unmapped.
	DefaultTaskStatus = TaskStatusBacklog
)

var taskStatuses = []TaskStatus{TaskStatusBacklog, TaskStatusPlanned, TaskStatusInProgress, TaskStatusCompleted}

func TaskStatuses() []TaskStatus {
	return append([]TaskStatus(nil), taskStatuses...)
}

func (s TaskStatus) IsValid() bool {
	for _, status := range taskStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Task is the roadmap task record. Imported tasks carry ExternalID, ImportedFrom
// and ExternalLink; (RoadmapID, ExternalID, ImportedFrom) is unique.
type Task struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	RoadmapID    uuid.UUID  `db:"roadmap_id" json:"roadmap_id"`
	Name         string     `db:"name" json:"name"`
	Description  string     `db:"description" json:"description"`
	Status       TaskStatus `db:"status" json:"status"`
	ExternalID   *string    `db:"external_id" json:"external_id,omitempty"`
	ImportedFrom *string    `db:"imported_from" json:"imported_from,omitempty"`
	ExternalLink *string    `db:"external_link" json:"external_link,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

func (t *Task) IsImported() bool {
	return t.ExternalID != nil && t.ImportedFrom != nil
}

type Roadmap struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (Roadmap) TableName() string {
	return "roadmaps"
}
