package models

import (
	"time"

	"github.com/google/uuid"
)

// StatusMapping maps one column of the board it was created for to an internal
// task status.
type StatusMapping struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	IntegrationID    uuid.UUID  `db:"integration_id" json:"integration_id"`
	BoardID          string     `db:"board_id" json:"board_id"`
	ExternalColumnID string     `db:"external_column_id" json:"external_column_id"`
	InternalStatus   TaskStatus `db:"internal_status" json:"internal_status"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

func (StatusMapping) TableName() string {
	return "status_mappings"
}
