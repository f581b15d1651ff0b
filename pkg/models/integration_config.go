package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// IntegrationConfig links one roadmap to one provider. It is unique per
// (tenant, name, roadmap).
type IntegrationConfig struct {
	ID          uuid.UUID                         `db:"id" json:"id"`
	TenantID    uuid.UUID                         `db:"tenant_id" json:"tenant_id"`
	Name        string                            `db:"name" json:"name"`
	RoadmapID   uuid.UUID                         `db:"roadmap_id" json:"roadmap_id"`
	Host        string                            `db:"host" json:"host"`
	ConsumerKey string                            `db:"consumer_key" json:"consumer_key"`
	PrivateKey  Secret                            `db:"private_key" json:"-"`
	BoardID     *string                           `db:"board_id" json:"board_id,omitempty"`
	BoardFields database.JSONB[map[string]string] `db:"board_fields" json:"board_fields"`
	CreatedAt   time.Time                         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time                         `db:"updated_at" json:"updated_at"`
}

func (IntegrationConfig) TableName() string {
	return "integration_configs"
}

// SelectedBoard returns the selected board id, or "" when none is selected.
func (c *IntegrationConfig) SelectedBoard() string {
	if c == nil || c.BoardID == nil {
		return ""
	}
	return *c.BoardID
}

// ConfigFields are the admin-editable parts of an IntegrationConfig. Empty
// values leave the stored value unchanged.
type ConfigFields struct {
	Host        string
	ConsumerKey string
	PrivateKey  Secret
}

func (f ConfigFields) IsEmpty() bool {
	return f.Host == "" && f.ConsumerKey == "" && f.PrivateKey == ""
}
