package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// IntegrationConfigRepo defines the interface for integration config repository operations
type IntegrationConfigRepo interface {
	Create(ctx context.Context, config *models.IntegrationConfig) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.IntegrationConfig, error)
	GetByName(ctx context.Context, name string, roadmapID uuid.UUID) (*models.IntegrationConfig, error)
	UpdateCredentials(ctx context.Context, config *models.IntegrationConfig) error
	UpdateBoard(ctx context.Context, config *models.IntegrationConfig) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// OAuthTokenRepo defines the interface for oauth token repository operations.
// Tokens are addressed by integration; the integration lookup carries tenancy.
type OAuthTokenRepo interface {
	// Save replaces the token of the same phase for the integration.
	Save(ctx context.Context, token *models.OAuthToken) error
	Get(ctx context.Context, integrationID uuid.UUID, phase models.TokenPhase) (*models.OAuthToken, error)
	// Consume marks the unconsumed request token as used and returns it. Only one
	// caller can consume a given token.
	Consume(ctx context.Context, integrationID uuid.UUID) (*models.OAuthToken, error)
	FindIntegrationByRequestToken(ctx context.Context, token string) (uuid.UUID, error)
	DeleteByIntegration(ctx context.Context, integrationID uuid.UUID) error
}

// StatusMappingRepo defines the interface for status mapping repository operations
type StatusMappingRepo interface {
	Upsert(ctx context.Context, mapping *models.StatusMapping) error
	Delete(ctx context.Context, integrationID uuid.UUID, boardID string, columnID string) error
	ListByBoard(ctx context.Context, integrationID uuid.UUID, boardID string) ([]models.StatusMapping, error)
	DeleteByIntegration(ctx context.Context, integrationID uuid.UUID) error
}

// TaskRepo defines the task operations the importer needs
type TaskRepo interface {
	Upsert(ctx context.Context, roadmapID uuid.UUID, task *models.Task) error
	// FindByExternalID returns nil, nil when no task carries the reconciliation key.
	FindByExternalID(ctx context.Context, roadmapID uuid.UUID, externalID string, importedFrom string) (*models.Task, error)
}

// RoadmapRepo defines the interface for roadmap lookups and admin checks
type RoadmapRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Roadmap, error)
	RequireAdmin(ctx context.Context, roadmapID uuid.UUID, userID string) error
}
