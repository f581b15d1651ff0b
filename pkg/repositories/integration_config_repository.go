package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const integrationConfigsTable = "integration_configs"

var integrationConfigStruct = database.NewStruct(new(models.IntegrationConfig))

// IntegrationConfigRepository handles database operations for integration configs
type IntegrationConfigRepository struct {
	*Repository
}

// NewIntegrationConfigRepository creates a new integration config repository
func NewIntegrationConfigRepository(db database.DB, logger ectologger.Logger) *IntegrationConfigRepository {
	return &IntegrationConfigRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create inserts a config. A concurrent create for the same (name, roadmap)
// resolves to the existing row, which is loaded into config.
func (r *IntegrationConfigRepository) Create(ctx context.Context, config *models.IntegrationConfig) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationConfigRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	config.TenantID = tenantID

	if config.ID == uuid.Nil {
		config.ID = uuid.New()
	}
	if config.BoardFields.Data == nil {
		config.BoardFields = database.NewJSONB(map[string]string{})
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(integrationConfigsTable).
		Cols("id", "tenant_id", "name", "roadmap_id", "host", "consumer_key", "private_key",
			"board_id", "board_fields", "created_at", "updated_at").
		Values(config.ID, config.TenantID, config.Name, config.RoadmapID, config.Host, config.ConsumerKey,
			config.PrivateKey, config.BoardID, config.BoardFields, database.Now(), database.Now())
	ub := ib.OnConflict("tenant_id", "name", "roadmap_id")
	ub.Set(ub.Assign("updated_at", sqlbuilder.Raw(integrationConfigsTable+".updated_at")))
	ib.Returning("id", "host", "consumer_key", "private_key", "board_id", "board_fields", "created_at", "updated_at")

	query, args := ib.Build()
	err = r.Q(ctx).QueryRowContext(ctx, query, args...).Scan(
		&config.ID, &config.Host, &config.ConsumerKey, &config.PrivateKey,
		&config.BoardID, &config.BoardFields, &config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_name": config.Name,
			"roadmap_id":       config.RoadmapID,
		}).Error("failed to create integration config")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create integration config")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": config.ID,
	}).Debugf("Created %s", integrationConfigsTable)
	return nil
}

// GetByID retrieves a config by ID (tenant-scoped)
func (r *IntegrationConfigRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.IntegrationConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationConfigRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := integrationConfigStruct.SelectFrom(integrationConfigsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	return r.get(ctx, sb, "integration config %s does not exist", id)
}

// GetByName retrieves the config of a provider for a roadmap
func (r *IntegrationConfigRepository) GetByName(ctx context.Context, name string, roadmapID uuid.UUID) (*models.IntegrationConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationConfigRepository.GetByName")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := integrationConfigStruct.SelectFrom(integrationConfigsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("name", name), sb.Equal("roadmap_id", roadmapID))

	return r.get(ctx, sb, "integration %s does not exist for roadmap %s", name, roadmapID)
}

func (r *IntegrationConfigRepository) get(ctx context.Context, sb *database.SelectBuilder, notFound string, args ...any) (*models.IntegrationConfig, error) {
	query, queryArgs := sb.Build()

	var config models.IntegrationConfig
	err := r.Q(ctx).GetContext(ctx, &config, query, queryArgs...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound(notFound, args...)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get integration config")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get integration config")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": config.ID,
	}).Debugf("Retrieved %s", integrationConfigsTable)
	return &config, nil
}

// UpdateCredentials updates host and keys
func (r *IntegrationConfigRepository) UpdateCredentials(ctx context.Context, config *models.IntegrationConfig) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationConfigRepository.UpdateCredentials")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(integrationConfigsTable).Set(
		ub.Assign("host", config.Host),
		ub.Assign("consumer_key", config.ConsumerKey),
		ub.Assign("private_key", config.PrivateKey),
		ub.Assign("updated_at", database.Now()),
	)

	return r.update(ctx, ub, config)
}

// UpdateBoard updates the selected board and its field overrides
func (r *IntegrationConfigRepository) UpdateBoard(ctx context.Context, config *models.IntegrationConfig) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationConfigRepository.UpdateBoard")
	defer span.End()

	if config.BoardFields.Data == nil {
		config.BoardFields = database.NewJSONB(map[string]string{})
	}

	ub := database.NewUpdateBuilder()
	ub.Update(integrationConfigsTable).Set(
		ub.Assign("board_id", config.BoardID),
		ub.Assign("board_fields", config.BoardFields),
		ub.Assign("updated_at", database.Now()),
	)

	return r.update(ctx, ub, config)
}

func (r *IntegrationConfigRepository) update(ctx context.Context, ub *database.UpdateBuilder, config *models.IntegrationConfig) error {
	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub.Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", config.ID))
	ub.Returning("updated_at")

	query, args := ub.Build()
	err = r.Q(ctx).QueryRowContext(ctx, query, args...).Scan(&config.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("integration config %s does not exist", config.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": config.ID,
		}).Error("failed to update integration config")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update integration config")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": config.ID,
	}).Debugf("Updated %s", integrationConfigsTable)
	return nil
}

// Delete deletes a config by ID
func (r *IntegrationConfigRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationConfigRepository.Delete")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(integrationConfigsTable).
		Where(db.Equal("tenant_id", tenantID), db.Equal("id", id))

	query, args := db.Build()
	result, err := r.Q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": id,
		}).Error("failed to delete integration config")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete integration config")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete integration config")
	}
	if rows == 0 {
		return NotFound("integration config %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": id,
	}).Debugf("Deleted %s", integrationConfigsTable)
	return nil
}
