package repositories

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const statusMappingsTable = "status_mappings"

var statusMappingStruct = database.NewStruct(new(models.StatusMapping))

// StatusMappingRepository handles database operations for status mappings
type StatusMappingRepository struct {
	*Repository
}

// NewStatusMappingRepository creates a new status mapping repository
func NewStatusMappingRepository(db database.DB, logger ectologger.Logger) *StatusMappingRepository {
	return &StatusMappingRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert sets the status of a column, replacing any earlier mapping for it
func (r *StatusMappingRepository) Upsert(ctx context.Context, mapping *models.StatusMapping) error {
	ctx, span := tracing.StartSpan(ctx, "StatusMappingRepository.Upsert")
	defer span.End()

	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(statusMappingsTable).
		Cols("id", "integration_id", "board_id", "external_column_id", "internal_status", "created_at", "updated_at").
		Values(mapping.ID, mapping.IntegrationID, mapping.BoardID, mapping.ExternalColumnID, mapping.InternalStatus,
			database.Now(), database.Now())
	ub := ib.OnConflict("integration_id", "board_id", "external_column_id")
	ub.Set(
		ub.Assign("internal_status", database.Excluded("internal_status")),
		ub.Assign("updated_at", database.Now()),
	)
	ib.Returning("id", "created_at", "updated_at")

	query, args := ib.Build()
	err := r.Q(ctx).QueryRowContext(ctx, query, args...).Scan(&mapping.ID, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": mapping.IntegrationID,
			"board_id":       mapping.BoardID,
			"column_id":      mapping.ExternalColumnID,
		}).Error("failed to upsert status mapping")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save status mapping")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": mapping.IntegrationID,
		"column_id":      mapping.ExternalColumnID,
		"status":         mapping.InternalStatus,
	}).Debugf("Upserted %s", statusMappingsTable)
	return nil
}

// Delete removes the mapping of one column. Deleting a missing mapping is not an error.
func (r *StatusMappingRepository) Delete(ctx context.Context, integrationID uuid.UUID, boardID string, columnID string) error {
	ctx, span := tracing.StartSpan(ctx, "StatusMappingRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(statusMappingsTable).Where(
		db.Equal("integration_id", integrationID),
		db.Equal("board_id", boardID),
		db.Equal("external_column_id", columnID),
	)

	return r.exec(ctx, db, integrationID, "failed to delete status mapping")
}

// ListByBoard lists the mappings recorded for one board
func (r *StatusMappingRepository) ListByBoard(ctx context.Context, integrationID uuid.UUID, boardID string) ([]models.StatusMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "StatusMappingRepository.ListByBoard")
	defer span.End()

	sb := statusMappingStruct.SelectFrom(statusMappingsTable)
	sb.Where(sb.Equal("integration_id", integrationID), sb.Equal("board_id", boardID)).
		OrderBy("external_column_id")

	query, args := sb.Build()
	mappings := []models.StatusMapping{}
	if err := r.Q(ctx).SelectContext(ctx, &mappings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integrationID,
			"board_id":       boardID,
		}).Error("failed to list status mappings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list status mappings")
	}

	return mappings, nil
}

// DeleteByIntegration removes every mapping of an integration
func (r *StatusMappingRepository) DeleteByIntegration(ctx context.Context, integrationID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "StatusMappingRepository.DeleteByIntegration")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(statusMappingsTable).Where(db.Equal("integration_id", integrationID))

	return r.exec(ctx, db, integrationID, "failed to delete status mappings")
}

func (r *StatusMappingRepository) exec(ctx context.Context, db *database.DeleteBuilder, integrationID uuid.UUID, failure string) error {
	query, args := db.Build()
	result, err := r.Q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integrationID,
		}).Error(failure)
		return httperror.NewHTTPError(http.StatusInternalServerError, failure)
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integrationID,
		"mapping_count":  rows,
	}).Debugf("Deleted %s", statusMappingsTable)
	return nil
}
