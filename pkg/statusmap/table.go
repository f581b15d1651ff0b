// Package statusmap maps the columns of an integration's selected board to
// internal task statuses.
package statusmap

import (
	"context"

	"github.com/Gobusters/ectologger"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Snapshot is a read-only view of the mappings of one board.
type Snapshot map[string]models.TaskStatus

// Resolve returns the status mapped to columnID.
func (s Snapshot) Resolve(columnID string) (models.TaskStatus, bool) {
	status, ok := s[columnID]
	return status, ok
}

// Table reads and writes status mappings. Mappings are stored per board, and
// only those of the currently selected board are visible.
type Table struct {
	repo   repositories.StatusMappingRepo
	logger ectologger.Logger
}

func NewTable(repo repositories.StatusMappingRepo, logger ectologger.Logger) *Table {
	return &Table{
		repo:   repo,
		logger: logger,
	}
}

// Set maps a column of the selected board to status. columns must be the live
// column listing of that board; a column outside it fails with InvalidColumn.
func (t *Table) Set(ctx context.Context, cfg *models.IntegrationConfig, columns []providers.Column, columnID string, status models.TaskStatus) (*models.StatusMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "StatusMappingTable.Set")
	defer span.End()

	boardID, err := requireBoard(cfg)
	if err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, ferrors.Newf(ferrors.InvalidConfig, "unknown task status %q", status).WithField("status")
	}
	if !hasColumn(columns, columnID) {
		return nil, ferrors.Newf(ferrors.InvalidColumn, "column %q is not on board %s", columnID, boardID).
			WithColumn(columnID).WithProvider(cfg.Name)
	}

	mapping := &models.StatusMapping{
		IntegrationID:    cfg.ID,
		BoardID:          boardID,
		ExternalColumnID: columnID,
		InternalStatus:   status,
	}
	if err := t.repo.Upsert(ctx, mapping); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	t.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": cfg.ID,
		"board_id":       boardID,
		"column_id":      columnID,
		"status":         status,
	}).Info("Status mapping set")
	return mapping, nil
}

// Remove deletes the mapping of a column. Removing an unmapped column is a no-op.
func (t *Table) Remove(ctx context.Context, cfg *models.IntegrationConfig, columnID string) error {
	ctx, span := tracing.StartSpan(ctx, "StatusMappingTable.Remove")
	defer span.End()

	boardID, err := requireBoard(cfg)
	if err != nil {
		return err
	}
	return t.repo.Delete(ctx, cfg.ID, boardID, columnID)
}

// Mapping lists the mappings of the selected board.
func (t *Table) Mapping(ctx context.Context, cfg *models.IntegrationConfig) ([]models.StatusMapping, error) {
	boardID := cfg.SelectedBoard()
	if boardID == "" {
		return []models.StatusMapping{}, nil
	}
	return t.repo.ListByBoard(ctx, cfg.ID, boardID)
}

// Resolve returns the status mapped to a column of the selected board.
func (t *Table) Resolve(ctx context.Context, cfg *models.IntegrationConfig, columnID string) (models.TaskStatus, bool, error) {
	snapshot, err := t.Snapshot(ctx, cfg)
	if err != nil {
		return "", false, err
	}
	status, ok := snapshot.Resolve(columnID)
	return status, ok, nil
}

// Snapshot loads the mappings of the selected board once, for use across an import.
func (t *Table) Snapshot(ctx context.Context, cfg *models.IntegrationConfig) (Snapshot, error) {
	mappings, err := t.Mapping(ctx, cfg)
	if err != nil {
		return nil, err
	}
	snapshot := make(Snapshot, len(mappings))
	for _, m := range mappings {
		snapshot[m.ExternalColumnID] = m.InternalStatus
	}
	return snapshot, nil
}

func requireBoard(cfg *models.IntegrationConfig) (string, error) {
	boardID := cfg.SelectedBoard()
	if boardID == "" {
		return "", ferrors.New(ferrors.InvalidConfig, "no board selected").WithField("board_id").WithProvider(cfg.Name)
	}
	return boardID, nil
}

func hasColumn(columns []providers.Column, columnID string) bool {
	for _, column := range columns {
		if column.ID == columnID {
			return true
		}
	}
	return false
}
