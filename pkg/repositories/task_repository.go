package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const tasksTable = "tasks"

var taskStruct = database.NewStruct(new(models.Task))

// TaskRepository handles the task operations the importer depends on
type TaskRepository struct {
	*Repository
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db database.DB, logger ectologger.Logger) *TaskRepository {
	return &TaskRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert creates the task, or updates the imported fields of the existing task
// with the same ID. The reconciliation key columns are never overwritten.
func (r *TaskRepository) Upsert(ctx context.Context, roadmapID uuid.UUID, task *models.Task) error {
	ctx, span := tracing.StartSpan(ctx, "TaskRepository.Upsert")
	defer span.End()

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.RoadmapID = roadmapID
	if task.Status == "" {
		task.Status = models.DefaultTaskStatus
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(tasksTable).
		Cols("id", "roadmap_id", "name", "description", "status", "external_id", "imported_from", "external_link",
			"created_at", "updated_at").
		Values(task.ID, task.RoadmapID, task.Name, task.Description, task.Status, task.ExternalID, task.ImportedFrom,
			task.ExternalLink, database.Now(), database.Now())
	ub := ib.OnConflict("id")
	ub.Set(
		ub.Assign("name", database.Excluded("name")),
		ub.Assign("description", database.Excluded("description")),
		ub.Assign("status", database.Excluded("status")),
		ub.Assign("external_link", database.Excluded("external_link")),
		ub.Assign("updated_at", database.Now()),
	)
	ib.Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.Q(ctx).QueryRowContext(ctx, query, args...).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"roadmap_id": roadmapID,
			"task_id":    task.ID,
		}).Error("failed to upsert task")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save task")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"task_id": task.ID,
	}).Debugf("Upserted %s", tasksTable)
	return nil
}

// FindByExternalID looks a task up by its reconciliation key
func (r *TaskRepository) FindByExternalID(ctx context.Context, roadmapID uuid.UUID, externalID string, importedFrom string) (*models.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "TaskRepository.FindByExternalID")
	defer span.End()

	sb := taskStruct.SelectFrom(tasksTable)
	sb.Where(
		sb.Equal("roadmap_id", roadmapID),
		sb.Equal("external_id", externalID),
		sb.Equal("imported_from", importedFrom),
	)

	query, args := sb.Build()
	var task models.Task
	err := r.Q(ctx).GetContext(ctx, &task, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"roadmap_id":    roadmapID,
			"external_id":   externalID,
			"imported_from": importedFrom,
		}).Error("failed to find task by external id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find task")
	}

	return &task, nil
}
