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

const (
	roadmapsTable       = "roadmaps"
	roadmapMembersTable = "roadmap_members"
	roleAdmin           = "admin"
)

var roadmapStruct = database.NewStruct(new(models.Roadmap))

// RoadmapRepository reads roadmaps and their memberships
type RoadmapRepository struct {
	*Repository
}

// NewRoadmapRepository creates a new roadmap repository
func NewRoadmapRepository(db database.DB, logger ectologger.Logger) *RoadmapRepository {
	return &RoadmapRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetByID retrieves a roadmap by ID (tenant-scoped)
func (r *RoadmapRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Roadmap, error) {
	ctx, span := tracing.StartSpan(ctx, "RoadmapRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := roadmapStruct.SelectFrom(roadmapsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var roadmap models.Roadmap
	err = r.Q(ctx).GetContext(ctx, &roadmap, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("roadmap %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"roadmap_id": id,
		}).Error("failed to get roadmap")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get roadmap")
	}

	return &roadmap, nil
}

// RequireAdmin returns a 403 unless userID is an admin member of the roadmap
func (r *RoadmapRepository) RequireAdmin(ctx context.Context, roadmapID uuid.UUID, userID string) error {
	ctx, span := tracing.StartSpan(ctx, "RoadmapRepository.RequireAdmin")
	defer span.End()

	if userID == "" {
		return httperror.NewHTTPError(http.StatusForbidden, "roadmap admin required")
	}

	sb := database.NewSelectBuilder()
	sb.Select("role").From(roadmapMembersTable).
		Where(sb.Equal("roadmap_id", roadmapID), sb.Equal("user_id", userID))

	query, args := sb.Build()
	var role string
	err := r.Q(ctx).GetContext(ctx, &role, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPError(http.StatusForbidden, "roadmap admin required")
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"roadmap_id": roadmapID,
		}).Error("failed to check roadmap membership")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to check roadmap membership")
	}
	if role != roleAdmin {
		return httperror.NewHTTPError(http.StatusForbidden, "roadmap admin required")
	}

	return nil
}
