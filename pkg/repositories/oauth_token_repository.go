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

const oauthTokensTable = "oauth_tokens"

var oauthTokenStruct = database.NewStruct(new(models.OAuthToken))

// OAuthTokenRepository handles database operations for oauth tokens
type OAuthTokenRepository struct {
	*Repository
}

// NewOAuthTokenRepository creates a new oauth token repository
func NewOAuthTokenRepository(db database.DB, logger ectologger.Logger) *OAuthTokenRepository {
	return &OAuthTokenRepository{
		Repository: NewRepository(db, logger),
	}
}

// Save upserts on (integration_id, phase) in a single statement, so the last
// writer wins and the integration never holds two tokens of one phase.
func (r *OAuthTokenRepository) Save(ctx context.Context, token *models.OAuthToken) error {
	ctx, span := tracing.StartSpan(ctx, "OAuthTokenRepository.Save")
	defer span.End()

	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(oauthTokensTable).
		Cols("id", "integration_id", "phase", "token", "secret", "consumed_at", "created_at", "updated_at").
		Values(token.ID, token.IntegrationID, token.Phase, token.Token, token.Secret, nil, database.Now(), database.Now())
	ub := ib.OnConflict("integration_id", "phase")
	ub.Set(
		ub.Assign("id", database.Excluded("id")),
		ub.Assign("token", database.Excluded("token")),
		ub.Assign("secret", database.Excluded("secret")),
		ub.Assign("consumed_at", nil),
		ub.Assign("created_at", database.Excluded("created_at")),
		ub.Assign("updated_at", database.Now()),
	)
	ib.Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.Q(ctx).QueryRowContext(ctx, query, args...).Scan(&token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": token.IntegrationID,
			"phase":          token.Phase,
		}).Error("failed to save oauth token")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save oauth token")
	}
	token.ConsumedAt = nil

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": token.IntegrationID,
		"phase":          token.Phase,
	}).Debugf("Saved %s", oauthTokensTable)
	return nil
}

// Get retrieves the token of a phase for an integration
func (r *OAuthTokenRepository) Get(ctx context.Context, integrationID uuid.UUID, phase models.TokenPhase) (*models.OAuthToken, error) {
	ctx, span := tracing.StartSpan(ctx, "OAuthTokenRepository.Get")
	defer span.End()

	sb := oauthTokenStruct.SelectFrom(oauthTokensTable)
	sb.Where(sb.Equal("integration_id", integrationID), sb.Equal("phase", phase))

	query, args := sb.Build()
	var token models.OAuthToken
	err := r.Q(ctx).GetContext(ctx, &token, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("%s token does not exist for integration %s", phase, integrationID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integrationID,
			"phase":          phase,
		}).Error("failed to get oauth token")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get oauth token")
	}

	return &token, nil
}

// Consume marks the request token as used. The WHERE on consumed_at makes the
// update a compare-and-set, so concurrent callers cannot both win.
func (r *OAuthTokenRepository) Consume(ctx context.Context, integrationID uuid.UUID) (*models.OAuthToken, error) {
	ctx, span := tracing.StartSpan(ctx, "OAuthTokenRepository.Consume")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(oauthTokensTable).
		Set(
			ub.Assign("consumed_at", database.Now()),
			ub.Assign("updated_at", database.Now()),
		).
		Where(
			ub.Equal("integration_id", integrationID),
			ub.Equal("phase", models.TokenPhaseRequest),
			ub.IsNull("consumed_at"),
		)
	ub.Returning("id", "integration_id", "phase", "token", "secret", "consumed_at", "created_at", "updated_at")

	query, args := ub.Build()
	var token models.OAuthToken
	err := r.Q(ctx).QueryRowxContext(ctx, query, args...).StructScan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("no unused request token for integration %s", integrationID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integrationID,
		}).Error("failed to consume request token")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to consume request token")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integrationID,
	}).Debugf("Consumed request token in %s", oauthTokensTable)
	return &token, nil
}

// FindIntegrationByRequestToken resolves the integration an authorization
// callback belongs to.
func (r *OAuthTokenRepository) FindIntegrationByRequestToken(ctx context.Context, token string) (uuid.UUID, error) {
	ctx, span := tracing.StartSpan(ctx, "OAuthTokenRepository.FindIntegrationByRequestToken")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("integration_id").From(oauthTokensTable).
		Where(sb.Equal("phase", models.TokenPhaseRequest), sb.Equal("token", token))

	query, args := sb.Build()
	var integrationID uuid.UUID
	err := r.Q(ctx).GetContext(ctx, &integrationID, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, NotFound("request token does not exist")
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to find request token")
		return uuid.Nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find request token")
	}

	return integrationID, nil
}

// DeleteByIntegration removes every token of an integration
func (r *OAuthTokenRepository) DeleteByIntegration(ctx context.Context, integrationID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "OAuthTokenRepository.DeleteByIntegration")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(oauthTokensTable).Where(db.Equal("integration_id", integrationID))

	query, args := db.Build()
	result, err := r.Q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": integrationID,
		}).Error("failed to delete oauth tokens")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete oauth tokens")
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integrationID,
		"token_count":    rows,
	}).Debugf("Deleted %s", oauthTokensTable)
	return nil
}
