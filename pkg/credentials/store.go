package credentials

import (
	"context"
	"database/sql"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Transactor begins or joins the transaction carried on the context.
type Transactor interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// Store persists integration configs and their oauth tokens. Secrets pass
// through it as opaque values.
type Store struct {
	tx       Transactor
	configs  repositories.IntegrationConfigRepo
	tokens   repositories.OAuthTokenRepo
	mappings repositories.StatusMappingRepo
	logger   ectologger.Logger
}

func NewStore(
	tx Transactor,
	configs repositories.IntegrationConfigRepo,
	tokens repositories.OAuthTokenRepo,
	mappings repositories.StatusMappingRepo,
	logger ectologger.Logger,
) *Store {
	return &Store{
		tx:       tx,
		configs:  configs,
		tokens:   tokens,
		mappings: mappings,
		logger:   logger,
	}
}

// UpsertConfig returns the config of (name, roadmapID), creating it when
// missing. Non-empty fields overwrite stored values. A host or consumer key
// change revokes every token, since they were issued to the old identity.
func (s *Store) UpsertConfig(ctx context.Context, name string, roadmapID uuid.UUID, fields models.ConfigFields) (*models.IntegrationConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.UpsertConfig")
	defer span.End()

	var config *models.IntegrationConfig
	err := s.inTx(ctx, func(ctx context.Context) error {
		existing, err := s.configs.GetByName(ctx, name, roadmapID)
		if err != nil && !repositories.IsNotFound(err) {
			return err
		}

		if existing == nil {
			config = &models.IntegrationConfig{
				Name:        name,
				RoadmapID:   roadmapID,
				Host:        fields.Host,
				ConsumerKey: fields.ConsumerKey,
				PrivateKey:  fields.PrivateKey,
			}
			return s.configs.Create(ctx, config)
		}

		config = existing
		if fields.IsEmpty() {
			return nil
		}

		identityChanged := (fields.Host != "" && fields.Host != existing.Host) ||
			(fields.ConsumerKey != "" && fields.ConsumerKey != existing.ConsumerKey)
		if fields.Host != "" {
			config.Host = fields.Host
		}
		if fields.ConsumerKey != "" {
			config.ConsumerKey = fields.ConsumerKey
		}
		if !fields.PrivateKey.IsZero() {
			config.PrivateKey = fields.PrivateKey
		}

		if identityChanged {
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"integration_id": config.ID,
			}).Info("Provider identity changed, revoking tokens")
			if err := s.tokens.DeleteByIntegration(ctx, config.ID); err != nil {
				return err
			}
		}
		return s.configs.UpdateCredentials(ctx, config)
	})
	if err != nil {
		return nil, s.classify(err, "integration config does not exist")
	}

	return config, nil
}

// GetConfig returns the config of a provider for a roadmap
func (s *Store) GetConfig(ctx context.Context, name string, roadmapID uuid.UUID) (*models.IntegrationConfig, error) {
	config, err := s.configs.GetByName(ctx, name, roadmapID)
	if err != nil {
		return nil, s.classify(err, "integration "+name+" is not configured for this roadmap")
	}
	return config, nil
}

func (s *Store) GetConfigByID(ctx context.Context, id uuid.UUID) (*models.IntegrationConfig, error) {
	config, err := s.configs.GetByID(ctx, id)
	if err != nil {
		return nil, s.classify(err, "integration config does not exist")
	}
	return config, nil
}

// FindByRequestToken resolves the config an authorization callback belongs to.
func (s *Store) FindByRequestToken(ctx context.Context, requestToken string) (*models.IntegrationConfig, error) {
	id, err := s.tokens.FindIntegrationByRequestToken(ctx, requestToken)
	if err != nil {
		return nil, s.classify(err, "unknown request token")
	}
	return s.GetConfigByID(ctx, id)
}

// DeleteConfig removes the config with its tokens and mappings in one transaction.
func (s *Store) DeleteConfig(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.DeleteConfig")
	defer span.End()

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.tokens.DeleteByIntegration(ctx, id); err != nil {
			return err
		}
		if err := s.mappings.DeleteByIntegration(ctx, id); err != nil {
			return err
		}
		return s.configs.Delete(ctx, id)
	})
	if err != nil {
		return s.classify(err, "integration config does not exist")
	}
	return nil
}

// SelectBoard records the selected board and its field overrides.
func (s *Store) SelectBoard(ctx context.Context, config *models.IntegrationConfig, boardID string, fields map[string]string) error {
	config.BoardID = &boardID
	if fields == nil {
		fields = map[string]string{}
	}
	config.BoardFields = database.NewJSONB(fields)
	if err := s.configs.UpdateBoard(ctx, config); err != nil {
		return s.classify(err, "integration config does not exist")
	}
	return nil
}

// SaveRequestToken replaces any earlier request token of the config.
func (s *Store) SaveRequestToken(ctx context.Context, configID uuid.UUID, token string, secret models.Secret) error {
	return s.tokens.Save(ctx, &models.OAuthToken{
		IntegrationID: configID,
		Phase:         models.TokenPhaseRequest,
		Token:         token,
		Secret:        secret,
	})
}

// GetRequestToken returns the request token, consumed or not.
func (s *Store) GetRequestToken(ctx context.Context, configID uuid.UUID) (*models.OAuthToken, error) {
	token, err := s.tokens.Get(ctx, configID, models.TokenPhaseRequest)
	if err != nil {
		return nil, s.classify(err, "no request token")
	}
	return token, nil
}

// ConsumeRequestToken marks the request token used and returns it. It fails
// with NotFound when there is none or it was already consumed.
func (s *Store) ConsumeRequestToken(ctx context.Context, configID uuid.UUID) (*models.OAuthToken, error) {
	token, err := s.tokens.Consume(ctx, configID)
	if err != nil {
		return nil, s.classify(err, "no unused request token")
	}
	return token, nil
}

// SaveAccessToken replaces the access token of the config.
func (s *Store) SaveAccessToken(ctx context.Context, configID uuid.UUID, token string, secret models.Secret) error {
	return s.tokens.Save(ctx, &models.OAuthToken{
		IntegrationID: configID,
		Phase:         models.TokenPhaseAccess,
		Token:         token,
		Secret:        secret,
	})
}

func (s *Store) GetAccessToken(ctx context.Context, configID uuid.UUID) (*models.OAuthToken, error) {
	token, err := s.tokens.Get(ctx, configID, models.TokenPhaseAccess)
	if err != nil {
		return nil, s.classify(err, "no access token")
	}
	return token, nil
}

// RevokeTokens drops both tokens, returning the config to unauthenticated.
func (s *Store) RevokeTokens(ctx context.Context, configID uuid.UUID) error {
	return s.tokens.DeleteByIntegration(ctx, configID)
}

func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, tx, err := s.tx.GetTx(ctx, nil)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("failed to begin transaction")
		return err
	}
	defer func() {
		if tx.IsOpen() {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(ctx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// classify turns repository 404s into NotFound and passes other errors through.
func (s *Store) classify(err error, msg string) error {
	if repositories.IsNotFound(err) {
		return ferrors.Wrap(ferrors.NotFound, err, msg)
	}
	return err
}
