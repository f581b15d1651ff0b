// Package integration is the admin-facing surface of the tracker
// integrations: configure, authorize, map and import.
package integration

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/credentials"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/oauth"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/statusmap"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// DefaultImportLockTTL is how long an import lock survives a crashed holder.
const DefaultImportLockTTL = 5 * time.Minute

// Locker serializes imports of one integration.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// ConfigView is an IntegrationConfig as shown to admins. It never carries secrets.
type ConfigView struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name"`
	RoadmapID     uuid.UUID         `json:"roadmap_id"`
	Host          string            `json:"host"`
	ConsumerKey   string            `json:"consumer_key"`
	HasPrivateKey bool              `json:"has_private_key"`
	BoardID       *string           `json:"board_id,omitempty"`
	BoardFields   map[string]string `json:"board_fields"`
	State         oauth.State       `json:"state"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type Deps struct {
	Store      *credentials.Store
	Engine     *oauth.Engine
	Mappings   *statusmap.Table
	Reconciler *importer.Reconciler
	Registry   *providers.Registry
	Roadmaps   repositories.RoadmapRepo
	// Locker and Events are optional.
	Locker        Locker
	Events        oauth.EventPublisher
	ImportLockTTL time.Duration
	Logger        ectologger.Logger
}

// Service guards every operation with the roadmap admin check and passes
// classified errors through unchanged.
type Service struct {
	store      *credentials.Store
	engine     *oauth.Engine
	mappings   *statusmap.Table
	reconciler *importer.Reconciler
	registry   *providers.Registry
	roadmaps   repositories.RoadmapRepo
	locker     Locker
	events     oauth.EventPublisher
	lockTTL    time.Duration
	logger     ectologger.Logger
}

func NewService(deps Deps) *Service {
	lockTTL := deps.ImportLockTTL
	if lockTTL <= 0 {
		lockTTL = DefaultImportLockTTL
	}
	return &Service{
		store:      deps.Store,
		engine:     deps.Engine,
		mappings:   deps.Mappings,
		reconciler: deps.Reconciler,
		registry:   deps.Registry,
		roadmaps:   deps.Roadmaps,
		locker:     deps.Locker,
		events:     deps.Events,
		lockTTL:    lockTTL,
		logger:     deps.Logger,
	}
}

// Providers lists the registered provider names.
func (s *Service) Providers() []string {
	return s.registry.Names()
}

// GetOrCreateConfig returns the config of name for the roadmap, creating it
// when missing. Non-empty fields are validated and stored.
func (s *Service) GetOrCreateConfig(ctx context.Context, roadmapID uuid.UUID, name string, fields models.ConfigFields) (*ConfigView, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationService.GetOrCreateConfig")
	defer span.End()

	if err := s.requireAdmin(ctx, roadmapID); err != nil {
		return nil, err
	}
	adapter, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if !fields.IsEmpty() {
		candidate := models.IntegrationConfig{Name: name, RoadmapID: roadmapID}
		existing, err := s.store.GetConfig(ctx, name, roadmapID)
		if err != nil && !ferrors.Is(err, ferrors.NotFound) {
			return nil, err
		}
		if existing != nil {
			candidate = *existing
		}
		applyFields(&candidate, fields)
		if err := adapter.ValidateConfig(&candidate); err != nil {
			return nil, err
		}
	}

	config, err := s.store.UpsertConfig(ctx, name, roadmapID, fields)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return s.view(ctx, config)
}

// GetConfig returns the view of an existing config.
func (s *Service) GetConfig(ctx context.Context, roadmapID uuid.UUID, name string) (*ConfigView, error) {
	config, err := s.load(ctx, roadmapID, name)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, config)
}

// DeleteConfig removes the config along with its tokens and mappings.
// Imported tasks are kept.
func (s *Service) DeleteConfig(ctx context.Context, roadmapID uuid.UUID, name string) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationService.DeleteConfig")
	defer span.End()

	config, err := s.load(ctx, roadmapID, name)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConfig(ctx, config.ID); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": config.ID,
		"provider":       config.Name,
	}).Info("Integration deleted")
	s.publish(ctx, config, kafka.EventDeleted, nil)
	return nil
}

// BeginAuth starts a new handshake and returns the provider authorization URL.
func (s *Service) BeginAuth(ctx context.Context, roadmapID uuid.UUID, name string) (string, error) {
	config, adapter, err := s.loadWithAdapter(ctx, roadmapID, name)
	if err != nil {
		return "", err
	}
	return s.engine.BeginAuth(ctx, adapter, config)
}

// CompleteAuth finishes the handshake with the verifier the user copied from the provider.
func (s *Service) CompleteAuth(ctx context.Context, roadmapID uuid.UUID, name string, verifier string) (*ConfigView, error) {
	config, adapter, err := s.loadWithAdapter(ctx, roadmapID, name)
	if err != nil {
		return nil, err
	}
	if err := s.engine.CompleteAuth(ctx, adapter, config, verifier); err != nil {
		return nil, err
	}
	return s.view(ctx, config)
}

// HandleCallback finishes the handshake from the provider redirect, which
// carries the request token instead of the roadmap and provider.
func (s *Service) HandleCallback(ctx context.Context, requestToken string, verifier string) (*ConfigView, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationService.HandleCallback")
	defer span.End()

	if requestToken == "" {
		return nil, ferrors.New(ferrors.InvalidVerifier, "oauth_token is required").WithField("oauth_token")
	}
	config, err := s.store.FindByRequestToken(ctx, requestToken)
	if ferrors.Is(err, ferrors.NotFound) {
		return nil, ferrors.New(ferrors.InvalidVerifier, "unknown request token, restart authorization")
	}
	if err != nil {
		return nil, err
	}
	return s.CompleteAuth(ctx, config.RoadmapID, config.Name, verifier)
}

func (s *Service) ListBoards(ctx context.Context, roadmapID uuid.UUID, name string) ([]providers.Board, error) {
	config, adapter, err := s.loadWithAdapter(ctx, roadmapID, name)
	if err != nil {
		return nil, err
	}

	var boards []providers.Board
	err = s.engine.Guard(ctx, config, func(ctx context.Context, token providers.Token) error {
		boards, err = adapter.ListBoards(ctx, config, token)
		return err
	})
	return boards, err
}

// SelectBoard selects a board listed by the provider, with optional field
// extraction overrides. Mappings of the previously selected board stop applying.
func (s *Service) SelectBoard(ctx context.Context, roadmapID uuid.UUID, name string, boardID string, fields map[string]string) (*ConfigView, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationService.SelectBoard")
	defer span.End()

	if boardID == "" {
		return nil, ferrors.New(ferrors.InvalidConfig, "board_id is required").WithField("board_id")
	}
	config, adapter, err := s.loadWithAdapter(ctx, roadmapID, name)
	if err != nil {
		return nil, err
	}

	candidate := *config
	candidate.BoardID = &boardID
	candidate.BoardFields.Data = fields
	if err := adapter.ValidateConfig(&candidate); err != nil {
		return nil, err
	}

	err = s.engine.Guard(ctx, config, func(ctx context.Context, token providers.Token) error {
		boards, err := adapter.ListBoards(ctx, config, token)
		if err != nil {
			return err
		}
		for _, board := range boards {
			if board.ID == boardID {
				return nil
			}
		}
		return ferrors.Newf(ferrors.NotFound, "board %s does not exist", boardID).WithProvider(name)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	if err := s.store.SelectBoard(ctx, config, boardID, fields); err != nil {
		return nil, err
	}
	return s.view(ctx, config)
}

// ListColumns lists the columns of boardID, or of the selected board when boardID is empty.
func (s *Service) ListColumns(ctx context.Context, roadmapID uuid.UUID, name string, boardID string) ([]providers.Column, error) {
	config, adapter, err := s.loadWithAdapter(ctx, roadmapID, name)
	if err != nil {
		return nil, err
	}
	if boardID, err = boardOrSelected(config, boardID); err != nil {
		return nil, err
	}
	return s.listColumns(ctx, adapter, config, boardID)
}

// ListLabels lists the labels of boardID, or of the selected board when boardID is empty.
func (s *Service) ListLabels(ctx context.Context, roadmapID uuid.UUID, name string, boardID string) ([]providers.Label, error) {
	config, adapter, err := s.loadWithAdapter(ctx, roadmapID, name)
	if err != nil {
		return nil, err
	}
	if boardID, err = boardOrSelected(config, boardID); err != nil {
		return nil, err
	}

	var labels []providers.Label
	err = s.engine.Guard(ctx, config, func(ctx context.Context, token providers.Token) error {
		labels, err = adapter.ListLabels(ctx, config, boardID, token)
		return err
	})
	return labels, err
}

// SetStatusMapping maps a column of the selected board. The column is checked
// against a live column listing.
func (s *Service) SetStatusMapping(ctx context.Context, roadmapID uuid.UUID, name string, columnID string, status models.TaskStatus) (*models.StatusMapping, error) {
	config, adapter, err := s.loadWithAdapter(ctx, roadmapID, name)
	if err != nil {
		return nil, err
	}
	boardID, err := boardOrSelected(config, "")
	if err != nil {
		return nil, err
	}
	columns, err := s.listColumns(ctx, adapter, config, boardID)
	if err != nil {
		return nil, err
	}
	return s.mappings.Set(ctx, config, columns, columnID, status)
}

func (s *Service) DeleteStatusMapping(ctx context.Context, roadmapID uuid.UUID, name string, columnID string) error {
	config, err := s.load(ctx, roadmapID, name)
	if err != nil {
		return err
	}
	return s.mappings.Remove(ctx, config, columnID)
}

func (s *Service) ListStatusMappings(ctx context.Context, roadmapID uuid.UUID, name string) ([]models.StatusMapping, error) {
	config, err := s.load(ctx, roadmapID, name)
	if err != nil {
		return nil, err
	}
	return s.mappings.Mapping(ctx, config)
}

// ImportBoard imports the issues of the selected board that match filter.
// A second import of the same integration fails with ImportInProgress while
// one is running. A partial result is returned alongside a stream error.
func (s *Service) ImportBoard(ctx context.Context, roadmapID uuid.UUID, name string, filter providers.IssueFilter) (*importer.Result, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationService.ImportBoard")
	defer span.End()

	config, adapter, err := s.loadWithAdapter(ctx, roadmapID, name)
	if err != nil {
		return nil, err
	}
	boardID, err := boardOrSelected(config, "")
	if err != nil {
		return nil, err
	}

	var result *importer.Result
	run := func(ctx context.Context) error {
		snapshot, err := s.mappings.Snapshot(ctx, config)
		if err != nil {
			return err
		}
		return s.engine.Guard(ctx, config, func(ctx context.Context, token providers.Token) error {
			result, err = s.reconciler.Import(ctx, importer.Request{
				Config:   config,
				Source:   adapter.ListIssues(ctx, config, boardID, token, filter),
				Resolver: snapshot,
				Provider: adapter.Name(),
			})
			return err
		})
	}

	if s.locker == nil {
		err = run(ctx)
	} else {
		err = s.locker.WithLock(ctx, "import:"+config.ID.String(), s.lockTTL, run)
		if errors.Is(err, redis.ErrLockNotAcquired) {
			err = ferrors.New(ferrors.ImportInProgress, "an import of this integration is already running").WithProvider(name)
		}
	}
	if err != nil {
		tracing.RecordError(span, err)
		return result, err
	}

	s.publish(ctx, config, kafka.EventImportCompleted, map[string]any{
		"board_id":  boardID,
		"created":   result.Created,
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
		"failed":    len(result.Failed),
	})
	return result, nil
}

func (s *Service) listColumns(ctx context.Context, adapter providers.Adapter, config *models.IntegrationConfig, boardID string) ([]providers.Column, error) {
	var columns []providers.Column
	err := s.engine.Guard(ctx, config, func(ctx context.Context, token providers.Token) error {
		var err error
		columns, err = adapter.ListColumns(ctx, config, boardID, token)
		return err
	})
	return columns, err
}

// requireAdmin checks the roadmap exists and the caller administers it.
func (s *Service) requireAdmin(ctx context.Context, roadmapID uuid.UUID) error {
	if _, err := s.roadmaps.GetByID(ctx, roadmapID); err != nil {
		if repositories.IsNotFound(err) {
			return ferrors.Wrap(ferrors.NotFound, err, "roadmap does not exist")
		}
		return err
	}

	userID := appctx.GetUserID(ctx)
	if err := s.roadmaps.RequireAdmin(ctx, roadmapID, userID); err != nil {
		if repositories.IsForbidden(err) {
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"roadmap_id": roadmapID,
				"user_id":    userID,
			}).Warn("Integration access denied")
			return ferrors.Wrap(ferrors.PermissionDenied, err, "roadmap admin required")
		}
		return err
	}
	return nil
}

func (s *Service) load(ctx context.Context, roadmapID uuid.UUID, name string) (*models.IntegrationConfig, error) {
	if err := s.requireAdmin(ctx, roadmapID); err != nil {
		return nil, err
	}
	return s.store.GetConfig(ctx, name, roadmapID)
}

func (s *Service) loadWithAdapter(ctx context.Context, roadmapID uuid.UUID, name string) (*models.IntegrationConfig, providers.Adapter, error) {
	if err := s.requireAdmin(ctx, roadmapID); err != nil {
		return nil, nil, err
	}
	adapter, err := s.registry.Get(name)
	if err != nil {
		return nil, nil, err
	}
	config, err := s.store.GetConfig(ctx, name, roadmapID)
	if err != nil {
		return nil, nil, err
	}
	return config, adapter, nil
}

func (s *Service) view(ctx context.Context, config *models.IntegrationConfig) (*ConfigView, error) {
	state, err := s.engine.State(ctx, config)
	if err != nil {
		return nil, err
	}
	boardFields := config.BoardFields.Data
	if boardFields == nil {
		boardFields = map[string]string{}
	}
	return &ConfigView{
		ID:            config.ID,
		Name:          config.Name,
		RoadmapID:     config.RoadmapID,
		Host:          config.Host,
		ConsumerKey:   config.ConsumerKey,
		HasPrivateKey: !config.PrivateKey.IsZero(),
		BoardID:       config.BoardID,
		BoardFields:   boardFields,
		State:         state,
		CreatedAt:     config.CreatedAt,
		UpdatedAt:     config.UpdatedAt,
	}, nil
}

func (s *Service) publish(ctx context.Context, config *models.IntegrationConfig, eventType string, data map[string]any) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, &kafka.Event{
		Type:          eventType,
		TenantID:      config.TenantID.String(),
		RoadmapID:     config.RoadmapID.String(),
		IntegrationID: config.ID.String(),
		Provider:      config.Name,
		Data:          data,
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": config.ID,
			"event_type":     eventType,
		}).Warn("failed to publish integration event")
	}
}

func applyFields(config *models.IntegrationConfig, fields models.ConfigFields) {
	if fields.Host != "" {
		config.Host = fields.Host
	}
	if fields.ConsumerKey != "" {
		config.ConsumerKey = fields.ConsumerKey
	}
	if !fields.PrivateKey.IsZero() {
		config.PrivateKey = fields.PrivateKey
	}
}

func boardOrSelected(config *models.IntegrationConfig, boardID string) (string, error) {
	if boardID != "" {
		return boardID, nil
	}
	if selected := config.SelectedBoard(); selected != "" {
		return selected, nil
	}
	return "", ferrors.New(ferrors.InvalidConfig, "no board selected").WithField("board_id").WithProvider(config.Name)
}
