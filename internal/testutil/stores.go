// Package testutil holds in-memory stand-ins for the postgres repositories.
package testutil

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

// Logger returns a development logger for tests.
func Logger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// Context returns a context carrying a tenant and user.
func Context(tenantID uuid.UUID, userID string) context.Context {
	ctx := appctx.SetTenantID(context.Background(), tenantID.String())
	return appctx.SetUserID(ctx, userID)
}

type fakeTx struct {
	database.Querier
	open bool
}

func (t *fakeTx) IsOpen() bool                   { return t.open }
func (t *fakeTx) Commit(_ context.Context) error { t.open = false; return nil }
func (t *fakeTx) Rollback(_ context.Context) error {
	t.open = false
	return nil
}

// Transactor hands out transactions that do nothing.
type Transactor struct{}

func (Transactor) GetTx(ctx context.Context, _ *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, &fakeTx{open: true}, nil
}

// ConfigRepo is an in-memory repositories.IntegrationConfigRepo.
type ConfigRepo struct {
	mu      sync.Mutex
	configs map[uuid.UUID]models.IntegrationConfig
}

func NewConfigRepo() *ConfigRepo {
	return &ConfigRepo{configs: map[uuid.UUID]models.IntegrationConfig{}}
}

func (r *ConfigRepo) Create(ctx context.Context, config *models.IntegrationConfig) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.configs {
		if existing.TenantID == tenantID && existing.Name == config.Name && existing.RoadmapID == config.RoadmapID {
			*config = existing
			return nil
		}
	}
	if config.ID == uuid.Nil {
		config.ID = uuid.New()
	}
	config.TenantID = tenantID
	if config.BoardFields.Data == nil {
		config.BoardFields = database.NewJSONB(map[string]string{})
	}
	config.CreatedAt = time.Now()
	config.UpdatedAt = config.CreatedAt
	r.configs[config.ID] = *config
	return nil
}

func (r *ConfigRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.IntegrationConfig, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	config, ok := r.configs[id]
	if !ok || config.TenantID != tenantID {
		return nil, repositories.NotFound("integration config %s does not exist", id)
	}
	return &config, nil
}

func (r *ConfigRepo) GetByName(ctx context.Context, name string, roadmapID uuid.UUID) (*models.IntegrationConfig, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, config := range r.configs {
		if config.TenantID == tenantID && config.Name == name && config.RoadmapID == roadmapID {
			return &config, nil
		}
	}
	return nil, repositories.NotFound("integration %s does not exist for roadmap %s", name, roadmapID)
}

func (r *ConfigRepo) UpdateCredentials(ctx context.Context, config *models.IntegrationConfig) error {
	return r.update(ctx, config.ID, func(stored *models.IntegrationConfig) {
		stored.Host = config.Host
		stored.ConsumerKey = config.ConsumerKey
		stored.PrivateKey = config.PrivateKey
	})
}

func (r *ConfigRepo) UpdateBoard(ctx context.Context, config *models.IntegrationConfig) error {
	return r.update(ctx, config.ID, func(stored *models.IntegrationConfig) {
		stored.BoardID = config.BoardID
		stored.BoardFields = config.BoardFields
	})
}

func (r *ConfigRepo) update(_ context.Context, id uuid.UUID, apply func(*models.IntegrationConfig)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.configs[id]
	if !ok {
		return repositories.NotFound("integration config %s does not exist", id)
	}
	apply(&stored)
	stored.UpdatedAt = time.Now()
	r.configs[id] = stored
	return nil
}

func (r *ConfigRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.configs[id]; !ok {
		return repositories.NotFound("integration config %s does not exist", id)
	}
	delete(r.configs, id)
	return nil
}

type tokenKey struct {
	integrationID uuid.UUID
	phase         models.TokenPhase
}

// TokenRepo is an in-memory repositories.OAuthTokenRepo.
type TokenRepo struct {
	mu     sync.Mutex
	tokens map[tokenKey]models.OAuthToken
}

func NewTokenRepo() *TokenRepo {
	return &TokenRepo{tokens: map[tokenKey]models.OAuthToken{}}
}

func (r *TokenRepo) Save(_ context.Context, token *models.OAuthToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.ConsumedAt = nil
	token.CreatedAt = time.Now()
	token.UpdatedAt = token.CreatedAt
	r.tokens[tokenKey{token.IntegrationID, token.Phase}] = *token
	return nil
}

func (r *TokenRepo) Get(_ context.Context, integrationID uuid.UUID, phase models.TokenPhase) (*models.OAuthToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[tokenKey{integrationID, phase}]
	if !ok {
		return nil, repositories.NotFound("%s token does not exist for integration %s", phase, integrationID)
	}
	return &token, nil
}

func (r *TokenRepo) Consume(_ context.Context, integrationID uuid.UUID) (*models.OAuthToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey{integrationID, models.TokenPhaseRequest}
	token, ok := r.tokens[key]
	if !ok || token.IsConsumed() {
		return nil, repositories.NotFound("no unused request token for integration %s", integrationID)
	}
	now := time.Now()
	token.ConsumedAt = &now
	r.tokens[key] = token
	return &token, nil
}

func (r *TokenRepo) FindIntegrationByRequestToken(_ context.Context, value string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, token := range r.tokens {
		if key.phase == models.TokenPhaseRequest && token.Token == value {
			return key.integrationID, nil
		}
	}
	return uuid.Nil, repositories.NotFound("request token does not exist")
}

func (r *TokenRepo) DeleteByIntegration(_ context.Context, integrationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tokens, tokenKey{integrationID, models.TokenPhaseRequest})
	delete(r.tokens, tokenKey{integrationID, models.TokenPhaseAccess})
	return nil
}

// Count returns how many tokens of a phase exist for an integration.
func (r *TokenRepo) Count(integrationID uuid.UUID, phase models.TokenPhase) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[tokenKey{integrationID, phase}]; ok {
		return 1
	}
	return 0
}

// MappingRepo is an in-memory repositories.StatusMappingRepo.
type MappingRepo struct {
	mu       sync.Mutex
	mappings []models.StatusMapping
}

func NewMappingRepo() *MappingRepo {
	return &MappingRepo{}
}

func (r *MappingRepo) Upsert(_ context.Context, mapping *models.StatusMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.mappings {
		if existing.IntegrationID == mapping.IntegrationID && existing.BoardID == mapping.BoardID &&
			existing.ExternalColumnID == mapping.ExternalColumnID {
			r.mappings[i].InternalStatus = mapping.InternalStatus
			r.mappings[i].UpdatedAt = time.Now()
			*mapping = r.mappings[i]
			return nil
		}
	}
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	mapping.CreatedAt = time.Now()
	mapping.UpdatedAt = mapping.CreatedAt
	r.mappings = append(r.mappings, *mapping)
	return nil
}

func (r *MappingRepo) Delete(_ context.Context, integrationID uuid.UUID, boardID string, columnID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.mappings[:0]
	for _, m := range r.mappings {
		if m.IntegrationID == integrationID && m.BoardID == boardID && m.ExternalColumnID == columnID {
			continue
		}
		kept = append(kept, m)
	}
	r.mappings = kept
	return nil
}

func (r *MappingRepo) ListByBoard(_ context.Context, integrationID uuid.UUID, boardID string) ([]models.StatusMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := []models.StatusMapping{}
	for _, m := range r.mappings {
		if m.IntegrationID == integrationID && m.BoardID == boardID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (r *MappingRepo) DeleteByIntegration(_ context.Context, integrationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.mappings[:0]
	for _, m := range r.mappings {
		if m.IntegrationID != integrationID {
			kept = append(kept, m)
		}
	}
	r.mappings = kept
	return nil
}

// All returns every stored mapping, across boards.
func (r *MappingRepo) All() []models.StatusMapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StatusMapping(nil), r.mappings...)
}

// TaskRepo is an in-memory repositories.TaskRepo. FailOn makes Upsert fail
// for the listed external ids.
type TaskRepo struct {
	mu     sync.Mutex
	tasks  map[uuid.UUID]models.Task
	writes int
	FailOn map[string]bool
}

func NewTaskRepo() *TaskRepo {
	return &TaskRepo{tasks: map[uuid.UUID]models.Task{}}
}

func (r *TaskRepo) Upsert(_ context.Context, roadmapID uuid.UUID, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task.ExternalID != nil && r.FailOn[*task.ExternalID] {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save task")
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.RoadmapID = roadmapID
	if task.Status == "" {
		task.Status = models.DefaultTaskStatus
	}
	now := time.Now()
	if existing, ok := r.tasks[task.ID]; ok {
		existing.Name = task.Name
		existing.Description = task.Description
		existing.Status = task.Status
		existing.ExternalLink = task.ExternalLink
		existing.UpdatedAt = now
		*task = existing
	} else {
		task.CreatedAt = now
		task.UpdatedAt = now
	}
	r.tasks[task.ID] = *task
	r.writes++
	return nil
}

func (r *TaskRepo) FindByExternalID(_ context.Context, roadmapID uuid.UUID, externalID string, importedFrom string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, task := range r.tasks {
		if task.RoadmapID == roadmapID && task.ExternalID != nil && *task.ExternalID == externalID &&
			task.ImportedFrom != nil && *task.ImportedFrom == importedFrom {
			return &task, nil
		}
	}
	return nil, nil
}

// Put stores a task as-is, e.g. a native task.
func (r *TaskRepo) Put(task models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	r.tasks[task.ID] = task
}

// Tasks returns the tasks of a roadmap.
func (r *TaskRepo) Tasks(roadmapID uuid.UUID) []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.Task
	for _, task := range r.tasks {
		if task.RoadmapID == roadmapID {
			result = append(result, task)
		}
	}
	return result
}

// Writes counts successful upserts.
func (r *TaskRepo) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// RoadmapRepo is an in-memory repositories.RoadmapRepo.
type RoadmapRepo struct {
	mu       sync.Mutex
	roadmaps map[uuid.UUID]models.Roadmap
	admins   map[uuid.UUID]map[string]bool
}

func NewRoadmapRepo() *RoadmapRepo {
	return &RoadmapRepo{
		roadmaps: map[uuid.UUID]models.Roadmap{},
		admins:   map[uuid.UUID]map[string]bool{},
	}
}

// AddRoadmap registers a roadmap with the given admins.
func (r *RoadmapRepo) AddRoadmap(tenantID uuid.UUID, admins ...string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New()
	r.roadmaps[id] = models.Roadmap{ID: id, TenantID: tenantID, Name: "Roadmap", CreatedAt: time.Now()}
	r.admins[id] = map[string]bool{}
	for _, admin := range admins {
		r.admins[id][admin] = true
	}
	return id
}

func (r *RoadmapRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Roadmap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roadmap, ok := r.roadmaps[id]
	if !ok {
		return nil, repositories.NotFound("roadmap %s does not exist", id)
	}
	return &roadmap, nil
}

func (r *RoadmapRepo) RequireAdmin(_ context.Context, roadmapID uuid.UUID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.admins[roadmapID][userID] {
		return httperror.NewHTTPError(http.StatusForbidden, "roadmap admin required")
	}
	return nil
}
