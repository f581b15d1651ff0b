package integration_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/credentials"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/integration"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/oauth"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/statusmap"
)

type fixture struct {
	ctx       context.Context
	service   *integration.Service
	tracker   *testutil.Tracker
	tasks     *testutil.TaskRepo
	mappings  *testutil.MappingRepo
	events    *testutil.Events
	locker    *testutil.Locker
	tenantID  uuid.UUID
	roadmapID uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	logger := testutil.Logger()
	tenantID := uuid.New()
	roadmaps := testutil.NewRoadmapRepo()
	roadmapID := roadmaps.AddRoadmap(tenantID, "admin")

	mappings := testutil.NewMappingRepo()
	tasks := testutil.NewTaskRepo()
	events := &testutil.Events{}
	locker := testutil.NewLocker()
	store := credentials.NewStore(testutil.Transactor{}, testutil.NewConfigRepo(), testutil.NewTokenRepo(), mappings, logger)

	tracker := testutil.NewTracker("trackerX")
	tracker.Verifier = "GOODCODE"
	tracker.Boards = []providers.Board{{ID: "board-1", Name: "Main"}, {ID: "board-2", Name: "Ops"}}
	tracker.Columns["board-1"] = []providers.Column{{ID: "todo", Name: "To Do"}, {ID: "done", Name: "Done"}}
	tracker.Columns["board-2"] = []providers.Column{{ID: "open", Name: "Open"}}
	tracker.Labels["board-1"] = []providers.Label{{ID: "l1", Name: "backend"}}
	tracker.Issues["board-1"] = []providers.ExternalIssue{
		{ID: "42", Title: "Ship it", ColumnID: "done", Link: "https://t.example/42"},
	}

	service := integration.NewService(integration.Deps{
		Store:      store,
		Engine:     oauth.NewEngine(store, events, logger),
		Mappings:   statusmap.NewTable(mappings, logger),
		Reconciler: importer.NewReconciler(tasks, 2, logger),
		Registry:   providers.NewRegistry(tracker),
		Roadmaps:   roadmaps,
		Locker:     locker,
		Events:     events,
		Logger:     logger,
	})

	return fixture{
		ctx:       testutil.Context(tenantID, "admin"),
		service:   service,
		tracker:   tracker,
		tasks:     tasks,
		mappings:  mappings,
		events:    events,
		locker:    locker,
		tenantID:  tenantID,
		roadmapID: roadmapID,
	}
}

var trackerFields = models.ConfigFields{Host: "https://t.example", ConsumerKey: "k", PrivateKey: "pk"}

// authorize configures trackerX and completes the handshake.
func (f fixture) authorize(t *testing.T) {
	t.Helper()
	_, err := f.service.GetOrCreateConfig(f.ctx, f.roadmapID, "trackerX", trackerFields)
	require.NoError(t, err)
	_, err = f.service.BeginAuth(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)
	_, err = f.service.CompleteAuth(f.ctx, f.roadmapID, "trackerX", "GOODCODE")
	require.NoError(t, err)
}

func TestService_TrackerScenario(t *testing.T) {
	f := newFixture(t)

	view, err := f.service.GetOrCreateConfig(f.ctx, f.roadmapID, "trackerX", trackerFields)
	require.NoError(t, err)
	assert.Equal(t, oauth.Unauthenticated, view.State)
	assert.True(t, view.HasPrivateKey)

	url, err := f.service.BeginAuth(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)
	assert.Contains(t, url, "t.example")

	view, err = f.service.GetConfig(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)
	assert.Equal(t, oauth.AwaitingVerifier, view.State)

	view, err = f.service.CompleteAuth(f.ctx, f.roadmapID, "trackerX", "GOODCODE")
	require.NoError(t, err)
	assert.Equal(t, oauth.Authenticated, view.State)

	boards, err := f.service.ListBoards(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)
	assert.Len(t, boards, 2)

	view, err = f.service.SelectBoard(f.ctx, f.roadmapID, "trackerX", "board-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "board-1", *view.BoardID)

	columns, err := f.service.ListColumns(f.ctx, f.roadmapID, "trackerX", "")
	require.NoError(t, err)
	assert.Len(t, columns, 2)

	_, err = f.service.SetStatusMapping(f.ctx, f.roadmapID, "trackerX", "done", models.TaskStatusCompleted)
	require.NoError(t, err)

	result, err := f.service.ImportBoard(f.ctx, f.roadmapID, "trackerX", providers.IssueFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	tasks := f.tasks.Tasks(f.roadmapID)
	require.Len(t, tasks, 1)
	assert.Equal(t, "42", *tasks[0].ExternalID)
	assert.Equal(t, models.TaskStatusCompleted, tasks[0].Status)

	result, err = f.service.ImportBoard(f.ctx, f.roadmapID, "trackerX", providers.IssueFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Len(t, f.tasks.Tasks(f.roadmapID), 1)

	assert.Equal(t, []string{kafka.EventAuthorized, kafka.EventImportCompleted, kafka.EventImportCompleted}, f.events.Types())
}

func TestService_BadCodeScenario(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetOrCreateConfig(f.ctx, f.roadmapID, "trackerX", trackerFields)
	require.NoError(t, err)
	firstURL, err := f.service.BeginAuth(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)

	_, err = f.service.CompleteAuth(f.ctx, f.roadmapID, "trackerX", "BADCODE")
	assert.True(t, ferrors.Is(err, ferrors.InvalidVerifier))

	view, err := f.service.GetConfig(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)
	assert.Equal(t, oauth.AwaitingVerifier, view.State)

	secondURL, err := f.service.BeginAuth(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)
	assert.NotEqual(t, firstURL, secondURL)

	view, err = f.service.CompleteAuth(f.ctx, f.roadmapID, "trackerX", "GOODCODE")
	require.NoError(t, err)
	assert.Equal(t, oauth.Authenticated, view.State)
}

func TestService_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	member := testutil.Context(f.tenantID, "member")

	_, err := f.service.GetOrCreateConfig(member, f.roadmapID, "trackerX", trackerFields)
	assert.True(t, ferrors.Is(err, ferrors.PermissionDenied))

	_, err = f.service.GetConfig(f.ctx, f.roadmapID, "trackerX")
	assert.True(t, ferrors.Is(err, ferrors.NotFound))

	f.authorize(t)

	_, err = f.service.ListBoards(member, f.roadmapID, "trackerX")
	assert.True(t, ferrors.Is(err, ferrors.PermissionDenied))
	_, err = f.service.ImportBoard(member, f.roadmapID, "trackerX", providers.IssueFilter{})
	assert.True(t, ferrors.Is(err, ferrors.PermissionDenied))
	assert.True(t, ferrors.Is(f.service.DeleteConfig(member, f.roadmapID, "trackerX"), ferrors.PermissionDenied))
}

func TestService_UnknownRoadmapAndProvider(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetOrCreateConfig(f.ctx, uuid.New(), "trackerX", trackerFields)
	assert.True(t, ferrors.Is(err, ferrors.NotFound))

	_, err = f.service.GetOrCreateConfig(f.ctx, f.roadmapID, "trackerY", trackerFields)
	assert.True(t, ferrors.Is(err, ferrors.NotFound))
}

func TestService_InvalidConfigIsNotStored(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetOrCreateConfig(f.ctx, f.roadmapID, "trackerX", models.ConfigFields{ConsumerKey: "k"})
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.InvalidConfig))

	_, err = f.service.GetConfig(f.ctx, f.roadmapID, "trackerX")
	assert.True(t, ferrors.Is(err, ferrors.NotFound))
}

func TestService_ViewHasNoSecrets(t *testing.T) {
	f := newFixture(t)

	view, err := f.service.GetOrCreateConfig(f.ctx, f.roadmapID, "trackerX", models.ConfigFields{
		Host: "https://t.example", ConsumerKey: "k", PrivateKey: "super-secret-key",
	})
	require.NoError(t, err)

	body, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "super-secret-key")
	assert.Contains(t, string(body), `"has_private_key":true`)
}

func TestService_InvalidColumnPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.authorize(t)

	_, err := f.service.SetStatusMapping(f.ctx, f.roadmapID, "trackerX", "done", models.TaskStatusCompleted)
	assert.True(t, ferrors.Is(err, ferrors.InvalidConfig), "no board selected yet")

	_, err = f.service.SelectBoard(f.ctx, f.roadmapID, "trackerX", "board-1", nil)
	require.NoError(t, err)

	_, err = f.service.SetStatusMapping(f.ctx, f.roadmapID, "trackerX", "open", models.TaskStatusCompleted)
	assert.True(t, ferrors.Is(err, ferrors.InvalidColumn))
	assert.Empty(t, f.mappings.All())
}

func TestService_SelectUnknownBoard(t *testing.T) {
	f := newFixture(t)
	f.authorize(t)

	_, err := f.service.SelectBoard(f.ctx, f.roadmapID, "trackerX", "board-9", nil)
	assert.True(t, ferrors.Is(err, ferrors.NotFound))

	view, err := f.service.GetConfig(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)
	assert.Nil(t, view.BoardID)
}

func TestService_MappingsFollowSelectedBoard(t *testing.T) {
	f := newFixture(t)
	f.authorize(t)

	_, err := f.service.SelectBoard(f.ctx, f.roadmapID, "trackerX", "board-1", nil)
	require.NoError(t, err)
	_, err = f.service.SetStatusMapping(f.ctx, f.roadmapID, "trackerX", "done", models.TaskStatusCompleted)
	require.NoError(t, err)

	_, err = f.service.SelectBoard(f.ctx, f.roadmapID, "trackerX", "board-2", nil)
	require.NoError(t, err)

	mappings, err := f.service.ListStatusMappings(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)
	assert.Empty(t, mappings)

	_, err = f.service.SetStatusMapping(f.ctx, f.roadmapID, "trackerX", "open", models.TaskStatusInProgress)
	require.NoError(t, err)
	require.NoError(t, f.service.DeleteStatusMapping(f.ctx, f.roadmapID, "trackerX", "open"))

	mappings, err = f.service.ListStatusMappings(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestService_RejectedTokenRequiresReauthorization(t *testing.T) {
	f := newFixture(t)
	f.authorize(t)

	f.tracker.RevokeAccess()
	_, err := f.service.ListBoards(f.ctx, f.roadmapID, "trackerX")
	assert.True(t, ferrors.Is(err, ferrors.InvalidToken))

	view, err := f.service.GetConfig(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)
	assert.Equal(t, oauth.Unauthenticated, view.State)

	last, ok := f.events.Last()
	require.True(t, ok)
	assert.Equal(t, kafka.EventReauthorizationRequired, last.Type)

	// Later calls fail without reaching the provider
	_, err = f.service.ListLabels(f.ctx, f.roadmapID, "trackerX", "board-1")
	assert.True(t, ferrors.Is(err, ferrors.InvalidToken))
}

func TestService_ImportFilterAndLabels(t *testing.T) {
	f := newFixture(t)
	f.tracker.Issues["board-1"] = []providers.ExternalIssue{
		{ID: "1", Title: "API", Labels: []string{"backend"}},
		{ID: "2", Title: "UI", Labels: []string{"frontend"}},
	}
	f.authorize(t)

	labels, err := f.service.ListLabels(f.ctx, f.roadmapID, "trackerX", "board-1")
	require.NoError(t, err)
	assert.Equal(t, "backend", labels[0].Name)

	_, err = f.service.ImportBoard(f.ctx, f.roadmapID, "trackerX", providers.IssueFilter{})
	assert.True(t, ferrors.Is(err, ferrors.InvalidConfig), "no board selected yet")

	_, err = f.service.SelectBoard(f.ctx, f.roadmapID, "trackerX", "board-1", nil)
	require.NoError(t, err)

	result, err := f.service.ImportBoard(f.ctx, f.roadmapID, "trackerX", providers.IssueFilter{Labels: []string{"backend"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Len(t, f.tasks.Tasks(f.roadmapID), 1)
}

func TestService_ImportInProgress(t *testing.T) {
	f := newFixture(t)
	f.authorize(t)
	view, err := f.service.SelectBoard(f.ctx, f.roadmapID, "trackerX", "board-1", nil)
	require.NoError(t, err)

	err = f.locker.WithLock(f.ctx, "import:"+view.ID.String(), 0, func(ctx context.Context) error {
		_, err := f.service.ImportBoard(ctx, f.roadmapID, "trackerX", providers.IssueFilter{})
		return err
	})
	assert.True(t, ferrors.Is(err, ferrors.ImportInProgress))
	assert.Empty(t, f.tasks.Tasks(f.roadmapID))
}

func TestService_ImportRejectedTokenKeepsPartialResult(t *testing.T) {
	f := newFixture(t)
	f.tracker.Issues["board-1"] = []providers.ExternalIssue{
		{ID: "1", Title: "One"},
		{ID: "2", Title: "Two"},
	}
	f.tracker.FailAfter = 1
	f.tracker.StreamErr = ferrors.New(ferrors.InvalidToken, "token_expired")
	f.authorize(t)
	_, err := f.service.SelectBoard(f.ctx, f.roadmapID, "trackerX", "board-1", nil)
	require.NoError(t, err)

	result, err := f.service.ImportBoard(f.ctx, f.roadmapID, "trackerX", providers.IssueFilter{})
	assert.True(t, ferrors.Is(err, ferrors.InvalidToken))
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Created)

	view, err := f.service.GetConfig(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)
	assert.Equal(t, oauth.Unauthenticated, view.State)
}

func TestService_HandleCallback(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetOrCreateConfig(f.ctx, f.roadmapID, "trackerX", trackerFields)
	require.NoError(t, err)
	_, err = f.service.BeginAuth(f.ctx, f.roadmapID, "trackerX")
	require.NoError(t, err)

	_, err = f.service.HandleCallback(f.ctx, "unknown-token", "GOODCODE")
	assert.True(t, ferrors.Is(err, ferrors.InvalidVerifier))

	view, err := f.service.HandleCallback(f.ctx, "request-token-1", "GOODCODE")
	require.NoError(t, err)
	assert.Equal(t, oauth.Authenticated, view.State)
	assert.Equal(t, f.roadmapID, view.RoadmapID)
}

func TestService_DeleteConfigKeepsTasks(t *testing.T) {
	f := newFixture(t)
	f.authorize(t)
	_, err := f.service.SelectBoard(f.ctx, f.roadmapID, "trackerX", "board-1", nil)
	require.NoError(t, err)
	_, err = f.service.SetStatusMapping(f.ctx, f.roadmapID, "trackerX", "done", models.TaskStatusCompleted)
	require.NoError(t, err)
	_, err = f.service.ImportBoard(f.ctx, f.roadmapID, "trackerX", providers.IssueFilter{})
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteConfig(f.ctx, f.roadmapID, "trackerX"))

	_, err = f.service.GetConfig(f.ctx, f.roadmapID, "trackerX")
	assert.True(t, ferrors.Is(err, ferrors.NotFound))
	assert.Empty(t, f.mappings.All())
	assert.Len(t, f.tasks.Tasks(f.roadmapID), 1)

	last, ok := f.events.Last()
	require.True(t, ok)
	assert.Equal(t, kafka.EventDeleted, last.Type)
}
