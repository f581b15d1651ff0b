package importer_test

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/testutil"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/statusmap"
)

func source(items ...any) iter.Seq2[providers.ExternalIssue, error] {
	return func(yield func(providers.ExternalIssue, error) bool) {
		for _, item := range items {
			var ok bool
			switch v := item.(type) {
			case providers.ExternalIssue:
				ok = yield(v, nil)
			case error:
				ok = yield(providers.ExternalIssue{}, v)
			}
			if !ok {
				return
			}
		}
	}
}

func issue(id, title, column string) providers.ExternalIssue {
	return providers.ExternalIssue{
		ID:       id,
		Title:    title,
		ColumnID: column,
		Link:     "https://tracker.example.com/" + id,
	}
}

func newConfig() *models.IntegrationConfig {
	return &models.IntegrationConfig{ID: uuid.New(), Name: "trackerX", RoadmapID: uuid.New()}
}

func byExternalID(tasks []models.Task) map[string]models.Task {
	result := make(map[string]models.Task, len(tasks))
	for _, task := range tasks {
		if task.ExternalID != nil {
			result[*task.ExternalID] = task
		}
	}
	return result
}

func TestReconciler_IdempotentReimport(t *testing.T) {
	ctx := context.Background()
	tasks := testutil.NewTaskRepo()
	reconciler := importer.NewReconciler(tasks, 2, testutil.Logger())
	config := newConfig()
	resolver := statusmap.Snapshot{"col-done": models.TaskStatusCompleted}

	issues := []any{issue("A", "Alpha", "col-todo"), issue("B", "Beta", "col-done"), issue("C", "Gamma", "col-todo")}

	result, err := reconciler.Import(ctx, importer.Request{Config: config, Source: source(issues...), Resolver: resolver})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Created)
	assert.Empty(t, result.Failed)

	stored := byExternalID(tasks.Tasks(config.RoadmapID))
	require.Len(t, stored, 3)
	assert.Equal(t, models.TaskStatusBacklog, stored["A"].Status)
	assert.Equal(t, models.TaskStatusCompleted, stored["B"].Status)
	assert.Equal(t, "trackerX", *stored["B"].ImportedFrom)
	assert.Equal(t, "https://tracker.example.com/B", *stored["B"].ExternalLink)

	writes := tasks.Writes()
	result, err = reconciler.Import(ctx, importer.Request{Config: config, Source: source(issues...), Resolver: resolver})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 3, result.Unchanged)
	assert.Equal(t, writes, tasks.Writes())
}

func TestReconciler_UpdatesMutableFields(t *testing.T) {
	ctx := context.Background()
	tasks := testutil.NewTaskRepo()
	reconciler := importer.NewReconciler(tasks, 2, testutil.Logger())
	config := newConfig()

	_, err := reconciler.Import(ctx, importer.Request{Config: config, Source: source(issue("A", "Alpha", "col-doing"))})
	require.NoError(t, err)
	before := byExternalID(tasks.Tasks(config.RoadmapID))["A"]

	resolver := statusmap.Snapshot{"col-doing": models.TaskStatusInProgress}
	renamed := issue("A", "Alpha v2", "col-doing")
	renamed.Description = "now with details"

	result, err := reconciler.Import(ctx, importer.Request{Config: config, Source: source(renamed), Resolver: resolver})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	after := byExternalID(tasks.Tasks(config.RoadmapID))["A"]
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, "Alpha v2", after.Name)
	assert.Equal(t, "now with details", after.Description)
	assert.Equal(t, models.TaskStatusInProgress, after.Status)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestReconciler_NeverDeletes(t *testing.T) {
	ctx := context.Background()
	tasks := testutil.NewTaskRepo()
	reconciler := importer.NewReconciler(tasks, 2, testutil.Logger())
	config := newConfig()

	tasks.Put(models.Task{RoadmapID: config.RoadmapID, Name: "Native task", Status: models.TaskStatusPlanned})

	_, err := reconciler.Import(ctx, importer.Request{Config: config, Source: source(issue("A", "Alpha", ""), issue("B", "Beta", ""))})
	require.NoError(t, err)

	// A filtered reimport that no longer lists A
	result, err := reconciler.Import(ctx, importer.Request{Config: config, Source: source(issue("B", "Beta", ""))})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unchanged)

	all := tasks.Tasks(config.RoadmapID)
	assert.Len(t, all, 3)
	assert.Contains(t, byExternalID(all), "A")
}

func TestReconciler_IsolatesIssueFailures(t *testing.T) {
	ctx := context.Background()
	tasks := testutil.NewTaskRepo()
	tasks.FailOn = map[string]bool{"B": true}
	reconciler := importer.NewReconciler(tasks, 2, testutil.Logger())
	config := newConfig()

	result, err := reconciler.Import(ctx, importer.Request{Config: config, Source: source(
		issue("A", "Alpha", ""),
		issue("B", "Beta", ""),
		&providers.IssueError{ID: "C", Err: errors.New("missing fields")},
		issue("D", "Delta", ""),
		issue("", "No id", ""),
	)})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Created)
	require.Len(t, result.Failed, 3)
	assert.Equal(t, "", result.Failed[0].ExternalID)
	assert.Equal(t, "B", result.Failed[1].ExternalID)
	assert.Equal(t, "C", result.Failed[2].ExternalID)
	assert.Contains(t, result.Failed[2].Reason, "missing fields")
}

func TestReconciler_DuplicatesProcessedOnce(t *testing.T) {
	tasks := testutil.NewTaskRepo()
	reconciler := importer.NewReconciler(tasks, 1, testutil.Logger())
	config := newConfig()

	result, err := reconciler.Import(context.Background(), importer.Request{Config: config, Source: source(
		issue("A", "Alpha", ""),
		issue("A", "Alpha again", ""),
	)})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 1, tasks.Writes())
	assert.Equal(t, "Alpha", byExternalID(tasks.Tasks(config.RoadmapID))["A"].Name)
}

func TestReconciler_StreamErrorKeepsPartialResult(t *testing.T) {
	tasks := testutil.NewTaskRepo()
	reconciler := importer.NewReconciler(tasks, 2, testutil.Logger())
	config := newConfig()
	rejected := ferrors.New(ferrors.InvalidToken, "token_rejected")

	result, err := reconciler.Import(context.Background(), importer.Request{Config: config, Source: source(
		issue("A", "Alpha", ""),
		issue("B", "Beta", ""),
		rejected,
		issue("C", "Gamma", ""),
	)})
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.InvalidToken))

	require.NotNil(t, result)
	assert.Equal(t, 2, result.Created)
	assert.Len(t, tasks.Tasks(config.RoadmapID), 2)
}

func TestReconciler_CancellationKeepsProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks := testutil.NewTaskRepo()
	reconciler := importer.NewReconciler(tasks, 1, testutil.Logger())
	config := newConfig()

	cancelling := func(yield func(providers.ExternalIssue, error) bool) {
		if !yield(issue("A", "Alpha", ""), nil) {
			return
		}
		cancel()
		if !yield(issue("B", "Beta", ""), nil) {
			return
		}
		yield(issue("C", "Gamma", ""), nil)
	}

	result, err := reconciler.Import(ctx, importer.Request{Config: config, Source: cancelling})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Created)
	assert.Contains(t, byExternalID(tasks.Tasks(config.RoadmapID)), "A")
}

type slowTasks struct {
	*testutil.TaskRepo
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowTasks) Upsert(ctx context.Context, roadmapID uuid.UUID, task *models.Task) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return s.TaskRepo.Upsert(ctx, roadmapID, task)
}

func TestReconciler_BoundsConcurrency(t *testing.T) {
	tasks := &slowTasks{TaskRepo: testutil.NewTaskRepo()}
	reconciler := importer.NewReconciler(tasks, 3, testutil.Logger())
	config := newConfig()

	var issues []any
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"} {
		issues = append(issues, issue(id, "Issue "+id, ""))
	}

	result, err := reconciler.Import(context.Background(), importer.Request{Config: config, Source: source(issues...)})
	require.NoError(t, err)
	assert.Equal(t, 10, result.Created)
	assert.LessOrEqual(t, tasks.peak.Load(), int32(3))
}
