// Package importer merges a stream of tracker issues into roadmap tasks.
package importer

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// DefaultConcurrency bounds the issues reconciled at once.
const DefaultConcurrency = 4

const (
	outcomeCreated   = "created"
	outcomeUpdated   = "updated"
	outcomeUnchanged = "unchanged"
	outcomeFailed    = "failed"
)

// Resolver maps a column id to an internal status.
type Resolver interface {
	Resolve(columnID string) (models.TaskStatus, bool)
}

type Request struct {
	Config *models.IntegrationConfig
	Source iter.Seq2[providers.ExternalIssue, error]
	// Resolver may be nil, in which case every task gets the default status.
	Resolver Resolver
	// Provider is stored as the task's imported_from. It defaults to the config name.
	Provider string
}

// Failure is an issue that could not be reconciled.
type Failure struct {
	ExternalID string `json:"external_id"`
	Reason     string `json:"reason"`
}

type Result struct {
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Failed    []Failure `json:"failed"`
}

// Reconciler creates or updates one task per external issue, keyed by
// (roadmap, external id, provider). It never deletes tasks.
type Reconciler struct {
	tasks       repositories.TaskRepo
	concurrency int
	logger      ectologger.Logger
}

func NewReconciler(tasks repositories.TaskRepo, concurrency int, logger ectologger.Logger) *Reconciler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Reconciler{
		tasks:       tasks,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Import drains req.Source. Failures of single issues are collected in the
// result and do not stop the import. Any other source error, or cancellation,
// stops reading; the issues already reconciled stay, and the partial result is
// returned with the error.
func (r *Reconciler) Import(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Reconciler.Import")
	defer span.End()

	provider := req.Provider
	if provider == "" {
		provider = req.Config.Name
	}
	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": req.Config.ID,
		"roadmap_id":     req.Config.RoadmapID,
		"provider":       provider,
	})

	start := time.Now()
	metrics.ImportsInFlight.Inc()
	defer func() {
		metrics.ImportsInFlight.Dec()
		metrics.ImportDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}()

	run := &run{
		reconciler: r,
		provider:   provider,
		roadmapID:  req.Config.RoadmapID,
		resolver:   req.Resolver,
		result:     &Result{Failed: []Failure{}},
	}

	// Workers never return errors, so a failing issue cannot cancel the others.
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	seen := make(map[string]struct{})
	var streamErr error
	for issue, err := range req.Source {
		if err != nil {
			var issueErr *providers.IssueError
			if errors.As(err, &issueErr) {
				run.fail(ctx, issueErr.ID, issueErr.Err)
				continue
			}
			streamErr = err
			break
		}
		if err := ctx.Err(); err != nil {
			streamErr = err
			break
		}
		if issue.ID == "" {
			run.fail(ctx, "", errors.New("issue has no external id"))
			continue
		}
		if _, dup := seen[issue.ID]; dup {
			continue
		}
		seen[issue.ID] = struct{}{}

		// Go blocks while the limit is reached, which holds back paging.
		g.Go(func() error {
			run.reconcile(ctx, issue)
			return nil
		})
	}
	_ = g.Wait()

	result := run.result
	sort.Slice(result.Failed, func(i, j int) bool {
		return result.Failed[i].ExternalID < result.Failed[j].ExternalID
	})

	summary := log.WithFields(map[string]any{
		"created":   result.Created,
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
		"failed":    len(result.Failed),
	})
	if streamErr != nil {
		tracing.RecordError(span, streamErr)
		summary.WithError(streamErr).Warn("Import stopped early")
		return result, streamErr
	}

	summary.Info("Import completed")
	return result, nil
}

type run struct {
	reconciler *Reconciler
	provider   string
	roadmapID  uuid.UUID
	resolver   Resolver

	mu     sync.Mutex
	result *Result
}

func (r *run) reconcile(ctx context.Context, issue providers.ExternalIssue) {
	tasks := r.reconciler.tasks

	status := models.DefaultTaskStatus
	if r.resolver != nil {
		if mapped, ok := r.resolver.Resolve(issue.ColumnID); ok {
			status = mapped
		}
	}

	existing, err := tasks.FindByExternalID(ctx, r.roadmapID, issue.ID, r.provider)
	if err != nil {
		r.fail(ctx, issue.ID, err)
		return
	}

	if existing == nil {
		externalID := issue.ID
		provider := r.provider
		task := &models.Task{
			RoadmapID:    r.roadmapID,
			Name:         issue.Title,
			Description:  issue.Description,
			Status:       status,
			ExternalID:   &externalID,
			ImportedFrom: &provider,
			ExternalLink: optional(issue.Link),
		}
		if err := tasks.Upsert(ctx, r.roadmapID, task); err != nil {
			r.fail(ctx, issue.ID, err)
			return
		}
		r.count(outcomeCreated)
		return
	}

	if !changed(existing, issue, status) {
		r.count(outcomeUnchanged)
		return
	}

	existing.Name = issue.Title
	existing.Description = issue.Description
	existing.Status = status
	existing.ExternalLink = optional(issue.Link)
	if err := tasks.Upsert(ctx, r.roadmapID, existing); err != nil {
		r.fail(ctx, issue.ID, err)
		return
	}
	r.count(outcomeUpdated)
}

func (r *run) count(outcome string) {
	metrics.ImportedIssuesTotal.WithLabelValues(r.provider, outcome).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case outcomeCreated:
		r.result.Created++
	case outcomeUpdated:
		r.result.Updated++
	case outcomeUnchanged:
		r.result.Unchanged++
	}
}

func (r *run) fail(ctx context.Context, externalID string, err error) {
	metrics.ImportedIssuesTotal.WithLabelValues(r.provider, outcomeFailed).Inc()
	r.reconciler.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
		"external_id": externalID,
		"provider":    r.provider,
	}).Warn("failed to import issue")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Failed = append(r.result.Failed, Failure{ExternalID: externalID, Reason: err.Error()})
}

// changed reports whether any mutable field differs from the issue.
func changed(task *models.Task, issue providers.ExternalIssue, status models.TaskStatus) bool {
	return task.Name != issue.Title ||
		task.Description != issue.Description ||
		task.Status != status ||
		deref(task.ExternalLink) != issue.Link
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
