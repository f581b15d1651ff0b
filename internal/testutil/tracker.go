package testutil

import (
	"context"
	"fmt"
	"iter"
	"sync"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

// Tracker is an in-memory providers.Adapter. It accepts Verifier as the only
// valid verifier and AccessToken as the only valid access token.
type Tracker struct {
	mu sync.Mutex

	ProviderName string
	Verifier     string
	AccessToken  string
	Boards       []providers.Board
	Columns      map[string][]providers.Column
	Labels       map[string][]providers.Label
	Issues       map[string][]providers.ExternalIssue

	// Unreachable makes every call fail with ProviderUnreachable.
	Unreachable bool
	// Malformed lists issue ids yielded as per-issue failures.
	Malformed map[string]bool
	// FailAfter yields StreamErr after that many issues when StreamErr is set.
	FailAfter int
	StreamErr error

	requests int
	swaps    int
}

// NewTracker returns a tracker named name with verifier "GOOD".
func NewTracker(name string) *Tracker {
	return &Tracker{
		ProviderName: name,
		Verifier:     "GOOD",
		AccessToken:  "access-token",
		Columns:      map[string][]providers.Column{},
		Labels:       map[string][]providers.Label{},
		Issues:       map[string][]providers.ExternalIssue{},
		Malformed:    map[string]bool{},
	}
}

func (t *Tracker) Name() string {
	return t.ProviderName
}

func (t *Tracker) ValidateConfig(cfg *models.IntegrationConfig) error {
	if cfg.Host == "" {
		return ferrors.New(ferrors.InvalidConfig, "host is required").WithField("host").WithProvider(t.ProviderName)
	}
	return nil
}

func (t *Tracker) AuthorizationURL(ctx context.Context, cfg *models.IntegrationConfig) (*providers.AuthorizationRequest, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	if err := t.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests++
	token := fmt.Sprintf("request-token-%d", t.requests)
	return &providers.AuthorizationRequest{
		URL:           cfg.Host + "/authorize?oauth_token=" + token,
		RequestToken:  token,
		RequestSecret: models.Secret("request-secret"),
	}, nil
}

func (t *Tracker) SwapToken(ctx context.Context, _ *models.IntegrationConfig, _ string, _ models.Secret, verifier string) (*providers.Token, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	if verifier != t.Verifier {
		return nil, ferrors.New(ferrors.InvalidVerifier, "verifier rejected").WithProvider(t.ProviderName)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.swaps++
	return &providers.Token{Token: t.AccessToken, Secret: models.Secret("access-secret")}, nil
}

func (t *Tracker) ListBoards(ctx context.Context, _ *models.IntegrationConfig, token providers.Token) ([]providers.Board, error) {
	if err := t.authorize(ctx, token); err != nil {
		return nil, err
	}
	return t.Boards, nil
}

func (t *Tracker) ListColumns(ctx context.Context, _ *models.IntegrationConfig, boardID string, token providers.Token) ([]providers.Column, error) {
	if err := t.authorize(ctx, token); err != nil {
		return nil, err
	}
	columns, ok := t.Columns[boardID]
	if !ok {
		return nil, ferrors.Newf(ferrors.NotFound, "board %s does not exist", boardID).WithProvider(t.ProviderName)
	}
	return columns, nil
}

func (t *Tracker) ListLabels(ctx context.Context, _ *models.IntegrationConfig, boardID string, token providers.Token) ([]providers.Label, error) {
	if err := t.authorize(ctx, token); err != nil {
		return nil, err
	}
	return t.Labels[boardID], nil
}

func (t *Tracker) ListIssues(ctx context.Context, _ *models.IntegrationConfig, boardID string, token providers.Token, filter providers.IssueFilter) iter.Seq2[providers.ExternalIssue, error] {
	return func(yield func(providers.ExternalIssue, error) bool) {
		if err := t.authorize(ctx, token); err != nil {
			yield(providers.ExternalIssue{}, err)
			return
		}

		for i, issue := range t.Issues[boardID] {
			if t.StreamErr != nil && i == t.FailAfter {
				yield(providers.ExternalIssue{}, t.StreamErr)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(providers.ExternalIssue{}, err)
				return
			}
			if !filter.Matches(issue.Labels...) {
				continue
			}
			if t.Malformed[issue.ID] {
				if !yield(providers.ExternalIssue{}, &providers.IssueError{ID: issue.ID, Err: fmt.Errorf("missing fields")}) {
					return
				}
				continue
			}
			if !yield(issue, nil) {
				return
			}
		}
	}
}

// Swaps counts successful token swaps.
func (t *Tracker) Swaps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.swaps
}

// RevokeAccess makes the tracker reject the current access token.
func (t *Tracker) RevokeAccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AccessToken = "revoked"
}

func (t *Tracker) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Unreachable {
		return ferrors.New(ferrors.ProviderUnreachable, "tracker is unavailable").WithProvider(t.ProviderName)
	}
	return nil
}

func (t *Tracker) authorize(ctx context.Context, token providers.Token) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if token.Token != t.AccessToken {
		return ferrors.New(ferrors.InvalidToken, "token_rejected").WithProvider(t.ProviderName)
	}
	return nil
}
