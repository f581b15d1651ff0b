// Package providers defines the capability surface every issue tracker adapter
// implements, and the helpers adapters share for signing and classifying
// provider responses.
package providers

import (
	"context"
	"iter"
	"sort"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Credentials are process-wide defaults for a provider. Values set on an
// IntegrationConfig take precedence.
type Credentials struct {
	ConsumerKey string
	// PrivateKey is the RSA PEM key or the shared consumer secret, depending on the provider.
	PrivateKey  models.Secret
	CallbackURL string
}

type Board struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Column is a workflow state on a board. Imported issues carry the ID of the
// column they sit in.
type Column struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ExternalIssue is a normalized tracker issue.
type ExternalIssue struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ColumnID    string   `json:"column_id"`
	Labels      []string `json:"labels"`
	Link        string   `json:"link"`
}

// IssueFilter narrows an issue listing. An empty filter matches every issue.
type IssueFilter struct {
	Labels []string `json:"labels"`
}

// Matches reports whether any of labels is in the filter.
func (f IssueFilter) Matches(labels ...string) bool {
	if len(f.Labels) == 0 {
		return true
	}
	for _, want := range f.Labels {
		for _, have := range labels {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Token is an oauth token credential.
type Token struct {
	Token  string
	Secret models.Secret
}

// AuthorizationRequest is the result of the first handshake leg.
type AuthorizationRequest struct {
	URL           string
	RequestToken  string
	RequestSecret models.Secret
}

// Adapter is implemented by every tracker. Failures are returned as
// *errors.IntegrationError; context errors are returned unchanged.
type Adapter interface {
	Name() string
	// ValidateConfig checks the config after defaults are applied. It makes no calls.
	ValidateConfig(cfg *models.IntegrationConfig) error
	// AuthorizationURL obtains a request token and the URL the user must visit.
	AuthorizationURL(ctx context.Context, cfg *models.IntegrationConfig) (*AuthorizationRequest, error)
	// SwapToken exchanges an authorized request token and verifier for an access token.
	SwapToken(ctx context.Context, cfg *models.IntegrationConfig, requestToken string, requestSecret models.Secret, verifier string) (*Token, error)
	ListBoards(ctx context.Context, cfg *models.IntegrationConfig, token Token) ([]Board, error)
	ListColumns(ctx context.Context, cfg *models.IntegrationConfig, boardID string, token Token) ([]Column, error)
	ListLabels(ctx context.Context, cfg *models.IntegrationConfig, boardID string, token Token) ([]Label, error)
	// ListIssues pages lazily through the issues of a board. Every range over
	// the sequence starts again from the first page.
	ListIssues(ctx context.Context, cfg *models.IntegrationConfig, boardID string, token Token, filter IssueFilter) iter.Seq2[ExternalIssue, error]
}

// Registry selects an adapter by config name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		r.adapters[adapter.Name()] = adapter
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, ferrors.Newf(ferrors.NotFound, "unknown provider %q", name)
	}
	return adapter, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IssueError reports an issue that was listed but could not be normalized.
// It fails that issue only; the listing continues.
type IssueError struct {
	ID  string
	Err error
}

func (e *IssueError) Error() string {
	return "issue " + e.ID + ": " + e.Err.Error()
}

func (e *IssueError) Unwrap() error {
	return e.Err
}
