// Package trello implements the tracker adapter for Trello, which signs
// requests with HMAC-SHA1 using the API key secret.
package trello

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/dghubble/oauth1"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/fields"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	Name = "trello"

	DefaultHost     = "https://trello.com"
	DefaultPageSize = 100
	// Trello caps /boards/{id}/cards at 1000 per request.
	maxPageSize = 1000

	appName = "fern"
)

var defaultFields = fields.Spec{
	fields.Title:       "name",
	fields.Description: "desc",
	fields.Status:      "idList",
	fields.Labels:      "labels[].name",
	fields.Link:        "shortUrl",
}

type Options struct {
	Credentials providers.Credentials
	PageSize    int
}

// Adapter talks to the Trello REST API
type Adapter struct {
	client    *httpclient.Client
	opts      Options
	extractor *fields.Extractor
	logger    ectologger.Logger
}

func New(client *httpclient.Client, opts Options, logger ectologger.Logger) *Adapter {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}
	return &Adapter{
		client:    client.Named(Name),
		opts:      opts,
		extractor: fields.NewExtractor(),
		logger:    logger,
	}
}

func (a *Adapter) Name() string {
	return Name
}

func host(cfg *models.IntegrationConfig) string {
	return strings.TrimRight(providers.Coalesce(cfg.Host, DefaultHost), "/")
}

// ValidateConfig requires an API key and its secret. The host is optional.
func (a *Adapter) ValidateConfig(cfg *models.IntegrationConfig) error {
	if cfg.Host != "" {
		if err := providers.ValidateHost(Name, cfg.Host); err != nil {
			return err
		}
	}
	if providers.Coalesce(cfg.ConsumerKey, a.opts.Credentials.ConsumerKey) == "" {
		return ferrors.New(ferrors.InvalidConfig, "api key is required").WithField("consumer_key").WithProvider(Name)
	}
	if providers.Coalesce(cfg.PrivateKey, a.opts.Credentials.PrivateKey).IsZero() {
		return ferrors.New(ferrors.InvalidConfig, "api secret is required").WithField("private_key").WithProvider(Name)
	}
	return a.extractor.Validate(cfg.BoardFields.Data)
}

func (a *Adapter) consumer(cfg *models.IntegrationConfig) (*oauth1.Config, error) {
	if err := a.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	secret := providers.Coalesce(cfg.PrivateKey, a.opts.Credentials.PrivateKey).Reveal()
	base := host(cfg)

	return &oauth1.Config{
		ConsumerKey:    providers.Coalesce(cfg.ConsumerKey, a.opts.Credentials.ConsumerKey),
		ConsumerSecret: secret,
		CallbackURL:    providers.Coalesce(a.opts.Credentials.CallbackURL, "oob"),
		Endpoint: oauth1.Endpoint{
			RequestTokenURL: base + "/1/OAuthGetRequestToken",
			AuthorizeURL:    base + "/1/OAuthAuthorizeToken",
			AccessTokenURL:  base + "/1/OAuthGetAccessToken",
		},
		Signer: &oauth1.HMACSigner{ConsumerSecret: secret},
	}, nil
}

func (a *Adapter) handshake(consumer *oauth1.Config) *providers.Handshake {
	return &providers.Handshake{Provider: Name, Config: consumer, Client: a.client, Logger: a.logger}
}

func (a *Adapter) AuthorizationURL(ctx context.Context, cfg *models.IntegrationConfig) (*providers.AuthorizationRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "Trello.AuthorizationURL")
	defer span.End()

	consumer, err := a.consumer(cfg)
	if err != nil {
		return nil, err
	}

	token, secret, err := a.handshake(consumer).RequestToken(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	authURL, err := consumer.AuthorizationURL(token)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.InvalidConfig, err, "invalid authorization URL").WithField("host").WithProvider(Name)
	}
	query := authURL.Query()
	query.Set("name", appName)
	query.Set("scope", "read")
	query.Set("expiration", "never")
	authURL.RawQuery = query.Encode()

	return &providers.AuthorizationRequest{
		URL:           authURL.String(),
		RequestToken:  token,
		RequestSecret: models.Secret(secret),
	}, nil
}

func (a *Adapter) SwapToken(ctx context.Context, cfg *models.IntegrationConfig, requestToken string, requestSecret models.Secret, verifier string) (*providers.Token, error) {
	ctx, span := tracing.StartSpan(ctx, "Trello.SwapToken")
	defer span.End()

	consumer, err := a.consumer(cfg)
	if err != nil {
		return nil, err
	}

	token, secret, err := a.handshake(consumer).AccessToken(ctx, requestToken, requestSecret.Reveal(), verifier)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	return &providers.Token{Token: token, Secret: models.Secret(secret)}, nil
}

type named struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

func (a *Adapter) ListBoards(ctx context.Context, cfg *models.IntegrationConfig, token providers.Token) ([]providers.Board, error) {
	ctx, span := tracing.StartSpan(ctx, "Trello.ListBoards")
	defer span.End()

	var raw []named
	query := url.Values{"fields": {"id,name"}, "filter": {"open"}}
	if err := a.get(ctx, cfg, token, "/1/members/me/boards", query, &raw); err != nil {
		return nil, err
	}

	boards := make([]providers.Board, 0, len(raw))
	for _, b := range raw {
		boards = append(boards, providers.Board{ID: b.ID, Name: b.Name})
	}
	return boards, nil
}

// ListColumns lists the open lists of a board.
func (a *Adapter) ListColumns(ctx context.Context, cfg *models.IntegrationConfig, boardID string, token providers.Token) ([]providers.Column, error) {
	ctx, span := tracing.StartSpan(ctx, "Trello.ListColumns")
	defer span.End()

	var raw []named
	query := url.Values{"fields": {"id,name"}, "filter": {"open"}}
	path := fmt.Sprintf("/1/boards/%s/lists", url.PathEscape(boardID))
	if err := a.get(ctx, cfg, token, path, query, &raw); err != nil {
		return nil, err
	}

	columns := make([]providers.Column, 0, len(raw))
	for _, l := range raw {
		columns = append(columns, providers.Column{ID: l.ID, Name: l.Name})
	}
	return columns, nil
}

// ListLabels lists a board's labels. Unnamed labels are named by their color.
func (a *Adapter) ListLabels(ctx context.Context, cfg *models.IntegrationConfig, boardID string, token providers.Token) ([]providers.Label, error) {
	ctx, span := tracing.StartSpan(ctx, "Trello.ListLabels")
	defer span.End()

	var raw []named
	query := url.Values{"fields": {"id,name,color"}, "limit": {strconv.Itoa(maxPageSize)}}
	path := fmt.Sprintf("/1/boards/%s/labels", url.PathEscape(boardID))
	if err := a.get(ctx, cfg, token, path, query, &raw); err != nil {
		return nil, err
	}

	labels := make([]providers.Label, 0, len(raw))
	for _, l := range raw {
		labels = append(labels, providers.Label{ID: l.ID, Name: providers.Coalesce(l.Name, l.Color)})
	}
	return labels, nil
}

// ListIssues pages through the cards of a board with the before cursor.
// Trello has no server-side label filter, so cards are filtered here by label
// name or id.
func (a *Adapter) ListIssues(ctx context.Context, cfg *models.IntegrationConfig, boardID string, token providers.Token, filter providers.IssueFilter) iter.Seq2[providers.ExternalIssue, error] {
	return func(yield func(providers.ExternalIssue, error) bool) {
		ctx, span := tracing.StartSpan(ctx, "Trello.ListIssues")
		defer span.End()

		spec := fields.Merge(defaultFields, cfg.BoardFields.Data)
		path := fmt.Sprintf("/1/boards/%s/cards", url.PathEscape(boardID))
		before := ""

		for {
			if err := ctx.Err(); err != nil {
				yield(providers.ExternalIssue{}, err)
				return
			}

			query := url.Values{
				"fields": {"id,name,desc,idList,idLabels,labels,shortUrl"},
				"filter": {"open"},
				"limit":  {strconv.Itoa(a.opts.PageSize)},
			}
			cursor := before
			if cursor != "" {
				query.Set("before", cursor)
			}

			var page []map[string]any
			if err := a.get(ctx, cfg, token, path, query, &page); err != nil {
				yield(providers.ExternalIssue{}, err)
				return
			}

			for _, raw := range page {
				id, _ := raw["id"].(string)
				if id != "" && (before == "" || id < before) {
					before = id
				}

				// Broken cards are filtered by their raw labels too.
				issue, err := a.toIssue(raw, spec)
				if !filter.Matches(slices.Concat(issue.Labels, a.rawLabels(raw))...) {
					continue
				}
				if !yield(issue, err) {
					return
				}
			}

			if len(page) < a.opts.PageSize || before == cursor {
				return
			}
		}
	}
}

func (a *Adapter) toIssue(raw map[string]any, spec fields.Spec) (providers.ExternalIssue, error) {
	id, _ := raw["id"].(string)
	issue := providers.ExternalIssue{ID: id}
	if id == "" {
		return issue, &providers.IssueError{Err: fmt.Errorf("card has no id")}
	}

	var err error
	if issue.Title, err = a.extractor.String(spec[fields.Title], raw); err != nil {
		return issue, &providers.IssueError{ID: id, Err: err}
	}
	if issue.Description, err = a.extractor.String(spec[fields.Description], raw); err != nil {
		return issue, &providers.IssueError{ID: id, Err: err}
	}
	if issue.ColumnID, err = a.extractor.String(spec[fields.Status], raw); err != nil {
		return issue, &providers.IssueError{ID: id, Err: err}
	}
	if issue.Labels, err = a.extractor.Strings(spec[fields.Labels], raw); err != nil {
		return issue, &providers.IssueError{ID: id, Err: err}
	}
	if issue.Link, err = a.extractor.String(spec[fields.Link], raw); err != nil {
		return issue, &providers.IssueError{ID: id, Err: err}
	}
	return issue, nil
}

// rawLabels returns the label ids and names of a card regardless of board
// field overrides.
func (a *Adapter) rawLabels(raw map[string]any) []string {
	ids, _ := a.extractor.Strings("idLabels", raw)
	names, _ := a.extractor.Strings(defaultFields[fields.Labels], raw)
	return slices.Concat(ids, names)
}

func (a *Adapter) get(ctx context.Context, cfg *models.IntegrationConfig, token providers.Token, path string, query url.Values, v any) error {
	consumer, err := a.consumer(cfg)
	if err != nil {
		return err
	}

	reqURL, err := httpclient.BuildURL(host(cfg), path, query)
	if err != nil {
		return ferrors.Wrap(ferrors.InvalidConfig, err, "invalid host").WithField("host").WithProvider(Name)
	}

	resp, err := providers.SignedClient(ctx, a.client, consumer, token).Get(ctx, reqURL, nil)
	if err != nil {
		return providers.TransportError(ctx, Name, err)
	}
	if err := providers.CheckResponse(Name, resp); err != nil {
		a.logger.WithContext(ctx).WithFields(map[string]any{
			"path":        path,
			"status_code": resp.StatusCode,
		}).Warn("trello request failed")
		return err
	}
	if err := resp.JSON(v); err != nil {
		return providers.DecodeError(Name, err)
	}
	return nil
}
