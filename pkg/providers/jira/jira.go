// Package jira implements the tracker adapter for Jira Server and Data
// Center, which authenticate application links with RSA-SHA1 oauth1.
package jira

import (
	"context"
	"fmt"
	"iter"
	"net/url"
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
	Name = "jira"

	DefaultPageSize = 50

	requestTokenPath = "/plugins/servlet/oauth/request-token"
	authorizePath    = "/plugins/servlet/oauth/authorize"
	accessTokenPath  = "/plugins/servlet/oauth/access-token"
)

var defaultFields = fields.Spec{
	fields.Title:       "fields.summary",
	fields.Description: "fields.description",
	fields.Status:      "fields.status.id",
	fields.Labels:      "fields.labels",
}

type Options struct {
	Credentials providers.Credentials
	PageSize    int
}

// Adapter talks to the Jira agile and platform REST APIs
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

// ValidateConfig requires a host, a consumer key and an RSA private key.
func (a *Adapter) ValidateConfig(cfg *models.IntegrationConfig) error {
	if err := providers.ValidateHost(Name, cfg.Host); err != nil {
		return err
	}
	if providers.Coalesce(cfg.ConsumerKey, a.opts.Credentials.ConsumerKey) == "" {
		return ferrors.New(ferrors.InvalidConfig, "consumer key is required").WithField("consumer_key").WithProvider(Name)
	}
	if _, err := providers.ParseRSAPrivateKey(providers.Coalesce(cfg.PrivateKey, a.opts.Credentials.PrivateKey)); err != nil {
		return ferrors.Wrap(ferrors.InvalidConfig, err, "private key must be a PEM encoded RSA key").WithField("private_key").WithProvider(Name)
	}
	return a.extractor.Validate(cfg.BoardFields.Data)
}

func (a *Adapter) consumer(cfg *models.IntegrationConfig) (*oauth1.Config, error) {
	if err := a.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	key, _ := providers.ParseRSAPrivateKey(providers.Coalesce(cfg.PrivateKey, a.opts.Credentials.PrivateKey))
	host := strings.TrimRight(cfg.Host, "/")

	return &oauth1.Config{
		ConsumerKey: providers.Coalesce(cfg.ConsumerKey, a.opts.Credentials.ConsumerKey),
		CallbackURL: providers.Coalesce(a.opts.Credentials.CallbackURL, "oob"),
		Endpoint: oauth1.Endpoint{
			RequestTokenURL: host + requestTokenPath,
			AuthorizeURL:    host + authorizePath,
			AccessTokenURL:  host + accessTokenPath,
		},
		Signer: &oauth1.RSASigner{PrivateKey: key},
	}, nil
}

func (a *Adapter) handshake(consumer *oauth1.Config) *providers.Handshake {
	return &providers.Handshake{Provider: Name, Config: consumer, Client: a.client, Logger: a.logger}
}

func (a *Adapter) AuthorizationURL(ctx context.Context, cfg *models.IntegrationConfig) (*providers.AuthorizationRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "Jira.AuthorizationURL")
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

	return &providers.AuthorizationRequest{
		URL:           authURL.String(),
		RequestToken:  token,
		RequestSecret: models.Secret(secret),
	}, nil
}

func (a *Adapter) SwapToken(ctx context.Context, cfg *models.IntegrationConfig, requestToken string, requestSecret models.Secret, verifier string) (*providers.Token, error) {
	ctx, span := tracing.StartSpan(ctx, "Jira.SwapToken")
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

type boardPage struct {
	StartAt int  `json:"startAt"`
	IsLast  bool `json:"isLast"`
	Values  []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"values"`
}

func (a *Adapter) ListBoards(ctx context.Context, cfg *models.IntegrationConfig, token providers.Token) ([]providers.Board, error) {
	ctx, span := tracing.StartSpan(ctx, "Jira.ListBoards")
	defer span.End()

	boards := []providers.Board{}
	for startAt := 0; ; {
		var page boardPage
		if err := a.get(ctx, cfg, token, "/rest/agile/1.0/board", a.pageQuery(startAt), &page); err != nil {
			return nil, err
		}
		for _, b := range page.Values {
			boards = append(boards, providers.Board{ID: strconv.FormatInt(b.ID, 10), Name: b.Name})
		}
		startAt += len(page.Values)
		if page.IsLast || len(page.Values) == 0 {
			return boards, nil
		}
	}
}

type boardConfiguration struct {
	ColumnConfig struct {
		Columns []struct {
			Name     string `json:"name"`
			Statuses []struct {
				ID string `json:"id"`
			} `json:"statuses"`
		} `json:"columns"`
	} `json:"columnConfig"`
}

// ListColumns reads the board's column configuration. Jira columns have no
// id of their own, so the column name is used.
func (a *Adapter) ListColumns(ctx context.Context, cfg *models.IntegrationConfig, boardID string, token providers.Token) ([]providers.Column, error) {
	ctx, span := tracing.StartSpan(ctx, "Jira.ListColumns")
	defer span.End()

	columns, _, err := a.boardColumns(ctx, cfg, boardID, token)
	return columns, err
}

func (a *Adapter) boardColumns(ctx context.Context, cfg *models.IntegrationConfig, boardID string, token providers.Token) ([]providers.Column, map[string]string, error) {
	var conf boardConfiguration
	path := fmt.Sprintf("/rest/agile/1.0/board/%s/configuration", url.PathEscape(boardID))
	if err := a.get(ctx, cfg, token, path, nil, &conf); err != nil {
		return nil, nil, err
	}

	columns := make([]providers.Column, 0, len(conf.ColumnConfig.Columns))
	statusColumns := map[string]string{}
	for _, c := range conf.ColumnConfig.Columns {
		columns = append(columns, providers.Column{ID: c.Name, Name: c.Name})
		for _, s := range c.Statuses {
			statusColumns[s.ID] = c.Name
		}
	}
	return columns, statusColumns, nil
}

type labelPage struct {
	IsLast bool     `json:"isLast"`
	Values []string `json:"values"`
}

// ListLabels lists the instance's labels. Jira labels are not scoped to a board.
func (a *Adapter) ListLabels(ctx context.Context, cfg *models.IntegrationConfig, boardID string, token providers.Token) ([]providers.Label, error) {
	ctx, span := tracing.StartSpan(ctx, "Jira.ListLabels")
	defer span.End()

	labels := []providers.Label{}
	for startAt := 0; ; {
		var page labelPage
		if err := a.get(ctx, cfg, token, "/rest/api/2/label", a.pageQuery(startAt), &page); err != nil {
			return nil, err
		}
		for _, name := range page.Values {
			labels = append(labels, providers.Label{ID: name, Name: name})
		}
		startAt += len(page.Values)
		if page.IsLast || len(page.Values) == 0 {
			return labels, nil
		}
	}
}

type issuePage struct {
	StartAt int              `json:"startAt"`
	Total   int              `json:"total"`
	Issues  []map[string]any `json:"issues"`
}

func (a *Adapter) ListIssues(ctx context.Context, cfg *models.IntegrationConfig, boardID string, token providers.Token, filter providers.IssueFilter) iter.Seq2[providers.ExternalIssue, error] {
	return func(yield func(providers.ExternalIssue, error) bool) {
		ctx, span := tracing.StartSpan(ctx, "Jira.ListIssues")
		defer span.End()

		_, statusColumns, err := a.boardColumns(ctx, cfg, boardID, token)
		if err != nil {
			yield(providers.ExternalIssue{}, err)
			return
		}

		spec := fields.Merge(defaultFields, cfg.BoardFields.Data)
		path := fmt.Sprintf("/rest/agile/1.0/board/%s/issue", url.PathEscape(boardID))

		for startAt := 0; ; {
			if err := ctx.Err(); err != nil {
				yield(providers.ExternalIssue{}, err)
				return
			}

			query := a.pageQuery(startAt)
			query.Set("fields", "summary,description,status,labels")
			if jql := labelsJQL(filter.Labels); jql != "" {
				query.Set("jql", jql)
			}

			var page issuePage
			if err := a.get(ctx, cfg, token, path, query, &page); err != nil {
				yield(providers.ExternalIssue{}, err)
				return
			}

			for _, raw := range page.Issues {
				issue, err := a.toIssue(cfg, raw, spec, statusColumns)
				if !yield(issue, err) {
					return
				}
			}

			startAt += len(page.Issues)
			if len(page.Issues) == 0 || startAt >= page.Total {
				return
			}
		}
	}
}

func (a *Adapter) toIssue(cfg *models.IntegrationConfig, raw map[string]any, spec fields.Spec, statusColumns map[string]string) (providers.ExternalIssue, error) {
	id, _ := raw["id"].(string)
	key, _ := raw["key"].(string)
	issue := providers.ExternalIssue{ID: id}
	if id == "" {
		return issue, &providers.IssueError{ID: key, Err: fmt.Errorf("issue has no id")}
	}

	var err error
	if issue.Title, err = a.extractor.String(spec[fields.Title], raw); err != nil {
		return issue, &providers.IssueError{ID: id, Err: err}
	}
	if issue.Description, err = a.extractor.String(spec[fields.Description], raw); err != nil {
		return issue, &providers.IssueError{ID: id, Err: err}
	}
	if issue.Labels, err = a.extractor.Strings(spec[fields.Labels], raw); err != nil {
		return issue, &providers.IssueError{ID: id, Err: err}
	}

	status, err := a.extractor.String(spec[fields.Status], raw)
	if err != nil {
		return issue, &providers.IssueError{ID: id, Err: err}
	}
	issue.ColumnID = status
	if column, ok := statusColumns[status]; ok {
		issue.ColumnID = column
	}

	if expr := spec[fields.Link]; expr != "" {
		if issue.Link, err = a.extractor.String(expr, raw); err != nil {
			return issue, &providers.IssueError{ID: id, Err: err}
		}
	} else if key != "" {
		issue.Link = strings.TrimRight(cfg.Host, "/") + "/browse/" + key
	}

	if issue.Title == "" {
		issue.Title = key
	}
	return issue, nil
}

// labelsJQL builds a jql clause matching any of labels.
func labelsJQL(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	quoted := make([]string, len(labels))
	for i, label := range labels {
		escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(label)
		quoted[i] = `"` + escaped + `"`
	}
	return "labels in (" + strings.Join(quoted, ", ") + ")"
}

func (a *Adapter) pageQuery(startAt int) url.Values {
	return url.Values{
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(a.opts.PageSize)},
	}
}

func (a *Adapter) get(ctx context.Context, cfg *models.IntegrationConfig, token providers.Token, path string, query url.Values, v any) error {
	consumer, err := a.consumer(cfg)
	if err != nil {
		return err
	}

	reqURL, err := httpclient.BuildURL(cfg.Host, path, query)
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
		}).Warn("jira request failed")
		return err
	}
	if err := resp.JSON(v); err != nil {
		return providers.DecodeError(Name, err)
	}
	return nil
}
