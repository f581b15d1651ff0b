package trello_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/trello"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func card(n int, list string, labels ...string) map[string]any {
	id := fmt.Sprintf("%024x", n)
	labelObjs := []any{}
	labelIDs := []any{}
	for _, l := range labels {
		labelObjs = append(labelObjs, map[string]any{"id": "L-" + l, "name": l})
		labelIDs = append(labelIDs, "L-"+l)
	}
	return map[string]any{
		"id":       id,
		"name":     "Card " + strconv.Itoa(n),
		"desc":     "",
		"idList":   list,
		"idLabels": labelIDs,
		"labels":   labelObjs,
		"shortUrl": "https://trello.com/c/" + id,
	}
}

func newFakeTrello(t *testing.T, cards []map[string]any) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /1/OAuthGetRequestToken", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), `oauth_signature_method="HMAC-SHA1"`)
		_, _ = w.Write([]byte("oauth_token=rt&oauth_token_secret=rs&oauth_callback_confirmed=true"))
	})
	mux.HandleFunc("GET /1/members/me/boards", authenticated(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{map[string]any{"id": "B1", "name": "Roadmap"}})
	}))
	mux.HandleFunc("GET /1/boards/B1/lists", authenticated(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{map[string]any{"id": "C1", "name": "Doing"}, map[string]any{"id": "C2", "name": "Done"}})
	}))
	mux.HandleFunc("GET /1/boards/B1/labels", authenticated(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{map[string]any{"id": "L1", "name": "", "color": "green"}})
	}))
	mux.HandleFunc("GET /1/boards/B1/cards", authenticated(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		before := r.URL.Query().Get("before")

		// newest first, strictly older than the cursor
		sorted := append([]map[string]any(nil), cards...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i]["id"].(string) > sorted[j]["id"].(string) })
		page := []map[string]any{}
		for _, c := range sorted {
			if before != "" && c["id"].(string) >= before {
				continue
			}
			if len(page) == limit {
				break
			}
			page = append(page, c)
		}
		writeJSON(w, page)
	}))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Authorization"), `oauth_token="at"`) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("invalid token"))
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newAdapter(defaults providers.Credentials) *trello.Adapter {
	client := httpclient.NewClient(httpclient.DefaultConfig(), getTestLogger())
	return trello.New(client, trello.Options{Credentials: defaults, PageSize: 2}, getTestLogger())
}

func newConfig(host string) *models.IntegrationConfig {
	return &models.IntegrationConfig{
		Name:        trello.Name,
		Host:        host,
		ConsumerKey: "key",
		PrivateKey:  "secret",
		BoardFields: database.NewJSONB(map[string]string{}),
	}
}

var token = providers.Token{Token: "at", Secret: "as"}

func TestTrello_ValidateConfigUsesDefaults(t *testing.T) {
	cfg := &models.IntegrationConfig{Name: trello.Name}

	err := newAdapter(providers.Credentials{}).ValidateConfig(cfg)
	assert.True(t, ferrors.Is(err, ferrors.InvalidConfig))

	err = newAdapter(providers.Credentials{ConsumerKey: "key", PrivateKey: "secret"}).ValidateConfig(cfg)
	assert.NoError(t, err)
}

func TestTrello_AuthorizationURL(t *testing.T) {
	server := newFakeTrello(t, nil)

	req, err := newAdapter(providers.Credentials{}).AuthorizationURL(context.Background(), newConfig(server.URL))
	require.NoError(t, err)
	assert.Equal(t, "rt", req.RequestToken)
	assert.Contains(t, req.URL, server.URL+"/1/OAuthAuthorizeToken?")
	assert.Contains(t, req.URL, "scope=read")
}

func TestTrello_Discovery(t *testing.T) {
	server := newFakeTrello(t, nil)
	adapter := newAdapter(providers.Credentials{})
	cfg := newConfig(server.URL)
	ctx := context.Background()

	boards, err := adapter.ListBoards(ctx, cfg, token)
	require.NoError(t, err)
	assert.Equal(t, []providers.Board{{ID: "B1", Name: "Roadmap"}}, boards)

	columns, err := adapter.ListColumns(ctx, cfg, "B1", token)
	require.NoError(t, err)
	assert.Len(t, columns, 2)

	labels, err := adapter.ListLabels(ctx, cfg, "B1", token)
	require.NoError(t, err)
	assert.Equal(t, []providers.Label{{ID: "L1", Name: "green"}}, labels)

	_, err = adapter.ListBoards(ctx, cfg, providers.Token{Token: "stale"})
	assert.True(t, ferrors.Is(err, ferrors.InvalidToken), "got %v", err)
}

func TestTrello_ListIssuesPagesAndFilters(t *testing.T) {
	server := newFakeTrello(t, []map[string]any{
		card(1, "C1", "backend"),
		card(2, "C2"),
		card(3, "C1", "frontend"),
		card(4, "C2", "backend"),
		card(5, "C1"),
	})
	adapter := newAdapter(providers.Credentials{})
	cfg := newConfig(server.URL)

	var all []providers.ExternalIssue
	for issue, err := range adapter.ListIssues(context.Background(), cfg, "B1", token, providers.IssueFilter{}) {
		require.NoError(t, err)
		all = append(all, issue)
	}
	assert.Len(t, all, 5)

	var filtered []string
	for issue, err := range adapter.ListIssues(context.Background(), cfg, "B1", token, providers.IssueFilter{Labels: []string{"backend"}}) {
		require.NoError(t, err)
		filtered = append(filtered, issue.ID)
		assert.Equal(t, []string{"backend"}, issue.Labels)
	}
	assert.ElementsMatch(t, []string{fmt.Sprintf("%024x", 1), fmt.Sprintf("%024x", 4)}, filtered)

	// label ids match too
	count := 0
	for _, err := range adapter.ListIssues(context.Background(), cfg, "B1", token, providers.IssueFilter{Labels: []string{"L-frontend"}}) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 1, count)
}

func TestTrello_ListIssuesFiltersBrokenCards(t *testing.T) {
	server := newFakeTrello(t, []map[string]any{
		card(1, "C1", "backend"),
		card(2, "C2", "frontend"),
		card(3, "C1"),
	})
	adapter := newAdapter(providers.Credentials{})
	cfg := newConfig(server.URL)
	cfg.BoardFields = database.NewJSONB(map[string]string{"title": "[["})

	var failed []string
	for _, err := range adapter.ListIssues(context.Background(), cfg, "B1", token, providers.IssueFilter{Labels: []string{"backend"}}) {
		var issueErr *providers.IssueError
		require.ErrorAs(t, err, &issueErr)
		failed = append(failed, issueErr.ID)
	}
	assert.Equal(t, []string{fmt.Sprintf("%024x", 1)}, failed)
}

func TestTrello_ListIssuesCancelled(t *testing.T) {
	server := newFakeTrello(t, []map[string]any{card(1, "C1")})
	adapter := newAdapter(providers.Credentials{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range adapter.ListIssues(ctx, newConfig(server.URL), "B1", token, providers.IssueFilter{}) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
