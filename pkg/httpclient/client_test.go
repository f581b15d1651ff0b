package httpclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/pkg/httpclient"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func TestClient_GetReturnsNon2xxAsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("oauth_problem=token_rejected"))
	}))
	defer server.Close()

	client := httpclient.NewClient(httpclient.DefaultConfig(), getTestLogger()).Named("test")
	resp, err := client.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	form, err := resp.Form()
	require.NoError(t, err)
	assert.Equal(t, "token_rejected", form.Get("oauth_problem"))
}

func TestClient_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"fern"}`))
	}))
	defer server.Close()

	client := httpclient.NewClient(httpclient.DefaultConfig(), getTestLogger())
	resp, err := client.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)

	var body struct {
		Name string `json:"name"`
	}
	require.NoError(t, resp.JSON(&body))
	assert.Equal(t, "fern", body.Name)
}

func TestClient_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := httpclient.NewClient(httpclient.DefaultConfig(), getTestLogger())
	_, err := client.Get(ctx, server.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildURL(t *testing.T) {
	built, err := httpclient.BuildURL("https://jira.example.com/", "/rest/agile/1.0/board", url.Values{"startAt": {"50"}})
	require.NoError(t, err)
	assert.Equal(t, "https://jira.example.com/rest/agile/1.0/board?startAt=50", built)
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, httpclient.IsSuccessStatus(201))
	assert.False(t, httpclient.IsSuccessStatus(302))
	assert.True(t, httpclient.IsRetryableStatus(429))
	assert.True(t, httpclient.IsRetryableStatus(503))
	assert.False(t, httpclient.IsRetryableStatus(404))
	assert.True(t, httpclient.IsRateLimitStatus(429))
}
