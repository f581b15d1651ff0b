package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/credentials"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/integration"
	"github.com/Ramsey-B/fern/pkg/oauth"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/statusmap"
)

func newOptions(t *testing.T, authEnabled bool) Options {
	t.Helper()

	logger := testutil.Logger()
	mappings := testutil.NewMappingRepo()
	store := credentials.NewStore(testutil.Transactor{}, testutil.NewConfigRepo(), testutil.NewTokenRepo(), mappings, logger)
	service := integration.NewService(integration.Deps{
		Store:      store,
		Engine:     oauth.NewEngine(store, nil, logger),
		Mappings:   statusmap.NewTable(mappings, logger),
		Reconciler: importer.NewReconciler(testutil.NewTaskRepo(), 1, logger),
		Registry:   providers.NewRegistry(testutil.NewTracker("trackerX")),
		Roadmaps:   testutil.NewRoadmapRepo(),
		Logger:     logger,
	})

	checker := health.NewChecker("test", health.Dependency{
		Name:     "database",
		Critical: true,
		Ping:     func(context.Context) error { return nil },
	})
	checker.SetReady(true)

	return Options{
		Config: &config.Config{
			AppName:      "fern-test",
			AuthEnabled:  authEnabled,
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET"},
		},
		Logger:      logger,
		Integration: handlers.NewIntegrationHandler(service),
		Health:      checker,
	}
}

func get(e http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_ServesHealthAndMetrics(t *testing.T) {
	e, err := New(newOptions(t, false))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(e, "/health/ready").Code)

	rec := get(e, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))

	rec = get(e, "/api/v1/providers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "trackerX")
}

func TestNew_AuthRequiresVerifier(t *testing.T) {
	_, err := New(newOptions(t, true))
	assert.Error(t, err)
}

func TestHTTPServer_Timeouts(t *testing.T) {
	srv := HTTPServer(&config.Config{Port: 8080, HttpServerWriteTimeoutSeconds: 60}, http.NotFoundHandler())
	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, float64(60), srv.WriteTimeout.Seconds())
}
