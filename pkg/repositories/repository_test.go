package repositories_test

import (
	"context"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
)

var migrateOnce sync.Once

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getTestDB connects to the database named by DB_* and applies db/pg. Tests
// skip when DB_HOST is unset or in short mode.
func getTestDB(t *testing.T) database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		t.Skip("DB_HOST not set")
	}

	dsn := "host=" + dbHost +
		" port=" + getenv("DB_PORT", "5432") +
		" user=" + getenv("DB_USER_NAME", "user") +
		" password=" + getenv("DB_PASSWORD", "password") +
		" dbname=" + getenv("DB_NAME", "fern") +
		" sslmode=disable"
	conn, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(func() { _ = conn.Close() })

	db := database.NewDatabaseInstance(conn, getTestLogger())

	var migrateErr error
	migrateOnce.Do(func() {
		migrateErr = database.NewMigrationService(getTestLogger(), &database.MigrationConfig{
			MigrationFolderPath: "../../db/pg",
		}).MigratePostgres(db)
	})
	require.NoError(t, migrateErr)

	return db
}

func getTestContext(tenantID uuid.UUID) context.Context {
	ctx := context.Background()
	return appctx.SetTenantID(ctx, tenantID.String())
}

// createRoadmap inserts a roadmap owned by tenantID with userID as admin.
func createRoadmap(t *testing.T, db database.DB, tenantID uuid.UUID, userID string) uuid.UUID {
	t.Helper()
	roadmapID := uuid.New()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO roadmaps (id, tenant_id, name) VALUES ($1, $2, $3)`, roadmapID, tenantID, "Test Roadmap")
	require.NoError(t, err)
	_, err = db.ExecContext(context.Background(),
		`INSERT INTO roadmap_members (roadmap_id, user_id, role) VALUES ($1, $2, 'admin')`, roadmapID, userID)
	require.NoError(t, err)
	return roadmapID
}

// assertNotFound asserts that err is an HTTP 404 error
func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err), "expected 404, got: %d", httperror.GetStatusCode(err))
}

// assertUnauthorized asserts that err is an HTTP 401 error
func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusUnauthorized, httperror.GetStatusCode(err), "expected 401, got: %d", httperror.GetStatusCode(err))
}

func strPtr(s string) *string {
	return &s
}

// assertForbidden asserts that err is an HTTP 403 error
func assertForbidden(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, httperror.GetStatusCode(err), "expected 403, got: %d", httperror.GetStatusCode(err))
}
