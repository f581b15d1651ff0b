package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func newTestServer(handler echo.HandlerFunc, mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = Error(getTestLogger())
	e.Use(Context())
	e.Use(mw...)
	e.GET("/test", handler)
	return e
}

func serve(e *echo.Echo, req *http.Request) (*httptest.ResponseRecorder, ErrorResponse) {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var body ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestError_IntegrationError(t *testing.T) {
	e := newTestServer(func(c echo.Context) error {
		return ferrors.Wrap(ferrors.InvalidToken, errors.New("oauth_problem=token_rejected"), "access token rejected").WithProvider("jira")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec, body := serve(e, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "access token rejected", body.Message)
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, "true", body.Meta["reauthorize"])
	assert.Equal(t, "jira", body.Meta["provider"])
	assert.NotContains(t, rec.Body.String(), "oauth_problem")
}

func TestError_MessageHasNoStatusPrefix(t *testing.T) {
	e := newTestServer(func(c echo.Context) error {
		return ferrors.New(ferrors.InvalidVerifier, "verifier is required")
	})

	rec, body := serve(e, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "verifier is required", body.Message)
	assert.NotContains(t, body.Message, "HTTP Error")
	assert.Equal(t, "true", body.Meta["restart_authorization"])
}

func TestError_InvalidColumnMeta(t *testing.T) {
	e := newTestServer(func(c echo.Context) error {
		return ferrors.New(ferrors.InvalidColumn, "column is not on the board").WithColumn("col-9")
	})

	rec, body := serve(e, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "col-9", body.Meta["column_id"])
}

func TestError_HTTPError(t *testing.T) {
	e := newTestServer(func(c echo.Context) error {
		return httperror.NewHTTPError(http.StatusNotFound, "roadmap does not exist")
	})

	rec, body := serve(e, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "roadmap does not exist", body.Message)
}

func TestError_UnknownErrorIsHidden(t *testing.T) {
	e := newTestServer(func(c echo.Context) error {
		return errors.New("pq: connection refused to 10.0.0.4")
	})

	rec, body := serve(e, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", body.Message)
}

func TestContext_SetsRequestMetadata(t *testing.T) {
	var tenantID, userID, requestID string
	e := newTestServer(func(c echo.Context) error {
		ctx := c.Request().Context()
		tenantID = appctx.GetTenantID(ctx)
		userID = appctx.GetUserID(ctx)
		requestID = appctx.GetRequestID(ctx)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderTenantID, "tenant-1")
	req.Header.Set(HeaderUserID, "user-1")
	rec, _ := serve(e, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "tenant-1", tenantID)
	assert.Equal(t, "user-1", userID)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, rec.Header().Get(echo.HeaderXRequestID))
}

type rejectingVerifier struct{}

func (rejectingVerifier) Verify(context.Context, string) (*oidc.IDToken, error) {
	return nil, errors.New("token expired")
}

func TestAuthentication_RejectsRequests(t *testing.T) {
	e := newTestServer(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, Authentication(getTestLogger(), rejectingVerifier{}))

	rec, body := serve(e, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing bearer", body.Message)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec, body = serve(e, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", body.Message)
}
