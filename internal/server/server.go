// Package server assembles the echo application.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/middleware"
)

type Options struct {
	Config      *config.Config
	Logger      ectologger.Logger
	Integration *handlers.IntegrationHandler
	Health      *health.Checker
	// Verifier is required when Config.AuthEnabled is set.
	Verifier middleware.TokenVerifier
}

// New builds the echo app. Health and metrics are served without
// authentication; everything under /api/v1 requires it when enabled.
func New(opts Options) (*echo.Echo, error) {
	cfg := opts.Config
	if cfg.AuthEnabled && opts.Verifier == nil {
		return nil, fmt.Errorf("auth is enabled but no token verifier was configured")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(opts.Logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(opts.Logger))

	opts.Health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if cfg.AuthEnabled {
		api.Use(middleware.Authentication(opts.Logger, opts.Verifier))
	} else {
		opts.Logger.Warn("Authentication is disabled; tenant and user are read from request headers")
	}
	opts.Integration.RegisterRoutes(api)

	return e, nil
}

// HTTPServer wraps the app with the configured timeouts.
func HTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}
