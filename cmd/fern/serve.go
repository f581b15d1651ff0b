package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/internal/server"
	"github.com/Ramsey-B/fern/pkg/credentials"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/integration"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/oauth"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/providers/jira"
	"github.com/Ramsey-B/fern/pkg/providers/trello"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/statusmap"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the integration API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, sync, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

// app holds what the startup dependencies produce.
type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	db      database.DB
	redis   *redis.Client
	events  *kafka.Producer
	checker *health.Checker
	srv     *http.Server
	errs    chan error
}

func serve(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:  cfg.AppName,
		OTLPEnabled:  cfg.OTLPEnabled,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPProtocol: cfg.OTLPProtocol,
		OTLPInsecure: cfg.OTLPInsecure,
		OTLPHeaders:  cfg.OTLPHeaders,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	a := &app{cfg: cfg, logger: logger, errs: make(chan error, 1)}
	a.checker = health.NewChecker(cfg.Version, a.healthDependencies()...)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	for _, dep := range a.dependencies() {
		boot.AddDependency(dep)
	}
	if err := boot.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = boot.Stop(stopCtx)
		return err
	}
	a.checker.SetReady(true)
	logger.Infof("%s %s listening on :%d", cfg.AppName, cfg.Version, cfg.Port)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-a.errs:
		logger.WithError(err).Error("HTTP server stopped")
	}

	a.checker.SetReady(false)
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if stopErr := boot.Stop(stopCtx); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

func (a *app) healthDependencies() []health.Dependency {
	deps := []health.Dependency{{
		Name:     "database",
		Critical: true,
		Ping: func(ctx context.Context) error {
			if a.db == nil {
				return errors.New("database not connected")
			}
			return a.db.PingContext(ctx)
		},
	}}
	if a.cfg.RedisEnabled {
		deps = append(deps, health.Dependency{
			Name: "redis",
			Ping: func(ctx context.Context) error {
				if a.redis == nil {
					return errors.New("redis not connected")
				}
				return a.redis.Ping(ctx)
			},
		})
	}
	return deps
}

func (a *app) dependencies() []startup.Dependency {
	cfg := a.cfg
	deps := []startup.Dependency{
		startup.Func{
			Name: "database",
			OnStart: func(ctx context.Context) error {
				db, err := database.Connect(ctx, connectionConfig(cfg), a.logger)
				if err != nil {
					return err
				}
				a.db = db
				return nil
			},
			OnStop: func(context.Context) error { return a.db.Close() },
		},
	}
	serverRequires := []string{"database"}

	if cfg.DatabaseMigrateOnStart {
		deps = append(deps, startup.Func{
			Name:     "migrations",
			Requires: []string{"database"},
			OnStart: func(context.Context) error {
				return database.NewMigrationService(a.logger, migrationConfig(cfg)).MigratePostgres(a.db)
			},
		})
		serverRequires = append(serverRequires, "migrations")
	}

	if cfg.RedisEnabled {
		deps = append(deps, startup.Func{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				client, err := redis.NewClient(redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, a.logger)
				if err != nil {
					return err
				}
				a.redis = client
				return nil
			},
			OnStop: func(context.Context) error { return a.redis.Close() },
		})
		serverRequires = append(serverRequires, "redis")
	}

	if cfg.KafkaEnabled {
		deps = append(deps, startup.Func{
			Name: "kafka",
			OnStart: func(context.Context) error {
				a.events = kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaEventsTopic), a.logger)
				return nil
			},
			OnStop: func(context.Context) error { return a.events.Close() },
		})
		serverRequires = append(serverRequires, "kafka")
	}

	deps = append(deps, startup.Func{
		Name:     "server",
		Requires: serverRequires,
		OnStart:  a.startServer,
		OnStop: func(ctx context.Context) error {
			return a.srv.Shutdown(ctx)
		},
	})
	return deps
}

func (a *app) startServer(ctx context.Context) error {
	cfg := a.cfg

	var verifier middleware.TokenVerifier
	if cfg.AuthEnabled {
		v, err := middleware.NewOIDCVerifier(ctx, cfg.AuthIssuerURL, cfg.AuthClientID)
		if err != nil {
			return err
		}
		verifier = v
	}

	e, err := server.New(server.Options{
		Config:      cfg,
		Logger:      a.logger,
		Integration: handlers.NewIntegrationHandler(a.service()),
		Health:      a.checker,
		Verifier:    verifier,
	})
	if err != nil {
		return err
	}

	a.srv = server.HTTPServer(cfg, e)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.errs <- err
		}
	}()
	return nil
}

func (a *app) service() *integration.Service {
	cfg, logger, db := a.cfg, a.logger, a.db

	mappings := repositories.NewStatusMappingRepository(db, logger)
	store := credentials.NewStore(
		db,
		repositories.NewIntegrationConfigRepository(db, logger),
		repositories.NewOAuthTokenRepository(db, logger),
		mappings,
		logger,
	)

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.ProviderHTTPTimeout
	client := httpclient.NewClient(clientCfg, logger)

	registry := providers.NewRegistry(
		jira.New(client, jira.Options{
			Credentials: providers.Credentials{
				ConsumerKey: cfg.JiraConsumerKey,
				PrivateKey:  models.Secret(cfg.JiraPrivateKey),
				CallbackURL: cfg.OAuthCallbackURL,
			},
			PageSize: cfg.ProviderPageSize,
		}, logger),
		trello.New(client, trello.Options{
			Credentials: providers.Credentials{
				ConsumerKey: cfg.TrelloAPIKey,
				PrivateKey:  models.Secret(cfg.TrelloAPISecret),
				CallbackURL: cfg.OAuthCallbackURL,
			},
			PageSize: cfg.ProviderPageSize,
		}, logger),
	)

	// Both stay nil interfaces when their backing service is disabled.
	var events oauth.EventPublisher
	if a.events != nil {
		events = a.events
	}
	var locker integration.Locker
	if a.redis != nil {
		locker = redis.NewLocker(a.redis, "fern:lock:")
	}

	return integration.NewService(integration.Deps{
		Store:         store,
		Engine:        oauth.NewEngine(store, events, logger),
		Mappings:      statusmap.NewTable(mappings, logger),
		Reconciler:    importer.NewReconciler(repositories.NewTaskRepository(db, logger), cfg.ImportConcurrency, logger),
		Registry:      registry,
		Roadmaps:      repositories.NewRoadmapRepository(db, logger),
		Locker:        locker,
		Events:        events,
		ImportLockTTL: cfg.ImportLockTTL,
		Logger:        logger,
	})
}
