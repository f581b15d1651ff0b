// Package oauth drives the three-legged OAuth 1.0a handshake of an integration
// and guards authenticated provider calls.
package oauth

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// State is the authorization state of an integration.
type State string

const (
	Unauthenticated  State = "Unauthenticated"
	AwaitingVerifier State = "AwaitingVerifier"
	Authenticated    State = "Authenticated"
)

// TokenStore persists the tokens of the handshake.
type TokenStore interface {
	SaveRequestToken(ctx context.Context, configID uuid.UUID, token string, secret models.Secret) error
	GetRequestToken(ctx context.Context, configID uuid.UUID) (*models.OAuthToken, error)
	ConsumeRequestToken(ctx context.Context, configID uuid.UUID) (*models.OAuthToken, error)
	SaveAccessToken(ctx context.Context, configID uuid.UUID, token string, secret models.Secret) error
	GetAccessToken(ctx context.Context, configID uuid.UUID) (*models.OAuthToken, error)
	RevokeTokens(ctx context.Context, configID uuid.UUID) error
}

// EventPublisher publishes integration events
type EventPublisher interface {
	Publish(ctx context.Context, evt *kafka.Event) error
}

// Engine moves an integration through Unauthenticated, AwaitingVerifier and
// Authenticated. It holds no state of its own.
type Engine struct {
	store  TokenStore
	events EventPublisher
	logger ectologger.Logger
}

func NewEngine(store TokenStore, events EventPublisher, logger ectologger.Logger) *Engine {
	return &Engine{
		store:  store,
		events: events,
		logger: logger,
	}
}

// State derives the state from the stored tokens.
func (e *Engine) State(ctx context.Context, cfg *models.IntegrationConfig) (State, error) {
	if _, err := e.store.GetAccessToken(ctx, cfg.ID); err == nil {
		return Authenticated, nil
	} else if !ferrors.Is(err, ferrors.NotFound) {
		return "", err
	}

	if _, err := e.store.GetRequestToken(ctx, cfg.ID); err == nil {
		return AwaitingVerifier, nil
	} else if !ferrors.Is(err, ferrors.NotFound) {
		return "", err
	}

	return Unauthenticated, nil
}

// BeginAuth obtains a fresh request token and returns the URL the user must
// visit. It may be called in any state; an earlier request token is replaced.
func (e *Engine) BeginAuth(ctx context.Context, adapter providers.Adapter, cfg *models.IntegrationConfig) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "OAuthEngine.BeginAuth")
	defer span.End()

	request, err := adapter.AuthorizationURL(ctx, cfg)
	if err != nil {
		e.record(adapter, "request_token", err)
		tracing.RecordError(span, err)
		return "", err
	}

	if err := e.store.SaveRequestToken(ctx, cfg.ID, request.RequestToken, request.RequestSecret); err != nil {
		tracing.RecordError(span, err)
		return "", err
	}
	e.record(adapter, "request_token", nil)

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": cfg.ID,
		"provider":       adapter.Name(),
	}).Info("Authorization started")
	return request.URL, nil
}

// CompleteAuth swaps the stored request token and verifier for an access
// token. The request token is consumed before the provider is called, so any
// failure requires BeginAuth before the next attempt.
func (e *Engine) CompleteAuth(ctx context.Context, adapter providers.Adapter, cfg *models.IntegrationConfig, verifier string) error {
	ctx, span := tracing.StartSpan(ctx, "OAuthEngine.CompleteAuth")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": cfg.ID,
		"provider":       adapter.Name(),
	})

	if verifier == "" {
		return ferrors.New(ferrors.InvalidVerifier, "verifier is required").WithProvider(adapter.Name())
	}

	requestToken, err := e.store.ConsumeRequestToken(ctx, cfg.ID)
	if ferrors.Is(err, ferrors.NotFound) {
		err = ferrors.New(ferrors.InvalidVerifier, "no pending authorization, restart authorization").WithProvider(adapter.Name())
	}
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	token, err := adapter.SwapToken(ctx, cfg, requestToken.Token, requestToken.Secret, verifier)
	if err != nil {
		e.record(adapter, "access_token", err)
		tracing.RecordError(span, err)
		log.WithError(err).Warn("Token swap failed")
		return err
	}

	if err := e.store.SaveAccessToken(ctx, cfg.ID, token.Token, token.Secret); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	e.record(adapter, "access_token", nil)

	log.Info("Integration authorized")
	e.publish(ctx, cfg, kafka.EventAuthorized, nil)
	return nil
}

// AccessToken returns the stored access token, or InvalidToken when the
// integration is not authenticated.
func (e *Engine) AccessToken(ctx context.Context, cfg *models.IntegrationConfig) (providers.Token, error) {
	token, err := e.store.GetAccessToken(ctx, cfg.ID)
	if ferrors.Is(err, ferrors.NotFound) {
		return providers.Token{}, ferrors.New(ferrors.InvalidToken, "integration is not authorized").WithProvider(cfg.Name)
	}
	if err != nil {
		return providers.Token{}, err
	}
	return providers.Token{Token: token.Token, Secret: token.Secret}, nil
}

// Guard runs fn with the access token. When fn reports InvalidToken the tokens
// are revoked and the error is returned unchanged. Nothing is retried.
func (e *Engine) Guard(ctx context.Context, cfg *models.IntegrationConfig, fn func(ctx context.Context, token providers.Token) error) error {
	token, err := e.AccessToken(ctx, cfg)
	if err != nil {
		return err
	}

	err = fn(ctx, token)
	if !ferrors.Is(err, ferrors.InvalidToken) {
		return err
	}

	e.Revoke(ctx, cfg, err)
	return err
}

// Revoke drops the tokens of cfg after the provider rejected its access token.
func (e *Engine) Revoke(ctx context.Context, cfg *models.IntegrationConfig, cause error) {
	log := e.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
		"integration_id": cfg.ID,
		"provider":       cfg.Name,
	})

	if err := e.store.RevokeTokens(ctx, cfg.ID); err != nil {
		log.WithError(err).Error("failed to revoke rejected tokens")
		return
	}
	metrics.TokensRevokedTotal.WithLabelValues(cfg.Name).Inc()
	log.Warn("Access token rejected, integration requires reauthorization")

	e.publish(ctx, cfg, kafka.EventReauthorizationRequired, nil)
}

func (e *Engine) record(adapter providers.Adapter, step string, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.OAuthHandshakesTotal.WithLabelValues(adapter.Name(), step, outcome).Inc()
}

func (e *Engine) publish(ctx context.Context, cfg *models.IntegrationConfig, eventType string, data map[string]any) {
	if e.events == nil {
		return
	}
	err := e.events.Publish(ctx, &kafka.Event{
		Type:          eventType,
		TenantID:      cfg.TenantID.String(),
		RoadmapID:     cfg.RoadmapID.String(),
		IntegrationID: cfg.ID.String(),
		Provider:      cfg.Name,
		Data:          data,
	})
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"integration_id": cfg.ID,
			"event_type":     eventType,
		}).Warn("failed to publish integration event")
	}
}
