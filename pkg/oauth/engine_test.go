package oauth_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/credentials"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/oauth"
	"github.com/Ramsey-B/fern/pkg/providers"
)

type fixture struct {
	ctx     context.Context
	engine  *oauth.Engine
	store   *credentials.Store
	tokens  *testutil.TokenRepo
	events  *testutil.Events
	tracker *testutil.Tracker
	config  *models.IntegrationConfig
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	tokens := testutil.NewTokenRepo()
	store := credentials.NewStore(testutil.Transactor{}, testutil.NewConfigRepo(), tokens, testutil.NewMappingRepo(), testutil.Logger())
	events := &testutil.Events{}
	ctx := testutil.Context(uuid.New(), "admin")

	config, err := store.UpsertConfig(ctx, "trackerX", uuid.New(), models.ConfigFields{Host: "https://tracker.example.com"})
	require.NoError(t, err)

	return fixture{
		ctx:     ctx,
		engine:  oauth.NewEngine(store, events, testutil.Logger()),
		store:   store,
		tokens:  tokens,
		events:  events,
		tracker: testutil.NewTracker("trackerX"),
		config:  config,
	}
}

func (f fixture) state(t *testing.T) oauth.State {
	t.Helper()
	state, err := f.engine.State(f.ctx, f.config)
	require.NoError(t, err)
	return state
}

func TestEngine_Handshake(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, oauth.Unauthenticated, f.state(t))

	url, err := f.engine.BeginAuth(f.ctx, f.tracker, f.config)
	require.NoError(t, err)
	assert.Contains(t, url, "oauth_token=request-token-1")
	assert.Equal(t, oauth.AwaitingVerifier, f.state(t))

	require.NoError(t, f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "GOOD"))
	assert.Equal(t, oauth.Authenticated, f.state(t))
	assert.Equal(t, []string{kafka.EventAuthorized}, f.events.Types())

	token, err := f.engine.AccessToken(f.ctx, f.config)
	require.NoError(t, err)
	assert.Equal(t, "access-token", token.Token)
}

func TestEngine_BadVerifier(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BeginAuth(f.ctx, f.tracker, f.config)
	require.NoError(t, err)

	err = f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "BADCODE")
	assert.True(t, ferrors.Is(err, ferrors.InvalidVerifier))
	assert.Equal(t, oauth.AwaitingVerifier, f.state(t))

	// The request token was consumed, so even the right verifier needs a new handshake
	err = f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "GOOD")
	assert.True(t, ferrors.Is(err, ferrors.InvalidVerifier))
	assert.Equal(t, 0, f.tracker.Swaps())

	_, err = f.engine.BeginAuth(f.ctx, f.tracker, f.config)
	require.NoError(t, err)
	require.NoError(t, f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "GOOD"))
	assert.Equal(t, oauth.Authenticated, f.state(t))
}

func TestEngine_CompleteWithoutBegin(t *testing.T) {
	f := newFixture(t)

	err := f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "GOOD")
	assert.True(t, ferrors.Is(err, ferrors.InvalidVerifier))
	assert.Equal(t, oauth.Unauthenticated, f.state(t))
}

func TestEngine_EmptyVerifier(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BeginAuth(f.ctx, f.tracker, f.config)
	require.NoError(t, err)

	err = f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "")
	assert.True(t, ferrors.Is(err, ferrors.InvalidVerifier))
	// An empty verifier never reaches the provider and leaves the request token usable
	require.NoError(t, f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "GOOD"))
}

func TestEngine_SingleAccessToken(t *testing.T) {
	f := newFixture(t)

	for range 3 {
		_, err := f.engine.BeginAuth(f.ctx, f.tracker, f.config)
		require.NoError(t, err)
		require.NoError(t, f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "GOOD"))
	}

	assert.Equal(t, 3, f.tracker.Swaps())
	assert.Equal(t, 1, f.tokens.Count(f.config.ID, models.TokenPhaseAccess))
	assert.Equal(t, 1, f.tokens.Count(f.config.ID, models.TokenPhaseRequest))
}

func TestEngine_BeginAuthUnreachable(t *testing.T) {
	f := newFixture(t)
	f.tracker.Unreachable = true

	_, err := f.engine.BeginAuth(f.ctx, f.tracker, f.config)
	assert.True(t, ferrors.Is(err, ferrors.ProviderUnreachable))
	assert.Equal(t, oauth.Unauthenticated, f.state(t))
}

func TestEngine_CompleteAuthUnreachableRestarts(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BeginAuth(f.ctx, f.tracker, f.config)
	require.NoError(t, err)

	f.tracker.Unreachable = true
	err = f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "GOOD")
	assert.True(t, ferrors.Is(err, ferrors.ProviderUnreachable))
	assert.Equal(t, oauth.Unauthenticated, f.state(t))
	assert.Empty(t, f.events.Types())

	f.tracker.Unreachable = false
	url, err := f.engine.BeginAuth(f.ctx, f.tracker, f.config)
	require.NoError(t, err)
	assert.Contains(t, url, "oauth_token=request-token-2")

	require.NoError(t, f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "GOOD"))
	assert.Equal(t, oauth.Authenticated, f.state(t))
	assert.Equal(t, 1, f.tokens.Count(f.config.ID, models.TokenPhaseAccess))
}

func TestEngine_AccessTokenMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.AccessToken(f.ctx, f.config)
	assert.True(t, ferrors.Is(err, ferrors.InvalidToken))
}

func TestEngine_GuardRevokesRejectedToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BeginAuth(f.ctx, f.tracker, f.config)
	require.NoError(t, err)
	require.NoError(t, f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "GOOD"))

	listBoards := func(ctx context.Context, token providers.Token) error {
		_, err := f.tracker.ListBoards(ctx, f.config, token)
		return err
	}

	require.NoError(t, f.engine.Guard(f.ctx, f.config, listBoards))
	assert.Equal(t, oauth.Authenticated, f.state(t))

	f.tracker.RevokeAccess()
	err = f.engine.Guard(f.ctx, f.config, listBoards)
	assert.True(t, ferrors.Is(err, ferrors.InvalidToken))
	assert.Equal(t, oauth.Unauthenticated, f.state(t))

	last, ok := f.events.Last()
	require.True(t, ok)
	assert.Equal(t, kafka.EventReauthorizationRequired, last.Type)
	assert.Equal(t, f.config.ID.String(), last.IntegrationID)
}

func TestEngine_GuardKeepsTokenOnOtherErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BeginAuth(f.ctx, f.tracker, f.config)
	require.NoError(t, err)
	require.NoError(t, f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "GOOD"))

	f.tracker.Unreachable = true
	err = f.engine.Guard(f.ctx, f.config, func(ctx context.Context, token providers.Token) error {
		_, err := f.tracker.ListBoards(ctx, f.config, token)
		return err
	})
	assert.True(t, ferrors.Is(err, ferrors.ProviderUnreachable))
	assert.Equal(t, oauth.Authenticated, f.state(t))
}

func TestEngine_PublishFailureDoesNotFailAuth(t *testing.T) {
	f := newFixture(t)
	f.events.Fail = true

	_, err := f.engine.BeginAuth(f.ctx, f.tracker, f.config)
	require.NoError(t, err)
	require.NoError(t, f.engine.CompleteAuth(f.ctx, f.tracker, f.config, "GOOD"))
	assert.Equal(t, oauth.Authenticated, f.state(t))
}
