package providers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/dghubble/oauth1"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/metrics"
)

// Handshake runs the two token requests of an oauth1 three-legged flow with a
// context and classifies their failures.
type Handshake struct {
	Provider string
	Config   *oauth1.Config
	Client   *httpclient.Client
	Logger   ectologger.Logger
}

// RequestToken obtains a temporary credential. A refusal means the consumer
// is misconfigured.
func (h *Handshake) RequestToken(ctx context.Context) (string, string, error) {
	return h.run(ctx, "request_token", ferrors.InvalidConfig, func(cfg *oauth1.Config) (string, string, error) {
		return cfg.RequestToken()
	})
}

// AccessToken exchanges an authorized temporary credential. A refusal means
// the verifier or request token was not accepted.
func (h *Handshake) AccessToken(ctx context.Context, requestToken, requestSecret, verifier string) (string, string, error) {
	return h.run(ctx, "access_token", ferrors.InvalidVerifier, func(cfg *oauth1.Config) (string, string, error) {
		return cfg.AccessToken(requestToken, requestSecret, verifier)
	})
}

func (h *Handshake) run(ctx context.Context, step string, refused ferrors.Kind, call func(*oauth1.Config) (string, string, error)) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	base := h.Client.HTTPClient()
	reqCtx := ctx
	if base.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, base.Timeout)
		defer cancel()
	}

	// oauth1 builds its requests without a context; the transport attaches reqCtx.
	rt := &recordingTransport{ctx: reqCtx, base: base.Transport, provider: h.Provider}
	cfg := *h.Config
	cfg.HTTPClient = &http.Client{Transport: rt}

	token, secret, err := call(&cfg)
	if err == nil {
		return token, secret, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", "", ctxErr
	}

	log := h.Logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
		"provider":    h.Provider,
		"step":        step,
		"status_code": rt.status,
	})

	switch {
	case rt.err != nil, rt.status == http.StatusTooManyRequests, rt.status >= 500:
		log.Warn("oauth handshake failed, provider unreachable")
		return "", "", ferrors.Wrap(ferrors.ProviderUnreachable, err, "provider is unreachable").WithProvider(h.Provider)
	case rt.status == 0:
		// the request was never sent: bad endpoint URL or signing key
		log.Warn("oauth handshake request could not be built")
		return "", "", ferrors.Wrap(ferrors.InvalidConfig, err, "cannot sign oauth request").WithProvider(h.Provider)
	default:
		log.Warn("oauth handshake refused")
		msg := "provider refused the " + step + " request"
		if rt.status != http.StatusOK && rt.status != http.StatusCreated {
			msg += " with status " + strconv.Itoa(rt.status)
		}
		return "", "", ferrors.Wrap(refused, err, msg).WithProvider(h.Provider)
	}
}

// recordingTransport binds the handshake requests to ctx and records the
// outcome of the last round trip. oauth1 reports failures as plain errors.
type recordingTransport struct {
	ctx      context.Context
	base     http.RoundTripper
	provider string
	status   int
	err      error
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req.WithContext(t.ctx))
	metrics.ProviderRequestDuration.WithLabelValues(t.provider, req.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		t.err = err
		metrics.ProviderRequestsTotal.WithLabelValues(t.provider, req.Method, "error").Inc()
		return nil, err
	}
	t.status = resp.StatusCode
	metrics.ProviderRequestsTotal.WithLabelValues(t.provider, req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}
