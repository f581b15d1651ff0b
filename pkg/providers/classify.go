package providers

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/httpclient"
)

var oauthProblemPattern = regexp.MustCompile(`oauth_problem="?([a-z_]+)"?`)

// oauth_problem values meaning the token, not the consumer, was refused.
var tokenProblems = map[string]bool{
	"token_rejected":     true,
	"token_expired":      true,
	"token_revoked":      true,
	"permission_unknown": true,
	"permission_denied":  true,
}

var consumerProblems = map[string]bool{
	"consumer_key_unknown":      true,
	"consumer_key_rejected":     true,
	"signature_invalid":         true,
	"signature_method_rejected": true,
}

// OAuthProblem returns the oauth_problem reported in the WWW-Authenticate
// header or a form body, or "".
func OAuthProblem(resp *httpclient.Response) string {
	if m := oauthProblemPattern.FindStringSubmatch(resp.Headers["Www-Authenticate"]); m != nil {
		return m[1]
	}
	if strings.Contains(string(resp.Body), "oauth_problem=") {
		if form, err := resp.Form(); err == nil {
			return form.Get("oauth_problem")
		}
	}
	return ""
}

// CheckResponse classifies a non-2xx response to an authenticated call.
func CheckResponse(provider string, resp *httpclient.Response) error {
	if httpclient.IsSuccessStatus(resp.StatusCode) {
		return nil
	}

	problem := OAuthProblem(resp)
	var kind ferrors.Kind
	switch {
	case tokenProblems[problem]:
		kind = ferrors.InvalidToken
	case consumerProblems[problem]:
		kind = ferrors.InvalidConfig
	case resp.StatusCode == 401:
		kind = ferrors.InvalidToken
	case resp.StatusCode == 404:
		kind = ferrors.NotFound
	case httpclient.IsRetryableStatus(resp.StatusCode):
		kind = ferrors.ProviderUnreachable
	default:
		kind = ferrors.InvalidConfig
	}

	msg := "provider returned status " + strconv.Itoa(resp.StatusCode)
	if problem != "" {
		msg += " (" + problem + ")"
	}
	return ferrors.New(kind, msg).WithProvider(provider)
}

// TransportError classifies a failed round trip. A done context wins over
// the transport failure so cancellation is never reported as unreachable.
func TransportError(ctx context.Context, provider string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return ferrors.Wrap(ferrors.ProviderUnreachable, err, "provider is unreachable").WithProvider(provider)
}

// DecodeError classifies a 2xx body that could not be read.
func DecodeError(provider string, err error) error {
	return ferrors.Wrap(ferrors.InvalidConfig, err, "unexpected provider response").WithProvider(provider)
}
