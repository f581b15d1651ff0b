package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// Kind classifies integration failures so callers can branch on the kind of
// failure instead of provider status codes.
type Kind string

const (
	// InvalidConfig means host, keys or a request parameter are malformed. Not retryable as-is.
	InvalidConfig Kind = "InvalidConfig"
	// InvalidToken means the provider rejected the access token. The user must re-authorize.
	InvalidToken Kind = "InvalidTokenError"
	// InvalidVerifier means the verifier code was wrong or expired, or the request token was already used.
	InvalidVerifier Kind = "InvalidVerifier"
	// ProviderUnreachable is a transient network or provider failure. The same step may be retried.
	ProviderUnreachable Kind = "ProviderUnreachable"
	// InvalidColumn means a status mapping named a column outside the selected board.
	InvalidColumn Kind = "InvalidColumn"
	// PermissionDenied means the caller is not an admin of the roadmap.
	PermissionDenied Kind = "PermissionDenied"
	NotFound         Kind = "NotFound"
	ImportInProgress Kind = "ImportInProgress"
)

var statusCodes = map[Kind]int{
	InvalidConfig:       http.StatusBadRequest,
	InvalidToken:        http.StatusUnauthorized,
	InvalidVerifier:     http.StatusBadRequest,
	ProviderUnreachable: http.StatusBadGateway,
	InvalidColumn:       http.StatusBadRequest,
	PermissionDenied:    http.StatusForbidden,
	NotFound:            http.StatusNotFound,
	ImportInProgress:    http.StatusConflict,
}

type IntegrationError struct {
	Kind     Kind
	Message  string
	Field    string
	Provider string
	ColumnID string
	Err      error
}

func New(kind Kind, msg string) *IntegrationError {
	return &IntegrationError{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *IntegrationError {
	return &IntegrationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. An err that is already an IntegrationError keeps its kind.
func Wrap(kind Kind, err error, msg string) *IntegrationError {
	if err == nil {
		return nil
	}
	var existing *IntegrationError
	if stderrors.As(err, &existing) {
		return existing
	}
	return &IntegrationError{Kind: kind, Message: msg, Err: err}
}

func (e *IntegrationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("field '%s': %s", e.Field, msg)
	}
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrationError) Unwrap() error {
	return e.Err
}

func (e *IntegrationError) WithField(field string) *IntegrationError {
	e.Field = field
	return e
}

func (e *IntegrationError) WithProvider(provider string) *IntegrationError {
	e.Provider = provider
	return e
}

func (e *IntegrationError) WithColumn(columnID string) *IntegrationError {
	e.ColumnID = columnID
	return e
}

// StatusCode is the HTTP status the kind is reported with.
func (e *IntegrationError) StatusCode() int {
	if code, ok := statusCodes[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// ToHTTPError renders the error for API responses. The underlying cause is left
// out of the message because provider bodies may echo credentials.
func (e *IntegrationError) ToHTTPError() *httperror.HTTPError {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	herr := httperror.NewHTTPError(e.StatusCode(), msg).AddMetaValue("kind", string(e.Kind))
	if e.Field != "" {
		herr = herr.AddMetaValue("field", e.Field)
	}
	if e.Provider != "" {
		herr = herr.AddMetaValue("provider", e.Provider)
	}

	switch e.Kind {
	case InvalidToken:
		herr = herr.AddMetaValue("reauthorize", "true")
	case InvalidVerifier:
		herr = herr.AddMetaValue("restart_authorization", "true")
	case ProviderUnreachable:
		herr = herr.AddMetaValue("retryable", "true")
	case InvalidColumn:
		herr = herr.AddMetaValue("column_id", e.ColumnID)
	}
	return herr
}

// KindOf returns the kind of the first IntegrationError in err's chain.
func KindOf(err error) (Kind, bool) {
	var ie *IntegrationError
	if stderrors.As(err, &ie) {
		return ie.Kind, true
	}
	return "", false
}

func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func IsIntegrationError(err error) bool {
	_, ok := KindOf(err)
	return ok
}

// ToHTTPError converts any IntegrationError in err's chain, returning nil otherwise.
func ToHTTPError(err error) *httperror.HTTPError {
	var ie *IntegrationError
	if stderrors.As(err, &ie) {
		return ie.ToHTTPError()
	}
	return nil
}
