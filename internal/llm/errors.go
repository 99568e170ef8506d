package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
)

// ErrNotConfigured is returned when no credential is set. No request is made.
var ErrNotConfigured = errors.New("model backend is not configured")

// Kind classifies backend failures
type Kind int

const (
	KindBackend Kind = iota
	KindInvalidKey
	KindQuota
	KindToolConfig
	KindNetwork
	KindCancelled
	KindNotConfigured
)

func (k Kind) String() string {
	switch k {
	case KindInvalidKey:
		return "invalid_key"
	case KindQuota:
		return "quota"
	case KindToolConfig:
		return "tool_config"
	case KindNetwork:
		return "network"
	case KindCancelled:
		return "cancelled"
	case KindNotConfigured:
		return "not_configured"
	default:
		return "backend"
	}
}

// MessageKey is the translation key describing the failure to the user
func (k Kind) MessageKey() string {
	switch k {
	case KindInvalidKey:
		return i18n.KeyInvalidKey
	case KindQuota:
		return i18n.KeyQuota
	case KindToolConfig:
		return i18n.KeyToolConfig
	case KindNetwork:
		return i18n.KeyNetwork
	case KindCancelled:
		return i18n.KeyCancelled
	case KindNotConfigured:
		return i18n.KeyNotConfigured
	default:
		return i18n.KeyBackend
	}
}

// BackendError wraps a failure with its classification
type BackendError struct {
	Kind Kind
	Code int
	Err  error
}

func (e *BackendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// wrap classifies err unless it already is a BackendError
func wrap(err error) error {
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Kind: Classify(err), Code: statusCode(err), Err: err}
}

// Classify maps an error from the backend to a Kind
func Classify(err error) Kind {
	if err == nil {
		return KindBackend
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, ErrNotConfigured) {
		return KindNotConfigured
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}

	if apiErr, ok := asAPIError(err); ok {
		return classifyAPIError(apiErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "api key not valid", "api_key_invalid", "permission denied", "unauthenticated"):
		return KindInvalidKey
	case containsAny(msg, "quota", "rate limit", "resource_exhausted", "too many requests"):
		return KindQuota
	case containsAny(msg, "connection refused", "no such host", "connection reset", "eof", "timeout"):
		return KindNetwork
	}
	return KindBackend
}

func classifyAPIError(e genai.APIError) Kind {
	msg := strings.ToLower(e.Message)
	switch {
	case e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden:
		return KindInvalidKey
	case e.Code == http.StatusBadRequest && containsAny(msg, "api key", "api_key"):
		return KindInvalidKey
	case e.Code == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED":
		return KindQuota
	case e.Code == http.StatusBadRequest && containsAny(msg, "tool", "url_context", "urlcontext", "url context"):
		return KindToolConfig
	case e.Code == http.StatusServiceUnavailable || e.Code == http.StatusGatewayTimeout:
		return KindNetwork
	}
	return KindBackend
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

func statusCode(err error) int {
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.Code
	}
	return 0
}

// Detail is the short description passed into the localized message
func Detail(err error) string {
	if apiErr, ok := asAPIError(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	var be *BackendError
	if errors.As(err, &be) && be.Err != nil {
		return be.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Describe renders err as a localized, user-facing message
func Describe(err error, tr i18n.Translator) string {
	kind := Classify(err)
	switch kind {
	case KindToolConfig, KindNetwork, KindBackend:
		return tr.T(kind.MessageKey(), Detail(err))
	default:
		return tr.T(kind.MessageKey())
	}
}
