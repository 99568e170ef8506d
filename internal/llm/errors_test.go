package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"

	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not configured", fmt.Errorf("send: %w", ErrNotConfigured), KindNotConfigured},
		{"cancelled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindNetwork},
		{"bad key", genai.APIError{Code: 400, Message: "API key not valid. Please pass a valid API key.", Status: "INVALID_ARGUMENT"}, KindInvalidKey},
		{"forbidden", genai.APIError{Code: 403, Message: "denied"}, KindInvalidKey},
		{"quota", genai.APIError{Code: 429, Message: "Resource has been exhausted", Status: "RESOURCE_EXHAUSTED"}, KindQuota},
		{"tool config", genai.APIError{Code: 400, Message: "url_context tool is not supported for this model"}, KindToolConfig},
		{"server", genai.APIError{Code: 500, Message: "internal"}, KindBackend},
		{"unavailable", genai.APIError{Code: 503, Message: "overloaded"}, KindNetwork},
		{"wrapped api error", fmt.Errorf("stream: %w", genai.APIError{Code: 429}), KindQuota},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindNetwork},
		{"message pattern", errors.New("dial tcp: connection refused"), KindNetwork},
		{"unknown", errors.New("something odd"), KindBackend},
		{"already classified", &BackendError{Kind: KindQuota, Err: errors.New("x")}, KindQuota},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := genai.APIError{Code: 429, Message: "slow down"}
	err := wrap(cause)

	var be *BackendError
	assert.True(t, errors.As(err, &be))
	assert.Equal(t, KindQuota, be.Kind)
	assert.Equal(t, 429, be.Code)
	assert.Equal(t, "slow down", Detail(err))
	assert.Same(t, err, wrap(err))
}

func TestKindMessageKeysAreDistinct(t *testing.T) {
	seen := map[string]Kind{}
	for _, k := range []Kind{KindBackend, KindInvalidKey, KindQuota, KindToolConfig, KindNetwork, KindCancelled, KindNotConfigured} {
		key := k.MessageKey()
		_, dup := seen[key]
		assert.False(t, dup, "duplicate key %s", key)
		seen[key] = k
		assert.NotEqual(t, key, i18n.New("en").T(key), "key %s has no translation", key)
	}
}
