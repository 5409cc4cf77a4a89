package rdaperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	codes := []int{429, 502, 503, 504}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &NetworkError{URL: "https://x", Err: errors.New("reset")}, true},
		{"timeout", &TimeoutError{URL: "https://x", Err: context.DeadlineExceeded}, true},
		{"wrapped network", fmt.Errorf("fetch: %w", &NetworkError{Err: errors.New("eof")}), true},
		{"listed status", &ServerError{Status: 503}, true},
		{"unlisted status", &ServerError{Status: 500}, false},
		{"not found", &ServerError{Status: 404}, false},
		{"validation", &ValidationError{Field: "domain"}, false},
		{"ssrf", &SSRFProtectionError{URL: "http://x"}, false},
		{"rate limit", &RateLimitError{}, false},
		{"no server", &NoServerFoundError{}, false},
		{"parse", &ParseError{Err: errors.New("bad json")}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err, codes))
		})
	}
}

func TestCodeHintStatus(t *testing.T) {
	err := fmt.Errorf("query: %w", &RateLimitError{Key: "k", Limit: 3, Window: time.Second, RetryAfter: 250 * time.Millisecond})
	assert.Equal(t, CodeRateLimit, CodeOf(err))
	assert.Equal(t, http.StatusTooManyRequests, StatusOf(err))
	assert.Contains(t, HintOf(err), "250ms")

	plain := errors.New("boom")
	assert.Equal(t, "INTERNAL_ERROR", CodeOf(plain))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(plain))
	assert.Empty(t, HintOf(plain))

	assert.Equal(t, http.StatusNotFound, StatusOf(&ServerError{Status: 404}))
	assert.Equal(t, http.StatusBadGateway, StatusOf(&ServerError{Status: 500}))
	assert.Equal(t, CodeQueueCleared, CodeOf(ErrQueueCleared))
}

func TestConcreteTypeSurvivesWrapping(t *testing.T) {
	cause := context.DeadlineExceeded
	err := fmt.Errorf("attempt 3: %w", &TimeoutError{URL: "https://x", Timeout: time.Second, Err: cause})

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, time.Second, te.Timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
