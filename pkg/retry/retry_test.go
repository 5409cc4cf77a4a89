package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/rdapx/pkg/rdaperr"
)

var errNet = &rdaperr.NetworkError{URL: "https://rdap.example", Err: errors.New("connection reset")}

func TestDo_retryableThenSuccess(t *testing.T) {
	e := NewExecutor(Policy{MaxAttempts: 3, Backoff: BackoffFixed, InitialDelay: 10 * time.Millisecond}, nil)

	calls := 0
	start := time.Now()
	err := e.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errNet
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDo_nonRetryable(t *testing.T) {
	e := NewExecutor(Policy{MaxAttempts: 5, Backoff: BackoffFixed, InitialDelay: time.Millisecond, RetryableStatusCodes: []int{503}}, nil)

	for _, terminal := range []error{
		&rdaperr.ValidationError{Field: "domain"},
		&rdaperr.SSRFProtectionError{URL: "http://10.0.0.1"},
		&rdaperr.ServerError{Status: 404},
		&rdaperr.ParseError{Err: errors.New("eof")},
	} {
		calls := 0
		err := e.Do(context.Background(), func(context.Context) error {
			calls++
			return terminal
		})
		assert.Same(t, terminal, err)
		assert.Equal(t, 1, calls)
	}
}

func TestDo_exhausted(t *testing.T) {
	e := NewExecutor(Policy{MaxAttempts: 4, Backoff: BackoffFixed, InitialDelay: time.Millisecond, RetryableStatusCodes: []int{503}}, nil)

	calls := 0
	last := &rdaperr.ServerError{Status: 503}
	err := e.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 4 {
			return last
		}
		return errNet
	})
	assert.Equal(t, 4, calls)
	assert.Same(t, last, err)
}

func TestDo_contextInterruptsSleep(t *testing.T) {
	e := NewExecutor(Policy{MaxAttempts: 3, Backoff: BackoffFixed, InitialDelay: time.Hour}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := e.Do(ctx, func(context.Context) error {
		calls++
		return errNet
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, errNet, err)
}

func TestDo_delays(t *testing.T) {
	var slept []time.Duration
	e := NewExecutor(Policy{MaxAttempts: 5, Backoff: BackoffExponential, InitialDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}, nil)
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	_ = e.Do(context.Background(), func(context.Context) error { return errNet })
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 500 * time.Millisecond}, slept)
}

func TestPolicy_Delay(t *testing.T) {
	tests := []struct {
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{BackoffLinear, 1, 10 * time.Millisecond},
		{BackoffLinear, 3, 30 * time.Millisecond},
		{BackoffExponential, 1, 10 * time.Millisecond},
		{BackoffExponential, 4, 80 * time.Millisecond},
		{BackoffExponential, 10, 100 * time.Millisecond}, // clamped
		{BackoffFixed, 7, 10 * time.Millisecond},
	}
	for _, tt := range tests {
		p := Policy{Backoff: tt.backoff, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "%s attempt %d", tt.backoff, tt.attempt)
	}

	huge := Policy{Backoff: BackoffExponential, InitialDelay: time.Second, MaxDelay: time.Minute}
	assert.Equal(t, time.Minute, huge.Delay(1000))
}

func TestExecute(t *testing.T) {
	e := NewExecutor(Policy{MaxAttempts: 2, Backoff: BackoffFixed, InitialDelay: time.Millisecond}, nil)
	calls := 0
	v, err := Execute(context.Background(), e, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &rdaperr.TimeoutError{URL: "https://x"}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestParseBackoff(t *testing.T) {
	b, err := ParseBackoff("Linear")
	require.NoError(t, err)
	assert.Equal(t, BackoffLinear, b)
	b, err = ParseBackoff("")
	require.NoError(t, err)
	assert.Equal(t, BackoffExponential, b)
	_, err = ParseBackoff("random")
	require.Error(t, err)
}
