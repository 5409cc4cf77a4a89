// Package retry runs an operation with bounded attempts. Only errors of the
// retryable class (see rdaperr.IsRetryable) are retried; every other error
// is returned unchanged on the first failure.
package retry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pmkol/rdapx/pkg/pool"
	"github.com/pmkol/rdapx/pkg/rdaperr"
)

type Backoff string

const (
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
	BackoffFixed       Backoff = "fixed"
)

func ParseBackoff(s string) (Backoff, error) {
	switch b := Backoff(strings.ToLower(s)); b {
	case BackoffLinear, BackoffExponential, BackoffFixed:
		return b, nil
	case "":
		return BackoffExponential, nil
	}
	return "", fmt.Errorf("unknown backoff strategy %q", s)
}

type Policy struct {
	MaxAttempts          int
	Backoff              Backoff
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	RetryableStatusCodes []int
}

// DefaultPolicy retries network errors, timeouts and 429/5xx gateway
// statuses up to 3 times.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:          3,
		Backoff:              BackoffExponential,
		InitialDelay:         time.Second,
		MaxDelay:             10 * time.Second,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

// Delay returns the sleep before attempt+1, given that attempt failed.
// No jitter is applied.
func (p Policy) Delay(attempt int) time.Duration {
	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = p.InitialDelay * time.Duration(attempt)
	case BackoffFixed:
		d = p.InitialDelay
	default:
		d = p.InitialDelay
		for i := 1; i < attempt; i++ {
			if d > math.MaxInt64/2 || (p.MaxDelay > 0 && d >= p.MaxDelay) {
				break
			}
			d *= 2
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// State is the state of one Do call.
type State struct {
	Attempt   int
	LastErr   error
	NextDelay time.Duration
}

type Executor struct {
	policy Policy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewExecutor(p Policy, logger *zap.Logger) *Executor {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{policy: p, logger: logger, sleep: pool.Sleep}
}

func (e *Executor) Policy() Policy {
	return e.policy
}

// Do invokes op until it succeeds, fails with a terminal error, or
// MaxAttempts is reached. The last error is returned unchanged. A done ctx
// interrupts the backoff sleep and returns the last op error.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	s := State{Attempt: 1}
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		s.LastErr = err

		if !rdaperr.IsRetryable(err, e.policy.RetryableStatusCodes) {
			return err
		}
		if s.Attempt >= e.policy.MaxAttempts {
			e.logger.Debug("retry attempts exhausted", zap.Int("attempts", s.Attempt), zap.Error(err))
			return err
		}

		s.NextDelay = e.policy.Delay(s.Attempt)
		e.logger.Debug("retryable failure",
			zap.Int("attempt", s.Attempt),
			zap.Duration("next_delay", s.NextDelay),
			zap.Error(err))
		if serr := e.sleep(ctx, s.NextDelay); serr != nil {
			return s.LastErr
		}
		s.Attempt++
	}
}

// Execute is Do for operations returning a value.
func Execute[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var res T
	err := e.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		res = v
		return nil
	})
	return res, err
}
