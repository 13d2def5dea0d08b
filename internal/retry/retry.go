// Package retry wraps fallible calls against the queue, object store and
// database in an exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxRetries = 3
	DefaultBase       = 1 * time.Second
	DefaultFactor     = 2.0
	DefaultMaxJitter  = 1 * time.Second
)

var throttlingCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestThrottled":                       true,
	"RequestThrottledException":              true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
	"RequestLimitExceeded":                   true,
	"SlowDown":                               true,
}

// Policy retries an operation up to MaxRetries times after the first attempt,
// sleeping Base * Factor^(retry-1) plus a uniform jitter in [0, MaxJitter)
// between attempts. Errors for which NonRetryable returns true, or that were
// marked with Permanent, are returned immediately.
type Policy struct {
	MaxRetries   uint
	Base         time.Duration
	Factor       float64
	MaxJitter    time.Duration
	NonRetryable func(error) bool
	Logger       zerolog.Logger

	timer retrygo.Timer
}

func NewPolicy(logger zerolog.Logger) Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		Base:       DefaultBase,
		Factor:     DefaultFactor,
		MaxJitter:  DefaultMaxJitter,
		Logger:     logger,
	}
}

// WithNonRetryable returns a copy of p that additionally refuses to retry any
// error matching one of errs.
func (p Policy) WithNonRetryable(errs ...error) Policy {
	prev := p.NonRetryable
	p.NonRetryable = func(err error) bool {
		if prev != nil && prev(err) {
			return true
		}
		for _, target := range errs {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
	return p
}

// WithNonRetryableFunc returns a copy of p that additionally refuses to retry
// errors for which fn returns true.
func (p Policy) WithNonRetryableFunc(fn func(error) bool) Policy {
	prev := p.NonRetryable
	p.NonRetryable = func(err error) bool {
		return (prev != nil && prev(err)) || fn(err)
	}
	return p
}

// Backoff returns the sleep before the given retry (1-based), without jitter.
func (p Policy) Backoff(retry uint) time.Duration {
	if retry == 0 {
		retry = 1
	}
	factor := p.Factor
	if factor <= 0 {
		factor = DefaultFactor
	}
	return time.Duration(float64(p.Base) * math.Pow(factor, float64(retry-1)))
}

func (p Policy) delay(n uint, _ error, _ *retrygo.Config) time.Duration {
	d := p.Backoff(n)
	if p.MaxJitter > 0 {
		d += time.Duration(rand.Int64N(int64(p.MaxJitter)))
	}
	return d
}

func (p Policy) shouldRetry(err error) bool {
	if !retrygo.IsRecoverable(err) || IsPermanent(err) {
		return false
	}
	if p.NonRetryable != nil && p.NonRetryable(err) {
		return false
	}
	return true
}

// Do runs fn under the policy. When retries are exhausted the last error is
// returned unchanged; a non-retryable error is returned wrapped in Permanent.
func (p Policy) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	_, err := DoWithData(ctx, p, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, p Policy, operation string, fn func(context.Context) (T, error)) (T, error) {
	var permanent bool

	opts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(p.MaxRetries + 1),
		retrygo.DelayType(p.delay),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			if p.shouldRetry(err) {
				return true
			}
			permanent = true
			return false
		}),
		retrygo.OnRetry(func(n uint, err error) {
			p.Logger.Warn().Err(err).
				Str("operation", operation).
				Uint("attempt", n+1).
				Uint("maxRetries", p.MaxRetries).
				Msg("operation failed, retrying")
		}),
	}
	if p.timer != nil {
		opts = append(opts, retrygo.WithTimer(p.timer))
	}

	result, err := retrygo.DoWithData(func() (T, error) { return fn(ctx) }, opts...)
	if err == nil {
		return result, nil
	}

	if permanent {
		p.Logger.Error().Err(err).Str("operation", operation).Msg("operation failed with a non-retryable error")
		return result, Permanent(err)
	}

	p.Logger.Error().Err(err).
		Str("operation", operation).
		Uint("retries", p.MaxRetries).
		Msg("operation failed, retries exhausted")
	return result, err
}

// IsThrottling reports whether err is an AWS throttling response.
func IsThrottling(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return throttlingCodes[apiErr.ErrorCode()]
	}
	return false
}

// IsClientFault reports whether err is an AWS API error blamed on the caller,
// other than throttling. Those do not improve with retries.
func IsClientFault(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() == smithy.FaultClient && !throttlingCodes[apiErr.ErrorCode()]
	}
	return false
}
