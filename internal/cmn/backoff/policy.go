package backoff

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ErrRetriesExhausted is returned by a policy when no more retries are allowed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy decides how long to wait before the next attempt.
type RetryPolicy interface {
	// ComputeNextInterval returns the wait before retry number retryCount
	// (0-based), or ErrRetriesExhausted.
	ComputeNextInterval(retryCount int, elapsedTime time.Duration, err error) (time.Duration, error)
}

const (
	defaultBackoffFactor = 2.0
	defaultMaxInterval   = 10 * time.Second
)

// ExponentialBackoffPolicy multiplies the interval by BackoffFactor after
// each retry, capped at MaxInterval.
type ExponentialBackoffPolicy struct {
	InitialInterval time.Duration
	BackoffFactor   float64
	MaxInterval     time.Duration
	// MaxRetries is the maximum number of retries allowed. 0 means unlimited retries.
	MaxRetries int
}

// NewExponentialBackoffPolicy creates an exponential policy with a factor
// of 2 and a 10s cap.
func NewExponentialBackoffPolicy(initialInterval time.Duration) *ExponentialBackoffPolicy {
	return &ExponentialBackoffPolicy{
		InitialInterval: initialInterval,
		BackoffFactor:   defaultBackoffFactor,
		MaxInterval:     defaultMaxInterval,
	}
}

// ComputeNextInterval implements RetryPolicy.
func (p *ExponentialBackoffPolicy) ComputeNextInterval(retryCount int, _ time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	interval := float64(p.InitialInterval) * math.Pow(p.BackoffFactor, float64(retryCount))
	if p.MaxInterval > 0 && interval > float64(p.MaxInterval) {
		interval = float64(p.MaxInterval)
	}
	return time.Duration(interval), nil
}

// ConstantBackoffPolicy waits the same interval between retries.
type ConstantBackoffPolicy struct {
	Interval time.Duration
	// MaxRetries is the maximum number of retries allowed. 0 means unlimited retries.
	MaxRetries int
}

// NewConstantBackoffPolicy creates a constant policy with unlimited retries.
func NewConstantBackoffPolicy(interval time.Duration) *ConstantBackoffPolicy {
	return &ConstantBackoffPolicy{Interval: interval}
}

// ComputeNextInterval implements RetryPolicy.
func (p *ConstantBackoffPolicy) ComputeNextInterval(retryCount int, _ time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	return p.Interval, nil
}

// NoRetry is a policy that never retries.
var NoRetry RetryPolicy = noRetry{}

type noRetry struct{}

func (noRetry) ComputeNextInterval(int, time.Duration, error) (time.Duration, error) {
	return 0, ErrRetriesExhausted
}

// JitterFunc randomizes an interval.
type JitterFunc func(time.Duration) time.Duration

// FullJitter picks uniformly in [0, interval].
func FullJitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return rand.N(interval + 1) //nolint:gosec // jitter does not need a CSPRNG
}

// EqualJitter keeps half the interval and randomizes the other half.
func EqualJitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	half := interval / 2
	return half + rand.N(interval-half+1) //nolint:gosec // jitter does not need a CSPRNG
}

// WithJitter wraps policy so every computed interval passes through jitter.
func WithJitter(policy RetryPolicy, jitter JitterFunc) RetryPolicy {
	return &jitterPolicy{base: policy, jitter: jitter}
}

type jitterPolicy struct {
	base   RetryPolicy
	jitter JitterFunc
}

func (p *jitterPolicy) ComputeNextInterval(retryCount int, elapsed time.Duration, err error) (time.Duration, error) {
	interval, e := p.base.ComputeNextInterval(retryCount, elapsed, err)
	if e != nil {
		return 0, e
	}
	return p.jitter(interval), nil
}
