package executor

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrMaxAttemptsReached indicates the retry budget was exhausted without a
// success or a terminal error.
var ErrMaxAttemptsReached = errors.New("maximum retry attempts reached")

// BackoffConfig defines the configuration for exponential backoff.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries
	MaxDelay time.Duration
	// Multiplier is the multiplier for each retry
	Multiplier float64
	// MaxAttempts is the total attempt ceiling, including the first attempt
	MaxAttempts int
	// Jitter indicates whether to add jitter to the delay
	Jitter bool
}

// DefaultBackoffConfig returns the default backoff configuration.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  4,
		Jitter:       true,
	}
}

// RetryableError marks an error as transient. Errors that do not implement
// this interface, or report false, are terminal for the action.
type RetryableError interface {
	error
	IsRetryable() bool
}

type classifiedError struct {
	error
	retryable bool
}

func (e classifiedError) IsRetryable() bool {
	return e.retryable
}

func (e classifiedError) Unwrap() error {
	return e.error
}

// Transient wraps an error as retryable.
func Transient(err error) error {
	return classifiedError{error: err, retryable: true}
}

// Terminal wraps an error as non-retryable.
func Terminal(err error) error {
	return classifiedError{error: err, retryable: false}
}

// RetryPolicy implements the retry pattern with exponential backoff.
type RetryPolicy struct {
	name   string
	config BackoffConfig
	logger *zap.Logger
	mu     sync.Mutex
	rand   *rand.Rand
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(name string, config BackoffConfig) *RetryPolicy {
	logger, _ := zap.NewProduction()

	return &RetryPolicy{
		name:   name,
		config: config,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// calculateDelay calculates the delay before the given retry attempt.
func (p *RetryPolicy) calculateDelay(attempt int) time.Duration {
	base := float64(p.config.InitialDelay) * math.Pow(p.config.Multiplier, float64(attempt-1))
	capped := math.Min(base, float64(p.config.MaxDelay))

	final := capped
	if p.config.Jitter {
		p.mu.Lock()
		jitterFactor := 0.8 + p.rand.Float64()*0.4 // Random value between 0.8 and 1.2
		p.mu.Unlock()
		final = capped * jitterFactor
	}

	return time.Duration(final)
}

// Execute runs f, retrying transient failures with backoff up to the attempt
// ceiling. It returns the number of attempts made and the final error, nil on
// success.
func (p *RetryPolicy) Execute(ctx context.Context, f func(ctx context.Context) error) (int, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if attempt > p.config.MaxAttempts {
			p.logger.Warn("Retry policy exceeded maximum attempts",
				zap.String("name", p.name),
				zap.Int("max_attempts", p.config.MaxAttempts))

			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, ErrMaxAttemptsReached
		}

		err := f(ctx)
		if err == nil {
			if attempt > 1 {
				p.logger.Debug("Retry policy succeeded",
					zap.String("name", p.name),
					zap.Int("attempts", attempt))
			}
			return attempt, nil
		}

		var retryable bool
		var re RetryableError
		if errors.As(err, &re) {
			retryable = re.IsRetryable()
		}

		if !retryable {
			p.logger.Warn("Retry policy encountered non-retryable error",
				zap.String("name", p.name),
				zap.Error(err))
			return attempt, err
		}

		lastErr = err
		delay := p.calculateDelay(attempt)

		p.logger.Debug("Retry policy failed attempt, retrying",
			zap.String("name", p.name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.config.MaxAttempts),
			zap.Int64("delay_ms", delay.Milliseconds()))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			p.logger.Warn("Retry policy context canceled",
				zap.String("name", p.name),
				zap.Error(ctx.Err()))

			return attempt, ctx.Err()
		}
	}
}
