package recovery

import (
	"context"
	"errors"
	"math"
	"time"
)

// FailureCategory tells a retry strategy whether an error is worth retrying.
type FailureCategory int

const (
	CategoryTransient FailureCategory = iota
	CategoryPermanent
)

// Classifier maps an error to its failure category.
type Classifier func(err error) FailureCategory

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the error and attempt count.
	ShouldRetry(err error, attempt int) bool
}

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration // 0 = uncapped
	MaxAttempts  int
	Classifier   Classifier
}

// DefaultClassifier retries everything except context cancellation.
func DefaultClassifier(err error) FailureCategory {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryPermanent
	}
	return CategoryTransient
}

// RetryAll treats every error as transient. Callers that stop on their own
// context cancellation use it so that timeouts inside an attempt are retried.
func RetryAll(err error) FailureCategory {
	return CategoryTransient
}

// NewBackoff returns an uncapped backoff of base·2^attempt over maxAttempts attempts.
func NewBackoff(base time.Duration, maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: base,
		MaxAttempts:  maxAttempts,
		Classifier:   DefaultClassifier,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if s.MaxDelay > 0 && delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is transient and max attempts not exceeded.
// attempt is the number of attempts already made.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}

	classifier := s.Classifier
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return classifier(err) == CategoryTransient
}
