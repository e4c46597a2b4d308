package model

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy retries transient provider failures.
//
// Retries happen inside a single node execution and are invisible to the
// workflow engine, which never retries nodes itself. Errors that outlast
// the policy reach the node and its retry routing.
type RetryPolicy struct {
	// MaxAttempts is the number of attempts including the first. 1 disables retries.
	MaxAttempts int

	// BaseDelay is the base of the exponential backoff.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is transient. Nil uses IsTransient.
	Retryable func(error) bool
}

// DefaultRetryPolicy makes three attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Validate checks the policy.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidRetryPolicy)
	}
	if rp.BaseDelay < 0 {
		return fmt.Errorf("%w: negative base delay", ErrInvalidRetryPolicy)
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return fmt.Errorf("%w: max delay below base delay", ErrInvalidRetryPolicy)
	}
	return nil
}

// IsTransient reports whether err looks like a temporary provider failure:
// rate limits, overload, server errors, or network trouble.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"network",
		"connection",
		"temporary",
		"rate limit",
		"overloaded",
		"429",
		"500",
		"502",
		"503",
		"529",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// computeBackoff returns min(base*2^attempt, maxDelay) plus jitter in [0, base).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}
	return delay + jitter
}

type retryModel struct {
	next   ChatModel
	policy RetryPolicy
	rng    *rand.Rand
}

// WithRetry wraps m so transient failures are retried with exponential
// backoff and jitter.
//
// Example:
//
//	m, err := model.WithRetry(anthropic.NewChatModel(key, ""), model.DefaultRetryPolicy())
func WithRetry(m ChatModel, policy RetryPolicy) (ChatModel, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	return &retryModel{next: m, policy: policy}, nil
}

// Chat implements ChatModel.
func (r *retryModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := computeBackoff(attempt-1, r.policy.BaseDelay, r.policy.MaxDelay, r.rng)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ChatOut{}, ctx.Err()
			}
		}

		out, err := r.next.Chat(ctx, messages)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !r.policy.Retryable(err) {
			return ChatOut{}, err
		}
	}
	return ChatOut{}, fmt.Errorf("model failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}
