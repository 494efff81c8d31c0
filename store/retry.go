package store

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/pkg/errors"
)

// RetryPolicy bounds how storage operations are retried. Delays grow
// exponentially from BaseDelay, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries transient storage failures a handful of times
// before giving up.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Delay returns how long to wait before the given attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Do runs op with retries per the policy. Non-retryable errors and context
// cancellation end retrying immediately.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Delay(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = op(); err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
	}
	return errors.Wrapf(err, "giving up after %d attempts", p.MaxAttempts)
}

// Retryable reports whether an error looks transient. Throttling, internal
// service errors, and dropped connections qualify; missing objects and bad
// requests do not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrNotExist) || errors.Is(err, context.Canceled) {
		return false
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case "SlowDown", "Throttling", "ThrottlingException",
			"RequestTimeout", "InternalError", "ServiceUnavailable":
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "timeout")
}

// RetryingStore wraps a Store so every operation observes a RetryPolicy.
type RetryingStore struct {
	inner  Store
	policy RetryPolicy
}

var _ Store = (*RetryingStore)(nil)

func WithRetry(s Store, p RetryPolicy) *RetryingStore {
	return &RetryingStore{inner: s, policy: p}
}

func (r *RetryingStore) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := r.policy.Do(ctx, func() error {
		var err error
		ok, err = r.inner.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (r *RetryingStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.policy.Do(ctx, func() error {
		var err error
		data, err = r.inner.Get(ctx, key)
		return err
	})
	return data, err
}

func (r *RetryingStore) Put(ctx context.Context, key string, data []byte) error {
	return r.policy.Do(ctx, func() error {
		return r.inner.Put(ctx, key, data)
	})
}

func (r *RetryingStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.policy.Do(ctx, func() error {
		var err error
		keys, err = r.inner.List(ctx, prefix)
		return err
	})
	return keys, err
}

func (r *RetryingStore) Delete(ctx context.Context, key string) error {
	return r.policy.Do(ctx, func() error {
		return r.inner.Delete(ctx, key)
	})
}
