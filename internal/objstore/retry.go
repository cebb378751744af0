package objstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryingStore retries transient failures a bounded number of times
type RetryingStore struct {
	inner    Store
	attempts int
	initial  time.Duration
}

// NewRetryingStore wraps inner. attempts counts the first try.
func NewRetryingStore(inner Store, attempts int, initial time.Duration) *RetryingStore {
	if attempts <= 0 {
		attempts = 3
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	return &RetryingStore{inner: inner, attempts: attempts, initial: initial}
}

// NewBackOff returns a fresh bounded, jittered backoff. BackOff values are stateful.
func NewBackOff(ctx context.Context, attempts int, initial time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = 10 * initial
	bo.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithMaxRetries(bo, uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}

func (r *RetryingStore) do(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, NewBackOff(ctx, r.attempts, r.initial))
}

// Get retries transient read failures
func (r *RetryingStore) Get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, func() error {
		var err error
		data, err = r.inner.Get(ctx, path)
		return err
	})
	return data, err
}

// Put retries transient write failures
func (r *RetryingStore) Put(ctx context.Context, path string, data []byte) error {
	return r.do(ctx, func() error {
		return r.inner.Put(ctx, path, data)
	})
}

// List retries transient listing failures
func (r *RetryingStore) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	err := r.do(ctx, func() error {
		var err error
		paths, err = r.inner.List(ctx, prefix)
		return err
	})
	return paths, err
}
