package store

import (
	"context"
	"time"
)

const (
	retryAttempts = 3
	retryBase     = 200 * time.Millisecond
)

// WithRetry runs fn up to retryAttempts times with exponential backoff. The
// closure is re-run from scratch on every attempt, so callers build their
// whole query inside it. Transient storage errors degrade the affected
// symbol/date, not the run, so callers treat the final error as "this key is
// missing". Shared by the store adapters and the bar archive.
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := retryBase
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
