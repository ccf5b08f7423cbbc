package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryRerunsClosureFromScratch(t *testing.T) {
	// each attempt must observe state reset inside the closure, never
	// accumulated results from a failed attempt
	var rows []string
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		rows = rows[:0]
		rows = append(rows, "a", "b")
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rows)
}

func TestWithRetryGivesUp(t *testing.T) {
	sentinel := errors.New("persistent")
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, retryAttempts, attempts)
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := WithRetry(ctx, func() error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
