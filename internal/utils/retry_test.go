package utils

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-relay/internal/logging"
)

var errFlaky = errors.New("flaky")

func discardLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewWithWriter(io.Discard, "error")
	require.NoError(t, err)
	return logger
}

func TestRetry_SucceedsEventually(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), discardLogger(t), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), discardLogger(t), 2, time.Millisecond, func() error {
		calls++
		return errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, discardLogger(t), 5, time.Hour, func() error {
		calls++
		cancel()
		return errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}
