package runlock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeObtainErrorMapsWaitExpiryToContention(t *testing.T) {
	// The wait context expired while the parent is still live: another
	// instance held the lock for the whole wait budget.
	err := normalizeObtainError(context.Background(), context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrNotObtained)

	wrapped := fmt.Errorf("obtain lock: %w", context.DeadlineExceeded)
	err = normalizeObtainError(context.Background(), wrapped)
	assert.ErrorIs(t, err, ErrNotObtained)
}

func TestNormalizeObtainErrorKeepsParentExpiry(t *testing.T) {
	parent, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := normalizeObtainError(parent, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrNotObtained,
		"an expired caller context is a real failure, not contention")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNormalizeObtainErrorKeepsParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	err := normalizeObtainError(parent, context.Canceled)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotObtained)
}

func TestNormalizeObtainErrorPassesThroughOtherErrors(t *testing.T) {
	assert.ErrorIs(t, normalizeObtainError(context.Background(), ErrNotObtained), ErrNotObtained)

	connErr := errors.New("redis: connection refused")
	assert.Equal(t, connErr, normalizeObtainError(context.Background(), connErr))
}
