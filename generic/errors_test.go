package generic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBuilder_MarksKindAndKeepsHints(t *testing.T) {
	// GIVEN: A validation error with a hint and details
	err := NewError("rent increase exceeds cap").
		WithHintf("maximum permissible rent is %s", GBP(892.50)).
		WithDetails(map[string]any{"max_rent": "892.50"}).
		Mark(ErrValidation)

	// THEN: Kind, hint and details survive
	assert.True(t, IsValidation(err))
	assert.False(t, IsInvalidState(err))
	assert.Equal(t, []string{"maximum permissible rent is £892.50"}, Hints(err))
	assert.Equal(t, "892.50", Details(err)["max_rent"])
	assert.Equal(t, "rent increase exceeds cap", err.Error())
}

func TestErrorBuilder_SurvivesWrapping(t *testing.T) {
	base := NewError("tenancy not found").Mark(ErrNotFound)
	wrapped := errors.Wrap(base, "loading statement")

	assert.True(t, IsNotFound(wrapped))
	assert.Nil(t, Details(wrapped))
}

func TestStructuredErrors_UnwrapToKind(t *testing.T) {
	transition := &TransitionError{Entity: "tenancy", ID: "ten_1", From: "terminated", To: "active"}
	assert.True(t, IsInvalidState(transition))
	assert.Equal(t, map[string]any{
		"entity":          "tenancy",
		"current_state":   "terminated",
		"attempted_state": "active",
	}, Details(transition))

	capErr := &RentCapError{Current: GBP(850), Proposed: GBP(893.35), Max: GBP(892.50)}
	assert.True(t, IsValidation(capErr))
	assert.Equal(t, "892.50", Details(capErr)["max_rent"])

	deadline := time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)
	dl := &DeadlineError{Operation: "breach escalation", Deadline: deadline, Now: deadline.Add(-time.Hour)}
	assert.True(t, IsInvalidState(dl))
	assert.Equal(t, "2026-01-08T12:00:00Z", Details(dl)["deadline"])
}

func TestRetryOnConflict(t *testing.T) {
	conflict := NewError("version moved").Mark(ErrConcurrencyConflict)

	t.Run("retries a conflict once", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 1, func(context.Context) error {
			calls++
			if calls == 1 {
				return conflict
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 1, func(context.Context) error {
			calls++
			return conflict
		})
		assert.True(t, IsRetryable(err))
		assert.Equal(t, 2, calls)
	})

	t.Run("does not retry other kinds", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 3, func(context.Context) error {
			calls++
			return NewError("bad").Mark(ErrValidation)
		})
		assert.True(t, IsValidation(err))
		assert.Equal(t, 1, calls)
	})
}

func TestKeyedMutex_SerialisesSameKey(t *testing.T) {
	// GIVEN: Many goroutines incrementing a counter under the same key
	km := NewKeyedMutex()
	counter := 0
	var wg sync.WaitGroup

	// WHEN: They all run concurrently
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("ten_1")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	// THEN: No increment is lost and the entry is released
	assert.Equal(t, 50, counter)
	assert.Empty(t, km.locks)
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}
