package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorStateTransitions(t *testing.T) {
	s := NewSupervisor("device", time.Second, time.Minute)

	assert.Equal(t, StateHealthy, s.Health().State)

	s.RecordFailure()
	assert.Equal(t, StateDegraded, s.Health().State)

	s.RecordFailure()
	assert.Equal(t, StateDegraded, s.Health().State)

	s.RecordFailure()
	assert.Equal(t, StateBackoff, s.Health().State)

	s.RecordSuccess()
	assert.Equal(t, StateHealthy, s.Health().State)
	assert.Equal(t, 0, s.Health().ConsecutiveFailures)
}

func TestSupervisorBackoffMonotonic(t *testing.T) {
	s := NewSupervisor("device", time.Second, time.Minute)

	var previous time.Duration
	for i := 0; i < 12; i++ {
		s.RecordFailure()
		backoff := s.Health().Backoff
		assert.GreaterOrEqual(t, backoff, previous,
			"backoff must never decrease across consecutive failures")
		previous = backoff
	}

	// Capped at the limit
	assert.Equal(t, time.Minute, s.Health().Backoff)

	// One success resets to the floor
	s.RecordSuccess()
	assert.Equal(t, time.Second, s.Health().Backoff)
}

func TestSupervisorShouldAttempt(t *testing.T) {
	s := NewSupervisor("device", time.Second, time.Minute, WithThreshold(2))

	now := time.Now()
	assert.True(t, s.ShouldAttempt(now), "healthy connection always attempts")

	s.RecordFailure()
	assert.True(t, s.ShouldAttempt(now), "degraded still attempts immediately")

	s.RecordFailure()
	require.Equal(t, StateBackoff, s.Health().State)
	assert.False(t, s.ShouldAttempt(now), "backoff defers until the retry time")
	assert.True(t, s.ShouldAttempt(s.NextRetryAt().Add(time.Millisecond)))
}

func TestSupervisorSuccessResetsRetryGate(t *testing.T) {
	s := NewSupervisor("device", time.Second, time.Minute, WithThreshold(1))

	s.RecordFailure()
	require.False(t, s.ShouldAttempt(time.Now()))

	s.RecordSuccess()
	assert.True(t, s.ShouldAttempt(time.Now()))
}
