// Package health tracks the health of the process's logical connections
// (the device API link and the bus link) and supplies the shared reconnect
// policy consulted by every poller.
package health

import (
	"log/slog"
	"sync"
	"time"
)

// State is the reconnect state machine position for one logical connection
type State int

// Supervisor states
const (
	// StateHealthy means operations proceed normally
	StateHealthy State = iota
	// StateDegraded means at least one recent failure; retry immediately
	StateDegraded
	// StateBackoff means repeated failures; wait until the retry deadline
	StateBackoff
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// ConnectionHealth is a point-in-time view of a supervised connection
type ConnectionHealth struct {
	State               State
	ConsecutiveFailures int
	Backoff             time.Duration
	NextRetryAt         time.Time
}

// Supervisor implements bounded exponential backoff for one logical
// connection. It is shared by every poller that depends on that connection;
// all state is guarded by its internal mutex.
//
// Transitions: HEALTHY -> DEGRADED on the first failure, DEGRADED -> BACKOFF
// once failures reach the threshold, any state -> HEALTHY on success. The
// backoff duration is min(base * 2^failures, cap) and therefore
// non-decreasing across consecutive failures; it resets to the base on the
// first success.
type Supervisor struct {
	name      string
	base      time.Duration
	cap       time.Duration
	threshold int
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	backoff     time.Duration
	nextRetryAt time.Time
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithLogger sets the logger used for state transition logs
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithThreshold sets the number of consecutive failures before entering
// backoff (default 3)
func WithThreshold(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// NewSupervisor creates a supervisor for one named logical connection.
// base is the backoff floor, limit the backoff cap.
func NewSupervisor(name string, base, limit time.Duration, opts ...Option) *Supervisor {
	if base <= 0 {
		base = time.Second
	}
	if limit < base {
		limit = base
	}
	s := &Supervisor{
		name:      name,
		base:      base,
		cap:       limit,
		threshold: 3,
		state:     StateHealthy,
		backoff:   base,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordFailure registers a failed operation on the connection and advances
// the state machine
func (s *Supervisor) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++

	backoff := s.base << uint(s.failures)
	if backoff > s.cap || backoff <= 0 {
		backoff = s.cap
	}
	// Monotonically non-decreasing across consecutive failures
	if backoff < s.backoff {
		backoff = s.backoff
	}
	s.backoff = backoff

	prev := s.state
	switch {
	case s.failures >= s.threshold:
		s.state = StateBackoff
		s.nextRetryAt = time.Now().Add(s.backoff)
	default:
		s.state = StateDegraded
	}

	if s.logger != nil && prev != s.state {
		s.logger.Warn("Connection state changed",
			"connection", s.name,
			"from", prev.String(),
			"to", s.state.String(),
			"consecutive_failures", s.failures,
			"backoff", s.backoff)
	}
}

// RecordSuccess registers a successful operation; any state transitions
// immediately to healthy and the backoff resets to its floor
func (s *Supervisor) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = StateHealthy
	s.failures = 0
	s.backoff = s.base
	s.nextRetryAt = time.Time{}

	if s.logger != nil && prev != StateHealthy {
		s.logger.Info("Connection recovered", "connection", s.name, "from", prev.String())
	}
}

// ShouldAttempt reports whether a caller may attempt an operation now.
// Only the backoff state defers attempts, and only until the retry deadline.
func (s *Supervisor) ShouldAttempt(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateBackoff {
		return true
	}
	return !now.Before(s.nextRetryAt)
}

// NextRetryAt returns the deadline before which backed-off callers must not
// attempt an operation. Zero when not in backoff.
func (s *Supervisor) NextRetryAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRetryAt
}

// Health returns a snapshot of the supervised connection's state
func (s *Supervisor) Health() ConnectionHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ConnectionHealth{
		State:               s.state,
		ConsecutiveFailures: s.failures,
		Backoff:             s.backoff,
		NextRetryAt:         s.nextRetryAt,
	}
}

// Name returns the connection name
func (s *Supervisor) Name() string {
	return s.name
}
