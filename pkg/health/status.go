package health

import "time"

// Status tracks the consecutive-result history for a single
// (instance, check-definition) pair.
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
	StartedAt            time.Time
	everSucceeded        bool
}

// NewStatus creates a Status that has not yet produced a result.
// Healthy starts false: a task with health checks is not considered
// alive until its first successful probe (spec 4.4: "failures during
// gracePeriod with no prior success are suppressed", implying the
// instance is not yet counted as healthy either way).
func NewStatus() *Status {
	return &Status{StartedAt: time.Now()}
}

// Update folds a new probe result into the status. Preserves the
// source's evaluation order exactly as noted in spec section 9, open
// question (b): callers must read ConsecutiveFailures *after* this
// call returns when deciding whether to act on the kill threshold, not
// before — Update mutates the counters first, and the caller's
// "consecutive failures" check is against the post-update state.
func (s *Status) Update(result Result) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.everSucceeded = true
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	s.Healthy = false
}

// InGracePeriod reports whether a failure right now would fall inside
// the task's grace period with no prior success, and should therefore
// be suppressed per spec 4.4.
func (s *Status) InGracePeriod(grace time.Duration) bool {
	if s.everSucceeded {
		return false
	}
	return time.Since(s.StartedAt) < grace
}

// ConsecutiveFailuresAtOrAbove reports whether the post-update
// consecutive-failure count has reached max, per the source's
// post-update evaluation order (spec section 9, open question (b)).
func (s *Status) ConsecutiveFailuresAtOrAbove(max int) bool {
	return s.ConsecutiveFailures >= max
}
