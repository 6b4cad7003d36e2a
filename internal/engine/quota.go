package engine

import (
	"errors"
	"fmt"
	"sync"
)

// QuotaEnforcer counts the dispatches descending from one root dispatch
// and enforces a maximum.
//
// Every Manager.Dispatch call gets a fresh enforcer. Chained triggers,
// deferred replays and state-change events inherit it, so a trigger_after
// cycle stops after maxSteps dispatches instead of running forever.
//
// Safe for concurrent use: with Manager.Run the descendants of one root
// may complete on different goroutines.
type QuotaEnforcer struct {
	mu       sync.Mutex
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
// Returns StepsExceededError if the quota is exceeded.
func (q *QuotaEnforcer) Check(chain string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			Chain: chain,
			Steps: q.current,
			Limit: q.maxSteps,
		}
	}
	return nil
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a chain exceeds the max steps quota.
// The offending dispatch is dropped; dispatches already running finish.
type StepsExceededError struct {
	Chain string // Description of the dispatch that was dropped
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("chain %s exceeded max steps quota: %d steps > %d limit",
		e.Chain, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
