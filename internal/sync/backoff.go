package sync

import (
	"time"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

// Policy is the shared exponential backoff: mutation replays and failed
// sync cycles both schedule their next attempt as base doubled per prior
// failure, capped.
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultPolicy matches the cadence of an interactive client: quick first
// retries, five minutes at the worst.
func DefaultPolicy() Policy {
	return Policy{Base: 5 * time.Second, Cap: 5 * time.Minute}
}

// Delay returns the wait after the given number of failures.
func (p Policy) Delay(failures int) time.Duration {
	d := p.Base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= p.Cap || d <= 0 {
			return p.Cap
		}
	}
	return d
}

// NextAttempt returns when the mutation becomes eligible again. A
// mutation that has never been attempted is eligible immediately.
func (p Policy) NextAttempt(m *types.Mutation) time.Time {
	if m.LastAttemptAt.IsZero() {
		return time.Time{}
	}
	return m.LastAttemptAt.Add(p.Delay(m.RetryCount))
}

// Due reports whether the mutation may replay at now.
func (p Policy) Due(m *types.Mutation, now time.Time) bool {
	next := p.NextAttempt(m)
	return next.IsZero() || !now.Before(next)
}
