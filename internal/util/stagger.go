package util

import (
	"context"
	"math/rand/v2"
	"time"
)

// Stagger sleeps for a random duration in [lo, hi] before a request to an
// upstream provider. Bounds given in the wrong order are swapped.
type Stagger struct {
	lo, hi time.Duration
}

// NewStagger returns a Stagger for [lo, hi]. A zero range disables it.
func NewStagger(lo, hi time.Duration) *Stagger {
	if lo > hi {
		lo, hi = hi, lo
	}
	return &Stagger{lo: lo, hi: hi}
}

// Next returns the next delay.
func (s *Stagger) Next() time.Duration {
	if s == nil || s.hi <= 0 {
		return 0
	}
	if s.hi == s.lo {
		return s.lo
	}
	return s.lo + rand.N(s.hi-s.lo+1)
}

// Wait sleeps for Next() or until ctx is done.
func (s *Stagger) Wait(ctx context.Context) error {
	d := s.Next()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
