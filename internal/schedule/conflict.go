// Package schedule detects time conflicts between a candidate offer and the
// user's existing commitments.
package schedule

import (
	"fmt"
	"time"

	"github.com/example/offer-sniper/internal/domain/policy"
)

// Conflict describes which committed interval a candidate collides with.
type Conflict struct {
	With policy.Interval
}

func (c Conflict) Detail() string {
	if c.With.HasEnd() {
		return fmt.Sprintf("conflicts with committed job %s..%s",
			c.With.Start.Format(time.RFC3339), c.With.End.Format(time.RFC3339))
	}
	return fmt.Sprintf("conflicts with committed job at %s", c.With.Start.Format(time.RFC3339))
}

// FindConflict checks a candidate [start, end) against the committed set.
// A zero end marks an unknown completion time; such candidates and such
// committed intervals are treated as point events. Returns the first
// conflicting interval in set order.
func FindConflict(start, end time.Time, committed []policy.Interval) (Conflict, bool) {
	for _, iv := range committed {
		if overlaps(start, end, iv) {
			return Conflict{With: iv}, true
		}
	}
	return Conflict{}, false
}

func overlaps(start, end time.Time, iv policy.Interval) bool {
	// Candidate start inside the committed span (inclusive bounds: starting
	// exactly when another job ends is still a conflict for a chauffeur).
	if iv.HasEnd() {
		if !start.Before(iv.Start) && !start.After(iv.End) {
			return true
		}
	} else if start.Equal(iv.Start) {
		return true
	}

	// Both ends known: standard disjointness test.
	if !end.IsZero() && iv.HasEnd() {
		if start.Before(iv.End) && iv.Start.Before(end) {
			return true
		}
	}

	// Committed point event falling inside the candidate span.
	if !end.IsZero() && !iv.HasEnd() {
		if !iv.Start.Before(start) && iv.Start.Before(end) {
			return true
		}
	}
	return false
}

// OverlapsSlot tests a candidate against a user-declared booked slot
// [From, To). When the candidate end is unknown, the test degrades to a
// point-in-interval check on the pickup alone.
func OverlapsSlot(start, end time.Time, slot policy.BookedSlot) bool {
	if end.IsZero() {
		return !start.Before(slot.From) && start.Before(slot.To)
	}
	return start.Before(slot.To) && slot.From.Before(end)
}
