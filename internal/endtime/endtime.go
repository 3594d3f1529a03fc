// Package endtime derives an offer's estimated completion time, either from
// the upstream-reported duration or from the user's speed/bonus formula
// table.
package endtime

import (
	"sort"
	"time"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/policy"
)

// Compute returns the derived end time for a ride, or the zero time when no
// end can be derived. Formula selection is deterministic: among windowed rows
// whose local time-of-day window contains the pickup, the lowest Priority
// wins; a wildcard row is chosen only when no windowed row matches.
func Compute(r offer.Ride, formulas []policy.EndtimeFormula, loc *time.Location) time.Time {
	if r.Type == offer.RideHourly {
		if r.DurationMin > 0 {
			return r.PickupAt.Add(time.Duration(r.DurationMin) * time.Minute)
		}
		return time.Time{}
	}

	if f, ok := selectFormula(r.PickupAt.In(loc), formulas); ok && r.DistanceMeters > 0 {
		distKm := float64(r.DistanceMeters) / 1000.0
		// Round trip back to base, hence the doubling. A zero or negative
		// speed yields a zero travel term instead of faulting.
		var travelMin float64
		if f.SpeedKmh > 0 {
			travelMin = 2 * distKm / f.SpeedKmh * 60
		}
		total := time.Duration(travelMin*float64(time.Minute)) + time.Duration(f.BonusMin)*time.Minute
		return r.PickupAt.Add(total)
	}

	if r.DurationMin > 0 {
		return r.PickupAt.Add(time.Duration(r.DurationMin) * time.Minute)
	}
	return time.Time{}
}

func selectFormula(localPickup time.Time, formulas []policy.EndtimeFormula) (policy.EndtimeFormula, bool) {
	ordered := make([]policy.EndtimeFormula, len(formulas))
	copy(ordered, formulas)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	minute := localPickup.Hour()*60 + localPickup.Minute()

	var wildcard policy.EndtimeFormula
	haveWildcard := false
	for _, f := range ordered {
		if f.Wildcard() {
			if !haveWildcard {
				wildcard = f
				haveWildcard = true
			}
			continue
		}
		start, ok1 := parseClock(f.WindowStart)
		end, ok2 := parseClock(f.WindowEnd)
		if !ok1 || !ok2 {
			continue
		}
		if inWindow(minute, start, end) {
			return f, true
		}
	}
	if haveWildcard {
		return wildcard, true
	}
	return policy.EndtimeFormula{}, false
}

// inWindow tests minute-of-day membership in [start, end), wrapping across
// midnight when start > end.
func inWindow(m, start, end int) bool {
	if start <= end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
