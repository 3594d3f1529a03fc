package policy

import (
	"time"

	"github.com/example/offer-sniper/internal/domain/offer"
)

// UserPolicy is a read-only snapshot of one user's admission configuration.
// The configuration layer owns mutation and bumps ConfigVersion on every
// edit; the poller only ever sees snapshots.
type UserPolicy struct {
	UserID   string
	Timezone string

	PriceMin float64
	PriceMax float64

	// Transfer distance bounds in kilometers; zero disables the bound.
	DistanceMinKm float64
	DistanceMaxKm float64

	// Hourly duration bounds in hours; DurationMaxH zero disables the cap.
	DurationMinH float64
	DurationMaxH float64

	// Hourly included-kilometers bounds; zero disables.
	IncludedKmMin int
	IncludedKmMax int

	// Work-hours window as local "HH:MM" strings; both empty disables the rule.
	WorkStart string
	WorkEnd   string

	// MinLeadMinutes is the minimum gap between now and pickup.
	MinLeadMinutes int

	PickupBlocklist  []string
	DropoffBlocklist []string
	FlightBlocklist  []string

	// VehicleClasses maps (ride type, class name, lower-cased) to enablement.
	VehicleClasses map[offer.RideType]map[string]bool

	// CustomRules names the compiled predicate rules active for this user.
	CustomRules []string

	ConfigVersion int64
}

// Loc resolves the policy timezone, falling back to UTC on a bad name so a
// misconfigured zone degrades to UTC math instead of failing the cycle.
func (p UserPolicy) Loc() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EndtimeFormula is one row of the per-user end-time table. A row with no
// window (WindowStart == WindowEnd == "") is the wildcard fallback.
type EndtimeFormula struct {
	// WindowStart/WindowEnd are local "HH:MM"; the window is [start, end).
	WindowStart string
	WindowEnd   string
	SpeedKmh    float64
	BonusMin    int
	// Priority orders rows; the lowest matching value wins.
	Priority int
}

// Wildcard reports whether the row has no time-of-day window.
func (f EndtimeFormula) Wildcard() bool { return f.WindowStart == "" && f.WindowEnd == "" }

// BookedSlot is a user-declared blackout interval [From, To) in local time.
type BookedSlot struct {
	From  time.Time
	To    time.Time
	Label string
}

// BlockedDay is a calendar date (local) on which nothing may be accepted.
type BlockedDay struct {
	Date time.Time
}

// Interval is a committed job's [Start, End) span. End may be zero when the
// job's completion time is unknown; such intervals are treated as points.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) HasEnd() bool { return !iv.End.IsZero() }
