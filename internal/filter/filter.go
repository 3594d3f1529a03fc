// Package filter implements the admission pipeline: an ordered set of rules,
// each producing a pass/fail verdict with a human-readable detail. All rules
// run on every offer (no short-circuit) so the user always gets a complete
// explanation of the decision.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/policy"
	"github.com/example/offer-sniper/internal/schedule"
)

// Input carries everything one evaluation needs. Offer.EndsAt must already be
// attached (or left zero) by the end-time calculator.
type Input struct {
	Offer  offer.Offer
	Policy policy.UserPolicy

	BookedSlots []policy.BookedSlot
	BlockedDays []policy.BlockedDay
	Committed   []policy.Interval

	Now time.Time
}

// Outcome aggregates all rule verdicts into an accept/reject decision.
type Outcome struct {
	Accepted bool
	Results  []offer.FilterResult
	// Overridden lists failing rules that a custom predicate's accept
	// verdict forced through.
	Overridden []string
	Reason     string
}

// Evaluate runs the full pipeline. An offer is rejected if any rule fails,
// unless a custom predicate explicitly returned accept, in which case the
// failing rules are recorded as overridden.
func Evaluate(in Input) Outcome {
	loc := in.Policy.Loc()
	pickup := in.Offer.Ride.PickupAt.In(loc)

	var results []offer.FilterResult
	add := func(rule string, passed bool, detail string) {
		results = append(results, offer.FilterResult{Rule: rule, Passed: passed, Detail: detail})
	}

	// 1. Work-hours window. Absent window means the rule is skipped, not
	// recorded as a pass.
	if in.Policy.WorkStart != "" && in.Policy.WorkEnd != "" {
		passed, detail := checkWorkHours(pickup, in.Policy.WorkStart, in.Policy.WorkEnd)
		add("work_hours", passed, detail)
	}

	// 2. Blocked calendar day.
	if len(in.BlockedDays) > 0 {
		passed, detail := checkBlockedDay(pickup, in.BlockedDays)
		add("blocked_day", passed, detail)
	}

	// 3. Minimum lead time.
	if in.Policy.MinLeadMinutes > 0 {
		gap := in.Offer.Ride.PickupAt.Sub(in.Now)
		need := time.Duration(in.Policy.MinLeadMinutes) * time.Minute
		if gap < need {
			add("lead_time", false, fmt.Sprintf("pickup in %s, need at least %d min", gap.Round(time.Minute), in.Policy.MinLeadMinutes))
		} else {
			add("lead_time", true, "")
		}
	}

	// 4. Hourly duration bounds.
	if in.Offer.Ride.Type == offer.RideHourly && (in.Policy.DurationMinH > 0 || in.Policy.DurationMaxH > 0) {
		passed, detail := checkHourlyDuration(in.Offer, in.Policy)
		add("hourly_duration", passed, detail)
	}

	// 5. Custom predicate rules. Accept verdicts are remembered for the
	// override decision below.
	acceptOverride := false
	for _, name := range in.Policy.CustomRules {
		rule, ok := Lookup(name)
		if !ok {
			continue
		}
		verdict, detail := rule.Evaluate(in.Offer, in.Now, loc)
		switch verdict {
		case VerdictAccept:
			acceptOverride = true
			add("custom:"+name, true, detail)
		case VerdictReject:
			add("custom:"+name, false, detail)
		}
	}

	// 6. Price bounds.
	if in.Policy.PriceMin > 0 || in.Policy.PriceMax > 0 {
		passed, detail := checkPrice(in.Offer.Price, in.Policy)
		add("price", passed, detail)
	}

	// 7. Distance bounds (transfer) / included-km bounds (hourly).
	if passed, detail, applies := checkDistance(in.Offer, in.Policy); applies {
		add("distance", passed, detail)
	}

	// 8. Pickup/dropoff blocklists.
	if len(in.Policy.PickupBlocklist) > 0 {
		passed, detail := checkTextBlocklist("pickup", in.Offer.Ride.PickupAddress, in.Policy.PickupBlocklist)
		add("pickup_blocklist", passed, detail)
	}
	if len(in.Policy.DropoffBlocklist) > 0 {
		passed, detail := checkTextBlocklist("dropoff", in.Offer.Ride.DropoffAddress, in.Policy.DropoffBlocklist)
		add("dropoff_blocklist", passed, detail)
	}

	// 9. Flight-number blocklist.
	if len(in.Policy.FlightBlocklist) > 0 && in.Offer.Ride.FlightNumber != "" {
		passed, detail := checkFlight(in.Offer.Ride.FlightNumber, in.Policy.FlightBlocklist)
		add("flight_blocklist", passed, detail)
	}

	// 10. Vehicle-class enablement. Always evaluated: an unknown or disabled
	// class fails.
	{
		passed, detail := checkVehicleClass(in.Offer, in.Policy)
		add("vehicle_class", passed, detail)
	}

	// 11. Booked-slot overlap.
	if len(in.BookedSlots) > 0 {
		passed, detail := checkBookedSlots(in.Offer, in.BookedSlots)
		add("booked_slot", passed, detail)
	}

	// 12. Already-accepted-interval overlap.
	if c, hit := schedule.FindConflict(in.Offer.Ride.PickupAt, in.Offer.EndsAt, in.Committed); hit {
		add("accepted_conflict", false, c.Detail())
	} else {
		add("accepted_conflict", true, "")
	}

	return aggregate(results, acceptOverride)
}

func aggregate(results []offer.FilterResult, acceptOverride bool) Outcome {
	var failing []offer.FilterResult
	for _, r := range results {
		if !r.Passed {
			failing = append(failing, r)
		}
	}

	out := Outcome{Results: results}
	switch {
	case len(failing) == 0:
		out.Accepted = true
		out.Reason = "all rules passed"
	case acceptOverride:
		out.Accepted = true
		names := make([]string, 0, len(failing))
		for _, r := range failing {
			names = append(names, r.Rule)
		}
		out.Overridden = names
		out.Reason = "accepted by rule override (overridden: " + strings.Join(names, ", ") + ")"
	default:
		details := make([]string, 0, len(failing))
		for _, r := range failing {
			if r.Detail != "" {
				details = append(details, r.Rule+": "+r.Detail)
			} else {
				details = append(details, r.Rule)
			}
		}
		out.Reason = strings.Join(details, "; ")
	}
	return out
}

// Explain renders the complete per-rule breakdown for the user-facing
// message. Skipped in fast mode for rejected offers.
func Explain(results []offer.FilterResult) string {
	var b strings.Builder
	for _, r := range results {
		mark := "ok"
		if !r.Passed {
			mark = "FAIL"
		}
		b.WriteString(r.Rule)
		b.WriteString(": ")
		b.WriteString(mark)
		if r.Detail != "" {
			b.WriteString(" (")
			b.WriteString(r.Detail)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}
