package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/policy"
)

func basePolicy() policy.UserPolicy {
	return policy.UserPolicy{
		UserID:   "u1",
		Timezone: "UTC",
		VehicleClasses: map[offer.RideType]map[string]bool{
			offer.RideTransfer: {"business": true},
			offer.RideHourly:   {"business": true},
		},
		ConfigVersion: 1,
	}
}

func baseOffer(pickup time.Time) offer.Offer {
	return offer.Offer{
		Platform:     offer.PlatformDriverApp,
		ExternalID:   "o1",
		Price:        120,
		Currency:     "EUR",
		VehicleClass: "Business",
		Ride: offer.Ride{
			Type:           offer.RideTransfer,
			PickupAt:       pickup,
			PickupAddress:  "Hotel Adlon, Berlin",
			DropoffAddress: "BER Terminal 1",
			DistanceMeters: 30000,
		},
	}
}

var pickup = time.Date(2025, 1, 1, 21, 0, 0, 0, time.UTC)

func evaluate(o offer.Offer, p policy.UserPolicy, mod func(*Input)) Outcome {
	in := Input{Offer: o, Policy: p, Now: pickup.Add(-6 * time.Hour)}
	if mod != nil {
		mod(&in)
	}
	return Evaluate(in)
}

func result(t *testing.T, out Outcome, rule string) offer.FilterResult {
	t.Helper()
	for _, r := range out.Results {
		if r.Rule == rule {
			return r
		}
	}
	t.Fatalf("no result for rule %s", rule)
	return offer.FilterResult{}
}

func TestEvaluate_CleanOfferAccepted(t *testing.T) {
	out := evaluate(baseOffer(pickup), basePolicy(), nil)
	assert.True(t, out.Accepted)
	assert.Equal(t, "all rules passed", out.Reason)
}

func TestEvaluate_PriceBelowMinimum(t *testing.T) {
	p := basePolicy()
	p.PriceMin = 90
	o := baseOffer(pickup)
	o.Price = 85

	out := evaluate(o, p, nil)
	require.False(t, out.Accepted)
	r := result(t, out, "price")
	assert.False(t, r.Passed)
	assert.Contains(t, r.Detail, "85")
	assert.Contains(t, r.Detail, "90")
}

func TestEvaluate_WorkHours(t *testing.T) {
	p := basePolicy()
	p.WorkStart = "08:00"
	p.WorkEnd = "18:00"

	out := evaluate(baseOffer(pickup), p, nil) // pickup 21:00
	require.False(t, out.Accepted)
	assert.False(t, result(t, out, "work_hours").Passed)

	// Absent window: the rule is skipped entirely, not recorded as a pass.
	out = evaluate(baseOffer(pickup), basePolicy(), nil)
	for _, r := range out.Results {
		assert.NotEqual(t, "work_hours", r.Rule)
	}
}

func TestEvaluate_BlockedDay(t *testing.T) {
	out := evaluate(baseOffer(pickup), basePolicy(), func(in *Input) {
		in.BlockedDays = []policy.BlockedDay{{Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}}
	})
	require.False(t, out.Accepted)
	assert.Contains(t, result(t, out, "blocked_day").Detail, "2025-01-01")
}

func TestEvaluate_LeadTime(t *testing.T) {
	p := basePolicy()
	p.MinLeadMinutes = 120

	out := evaluate(baseOffer(pickup), p, func(in *Input) {
		in.Now = pickup.Add(-30 * time.Minute)
	})
	require.False(t, out.Accepted)
	assert.False(t, result(t, out, "lead_time").Passed)
}

func TestEvaluate_BookedSlotOverlap(t *testing.T) {
	// Slot 20:00-22:00, pickup 21:00: rejected regardless of everything else
	// passing.
	out := evaluate(baseOffer(pickup), basePolicy(), func(in *Input) {
		in.BookedSlots = []policy.BookedSlot{{
			From: time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC),
			To:   time.Date(2025, 1, 1, 22, 0, 0, 0, time.UTC),
		}}
	})
	require.False(t, out.Accepted)
	assert.False(t, result(t, out, "booked_slot").Passed)
}

func TestEvaluate_AcceptedIntervalConflict(t *testing.T) {
	out := evaluate(baseOffer(pickup), basePolicy(), func(in *Input) {
		in.Committed = []policy.Interval{{
			Start: pickup.Add(-30 * time.Minute),
			End:   pickup.Add(30 * time.Minute),
		}}
	})
	require.False(t, out.Accepted)
	assert.False(t, result(t, out, "accepted_conflict").Passed)
}

func TestEvaluate_VehicleClass(t *testing.T) {
	o := baseOffer(pickup)
	o.VehicleClass = "Van"
	out := evaluate(o, basePolicy(), nil)
	require.False(t, out.Accepted)
	assert.Contains(t, result(t, out, "vehicle_class").Detail, "Van")
}

func TestEvaluate_FlightBlocklistNormalization(t *testing.T) {
	for _, stored := range []string{"EK 243", "ek-243", "EK243"} {
		p := basePolicy()
		p.FlightBlocklist = []string{stored}
		o := baseOffer(pickup)
		o.Ride.FlightNumber = "ek 243"

		out := evaluate(o, p, nil)
		assert.False(t, out.Accepted, "blocklist entry %q should match", stored)
	}
}

func TestEvaluate_TextBlocklists(t *testing.T) {
	p := basePolicy()
	p.PickupBlocklist = []string{"ADLON"}
	out := evaluate(baseOffer(pickup), p, nil)
	require.False(t, out.Accepted)
	assert.Contains(t, result(t, out, "pickup_blocklist").Detail, "ADLON")
}

func TestEvaluate_AllRulesEvaluatedNoShortCircuit(t *testing.T) {
	p := basePolicy()
	p.PriceMin = 500
	p.PickupBlocklist = []string{"adlon"}

	out := evaluate(baseOffer(pickup), p, nil)
	require.False(t, out.Accepted)
	assert.False(t, result(t, out, "price").Passed)
	assert.False(t, result(t, out, "pickup_blocklist").Passed)
	assert.Contains(t, out.Reason, "price")
	assert.Contains(t, out.Reason, "pickup_blocklist")
}

func TestEvaluate_CustomRejectRule(t *testing.T) {
	p := basePolicy()
	p.CustomRules = []string{"no_baby_seat"}
	o := baseOffer(pickup)
	o.Ride.SpecialRequests = "Please provide a  BABY   seat"

	out := evaluate(o, p, nil)
	require.False(t, out.Accepted)
	assert.False(t, result(t, out, "custom:no_baby_seat").Passed)
}

func TestEvaluate_AcceptOverrideWinsOverFailingRules(t *testing.T) {
	p := basePolicy()
	p.PriceMin = 500 // would normally reject
	p.CustomRules = []string{"always_take_long_transfer"}
	o := baseOffer(pickup)
	o.Ride.DistanceMeters = 200000

	out := evaluate(o, p, nil)
	require.True(t, out.Accepted)
	assert.Contains(t, out.Overridden, "price")
	assert.Contains(t, out.Reason, "override")
}

func TestEvaluate_HourlyDurationBounds(t *testing.T) {
	p := basePolicy()
	p.DurationMinH = 2
	p.DurationMaxH = 8
	o := baseOffer(pickup)
	o.Ride.Type = offer.RideHourly
	o.Ride.DurationMin = 60 // 1h, below minimum

	out := evaluate(o, p, nil)
	require.False(t, out.Accepted)
	assert.False(t, result(t, out, "hourly_duration").Passed)
}

func TestNormalizeFlight(t *testing.T) {
	tests := []struct{ in, want string }{
		{"EK 243", "EK243"},
		{"ek-243", "EK243"},
		{"EK243", "EK243"},
		{" lh 1770 ", "LH1770"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeFlight(tt.in))
	}
}

func TestExplain(t *testing.T) {
	s := Explain([]offer.FilterResult{
		{Rule: "price", Passed: true},
		{Rule: "work_hours", Passed: false, Detail: "outside window"},
	})
	assert.Contains(t, s, "price: ok")
	assert.Contains(t, s, "work_hours: FAIL (outside window)")
}
