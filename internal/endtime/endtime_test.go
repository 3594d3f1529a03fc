package endtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/policy"
)

var pickup = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func transferRide(distanceM, durationMin int) offer.Ride {
	return offer.Ride{Type: offer.RideTransfer, PickupAt: pickup, DistanceMeters: distanceM, DurationMin: durationMin}
}

func TestCompute_HourlyUsesReportedDuration(t *testing.T) {
	r := offer.Ride{Type: offer.RideHourly, PickupAt: pickup, DurationMin: 180}
	got := Compute(r, nil, time.UTC)
	assert.Equal(t, pickup.Add(3*time.Hour), got)
}

func TestCompute_HourlyWithoutDurationIsUnknown(t *testing.T) {
	r := offer.Ride{Type: offer.RideHourly, PickupAt: pickup}
	assert.True(t, Compute(r, nil, time.UTC).IsZero())
}

func TestCompute_TransferRoundTripFormula(t *testing.T) {
	// 20km at 40km/h round trip = 60min, plus 10 bonus = pickup + 70min.
	formulas := []policy.EndtimeFormula{{SpeedKmh: 40, BonusMin: 10}}
	got := Compute(transferRide(20000, 0), formulas, time.UTC)
	assert.Equal(t, pickup.Add(70*time.Minute), got)
}

func TestCompute_KeepsSubMinutePrecision(t *testing.T) {
	// 15.5km at 40km/h round trip = 46.5min; the half minute must not be
	// truncated away.
	formulas := []policy.EndtimeFormula{{SpeedKmh: 40, BonusMin: 0}}
	got := Compute(transferRide(15500, 0), formulas, time.UTC)
	assert.Equal(t, pickup.Add(46*time.Minute+30*time.Second), got)
}

func TestCompute_ZeroSpeedDoesNotFault(t *testing.T) {
	formulas := []policy.EndtimeFormula{{SpeedKmh: 0, BonusMin: 15}}
	got := Compute(transferRide(20000, 0), formulas, time.UTC)
	assert.Equal(t, pickup.Add(15*time.Minute), got)
}

func TestCompute_TransferFallsBackToReportedDuration(t *testing.T) {
	// No formula matches and no distance known.
	got := Compute(transferRide(0, 45), nil, time.UTC)
	assert.Equal(t, pickup.Add(45*time.Minute), got)
}

func TestCompute_TransferNothingKnownIsUnknown(t *testing.T) {
	assert.True(t, Compute(transferRide(0, 0), nil, time.UTC).IsZero())
}

func TestSelectFormula(t *testing.T) {
	tests := []struct {
		name     string
		formulas []policy.EndtimeFormula
		wantOK   bool
		wantBon  int
	}{
		{
			name: "lowest priority wins among overlapping windows",
			formulas: []policy.EndtimeFormula{
				{WindowStart: "08:00", WindowEnd: "12:00", Priority: 2, BonusMin: 20},
				{WindowStart: "09:00", WindowEnd: "11:00", Priority: 1, BonusMin: 10},
			},
			wantOK:  true,
			wantBon: 10,
		},
		{
			name: "wildcard only when no window matches",
			formulas: []policy.EndtimeFormula{
				{WindowStart: "20:00", WindowEnd: "23:00", Priority: 1, BonusMin: 5},
				{Priority: 9, BonusMin: 30},
			},
			wantOK:  true,
			wantBon: 30,
		},
		{
			name: "windowed row beats lower-priority wildcard",
			formulas: []policy.EndtimeFormula{
				{Priority: 1, BonusMin: 30},
				{WindowStart: "09:00", WindowEnd: "11:00", Priority: 5, BonusMin: 10},
			},
			wantOK:  true,
			wantBon: 10,
		},
		{
			name: "window wrapping midnight",
			formulas: []policy.EndtimeFormula{
				{WindowStart: "22:00", WindowEnd: "11:00", Priority: 1, BonusMin: 7},
			},
			wantOK:  true,
			wantBon: 7,
		},
		{
			name:     "no rows",
			formulas: nil,
			wantOK:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := selectFormula(pickup, tt.formulas)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantBon, f.BonusMin)
			}
		})
	}
}
