package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/offer-sniper/internal/domain/offer"
)

// Verdict is a custom predicate's opinion on an offer. Accept forces the
// offer through even when other rules fail; Reject adds a failing result;
// NoOpinion leaves the decision to the rest of the pipeline.
type Verdict int

const (
	VerdictNoOpinion Verdict = iota
	VerdictAccept
	VerdictReject
)

// CustomRule is a compiled, named predicate. The set of active names per user
// is data-driven configuration; the implementations are not.
type CustomRule struct {
	Name     string
	Evaluate func(o offer.Offer, now time.Time, loc *time.Location) (Verdict, string)
}

var registry = map[string]CustomRule{}

// Register adds a predicate to the static table. Called from init and from
// tests; later registrations with the same name replace earlier ones.
func Register(r CustomRule) { registry[r.Name] = r }

// Lookup resolves an active rule name from the user's configuration. Unknown
// names are skipped by the pipeline.
func Lookup(name string) (CustomRule, bool) {
	r, ok := registry[name]
	return r, ok
}

func init() {
	Register(CustomRule{
		Name: "no_airport_pickup",
		Evaluate: func(o offer.Offer, _ time.Time, _ *time.Location) (Verdict, string) {
			if strings.Contains(strings.ToLower(o.Ride.PickupAddress), "airport") {
				return VerdictReject, "pickup at an airport"
			}
			return VerdictNoOpinion, ""
		},
	})
	Register(CustomRule{
		Name: "no_baby_seat",
		Evaluate: func(o offer.Offer, _ time.Time, _ *time.Location) (Verdict, string) {
			req := strings.ToLower(strings.Join(strings.Fields(o.Ride.SpecialRequests), " "))
			if strings.Contains(req, "baby seat") || strings.Contains(req, "babyseat") || strings.Contains(req, "child seat") {
				return VerdictReject, "baby seat requested"
			}
			return VerdictNoOpinion, ""
		},
	})
	Register(CustomRule{
		// Night transfers under 100 are not worth the drive out.
		Name: "night_minimum_price",
		Evaluate: func(o offer.Offer, _ time.Time, loc *time.Location) (Verdict, string) {
			h := o.Ride.PickupAt.In(loc).Hour()
			if (h >= 22 || h < 6) && o.Price < 100 {
				return VerdictReject, fmt.Sprintf("night ride priced %.2f below 100.00", o.Price)
			}
			return VerdictNoOpinion, ""
		},
	})
	Register(CustomRule{
		// Long transfers are always worth taking, whatever else says no.
		Name: "always_take_long_transfer",
		Evaluate: func(o offer.Offer, _ time.Time, _ *time.Location) (Verdict, string) {
			if o.Ride.Type == offer.RideTransfer && o.Ride.DistanceMeters >= 150000 {
				return VerdictAccept, fmt.Sprintf("long transfer (%.0fkm)", float64(o.Ride.DistanceMeters)/1000)
			}
			return VerdictNoOpinion, ""
		},
	})
}
