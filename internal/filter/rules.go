package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/policy"
	"github.com/example/offer-sniper/internal/schedule"
)

func checkWorkHours(localPickup time.Time, startStr, endStr string) (bool, string) {
	start, ok1 := parseClock(startStr)
	end, ok2 := parseClock(endStr)
	if !ok1 || !ok2 {
		// Unparseable window degrades to a skip-equivalent pass.
		return true, ""
	}
	m := localPickup.Hour()*60 + localPickup.Minute()
	// Inclusive on both ends; windows may wrap midnight.
	var in bool
	if start <= end {
		in = m >= start && m <= end
	} else {
		in = m >= start || m <= end
	}
	if !in {
		return false, fmt.Sprintf("pickup %s outside work hours %s-%s", localPickup.Format("15:04"), startStr, endStr)
	}
	return true, ""
}

func checkBlockedDay(localPickup time.Time, days []policy.BlockedDay) (bool, string) {
	y, m, d := localPickup.Date()
	for _, bd := range days {
		by, bm, bdy := bd.Date.Date()
		if y == by && m == bm && d == bdy {
			return false, fmt.Sprintf("day %s is blocked", localPickup.Format("2006-01-02"))
		}
	}
	return true, ""
}

func checkHourlyDuration(o offer.Offer, p policy.UserPolicy) (bool, string) {
	hours := float64(o.Ride.DurationMin) / 60.0
	if p.DurationMinH > 0 && hours < p.DurationMinH {
		return false, fmt.Sprintf("duration %.1fh below minimum %.1fh", hours, p.DurationMinH)
	}
	if p.DurationMaxH > 0 && hours > p.DurationMaxH {
		return false, fmt.Sprintf("duration %.1fh above maximum %.1fh", hours, p.DurationMaxH)
	}
	return true, ""
}

func checkPrice(price float64, p policy.UserPolicy) (bool, string) {
	if p.PriceMin > 0 && price < p.PriceMin {
		return false, fmt.Sprintf("price %.2f below minimum %.2f", price, p.PriceMin)
	}
	if p.PriceMax > 0 && price > p.PriceMax {
		return false, fmt.Sprintf("price %.2f above maximum %.2f", price, p.PriceMax)
	}
	return true, ""
}

// checkDistance applies transfer distance bounds in km, or included-km
// bounds for hourly rides. applies is false when the policy has no relevant
// bound configured.
func checkDistance(o offer.Offer, p policy.UserPolicy) (passed bool, detail string, applies bool) {
	if o.Ride.Type == offer.RideTransfer {
		if p.DistanceMinKm <= 0 && p.DistanceMaxKm <= 0 {
			return true, "", false
		}
		if o.Ride.DistanceMeters <= 0 {
			// No reported distance: the bound cannot veto.
			return true, "", true
		}
		km := float64(o.Ride.DistanceMeters) / 1000.0
		if p.DistanceMinKm > 0 && km < p.DistanceMinKm {
			return false, fmt.Sprintf("distance %.1fkm below minimum %.1fkm", km, p.DistanceMinKm), true
		}
		if p.DistanceMaxKm > 0 && km > p.DistanceMaxKm {
			return false, fmt.Sprintf("distance %.1fkm above maximum %.1fkm", km, p.DistanceMaxKm), true
		}
		return true, "", true
	}

	if p.IncludedKmMin <= 0 && p.IncludedKmMax <= 0 {
		return true, "", false
	}
	if p.IncludedKmMin > 0 && o.Ride.IncludedKm < p.IncludedKmMin {
		return false, fmt.Sprintf("included %dkm below minimum %dkm", o.Ride.IncludedKm, p.IncludedKmMin), true
	}
	if p.IncludedKmMax > 0 && o.Ride.IncludedKm > p.IncludedKmMax {
		return false, fmt.Sprintf("included %dkm above maximum %dkm", o.Ride.IncludedKm, p.IncludedKmMax), true
	}
	return true, "", true
}

// checkTextBlocklist does a case-insensitive substring match; the first hit
// is reported.
func checkTextBlocklist(field, text string, blocklist []string) (bool, string) {
	lower := strings.ToLower(text)
	for _, entry := range blocklist {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		if strings.Contains(lower, e) {
			return false, fmt.Sprintf("%s matches blocklist entry %q", field, entry)
		}
	}
	return true, ""
}

// NormalizeFlight strips everything non-alphanumeric and upper-cases, so
// "EK 243", "ek-243" and "EK243" compare equal.
func NormalizeFlight(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func checkFlight(flight string, blocklist []string) (bool, string) {
	norm := NormalizeFlight(flight)
	for _, entry := range blocklist {
		if NormalizeFlight(entry) == norm {
			return false, fmt.Sprintf("flight %s is blocklisted", flight)
		}
	}
	return true, ""
}

func checkVehicleClass(o offer.Offer, p policy.UserPolicy) (bool, string) {
	classes, ok := p.VehicleClasses[o.Ride.Type]
	if !ok {
		return false, fmt.Sprintf("no classes enabled for %s rides", o.Ride.Type)
	}
	if classes[strings.ToLower(o.VehicleClass)] {
		return true, ""
	}
	return false, fmt.Sprintf("class %q not enabled for %s rides", o.VehicleClass, o.Ride.Type)
}

func checkBookedSlots(o offer.Offer, slots []policy.BookedSlot) (bool, string) {
	for _, s := range slots {
		if schedule.OverlapsSlot(o.Ride.PickupAt, o.EndsAt, s) {
			label := s.Label
			if label == "" {
				label = s.From.Format("15:04") + "-" + s.To.Format("15:04")
			}
			return false, fmt.Sprintf("overlaps booked slot %s", label)
		}
	}
	return true, ""
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
