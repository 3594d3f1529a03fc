package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/offer-sniper/internal/db"
	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/policy"
)

func (s *Store) GetPolicy(ctx context.Context, userID string) (policy.UserPolicy, error) {
	var p policy.UserPolicy
	var classesJSON []byte
	err := s.db.QueryRow(ctx, `
SELECT user_id, timezone, price_min, price_max, distance_min_km, distance_max_km,
       duration_min_h, duration_max_h, included_km_min, included_km_max,
       work_start, work_end, min_lead_minutes,
       pickup_blocklist, dropoff_blocklist, flight_blocklist,
       vehicle_classes, custom_rules, config_version
FROM policies WHERE user_id=$1`, userID).Scan(
		&p.UserID, &p.Timezone, &p.PriceMin, &p.PriceMax, &p.DistanceMinKm, &p.DistanceMaxKm,
		&p.DurationMinH, &p.DurationMaxH, &p.IncludedKmMin, &p.IncludedKmMax,
		&p.WorkStart, &p.WorkEnd, &p.MinLeadMinutes,
		&p.PickupBlocklist, &p.DropoffBlocklist, &p.FlightBlocklist,
		&classesJSON, &p.CustomRules, &p.ConfigVersion,
	)
	if err != nil {
		return policy.UserPolicy{}, db.WrapNotFound(err)
	}
	if len(classesJSON) > 0 {
		if err := json.Unmarshal(classesJSON, &p.VehicleClasses); err != nil {
			return policy.UserPolicy{}, fmt.Errorf("decode vehicle_classes: %w", err)
		}
	}
	if p.VehicleClasses == nil {
		p.VehicleClasses = map[offer.RideType]map[string]bool{}
	}
	return p, nil
}

// SavePolicy upserts the policy and bumps config_version, invalidating every
// version-gated cache entry derived from the previous snapshot.
func (s *Store) SavePolicy(ctx context.Context, p policy.UserPolicy) error {
	classesJSON, err := json.Marshal(p.VehicleClasses)
	if err != nil {
		return fmt.Errorf("encode vehicle_classes: %w", err)
	}
	return s.db.Exec(ctx, `
INSERT INTO policies (user_id, timezone, price_min, price_max, distance_min_km, distance_max_km,
	duration_min_h, duration_max_h, included_km_min, included_km_max,
	work_start, work_end, min_lead_minutes,
	pickup_blocklist, dropoff_blocklist, flight_blocklist,
	vehicle_classes, custom_rules, config_version, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,1,now())
ON CONFLICT (user_id) DO UPDATE SET
	timezone=$2, price_min=$3, price_max=$4, distance_min_km=$5, distance_max_km=$6,
	duration_min_h=$7, duration_max_h=$8, included_km_min=$9, included_km_max=$10,
	work_start=$11, work_end=$12, min_lead_minutes=$13,
	pickup_blocklist=$14, dropoff_blocklist=$15, flight_blocklist=$16,
	vehicle_classes=$17, custom_rules=$18,
	config_version=policies.config_version+1, updated_at=now()`,
		p.UserID, p.Timezone, p.PriceMin, p.PriceMax, p.DistanceMinKm, p.DistanceMaxKm,
		p.DurationMinH, p.DurationMaxH, p.IncludedKmMin, p.IncludedKmMax,
		p.WorkStart, p.WorkEnd, p.MinLeadMinutes,
		p.PickupBlocklist, p.DropoffBlocklist, p.FlightBlocklist,
		classesJSON, p.CustomRules)
}

func (s *Store) GetEndtimeFormulas(ctx context.Context, userID string) ([]policy.EndtimeFormula, error) {
	rows, err := s.db.Query(ctx, `
SELECT window_start, window_end, speed_kmh, bonus_min, priority
FROM endtime_formulas
WHERE user_id=$1
ORDER BY priority`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []policy.EndtimeFormula
	for rows.Next() {
		var f policy.EndtimeFormula
		if err := rows.Scan(&f.WindowStart, &f.WindowEnd, &f.SpeedKmh, &f.BonusMin, &f.Priority); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) GetBookedSlots(ctx context.Context, userID string) ([]policy.BookedSlot, error) {
	rows, err := s.db.Query(ctx, `
SELECT slot_from, slot_to, label
FROM booked_slots
WHERE user_id=$1
ORDER BY slot_from`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []policy.BookedSlot
	for rows.Next() {
		var b policy.BookedSlot
		if err := rows.Scan(&b.From, &b.To, &b.Label); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetBlockedDays(ctx context.Context, userID string) ([]policy.BlockedDay, error) {
	rows, err := s.db.Query(ctx, `
SELECT day
FROM blocked_days
WHERE user_id=$1
ORDER BY day`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []policy.BlockedDay
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, policy.BlockedDay{Date: d})
	}
	return out, rows.Err()
}
