package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/offer-sniper/internal/domain/offer"
)

// DecisionRecord is one durable row of the decision log.
type DecisionRecord struct {
	UserID      string
	Platform    offer.Platform
	OfferID     string
	Price       float64
	Status      offer.DecisionStatus
	Reason      string
	Explanation string
	DecidedAt   time.Time
}

// LogDecision appends to the durable decision log. Explanation may be empty
// in fast mode.
func (s *Store) LogDecision(ctx context.Context, userID string, o offer.Offer, status offer.DecisionStatus, reason, explanation string) error {
	return s.db.Exec(ctx, `
INSERT INTO decisions (user_id, platform, offer_id, price, status, reason, explanation)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		userID, string(o.Platform), o.ExternalID, o.Price, string(status), reason, explanation)
}

func (s *Store) RecentDecisions(ctx context.Context, userID string, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT user_id, platform, offer_id, price, status, reason, explanation, decided_at
FROM decisions
WHERE user_id=$1
ORDER BY decided_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		if err := rows.Scan(&r.UserID, (*string)(&r.Platform), &r.OfferID, &r.Price,
			(*string)(&r.Status), &r.Reason, &r.Explanation, &r.DecidedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetOrCreateOfferMessageKey returns a stable opaque key for one (user,
// platform, offer) so a later "show details" retrieval can find the stored
// explanation. The key is opaque to the poller.
func (s *Store) GetOrCreateOfferMessageKey(ctx context.Context, userID string, p offer.Platform, offerID string) (string, error) {
	key := uuid.NewString()
	var out string
	err := s.db.QueryRow(ctx, `
INSERT INTO offer_message_keys (user_id, platform, offer_id, message_key)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, platform, offer_id) DO UPDATE SET offer_id=EXCLUDED.offer_id
RETURNING message_key`, userID, string(p), offerID, key).Scan(&out)
	if err != nil {
		return "", err
	}
	return out, nil
}
