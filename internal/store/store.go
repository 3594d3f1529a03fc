// Package store is the postgres-backed configuration and decision-log
// collaborator. The poller only reads snapshots; writes come from the
// operator CLI and the token manager.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/offer-sniper/internal/crypto"
	"github.com/example/offer-sniper/internal/db"
	"github.com/example/offer-sniper/internal/domain/user"
)

var ErrNotFound = db.ErrNotFound

type Store struct {
	db   *db.DB
	aead *crypto.AEAD
}

func New(d *db.DB, aead *crypto.AEAD) *Store {
	return &Store{db: d, aead: aead}
}

func (s *Store) CreateUser(ctx context.Context, name string) (user.User, error) {
	u := user.User{
		ID:            uuid.NewString(),
		Name:          name,
		Active:        true,
		TenantEnabled: true,
		CreatedAt:     time.Now().UTC(),
	}
	err := s.db.Exec(ctx, `
INSERT INTO users(id, name, active, tenant_enabled, created_at)
VALUES ($1,$2,$3,$4,$5)`,
		u.ID, u.Name, u.Active, u.TenantEnabled, u.CreatedAt)
	if err != nil {
		return user.User{}, err
	}
	// Seed an empty policy row so reads never miss.
	err = s.db.Exec(ctx, `INSERT INTO policies(user_id) VALUES ($1) ON CONFLICT DO NOTHING`, u.ID)
	return u, err
}

// GetActiveUsers returns users eligible for polling: active and
// tenant-enabled.
func (s *Store) GetActiveUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, active, tenant_enabled, created_at
FROM users
WHERE active AND tenant_enabled
ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, active, tenant_enabled, created_at
FROM users
ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func scanUsers(rows db.Rows) ([]user.User, error) {
	var out []user.User
	for rows.Next() {
		var u user.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Active, &u.TenantEnabled, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) error {
	return s.db.Exec(ctx, `UPDATE users SET active=$2 WHERE id=$1`, userID, active)
}
