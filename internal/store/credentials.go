package store

import (
	"context"
	"fmt"
	"time"

	"github.com/example/offer-sniper/internal/db"
	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/user"
)

// GetCredentials loads and decrypts one user's auth material for a platform.
func (s *Store) GetCredentials(ctx context.Context, userID string, p offer.Platform) (user.Credentials, error) {
	var c user.Credentials
	var status string
	err := s.db.QueryRow(ctx, `
SELECT user_id, platform, token, refresh_token, client_id, email, password, status, updated_at
FROM credentials
WHERE user_id=$1 AND platform=$2`, userID, string(p)).Scan(
		&c.UserID, (*string)(&c.Platform), &c.Token, &c.RefreshToken, &c.ClientID,
		&c.Email, &c.Password, &status, &c.UpdatedAt,
	)
	if err != nil {
		return user.Credentials{}, db.WrapNotFound(err)
	}
	c.Status = user.CredentialStatus(status)

	for _, field := range []*string{&c.Token, &c.RefreshToken, &c.Email, &c.Password} {
		v, derr := s.aead.DecryptString(*field)
		if derr != nil {
			return user.Credentials{}, fmt.Errorf("decrypt credential field: %w", derr)
		}
		*field = v
	}
	return c, nil
}

// SaveCredentials upserts, encrypting the sensitive fields. The client id is
// an OAuth identifier, not a secret, and stays plaintext.
func (s *Store) SaveCredentials(ctx context.Context, c user.Credentials) error {
	enc := c
	for _, pair := range []struct {
		src *string
		dst *string
	}{
		{&c.Token, &enc.Token},
		{&c.RefreshToken, &enc.RefreshToken},
		{&c.Email, &enc.Email},
		{&c.Password, &enc.Password},
	} {
		v, err := s.aead.EncryptString(*pair.src)
		if err != nil {
			return fmt.Errorf("encrypt credential field: %w", err)
		}
		*pair.dst = v
	}
	if enc.Status == "" {
		enc.Status = user.CredentialValid
	}
	if enc.UpdatedAt.IsZero() {
		enc.UpdatedAt = time.Now().UTC()
	}
	return s.db.Exec(ctx, `
INSERT INTO credentials (user_id, platform, token, refresh_token, client_id, email, password, status, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (user_id, platform) DO UPDATE SET
	token=$3, refresh_token=$4, client_id=$5, email=$6, password=$7, status=$8, updated_at=$9`,
		enc.UserID, string(enc.Platform), enc.Token, enc.RefreshToken, enc.ClientID,
		enc.Email, enc.Password, string(enc.Status), enc.UpdatedAt)
}

func (s *Store) SetCredentialStatus(ctx context.Context, userID string, p offer.Platform, status user.CredentialStatus) error {
	return s.db.Exec(ctx, `
UPDATE credentials SET status=$3, updated_at=now()
WHERE user_id=$1 AND platform=$2`, userID, string(p), string(status))
}
