package user

import (
	"time"

	"github.com/example/offer-sniper/internal/domain/offer"
)

type User struct {
	ID            string
	Name          string
	Active        bool
	TenantEnabled bool
	CreatedAt     time.Time
}

// Eligible reports whether the poller should run a cycle for this user.
func (u User) Eligible() bool { return u.Active && u.TenantEnabled }

type CredentialStatus string

const (
	CredentialValid      CredentialStatus = "valid"
	CredentialRefreshing CredentialStatus = "refreshing"
	CredentialExpired    CredentialStatus = "expired"
)

// Credentials holds one user's auth material for one platform. Token and
// RefreshToken rotate; Email/Password are the portal re-login material and
// never change except by operator edit. Mutated only by the token manager.
type Credentials struct {
	UserID   string
	Platform offer.Platform

	Token        string
	RefreshToken string
	// ClientID is the OAuth client captured during the driver-app's initial
	// login; required for the refresh-token exchange.
	ClientID string

	Email    string
	Password string

	Status    CredentialStatus
	UpdatedAt time.Time
}

// CanRefresh reports whether any refresh material exists for the platform.
func (c Credentials) CanRefresh() bool {
	if c.Platform == offer.PlatformDriverApp {
		return c.RefreshToken != "" && c.ClientID != ""
	}
	return c.Email != "" && c.Password != ""
}
