// Package token keeps platform credentials usable: proactive refresh near
// expiry, reactive refresh on unauthorized responses, and per-user debounce
// so concurrent tasks never stampede the identity endpoints.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/user"
	"github.com/example/offer-sniper/internal/platform"
)

// Store is the slice of the persistence collaborator the manager needs.
type Store interface {
	GetCredentials(ctx context.Context, userID string, p offer.Platform) (user.Credentials, error)
	SaveCredentials(ctx context.Context, creds user.Credentials) error
	SetCredentialStatus(ctx context.Context, userID string, p offer.Platform, status user.CredentialStatus) error
}

const (
	DefaultSkew            = 5 * time.Minute
	DefaultDebounce        = 30 * time.Second
	DefaultResolveCooldown = time.Hour
)

// ErrNoRefreshMaterial means the credential cannot be renewed at all; the
// caller should surface a pinned warning if no other platform works.
var ErrNoRefreshMaterial = fmt.Errorf("no refresh material available")

type refreshKey struct {
	userID   string
	platform offer.Platform
}

type Manager struct {
	store      Store
	refreshers map[offer.Platform]platform.Refresher

	skew            time.Duration
	debounce        time.Duration
	resolveCooldown time.Duration

	mu          sync.Mutex
	lastRefresh map[refreshKey]time.Time
	lastResolve map[string]time.Time

	now func() time.Time
	log *slog.Logger
}

func NewManager(store Store, refreshers map[offer.Platform]platform.Refresher) *Manager {
	return &Manager{
		store:           store,
		refreshers:      refreshers,
		skew:            DefaultSkew,
		debounce:        DefaultDebounce,
		resolveCooldown: DefaultResolveCooldown,
		lastRefresh:     make(map[refreshKey]time.Time),
		lastResolve:     make(map[string]time.Time),
		now:             time.Now,
		log:             slog.With("component", "token"),
	}
}

// ExpiresAt extracts the exp claim from a bearer token without verifying the
// signature; we hold the token, we do not issue it. ok is false when the
// token is absent or carries no parseable expiry.
func ExpiresAt(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// NeedsRefresh reports whether the token should be renewed before use. A
// token with an unparseable expiry is treated as still valid: the next 401
// will drive a reactive refresh instead.
func (m *Manager) NeedsRefresh(creds user.Credentials) bool {
	if creds.Token == "" {
		return true
	}
	exp, ok := ExpiresAt(creds.Token)
	if !ok {
		return false
	}
	return m.now().Add(m.skew).After(exp)
}

// EnsureFresh performs the proactive check before a fetch. On refresh failure
// the stale credentials are returned with the error: the caller may still try
// them and let a 401 drive the reactive path.
func (m *Manager) EnsureFresh(ctx context.Context, creds user.Credentials) (user.Credentials, error) {
	if !m.NeedsRefresh(creds) {
		return creds, nil
	}
	return m.refresh(ctx, creds)
}

// ForceRefresh is the reactive path after an unauthorized response. The
// caller contract allows at most one forced refresh per upstream call; the
// debounce additionally collapses refreshes across concurrent calls — when
// another task refreshed moments ago, the stored credentials are re-read
// instead of hitting the identity endpoint again.
func (m *Manager) ForceRefresh(ctx context.Context, creds user.Credentials) (user.Credentials, error) {
	key := refreshKey{userID: creds.UserID, platform: creds.Platform}

	m.mu.Lock()
	last, seen := m.lastRefresh[key]
	m.mu.Unlock()
	if seen && m.now().Sub(last) < m.debounce {
		stored, err := m.store.GetCredentials(ctx, creds.UserID, creds.Platform)
		if err != nil {
			return creds, err
		}
		return stored, nil
	}
	return m.refresh(ctx, creds)
}

func (m *Manager) refresh(ctx context.Context, creds user.Credentials) (user.Credentials, error) {
	if !creds.CanRefresh() {
		_ = m.store.SetCredentialStatus(ctx, creds.UserID, creds.Platform, user.CredentialExpired)
		return creds, ErrNoRefreshMaterial
	}
	refresher, ok := m.refreshers[creds.Platform]
	if !ok {
		return creds, fmt.Errorf("no refresher for platform %s", creds.Platform)
	}

	_ = m.store.SetCredentialStatus(ctx, creds.UserID, creds.Platform, user.CredentialRefreshing)

	renewed, err := refresher.Refresh(ctx, creds)
	if err != nil {
		m.log.Warn("credential refresh failed",
			"user", creds.UserID, "platform", creds.Platform, "error", err)
		_ = m.store.SetCredentialStatus(ctx, creds.UserID, creds.Platform, user.CredentialExpired)
		return creds, err
	}

	renewed.Status = user.CredentialValid
	renewed.UpdatedAt = m.now().UTC()
	if err := m.store.SaveCredentials(ctx, renewed); err != nil {
		return creds, fmt.Errorf("persist refreshed credentials: %w", err)
	}

	key := refreshKey{userID: creds.UserID, platform: creds.Platform}
	m.mu.Lock()
	m.lastRefresh[key] = m.now()
	m.mu.Unlock()

	m.log.Info("credential refreshed", "user", creds.UserID, "platform", creds.Platform)
	return renewed, nil
}

// AllowIdentityProbe gates the background identity-discovery task to one
// probe per user per cooldown window. Best effort; correctness of offer
// acceptance never depends on it.
func (m *Manager) AllowIdentityProbe(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastResolve[userID]; ok && m.now().Sub(last) < m.resolveCooldown {
		return false
	}
	m.lastResolve[userID] = m.now()
	return true
}
