package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/user"
	"github.com/example/offer-sniper/internal/platform"
	"github.com/example/offer-sniper/internal/token"
)

type reserveResult struct {
	status platform.StatusClass
	body   string
	err    error
}

type scriptedClient struct {
	platform offer.Platform
	script   []reserveResult
	calls    []user.Credentials
}

func (c *scriptedClient) Platform() offer.Platform { return c.platform }

func (c *scriptedClient) FetchOffers(context.Context, user.Credentials) (platform.StatusClass, []offer.Offer, error) {
	return platform.StatusOK, nil, nil
}

func (c *scriptedClient) FetchRides(context.Context, user.Credentials) (platform.StatusClass, []offer.Ride, error) {
	return platform.StatusOK, nil, nil
}

func (c *scriptedClient) Reserve(_ context.Context, creds user.Credentials, _ string, _ float64) (platform.StatusClass, string, error) {
	c.calls = append(c.calls, creds)
	r := c.script[0]
	if len(c.script) > 1 {
		c.script = c.script[1:]
	}
	return r.status, r.body, r.err
}

type memStore struct {
	saved user.Credentials
}

func (m *memStore) GetCredentials(context.Context, string, offer.Platform) (user.Credentials, error) {
	return m.saved, nil
}

func (m *memStore) SaveCredentials(_ context.Context, c user.Credentials) error {
	m.saved = c
	return nil
}

func (m *memStore) SetCredentialStatus(context.Context, string, offer.Platform, user.CredentialStatus) error {
	return nil
}

type staticRefresher struct {
	token string
	err   error
	calls int
}

func (r *staticRefresher) Refresh(_ context.Context, c user.Credentials) (user.Credentials, error) {
	r.calls++
	if r.err != nil {
		return user.Credentials{}, r.err
	}
	c.Token = r.token
	return c, nil
}

func testCreds() user.Credentials {
	return user.Credentials{
		UserID:       "u1",
		Platform:     offer.PlatformDriverApp,
		Token:        "stale",
		RefreshToken: "rt",
		ClientID:     "cid",
	}
}

func testOffer() offer.Offer {
	return offer.Offer{Platform: offer.PlatformDriverApp, ExternalID: "o1", Price: 120}
}

func newDispatcher(client *scriptedClient, r platform.Refresher) *Dispatcher {
	tokens := token.NewManager(&memStore{}, map[offer.Platform]platform.Refresher{
		offer.PlatformDriverApp: r,
	})
	return New(map[offer.Platform]platform.Client{offer.PlatformDriverApp: client}, tokens)
}

func TestReserve_Accepted(t *testing.T) {
	client := &scriptedClient{platform: offer.PlatformDriverApp,
		script: []reserveResult{{status: platform.StatusOK}}}
	d := newDispatcher(client, &staticRefresher{})

	res := d.Reserve(context.Background(), testCreds(), testOffer())
	assert.Equal(t, offer.DecisionAccepted, res.Decision.Status)
	assert.Equal(t, "offer claimed", res.Decision.Reason)
	assert.Empty(t, res.Refreshed.UserID)
}

func TestReserve_RaceLoss(t *testing.T) {
	tests := []struct {
		name       string
		result     reserveResult
		wantReason string
	}{
		{"conflict", reserveResult{status: platform.StatusGone, body: `{"error":"offer already taken"}`}, "offer already claimed"},
		{"expired body", reserveResult{status: platform.StatusGone, body: `{"error":"offer expired"}`}, "offer expired"},
		{"validation", reserveResult{status: platform.StatusValidationFailed}, "offer became invalid"},
		{"server error", reserveResult{status: platform.StatusServerError}, "upstream error"},
		{"network", reserveResult{err: errors.New("dial tcp: timeout")}, "network error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedClient{platform: offer.PlatformDriverApp, script: []reserveResult{tt.result}}
			d := newDispatcher(client, &staticRefresher{})

			res := d.Reserve(context.Background(), testCreds(), testOffer())
			// A lost race is never "rejected": rejection is reserved for
			// policy decisions, and the reason is always populated.
			assert.Equal(t, offer.DecisionNotAccepted, res.Decision.Status)
			assert.Equal(t, tt.wantReason, res.Decision.Reason)
			assert.NotEmpty(t, res.Decision.Reason)
		})
	}
}

func TestReserve_UnauthorizedRefreshRetry(t *testing.T) {
	client := &scriptedClient{platform: offer.PlatformDriverApp, script: []reserveResult{
		{status: platform.StatusUnauthorized},
		{status: platform.StatusOK},
	}}
	d := newDispatcher(client, &staticRefresher{token: "fresh"})

	res := d.Reserve(context.Background(), testCreds(), testOffer())
	require.Equal(t, offer.DecisionAccepted, res.Decision.Status)
	require.Len(t, client.calls, 2)
	assert.Equal(t, "stale", client.calls[0].Token)
	assert.Equal(t, "fresh", client.calls[1].Token, "retry uses the renewed token")
	assert.Equal(t, "fresh", res.Refreshed.Token, "caller learns about the renewed credentials")
}

func TestReserve_UnauthorizedRetryOnlyOnce(t *testing.T) {
	client := &scriptedClient{platform: offer.PlatformDriverApp, script: []reserveResult{
		{status: platform.StatusUnauthorized},
		{status: platform.StatusUnauthorized},
	}}
	r := &staticRefresher{token: "fresh"}
	d := newDispatcher(client, r)

	res := d.Reserve(context.Background(), testCreds(), testOffer())
	assert.Equal(t, offer.DecisionNotAccepted, res.Decision.Status)
	assert.Equal(t, "session expired", res.Decision.Reason)
	assert.Len(t, client.calls, 2, "exactly one retry")
	assert.Equal(t, 1, r.calls)
}

func TestReserve_RefreshFailureSkipsRetry(t *testing.T) {
	client := &scriptedClient{platform: offer.PlatformDriverApp, script: []reserveResult{
		{status: platform.StatusUnauthorized},
	}}
	d := newDispatcher(client, &staticRefresher{err: errors.New("identity down")})

	res := d.Reserve(context.Background(), testCreds(), testOffer())
	assert.Equal(t, offer.DecisionNotAccepted, res.Decision.Status)
	assert.Equal(t, "session expired", res.Decision.Reason)
	assert.Len(t, client.calls, 1)
}

func TestReserve_SurvivesCanceledCycle(t *testing.T) {
	// The claim context is detached from cycle cancellation: a cancelled
	// parent must not abort an in-flight claim.
	client := &scriptedClient{platform: offer.PlatformDriverApp,
		script: []reserveResult{{status: platform.StatusOK}}}
	d := newDispatcher(client, &staticRefresher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := d.Reserve(ctx, testCreds(), testOffer())
	assert.Equal(t, offer.DecisionAccepted, res.Decision.Status)
}

func TestReserve_UnknownPlatform(t *testing.T) {
	d := newDispatcher(&scriptedClient{platform: offer.PlatformDriverApp,
		script: []reserveResult{{status: platform.StatusOK}}}, &staticRefresher{})

	o := testOffer()
	o.Platform = offer.PlatformPortal
	res := d.Reserve(context.Background(), testCreds(), o)
	assert.Equal(t, offer.DecisionNotAccepted, res.Decision.Status)
	assert.Contains(t, res.Decision.Reason, "no client")
}
