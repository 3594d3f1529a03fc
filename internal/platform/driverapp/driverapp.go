// Package driverapp is the transport adapter for the mobile-session upstream
// (platform P1). It speaks the driver app's flat JSON shape and normalizes it
// into the canonical offer/ride types at the boundary.
package driverapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/user"
	"github.com/example/offer-sniper/internal/platform"
)

const defaultUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) DriverApp/5.2.1"

type Client struct {
	hc       *http.Client
	base     string
	authBase string
	ua       string
}

// New builds a client with its own http.Client so per-worker instances share
// no mutable transport state. Poll and reserve budgets differ; timeout here
// is the poll budget, reserve calls carry their own context deadline.
func New(base, authBase string, timeout time.Duration) *Client {
	return &Client{
		hc:       &http.Client{Timeout: timeout},
		base:     strings.TrimRight(base, "/"),
		authBase: strings.TrimRight(authBase, "/"),
		ua:       defaultUA,
	}
}

func (c *Client) Platform() offer.Platform { return offer.PlatformDriverApp }

// --- native payload shapes ---

type nativeRide struct {
	Type            string `json:"type"`
	PickupTime      string `json:"pickup_time"`
	Pickup          string `json:"pickup"`
	Dropoff         string `json:"dropoff"`
	FlightNumber    string `json:"flight_number"`
	SpecialRequests string `json:"special_requests"`

	// The app has shipped three names for the same field over the years.
	EstimatedDurationMinutes int `json:"estimated_duration_minutes"`
	DurationMinutes          int `json:"duration_minutes"`
	DurationMin              int `json:"duration_min"`

	EstimatedDistanceMeters int `json:"estimated_distance_meters"`
	IncludedKm              int `json:"included_km"`
}

func (r nativeRide) duration() int {
	if r.EstimatedDurationMinutes > 0 {
		return r.EstimatedDurationMinutes
	}
	if r.DurationMinutes > 0 {
		return r.DurationMinutes
	}
	return r.DurationMin
}

type nativeOffer struct {
	ID           string     `json:"id"`
	Price        float64    `json:"price"`
	Currency     string     `json:"currency"`
	VehicleClass string     `json:"vehicle_class"`
	Ride         nativeRide `json:"ride"`
}

// toRide maps the native shape; ok is false when the pickup time cannot be
// parsed, in which case the record is unusable for scheduling.
func toRide(n nativeRide) (offer.Ride, bool) {
	t, err := time.Parse(time.RFC3339, n.PickupTime)
	if err != nil {
		return offer.Ride{}, false
	}
	rt := offer.RideTransfer
	if strings.EqualFold(n.Type, string(offer.RideHourly)) {
		rt = offer.RideHourly
	}
	return offer.Ride{
		Type:            rt,
		PickupAt:        t,
		PickupAddress:   n.Pickup,
		DropoffAddress:  n.Dropoff,
		FlightNumber:    n.FlightNumber,
		SpecialRequests: n.SpecialRequests,
		DurationMin:     n.duration(),
		DistanceMeters:  n.EstimatedDistanceMeters,
		IncludedKm:      n.IncludedKm,
	}, true
}

func (c *Client) FetchOffers(ctx context.Context, creds user.Credentials) (platform.StatusClass, []offer.Offer, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.base+"/offers", creds.Token, "", nil)
	if err != nil {
		return platform.StatusNetworkError, nil, err
	}
	if sc := platform.Classify(status); sc != platform.StatusOK {
		return sc, nil, nil
	}
	var parsed struct {
		Offers []nativeOffer `json:"offers"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return platform.StatusOK, nil, fmt.Errorf("driverapp: decode offers: %w", err)
	}
	out := make([]offer.Offer, 0, len(parsed.Offers))
	for _, n := range parsed.Offers {
		ride, ok := toRide(n.Ride)
		if !ok || n.ID == "" || n.Price <= 0 {
			// Malformed offers are dropped here, never surfaced as errors.
			continue
		}
		out = append(out, offer.Offer{
			Platform:     offer.PlatformDriverApp,
			ExternalID:   n.ID,
			Price:        n.Price,
			Currency:     n.Currency,
			VehicleClass: n.VehicleClass,
			Ride:         ride,
		})
	}
	return platform.StatusOK, out, nil
}

func (c *Client) FetchRides(ctx context.Context, creds user.Credentials) (platform.StatusClass, []offer.Ride, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.base+"/rides", creds.Token, "", nil)
	if err != nil {
		return platform.StatusNetworkError, nil, err
	}
	if sc := platform.Classify(status); sc != platform.StatusOK {
		return sc, nil, nil
	}
	var parsed struct {
		Rides []nativeRide `json:"rides"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return platform.StatusOK, nil, fmt.Errorf("driverapp: decode rides: %w", err)
	}
	out := make([]offer.Ride, 0, len(parsed.Rides))
	for _, n := range parsed.Rides {
		if ride, ok := toRide(n); ok {
			out = append(out, ride)
		}
	}
	return platform.StatusOK, out, nil
}

// racePhrases are body fragments the app returns with a 200 or 4xx when the
// offer was claimed by someone else between fetch and reserve.
var racePhrases = []string{"already taken", "no longer available", "offer not found"}

func (c *Client) Reserve(ctx context.Context, creds user.Credentials, offerID string, price float64) (platform.StatusClass, string, error) {
	payload, _ := json.Marshal(map[string]any{
		"id":     offerID,
		"price":  price,
		"action": "accept",
	})
	status, body, err := c.do(ctx, http.MethodPost, c.base+"/offers", creds.Token, "application/json", payload)
	if err != nil {
		return platform.StatusNetworkError, "", err
	}
	sc := platform.Classify(status)
	lower := strings.ToLower(string(body))
	for _, p := range racePhrases {
		if strings.Contains(lower, p) {
			return platform.StatusGone, string(body), nil
		}
	}
	return sc, string(body), nil
}

// Refresh exchanges the stored refresh token for a new session, carrying the
// client id captured at initial login. A rotated refresh token replaces the
// stored one.
func (c *Client) Refresh(ctx context.Context, creds user.Credentials) (user.Credentials, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {creds.RefreshToken},
		"client_id":     {creds.ClientID},
	}
	status, body, err := c.do(ctx, http.MethodPost, c.authBase+"/oauth/token", "", "application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return creds, err
	}
	if status != http.StatusOK {
		return creds, fmt.Errorf("driverapp: token refresh failed (status=%d)", status)
	}
	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return creds, fmt.Errorf("driverapp: decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return creds, fmt.Errorf("driverapp: token response missing access_token")
	}
	creds.Token = tok.AccessToken
	if tok.RefreshToken != "" {
		creds.RefreshToken = tok.RefreshToken
	}
	return creds, nil
}

func (c *Client) do(ctx context.Context, method, rawURL, bearer, contentType string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("user-agent", c.ua)
	// The app rejects requests without fresh correlation ids.
	req.Header.Set("x-request-id", uuid.NewString())
	req.Header.Set("x-correlation-id", uuid.NewString())
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}
	if bearer != "" {
		req.Header.Set("authorization", "Bearer "+bearer)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}
