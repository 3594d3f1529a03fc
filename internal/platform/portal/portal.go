// Package portal is the transport adapter for the partner-portal upstream
// (platform P2). The portal serves a resource-linkage payload: offers and
// rides reference related records by type+id in a separate "included" array,
// which this adapter resolves before mapping to the canonical types. The
// portal honors conditional GETs, so the adapter keeps an ETag per user and
// path.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/user"
	"github.com/example/offer-sniper/internal/platform"
)

const defaultUA = "Mozilla/5.0 (X11; Linux x86_64) PartnerPortal/2.0"

type Client struct {
	hc       *http.Client
	base     string
	authBase string
	ua       string

	mu    sync.Mutex
	etags map[string]string
}

func New(base, authBase string, timeout time.Duration) *Client {
	return &Client{
		hc:       &http.Client{Timeout: timeout},
		base:     strings.TrimRight(base, "/"),
		authBase: strings.TrimRight(authBase, "/"),
		ua:       defaultUA,
		etags:    make(map[string]string),
	}
}

func (c *Client) Platform() offer.Platform { return offer.PlatformPortal }

// --- resource-linkage payload shapes ---

type resourceID struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type relationship struct {
	Data resourceID `json:"data"`
}

type resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    json.RawMessage         `json:"attributes"`
	Relationships map[string]relationship `json:"relationships"`
}

type document struct {
	Data     []resource `json:"data"`
	Included []resource `json:"included"`
}

// index maps (type, id) to the included record so relationships resolve in
// constant time.
func (d document) index() map[resourceID]resource {
	m := make(map[resourceID]resource, len(d.Included))
	for _, r := range d.Included {
		m[resourceID{Type: r.Type, ID: r.ID}] = r
	}
	return m
}

type offerAttrs struct {
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	VehicleClass string  `json:"vehicleClass"`
}

type rideAttrs struct {
	RideType                 string `json:"rideType"`
	PickupTime               string `json:"pickupTime"`
	FlightNumber             string `json:"flightNumber"`
	SpecialRequests          string `json:"specialRequests"`
	EstimatedDurationMinutes int    `json:"estimatedDurationMinutes"`
	EstimatedDistanceMeters  int    `json:"estimatedDistanceMeters"`
	IncludedKm               int    `json:"includedKm"`
}

type locationAttrs struct {
	Address string `json:"address"`
}

// resolveRide turns a ride resource plus the included index into a canonical
// ride. ok is false when the pickup time is unparseable.
func resolveRide(r resource, included map[resourceID]resource) (offer.Ride, bool) {
	var attrs rideAttrs
	if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
		return offer.Ride{}, false
	}
	t, err := time.Parse(time.RFC3339, attrs.PickupTime)
	if err != nil {
		return offer.Ride{}, false
	}
	rt := offer.RideTransfer
	if strings.EqualFold(attrs.RideType, string(offer.RideHourly)) {
		rt = offer.RideHourly
	}
	ride := offer.Ride{
		Type:            rt,
		PickupAt:        t,
		FlightNumber:    attrs.FlightNumber,
		SpecialRequests: attrs.SpecialRequests,
		DurationMin:     attrs.EstimatedDurationMinutes,
		DistanceMeters:  attrs.EstimatedDistanceMeters,
		IncludedKm:      attrs.IncludedKm,
	}
	ride.PickupAddress = locationAddress(r, "pickupLocation", included)
	ride.DropoffAddress = locationAddress(r, "dropoffLocation", included)
	return ride, true
}

func locationAddress(r resource, rel string, included map[resourceID]resource) string {
	link, ok := r.Relationships[rel]
	if !ok {
		return ""
	}
	loc, ok := included[link.Data]
	if !ok {
		return ""
	}
	var attrs locationAttrs
	if err := json.Unmarshal(loc.Attributes, &attrs); err != nil {
		return ""
	}
	return attrs.Address
}

func (c *Client) FetchOffers(ctx context.Context, creds user.Credentials) (platform.StatusClass, []offer.Offer, error) {
	path := "/hades/offers"
	status, body, err := c.get(ctx, path, creds)
	if err != nil {
		return platform.StatusNetworkError, nil, err
	}
	if status == http.StatusNotModified {
		// Conditional hit: nothing changed since the last poll.
		return platform.StatusOK, nil, nil
	}
	if sc := platform.Classify(status); sc != platform.StatusOK {
		return sc, nil, nil
	}
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return platform.StatusOK, nil, fmt.Errorf("portal: decode offers: %w", err)
	}
	included := doc.index()
	out := make([]offer.Offer, 0, len(doc.Data))
	for _, res := range doc.Data {
		var attrs offerAttrs
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			continue
		}
		link, ok := res.Relationships["ride"]
		if !ok {
			continue
		}
		rideRes, ok := included[link.Data]
		if !ok {
			continue
		}
		ride, ok := resolveRide(rideRes, included)
		if !ok || res.ID == "" || attrs.Price <= 0 {
			continue
		}
		out = append(out, offer.Offer{
			Platform:     offer.PlatformPortal,
			ExternalID:   res.ID,
			Price:        attrs.Price,
			Currency:     attrs.Currency,
			VehicleClass: attrs.VehicleClass,
			Ride:         ride,
		})
	}
	return platform.StatusOK, out, nil
}

func (c *Client) FetchRides(ctx context.Context, creds user.Credentials) (platform.StatusClass, []offer.Ride, error) {
	path := "/hades/rides"
	status, body, err := c.get(ctx, path, creds)
	if err != nil {
		return platform.StatusNetworkError, nil, err
	}
	if status == http.StatusNotModified {
		return platform.StatusOK, nil, nil
	}
	if sc := platform.Classify(status); sc != platform.StatusOK {
		return sc, nil, nil
	}
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return platform.StatusOK, nil, fmt.Errorf("portal: decode rides: %w", err)
	}
	included := doc.index()
	out := make([]offer.Ride, 0, len(doc.Data))
	for _, res := range doc.Data {
		if ride, ok := resolveRide(res, included); ok {
			out = append(out, ride)
		}
	}
	return platform.StatusOK, out, nil
}

var racePhrases = []string{"already taken", "no longer available", "offer has expired"}

func (c *Client) Reserve(ctx context.Context, creds user.Credentials, offerID string, price float64) (platform.StatusClass, string, error) {
	payload, _ := json.Marshal(map[string]any{
		"action": "accept",
		"id":     offerID,
		"price":  price,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chauffeur/offers", bytes.NewReader(payload))
	if err != nil {
		return platform.StatusNetworkError, "", err
	}
	c.setHeaders(req, creds.Token)
	req.Header.Set("content-type", "application/json")

	res, err := c.hc.Do(req)
	if err != nil {
		return platform.StatusNetworkError, "", err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	sc := platform.Classify(res.StatusCode)
	lower := strings.ToLower(string(body))
	for _, p := range racePhrases {
		if strings.Contains(lower, p) {
			return platform.StatusGone, string(body), nil
		}
	}
	return sc, string(body), nil
}

// Refresh re-runs the full username/password login; the portal has no
// refresh-token grant.
func (c *Client) Refresh(ctx context.Context, creds user.Credentials) (user.Credentials, error) {
	form := url.Values{
		"grant_type": {"implicit"},
		"username":   {creds.Email},
		"password":   {creds.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBase+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return creds, err
	}
	req.Header.Set("user-agent", c.ua)
	req.Header.Set("content-type", "application/x-www-form-urlencoded")

	res, err := c.hc.Do(req)
	if err != nil {
		return creds, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return creds, fmt.Errorf("portal: login failed (status=%d)", res.StatusCode)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return creds, fmt.Errorf("portal: decode login response: %w", err)
	}
	t := tok.AccessToken
	if t == "" {
		t = tok.Token
	}
	if t == "" {
		return creds, fmt.Errorf("portal: login response missing token")
	}
	creds.Token = t
	return creds, nil
}

func (c *Client) get(ctx context.Context, path string, creds user.Credentials) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, nil, err
	}
	c.setHeaders(req, creds.Token)

	// Validators are scoped to the credential owner: a worker serves many
	// users in turn, and one user's ETag must never suppress another's data.
	key := creds.UserID + " " + path
	c.mu.Lock()
	if tag := c.etags[key]; tag != "" {
		req.Header.Set("if-none-match", tag)
	}
	c.mu.Unlock()

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, err
	}
	if res.StatusCode == http.StatusOK {
		if tag := res.Header.Get("etag"); tag != "" {
			c.mu.Lock()
			c.etags[key] = tag
			c.mu.Unlock()
		}
	}
	return res.StatusCode, b, nil
}

func (c *Client) setHeaders(req *http.Request, bearer string) {
	req.Header.Set("user-agent", c.ua)
	req.Header.Set("accept", "application/json")
	if bearer != "" {
		req.Header.Set("authorization", "Bearer "+bearer)
	}
}
