// Package platform defines the contract both upstream transport adapters
// implement and the status taxonomy the pipeline branches on.
package platform

import (
	"context"
	"net/http"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/user"
)

// StatusClass normalizes an upstream response into the classes the pipeline
// cares about. Transport-level failures are a class, not a Go error, so the
// dispatcher and token manager can branch without unwrapping.
type StatusClass int

const (
	StatusOK StatusClass = iota
	StatusUnauthorized
	// StatusGone covers 409/410/422 and "already taken" bodies: the offer is
	// no longer claimable.
	StatusGone
	StatusValidationFailed
	StatusServerError
	StatusNetworkError
)

func (s StatusClass) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusGone:
		return "gone"
	case StatusValidationFailed:
		return "validation_failed"
	case StatusServerError:
		return "server_error"
	case StatusNetworkError:
		return "network_error"
	}
	return "unknown"
}

// Classify maps an HTTP status code to a StatusClass. Adapters refine the
// result with body inspection where the upstream hides races behind 200s.
func Classify(code int) StatusClass {
	switch {
	case code == http.StatusNotModified:
		return StatusOK
	case code >= 200 && code < 300:
		return StatusOK
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return StatusUnauthorized
	case code == http.StatusConflict || code == http.StatusGone:
		return StatusGone
	case code == http.StatusUnprocessableEntity:
		return StatusValidationFailed
	case code >= 500:
		return StatusServerError
	default:
		return StatusValidationFailed
	}
}

// Client is one upstream platform. Offers are claimable jobs; rides are jobs
// the user already holds. Reserve must only be called on the client whose
// platform produced the offer.
type Client interface {
	Platform() offer.Platform
	FetchOffers(ctx context.Context, creds user.Credentials) (StatusClass, []offer.Offer, error)
	FetchRides(ctx context.Context, creds user.Credentials) (StatusClass, []offer.Ride, error)
	Reserve(ctx context.Context, creds user.Credentials, offerID string, price float64) (StatusClass, string, error)
}

// Refresher renews a platform credential. Implemented by the same adapters;
// split from Client so the token manager depends on nothing else.
type Refresher interface {
	Refresh(ctx context.Context, creds user.Credentials) (user.Credentials, error)
}
