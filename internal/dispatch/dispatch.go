// Package dispatch issues the upstream claim for an offer that survived
// filtering and classifies the outcome. The claim race is the hot path:
// nothing here formats messages or touches storage before the reserve call
// returns.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/user"
	"github.com/example/offer-sniper/internal/platform"
	"github.com/example/offer-sniper/internal/token"
)

const DefaultReserveTimeout = 8 * time.Second

// Result is the classified outcome of one claim attempt.
type Result struct {
	Decision offer.Decision
	// Status is the final upstream status class, kept for diagnostics.
	Status platform.StatusClass
	Body   string
	// Refreshed carries renewed credentials when an unauthorized response
	// forced a token refresh mid-call; zero-value UserID means unchanged.
	Refreshed user.Credentials
}

type Dispatcher struct {
	clients map[offer.Platform]platform.Client
	tokens  *token.Manager

	// ReserveTimeout is the per-claim budget, independent of the poll
	// budget so a slow poll never starves a claim.
	ReserveTimeout time.Duration

	// Verbose controls fast/race mode: when false, rejected offers get only
	// a one-line notice and no stored explanation. Claim correctness is
	// identical either way.
	Verbose bool

	log *slog.Logger
}

func New(clients map[offer.Platform]platform.Client, tokens *token.Manager) *Dispatcher {
	return &Dispatcher{
		clients:        clients,
		tokens:         tokens,
		ReserveTimeout: DefaultReserveTimeout,
		Verbose:        true,
		log:            slog.With("component", "dispatch"),
	}
}

// Reserve claims the offer on its origin platform. On unauthorized it forces
// exactly one token refresh and retries once. The claim runs on a context
// detached from cycle cancellation: an aborted claim whose outcome is
// unknown is worse than a drained one.
func (d *Dispatcher) Reserve(ctx context.Context, creds user.Credentials, o offer.Offer) Result {
	client, ok := d.clients[o.Platform]
	if !ok {
		return Result{
			Decision: offer.Decision{Status: offer.DecisionNotAccepted, Reason: "no client for platform " + string(o.Platform)},
			Status:   platform.StatusValidationFailed,
		}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.ReserveTimeout)
	defer cancel()

	status, body, err := client.Reserve(callCtx, creds, o.ExternalID, o.Price)
	if err != nil {
		status = platform.StatusNetworkError
	}

	var refreshed user.Credentials
	if status == platform.StatusUnauthorized {
		renewed, rerr := d.tokens.ForceRefresh(callCtx, creds)
		if rerr == nil {
			refreshed = renewed
			retryCtx, retryCancel := context.WithTimeout(context.WithoutCancel(ctx), d.ReserveTimeout)
			status, body, err = client.Reserve(retryCtx, renewed, o.ExternalID, o.Price)
			retryCancel()
			if err != nil {
				status = platform.StatusNetworkError
			}
		}
	}

	res := Result{Status: status, Body: body, Refreshed: refreshed}
	res.Decision = classify(status, body)

	d.log.Info("reserve attempt",
		"user", creds.UserID,
		"platform", o.Platform,
		"offer", o.ExternalID,
		"price", o.Price,
		"status", status.String(),
		"decision", res.Decision.Status,
		"reason", res.Decision.Reason)
	return res
}

func classify(status platform.StatusClass, body string) offer.Decision {
	switch status {
	case platform.StatusOK:
		return offer.Decision{Status: offer.DecisionAccepted, Reason: "offer claimed"}
	case platform.StatusGone:
		if strings.Contains(strings.ToLower(body), "expired") {
			return offer.Decision{Status: offer.DecisionNotAccepted, Reason: "offer expired"}
		}
		return offer.Decision{Status: offer.DecisionNotAccepted, Reason: "offer already claimed"}
	case platform.StatusValidationFailed:
		return offer.Decision{Status: offer.DecisionNotAccepted, Reason: "offer became invalid"}
	case platform.StatusUnauthorized:
		return offer.Decision{Status: offer.DecisionNotAccepted, Reason: "session expired"}
	case platform.StatusServerError:
		return offer.Decision{Status: offer.DecisionNotAccepted, Reason: "upstream error"}
	default:
		return offer.Decision{Status: offer.DecisionNotAccepted, Reason: "network error"}
	}
}
