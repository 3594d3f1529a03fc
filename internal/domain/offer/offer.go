package offer

import "time"

type Platform string

const (
	PlatformDriverApp Platform = "driverapp"
	PlatformPortal    Platform = "portal"
)

type RideType string

const (
	RideTransfer RideType = "transfer"
	RideHourly   RideType = "hourly"
)

// Ride is the job embedded in an offer, or a job the user already holds.
type Ride struct {
	Type            RideType
	PickupAt        time.Time
	PickupAddress   string
	DropoffAddress  string
	FlightNumber    string
	SpecialRequests string

	// DurationMin is the upstream-reported duration in minutes; 0 means not reported.
	DurationMin int
	// DistanceMeters is the upstream-reported distance; 0 means not reported.
	DistanceMeters int
	// IncludedKm applies to hourly rides only (kilometers bundled into the booking).
	IncludedKm int
}

// Offer is a transient, claimable job. Immutable once fetched; EndsAt is
// attached during processing and is the only mutated field.
type Offer struct {
	Platform     Platform
	ExternalID   string
	Price        float64
	Currency     string
	VehicleClass string
	Ride         Ride

	// EndsAt is the derived completion time; zero means unknown.
	EndsAt time.Time
}

// HasEnd reports whether a completion time could be derived.
func (o Offer) HasEnd() bool { return !o.EndsAt.IsZero() }

// DecisionStatus is the terminal classification of one offer in one cycle.
type DecisionStatus string

const (
	// DecisionAccepted: filters passed and the upstream claim succeeded.
	DecisionAccepted DecisionStatus = "accepted"
	// DecisionRejected: a filter vetoed the offer before any claim attempt.
	DecisionRejected DecisionStatus = "rejected"
	// DecisionNotAccepted: filters passed but the claim failed (lost the
	// race, expired session, transient upstream error).
	DecisionNotAccepted DecisionStatus = "not_accepted"
)

type Decision struct {
	Status DecisionStatus
	Reason string
}

// FilterResult is one rule's verdict on one offer.
type FilterResult struct {
	Rule   string
	Passed bool
	Detail string
}
