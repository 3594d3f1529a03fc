// Package cache holds the per-user runtime state shared across poll cycles:
// committed intervals, policy snapshots, and short-lived suppression of
// offers that just failed to claim. It is the only cross-task shared mutable
// state, so every map is guarded and keyed by user.
package cache

import (
	"sync"
	"time"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/policy"
)

const (
	DefaultPolicyTTL   = 15 * time.Second
	DefaultSuppressTTL = 90 * time.Second

	// suppressSweepThreshold triggers opportunistic cleanup of expired
	// suppression entries.
	suppressSweepThreshold = 512
)

// Snapshot bundles everything the pipeline reads from configuration for one
// user, stamped with the policy's version counter at read time.
type Snapshot struct {
	Policy      policy.UserPolicy
	Formulas    []policy.EndtimeFormula
	BookedSlots []policy.BookedSlot
	BlockedDays []policy.BlockedDay
}

type policyEntry struct {
	snap      Snapshot
	version   int64
	fetchedAt time.Time
}

type intervalEntry struct {
	intervals []policy.Interval
	fetchedAt time.Time
}

type suppressKey struct {
	userID   string
	platform offer.Platform
	offerID  string
	version  int64
}

type Service struct {
	policyTTL   time.Duration
	suppressTTL time.Duration

	mu         sync.RWMutex
	policies   map[string]policyEntry
	intervals  map[string]intervalEntry
	suppressed map[suppressKey]time.Time

	// Memory dedupe aids; disabled by default in favor of the durable
	// decision log.
	DedupeEnabled bool
	acceptedIDs   map[string]time.Time
	rejectedIDs   map[string]time.Time

	now func() time.Time
}

func New() *Service {
	return &Service{
		policyTTL:   DefaultPolicyTTL,
		suppressTTL: DefaultSuppressTTL,
		policies:    make(map[string]policyEntry),
		intervals:   make(map[string]intervalEntry),
		suppressed:  make(map[suppressKey]time.Time),
		acceptedIDs: make(map[string]time.Time),
		rejectedIDs: make(map[string]time.Time),
		now:         time.Now,
	}
}

// GetSnapshot returns the cached snapshot when it is inside the TTL and its
// stored version matches currentVersion. A version mismatch self-invalidates:
// the user edited settings since the snapshot was taken.
func (s *Service) GetSnapshot(userID string, currentVersion int64) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.policies[userID]
	if !ok {
		return Snapshot{}, false
	}
	if currentVersion >= 0 && e.version != currentVersion {
		return Snapshot{}, false
	}
	if s.now().Sub(e.fetchedAt) > s.policyTTL {
		return Snapshot{}, false
	}
	return e.snap, true
}

func (s *Service) PutSnapshot(userID string, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[userID] = policyEntry{snap: snap, version: snap.Policy.ConfigVersion, fetchedAt: s.now()}
}

// GetIntervals returns the cached committed intervals. Consumers tolerate a
// miss by treating it as empty; polling never blocks on population.
func (s *Service) GetIntervals(userID string) ([]policy.Interval, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.intervals[userID]
	if !ok {
		return nil, false
	}
	out := make([]policy.Interval, len(e.intervals))
	copy(out, e.intervals)
	return out, true
}

func (s *Service) PutIntervals(userID string, ivs []policy.Interval) {
	cp := make([]policy.Interval, len(ivs))
	copy(cp, ivs)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervals[userID] = intervalEntry{intervals: cp, fetchedAt: s.now()}
}

// AppendInterval makes a just-accepted offer's interval visible immediately,
// so later offers in the same cycle see the updated commitment set.
func (s *Service) AppendInterval(userID string, iv policy.Interval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.intervals[userID]
	e.intervals = append(e.intervals, iv)
	e.fetchedAt = s.now()
	s.intervals[userID] = e
}

func (s *Service) InvalidateIntervals(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intervals, userID)
}

// Suppress records that an offer was just classified not_accepted under the
// given policy version, so the next few cycles skip it.
func (s *Service) Suppress(userID string, p offer.Platform, offerID string, version int64) {
	k := suppressKey{userID: userID, platform: p, offerID: offerID, version: version}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed[k] = s.now().Add(s.suppressTTL)
	if len(s.suppressed) > suppressSweepThreshold {
		now := s.now()
		for key, exp := range s.suppressed {
			if exp.Before(now) {
				delete(s.suppressed, key)
			}
		}
	}
}

func (s *Service) IsSuppressed(userID string, p offer.Platform, offerID string, version int64) bool {
	k := suppressKey{userID: userID, platform: p, offerID: offerID, version: version}
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.suppressed[k]
	return ok && exp.After(s.now())
}

// --- memory dedupe (optional) ---

func (s *Service) MarkAccepted(offerID string) {
	if !s.DedupeEnabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acceptedIDs[offerID] = s.now()
}

func (s *Service) SeenAccepted(offerID string) bool {
	if !s.DedupeEnabled {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.acceptedIDs[offerID]
	return ok
}

func (s *Service) MarkRejected(offerID string) {
	if !s.DedupeEnabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectedIDs[offerID] = s.now()
}

func (s *Service) SeenRejected(offerID string) bool {
	if !s.DedupeEnabled {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rejectedIDs[offerID]
	return ok
}

// SweepAccepted clears accepted ids older than maxAge (housekeeping runs it
// daily with 24h).
func (s *Service) SweepAccepted(maxAge time.Duration) {
	s.sweep(s.acceptedIDs, maxAge)
}

// SweepRejected clears rejected ids older than maxAge (housekeeping runs it
// minutely with 1m).
func (s *Service) SweepRejected(maxAge time.Duration) {
	s.sweep(s.rejectedIDs, maxAge)
}

func (s *Service) sweep(m map[string]time.Time, maxAge time.Duration) {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range m {
		if at.Before(cutoff) {
			delete(m, id)
		}
	}
}
