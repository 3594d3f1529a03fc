package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/domain/policy"
)

func newClocked() (*Service, *time.Time) {
	s := New()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestSnapshot_VersionGating(t *testing.T) {
	s, _ := newClocked()
	snap := Snapshot{Policy: policy.UserPolicy{UserID: "u1", ConfigVersion: 3}}
	s.PutSnapshot("u1", snap)

	got, ok := s.GetSnapshot("u1", 3)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Policy.ConfigVersion)

	// A bumped version in the store invalidates the snapshot.
	_, ok = s.GetSnapshot("u1", 4)
	assert.False(t, ok)

	// -1 skips the version check entirely.
	_, ok = s.GetSnapshot("u1", -1)
	assert.True(t, ok)
}

func TestSnapshot_TTLExpiry(t *testing.T) {
	s, now := newClocked()
	s.PutSnapshot("u1", Snapshot{Policy: policy.UserPolicy{ConfigVersion: 1}})

	*now = now.Add(DefaultPolicyTTL - time.Second)
	_, ok := s.GetSnapshot("u1", 1)
	assert.True(t, ok)

	*now = now.Add(2 * time.Second)
	_, ok = s.GetSnapshot("u1", 1)
	assert.False(t, ok)
}

func TestIntervals_CopyOnReadAndAppend(t *testing.T) {
	s, _ := newClocked()
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	s.PutIntervals("u1", []policy.Interval{{Start: start, End: start.Add(time.Hour)}})

	got, ok := s.GetIntervals("u1")
	require.True(t, ok)
	require.Len(t, got, 1)

	// Mutating the returned slice must not affect the cache.
	got[0].Start = start.Add(48 * time.Hour)
	again, _ := s.GetIntervals("u1")
	assert.Equal(t, start, again[0].Start)

	s.AppendInterval("u1", policy.Interval{Start: start.Add(2 * time.Hour)})
	again, _ = s.GetIntervals("u1")
	assert.Len(t, again, 2)

	s.InvalidateIntervals("u1")
	_, ok = s.GetIntervals("u1")
	assert.False(t, ok)
}

func TestSuppression(t *testing.T) {
	s, now := newClocked()
	s.Suppress("u1", offer.PlatformDriverApp, "o1", 7)

	assert.True(t, s.IsSuppressed("u1", offer.PlatformDriverApp, "o1", 7))
	assert.False(t, s.IsSuppressed("u1", offer.PlatformPortal, "o1", 7), "platform is part of the key")
	assert.False(t, s.IsSuppressed("u1", offer.PlatformDriverApp, "o1", 8),
		"a policy edit clears suppression via the version key")

	*now = now.Add(DefaultSuppressTTL + time.Second)
	assert.False(t, s.IsSuppressed("u1", offer.PlatformDriverApp, "o1", 7))
}

func TestDedupe_DisabledByDefault(t *testing.T) {
	s, _ := newClocked()
	s.MarkAccepted("o1")
	assert.False(t, s.SeenAccepted("o1"))
}

func TestDedupe_MarkAndSweep(t *testing.T) {
	s, now := newClocked()
	s.DedupeEnabled = true

	s.MarkAccepted("a1")
	s.MarkRejected("r1")
	assert.True(t, s.SeenAccepted("a1"))
	assert.True(t, s.SeenRejected("r1"))

	*now = now.Add(2 * time.Minute)
	s.SweepRejected(time.Minute)
	assert.False(t, s.SeenRejected("r1"))
	assert.True(t, s.SeenAccepted("a1"), "accepted ids survive the rejected sweep")

	*now = now.Add(25 * time.Hour)
	s.SweepAccepted(24 * time.Hour)
	assert.False(t, s.SeenAccepted("a1"))
}
