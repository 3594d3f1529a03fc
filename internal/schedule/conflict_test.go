package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/example/offer-sniper/internal/domain/policy"
)

func at(h, m int) time.Time {
	return time.Date(2025, 1, 1, h, m, 0, 0, time.UTC)
}

func TestFindConflict(t *testing.T) {
	committed := []policy.Interval{{Start: at(10, 0), End: at(11, 0)}}

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{"start inside committed span", at(10, 30), time.Time{}, true},
		{"start at committed end is still a conflict", at(11, 0), time.Time{}, true},
		{"disjoint after", at(12, 0), at(13, 0), false},
		{"disjoint before", at(8, 0), at(9, 0), false},
		{"candidate span swallows committed", at(9, 30), at(11, 30), true},
		{"candidate ends inside committed", at(9, 30), at(10, 30), true},
		{"unknown end, start before committed", at(9, 0), time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, hit := FindConflict(tt.start, tt.end, committed)
			assert.Equal(t, tt.want, hit)
		})
	}
}

func TestFindConflict_PointCommitted(t *testing.T) {
	// Committed job with unknown end behaves as a point event.
	committed := []policy.Interval{{Start: at(10, 0)}}

	_, hit := FindConflict(at(9, 30), at(10, 30), committed)
	assert.True(t, hit, "committed point inside candidate span")

	_, hit = FindConflict(at(10, 30), at(11, 0), committed)
	assert.False(t, hit)

	_, hit = FindConflict(at(10, 0), time.Time{}, committed)
	assert.True(t, hit, "two point events at the same instant")
}

func TestFindConflict_ReportsBounds(t *testing.T) {
	committed := []policy.Interval{{Start: at(10, 0), End: at(11, 0)}}
	c, hit := FindConflict(at(10, 30), time.Time{}, committed)
	assert.True(t, hit)
	assert.Contains(t, c.Detail(), "10:00")
	assert.Contains(t, c.Detail(), "11:00")
}

func TestOverlapsSlot(t *testing.T) {
	slot := policy.BookedSlot{From: at(20, 0), To: at(22, 0)}

	assert.True(t, OverlapsSlot(at(21, 0), time.Time{}, slot), "pickup inside slot, unknown end")
	assert.False(t, OverlapsSlot(at(22, 0), time.Time{}, slot), "slot end is exclusive")
	assert.True(t, OverlapsSlot(at(19, 0), at(20, 30), slot), "span crosses slot start")
	assert.False(t, OverlapsSlot(at(18, 0), at(20, 0), slot), "span touching slot start is disjoint")
}
