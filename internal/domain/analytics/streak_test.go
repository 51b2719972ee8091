package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/classpulse/classpulse/internal/domain/activity"
)

var refNow = time.Date(2026, time.March, 12, 15, 30, 0, 0, time.UTC)

func recordAt(t time.Time) activity.Record {
	return activity.Record{StudentID: "s1", Type: activity.TypeSessionActive, Timestamp: t}
}

func recordsOnDaysAgo(now time.Time, days ...int) []activity.Record {
	out := make([]activity.Record, 0, len(days))
	for _, d := range days {
		out = append(out, recordAt(now.AddDate(0, 0, -d)))
	}
	return out
}

func TestCalculateStreak(t *testing.T) {
	tests := []struct {
		name    string
		daysAgo []int
		want    int
	}{
		{name: "three consecutive days", daysAgo: []int{0, 1, 2}, want: 3},
		{name: "gap on yesterday", daysAgo: []int{0, 2}, want: 1},
		{name: "nothing today", daysAgo: []int{1, 2, 3}, want: 0},
		{name: "duplicates on the same day", daysAgo: []int{0, 0, 0, 1}, want: 2},
		{name: "unordered input", daysAgo: []int{3, 0, 2, 1, 5}, want: 4},
		{name: "no records", daysAgo: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateStreak(recordsOnDaysAgo(refNow, tt.daysAgo...), refNow))
		})
	}
}

func TestCalculateStreak_UsesNowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	// 21:00 UTC on Mar 11 is already Mar 12 in UTC+5.
	records := []activity.Record{
		recordAt(time.Date(2026, time.March, 11, 21, 0, 0, 0, time.UTC)),
		recordAt(time.Date(2026, time.March, 11, 2, 0, 0, 0, time.UTC)),
	}

	nowLocal := time.Date(2026, time.March, 12, 10, 0, 0, 0, loc)
	assert.Equal(t, 2, CalculateStreak(records, nowLocal))

	nowUTC := time.Date(2026, time.March, 12, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, CalculateStreak(records, nowUTC))
}

func TestCalculateStreak_AcrossMonthBoundary(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	records := recordsOnDaysAgo(now, 0, 1, 2)
	assert.Equal(t, 3, CalculateStreak(records, now))
}

func TestLongestStreak(t *testing.T) {
	records := recordsOnDaysAgo(refNow, 0, 4, 5, 6, 7, 10, 11)
	assert.Equal(t, 4, LongestStreak(records, time.UTC))
	assert.Equal(t, 0, LongestStreak(nil, time.UTC))
	assert.Equal(t, 1, LongestStreak(recordsOnDaysAgo(refNow, 3), time.UTC))
}

func TestActiveDays(t *testing.T) {
	records := recordsOnDaysAgo(refNow, 0, 0, 1, 3, 3)
	assert.Equal(t, 3, ActiveDays(records, time.UTC))
}
