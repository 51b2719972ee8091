package analytics

import (
	"sort"
	"time"

	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/pkg/timeutil"
)

// activeDates projects record timestamps onto unique calendar dates in loc.
func activeDates(records []activity.Record, loc *time.Location) map[timeutil.Date]struct{} {
	dates := make(map[timeutil.Date]struct{}, len(records))
	for _, r := range records {
		dates[timeutil.DateOf(r.Timestamp, loc)] = struct{}{}
	}
	return dates
}

// CalculateStreak counts consecutive active days ending today, where
// "today" is now's calendar day in now's location. A day without activity
// today yields 0; there is no grace day.
func CalculateStreak(records []activity.Record, now time.Time) int {
	if len(records) == 0 {
		return 0
	}
	loc := now.Location()
	dates := activeDates(records, loc)
	today := timeutil.DateOf(now, loc)

	streak := 0
	for {
		if _, ok := dates[today.AddDays(-streak)]; !ok {
			return streak
		}
		streak++
	}
}

// LongestStreak returns the longest run of consecutive active days in the
// whole history, projected in loc.
func LongestStreak(records []activity.Record, loc *time.Location) int {
	if len(records) == 0 {
		return 0
	}
	set := activeDates(records, loc)
	dates := make([]timeutil.Date, 0, len(set))
	for d := range set {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	longest, run := 1, 1
	for i := 1; i < len(dates); i++ {
		if dates[i-1].AddDays(1) == dates[i] {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// ActiveDays counts distinct calendar dates with activity.
func ActiveDays(records []activity.Record, loc *time.Location) int {
	return len(activeDates(records, loc))
}
