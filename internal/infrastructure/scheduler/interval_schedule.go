package scheduler

import (
	"fmt"
	"time"

	"github.com/classpulse/classpulse/pkg/timeutil"
)

// IntervalSchedule runs a job every Interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates an IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}

// WeeklySchedule runs a job once a week on Weekday at Hour:00 in Location.
type WeeklySchedule struct {
	Weekday  time.Weekday
	Hour     int
	Location *time.Location
}

// NewWeeklySchedule creates a WeeklySchedule. A nil location means UTC.
func NewWeeklySchedule(weekday time.Weekday, hour int, loc *time.Location) *WeeklySchedule {
	if loc == nil {
		loc = time.UTC
	}
	return &WeeklySchedule{Weekday: weekday, Hour: hour, Location: loc}
}

func (s *WeeklySchedule) Next(t time.Time) time.Time {
	return timeutil.NextWeekdayAt(t.In(s.Location), s.Weekday, s.Hour)
}

func (s *WeeklySchedule) String() string {
	return fmt.Sprintf("@weekly %s %02d:00 %s", s.Weekday, s.Hour, s.Location)
}
