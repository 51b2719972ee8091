package analytics

import (
	"fmt"
	"time"

	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/timeutil"
)

// DigestWindowDays is the trailing window a weekly digest covers,
// today included.
const DigestWindowDays = 7

const (
	achievementStreakDays  = 7
	achievementAverage     = 90.0
	achievementAssignments = 5
	concernAverage         = 70.0
	minActiveDays          = 3
)

// DigestInput is one student's full record history plus the reference time.
type DigestInput struct {
	StudentID   shared.StudentID  `json:"student_id"`
	StudentName string            `json:"student_name,omitempty"`
	Records     []activity.Record `json:"records"`
	Now         time.Time         `json:"now"`
	Catalog     SuggestionCatalog `json:"-"`
}

// WeeklyDigest is the parent-facing weekly summary.
type WeeklyDigest struct {
	StudentID            shared.StudentID `json:"student_id"`
	StudentName          string           `json:"student_name,omitempty"`
	Period               shared.TimeRange `json:"period"`
	ActiveDays           int              `json:"active_days"`
	AssignmentsCompleted int              `json:"assignments_completed"`
	AverageGrade         *float64         `json:"average_grade"`
	Streak               int              `json:"streak"`
	Trend                Trend            `json:"trend"`
	Achievements         []string         `json:"achievements"`
	Concerns             []string         `json:"concerns"`
	NextSteps            []string         `json:"next_steps"`
}

// ComposeWeeklyDigest summarizes the trailing seven calendar days ending
// at in.Now. Counts are bounded by the window; the streak uses the full
// history.
func ComposeWeeklyDigest(in DigestInput) WeeklyDigest {
	from, to := timeutil.TrailingDays(in.Now, DigestWindowDays)
	period := shared.TimeRange{From: from, To: to}
	window := activity.InRange(in.Records, period)
	items := activity.GradedItems(window)
	grades := activity.Grades(items)

	d := WeeklyDigest{
		StudentID:            in.StudentID,
		StudentName:          in.StudentName,
		Period:               period,
		ActiveDays:           ActiveDays(window, in.Now.Location()),
		AssignmentsCompleted: activity.CountByType(window, activity.TypeAssignmentSubmitted),
		Streak:               CalculateStreak(in.Records, in.Now),
		Trend:                AnalyzeTrend(grades),
		Achievements:         []string{},
		Concerns:             []string{},
		NextSteps:            []string{},
	}

	avg, hasAvg := mean(grades)
	if hasAvg {
		avg = round1(avg)
		d.AverageGrade = floatPtr(avg)
	}

	if d.Streak >= achievementStreakDays {
		d.Achievements = append(d.Achievements, fmt.Sprintf("Kept a %d-day activity streak", d.Streak))
	}
	if hasAvg && avg >= achievementAverage {
		d.Achievements = append(d.Achievements, fmt.Sprintf("Averaged %.1f%% on graded work", avg))
	}
	if d.AssignmentsCompleted >= achievementAssignments {
		d.Achievements = append(d.Achievements, fmt.Sprintf("Completed %d assignments", d.AssignmentsCompleted))
	}

	lowAverage := hasAvg && avg < concernAverage
	if lowAverage {
		d.Concerns = append(d.Concerns, fmt.Sprintf("Average grade of %.1f%% is below %.0f%%", avg, concernAverage))
		for _, gap := range AnalyzeLearningGaps(items, in.Catalog) {
			d.Concerns = append(d.Concerns, fmt.Sprintf("Needs support in %s (%.1f%%)", gap.Topic, gap.AverageGrade))
		}
	}

	if d.ActiveDays < minActiveDays {
		d.NextSteps = append(d.NextSteps, fmt.Sprintf("Aim for at least %d active days next week", minActiveDays))
	}
	if d.AssignmentsCompleted == 0 {
		d.NextSteps = append(d.NextSteps, "Submit at least one assignment next week")
	}
	if lowAverage {
		d.NextSteps = append(d.NextSteps, "Set aside time to review recent material with a teacher")
	}
	d.NextSteps = append(d.NextSteps, "Continue the current pace")

	return d
}
