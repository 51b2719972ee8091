package analytics

import (
	"sort"
	"time"

	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/shared"
)

// DefaultTopSubjects is how many subjects StudentMetrics lists.
const DefaultTopSubjects = 3

// SubjectCount is how many records carried a subject tag.
type SubjectCount struct {
	Subject string `json:"subject"`
	Count   int    `json:"count"`
}

// StudentInput is one student's record history plus the reference time.
type StudentInput struct {
	StudentID shared.StudentID  `json:"student_id"`
	Records   []activity.Record `json:"records"`
	Now       time.Time         `json:"now"`
	Catalog   SuggestionCatalog `json:"-"`
	// TopSubjects caps the subject ranking. Zero means DefaultTopSubjects.
	TopSubjects int `json:"top_subjects,omitempty"`
}

// StudentMetrics is the per-student dashboard aggregate.
type StudentMetrics struct {
	StudentID        shared.StudentID `json:"student_id"`
	StreakDays       int              `json:"streak_days"`
	LongestStreak    int              `json:"longest_streak"`
	AverageGrade     float64          `json:"average_grade"`
	GradedItems      int              `json:"graded_items"`
	PerformanceTrend Trend            `json:"performance_trend"`
	TopSubjects      []SubjectCount   `json:"top_subjects"`
	LearningGaps     []LearningGap    `json:"learning_gaps"`
}

// ComputeStudentMetrics runs the per-student pipeline: streak, average,
// trend, subject ranking and learning gaps. A student with no records gets
// zero values and a neutral trend.
func ComputeStudentMetrics(in StudentInput) StudentMetrics {
	items := activity.GradedItems(in.Records)
	grades := activity.Grades(items)

	m := StudentMetrics{
		StudentID:        in.StudentID,
		StreakDays:       CalculateStreak(in.Records, in.Now),
		LongestStreak:    LongestStreak(in.Records, in.Now.Location()),
		GradedItems:      len(grades),
		PerformanceTrend: AnalyzeTrend(grades),
		TopSubjects:      RankSubjects(in.Records, in.TopSubjects),
		LearningGaps:     AnalyzeLearningGaps(items, in.Catalog),
	}
	if avg, ok := mean(grades); ok {
		m.AverageGrade = round1(avg)
	}
	return m
}

// RankSubjects counts subject tags and returns the top limit, most
// frequent first. Ties keep first-encountered order.
func RankSubjects(records []activity.Record, limit int) []SubjectCount {
	if limit <= 0 {
		limit = DefaultTopSubjects
	}
	var ranked []SubjectCount
	index := make(map[string]int)
	for _, r := range records {
		subj := r.Metadata.Subject
		if subj == "" {
			continue
		}
		if i, ok := index[subj]; ok {
			ranked[i].Count++
			continue
		}
		index[subj] = len(ranked)
		ranked = append(ranked, SubjectCount{Subject: subj, Count: 1})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	if ranked == nil {
		ranked = []SubjectCount{}
	}
	return ranked
}

// SubjectScoresFromRecords collects graded percentages per subject from
// activity records, for feeding ClassInput.SubjectScores.
func SubjectScoresFromRecords(records []activity.Record) map[string][]float64 {
	out := make(map[string][]float64)
	for _, it := range activity.GradedItems(records) {
		if it.Subject == "" {
			continue
		}
		out[it.Subject] = append(out[it.Subject], it.Grade)
	}
	return out
}
