package analytics

import (
	"fmt"

	"github.com/classpulse/classpulse/internal/domain/shared"
)

// AlertType names why a student was flagged.
type AlertType string

const (
	AlertLowPerformance       AlertType = "low_performance"
	AlertDecliningPerformance AlertType = "declining_performance"
	AlertNegativeTrend        AlertType = "negative_trend"
)

// Severity ranks alerts for teachers.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Thresholds in percentage points.
const (
	lowPerformanceThreshold = 60.0
	decliningDropThreshold  = 15.0
	negativeTrendLength     = 3
)

// ScoredItem is one graded submission on its assignment's scale.
type ScoredItem struct {
	Grade     float64 `json:"grade"`
	MaxPoints float64 `json:"max_points"`
}

// StudentScores is a student's graded work, oldest first.
type StudentScores struct {
	StudentID shared.StudentID `json:"student_id"`
	Name      string           `json:"name,omitempty"`
	Scores    []ScoredItem     `json:"scores"`
}

// InterventionAlert flags a student who needs attention.
type InterventionAlert struct {
	StudentID shared.StudentID `json:"student_id"`
	Type      AlertType        `json:"type"`
	Severity  Severity         `json:"severity"`
	Message   string           `json:"message"`
	AvgGrade  float64          `json:"avg_grade"`
	RecentAvg *float64         `json:"recent_avg,omitempty"`
}

// gradeStats is what every rule looks at.
type gradeStats struct {
	percentages []float64
	avg         float64
	recentAvg   float64
}

type interventionRule struct {
	alertType   AlertType
	severity    Severity
	matches     func(s gradeStats) bool
	message     func(s gradeStats) string
	reportsTail bool
}

// interventionRules are evaluated top to bottom and the first match wins.
// Rules overlap, so the order is part of the contract: a failing student
// who is also declining is reported as low_performance.
var interventionRules = []interventionRule{
	{
		alertType: AlertLowPerformance,
		severity:  SeverityHigh,
		matches: func(s gradeStats) bool {
			return s.avg < lowPerformanceThreshold
		},
		message: func(s gradeStats) string {
			return fmt.Sprintf("Average grade %.1f%% is below %.0f%%", s.avg, lowPerformanceThreshold)
		},
	},
	{
		alertType: AlertDecliningPerformance,
		severity:  SeverityMedium,
		matches: func(s gradeStats) bool {
			return s.recentAvg < s.avg-decliningDropThreshold
		},
		message: func(s gradeStats) string {
			return fmt.Sprintf("Recent average %.1f%% is more than %.0f points below the overall %.1f%%",
				s.recentAvg, decliningDropThreshold, s.avg)
		},
		reportsTail: true,
	},
	{
		alertType: AlertNegativeTrend,
		severity:  SeverityMedium,
		matches: func(s gradeStats) bool {
			return strictlyDecreasingTail(s.percentages, negativeTrendLength)
		},
		message: func(s gradeStats) string {
			return fmt.Sprintf("Each of the last %d grades was lower than the one before", negativeTrendLength)
		},
		reportsTail: true,
	},
}

// Percentages converts scored items to 0-100 percentages, skipping items
// whose scale is not positive.
func Percentages(items []ScoredItem) []float64 {
	out := make([]float64, 0, len(items))
	for _, it := range items {
		if it.MaxPoints <= 0 {
			continue
		}
		out = append(out, it.Grade/it.MaxPoints*100)
	}
	return out
}

// EvaluateStudent applies the rule list to one student. It returns
// ok=false when the student has no usable grades or no rule matches.
func EvaluateStudent(s StudentScores) (InterventionAlert, bool) {
	pcts := Percentages(s.Scores)
	avg, ok := mean(pcts)
	if !ok {
		return InterventionAlert{}, false
	}
	recent, _ := tailMean(pcts, recentWindow)
	stats := gradeStats{percentages: pcts, avg: avg, recentAvg: recent}

	for _, rule := range interventionRules {
		if !rule.matches(stats) {
			continue
		}
		alert := InterventionAlert{
			StudentID: s.StudentID,
			Type:      rule.alertType,
			Severity:  rule.severity,
			Message:   rule.message(stats),
			AvgGrade:  round1(avg),
		}
		if rule.reportsTail {
			alert.RecentAvg = floatPtr(round1(recent))
		}
		return alert, true
	}
	return InterventionAlert{}, false
}

// DetectInterventions evaluates each student independently and returns at
// most one alert per student, in input order.
func DetectInterventions(students []StudentScores) []InterventionAlert {
	alerts := make([]InterventionAlert, 0)
	for _, s := range students {
		if alert, ok := EvaluateStudent(s); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func strictlyDecreasingTail(xs []float64, n int) bool {
	if len(xs) < n {
		return false
	}
	tail := xs[len(xs)-n:]
	for i := 1; i < len(tail); i++ {
		if tail[i] >= tail[i-1] {
			return false
		}
	}
	return true
}
