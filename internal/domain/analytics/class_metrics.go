package analytics

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/classpulse/classpulse/internal/domain/shared"
)

// Vibe is the coarse mood label shown on the class dashboard.
type Vibe string

const (
	VibeFocused  Vibe = "Focused"
	VibeConfused Vibe = "Confused"
	VibeExcited  Vibe = "Excited"
)

const (
	struggleThreshold = 70.0
	excitedThreshold  = 85.0

	// strugglingShare drives the affected-student estimate. It is a fixed
	// proportion of the roster, not a count of students below threshold.
	strugglingShare = 0.4

	demoBaseScore   = 75
	demoJitterRange = 10
)

// RosterStudent is the per-student summary a class aggregate is built from.
type RosterStudent struct {
	StudentID     shared.StudentID `json:"student_id"`
	Name          string           `json:"name,omitempty"`
	MessagesSent  int              `json:"messages_sent"`
	ActiveMinutes int              `json:"active_minutes"`
	Subjects      []string         `json:"subjects"`
}

// ClassInput is everything AggregateClassMetrics needs.
type ClassInput struct {
	ClassID  shared.ClassID  `json:"class_id"`
	Students []RosterStudent `json:"students"`

	// SubjectScores holds graded percentages per subject across the class.
	SubjectScores map[string][]float64 `json:"subject_scores"`

	// Verified is false for demo or unverified classes.
	Verified bool `json:"verified"`

	// Jitter, when set on an unverified class, fills subjects that have no
	// grades with a demo score around 75. Verified classes never use it.
	Jitter *rand.Rand `json:"-"`
}

// HeatmapEntry is one subject cell of the class heatmap.
type HeatmapEntry struct {
	Subject  string `json:"subject"`
	Score    int    `json:"score"`
	Students int    `json:"students"`
	HasData  bool   `json:"has_data"`
	// Simulated marks a demo score that did not come from grades.
	Simulated bool `json:"simulated,omitempty"`
}

// ClassMetrics is the class dashboard aggregate.
type ClassMetrics struct {
	ClassID          shared.ClassID `json:"class_id"`
	StudentCount     int            `json:"student_count"`
	AvgEngagement    int            `json:"avg_engagement"`
	TopSubject       string         `json:"top_subject"`
	TotalHours       string         `json:"total_hours"`
	HeatmapData      []HeatmapEntry `json:"heatmap_data"`
	StruggleTopic    *string        `json:"struggle_topic,omitempty"`
	Vibe             Vibe           `json:"vibe"`
	SentimentInsight string         `json:"sentiment_insight"`

	// EstimatedStrugglingStudents is floor(n*0.4)+1 when a struggle topic
	// exists. It is a heuristic, never a measured count.
	EstimatedStrugglingStudents int `json:"estimated_struggling_students"`
}

// AggregateClassMetrics builds the class dashboard from roster summaries
// and per-subject grades.
func AggregateClassMetrics(in ClassInput) ClassMetrics {
	n := len(in.Students)
	out := ClassMetrics{
		ClassID:      in.ClassID,
		StudentCount: n,
		TotalHours:   "0.0",
		HeatmapData:  []HeatmapEntry{},
		Vibe:         VibeFocused,
	}
	if n == 0 {
		out.SentimentInsight = "Class data is pending. Insights will appear once students start working."
		return out
	}

	var messages, minutes int
	for _, s := range in.Students {
		messages += s.MessagesSent
		minutes += s.ActiveMinutes
	}
	out.AvgEngagement = int(roundHalfUp(float64(messages) / float64(n)))
	out.TotalHours = fmt.Sprintf("%.1f", float64(minutes)/60)

	subjects, counts := subjectFrequency(in.Students)
	out.TopSubject = topByCount(subjects, counts)
	out.HeatmapData = buildHeatmap(subjects, counts, in)

	var scored []float64
	for _, e := range out.HeatmapData {
		if !e.HasData {
			continue
		}
		scored = append(scored, float64(e.Score))
		if out.StruggleTopic == nil && float64(e.Score) < struggleThreshold {
			topic := e.Subject
			out.StruggleTopic = &topic
		}
	}

	switch avg, ok := mean(scored); {
	case out.StruggleTopic != nil:
		out.Vibe = VibeConfused
		out.EstimatedStrugglingStudents = EstimateStrugglingStudents(n)
	case ok && avg > excitedThreshold:
		out.Vibe = VibeExcited
	default:
		out.Vibe = VibeFocused
	}

	out.SentimentInsight = sentimentInsight(out, len(scored) > 0)
	return out
}

// EstimateStrugglingStudents returns the heuristic affected-student count
// for a roster of n students.
func EstimateStrugglingStudents(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Floor(float64(n)*strugglingShare)) + 1
}

// subjectFrequency counts, per subject, how many students take it. Each
// student counts once per subject. The returned order is first-encountered.
func subjectFrequency(students []RosterStudent) ([]string, map[string]int) {
	var order []string
	counts := make(map[string]int)
	for _, s := range students {
		seen := make(map[string]struct{}, len(s.Subjects))
		for _, subj := range s.Subjects {
			if subj == "" {
				continue
			}
			if _, dup := seen[subj]; dup {
				continue
			}
			seen[subj] = struct{}{}
			if _, known := counts[subj]; !known {
				order = append(order, subj)
			}
			counts[subj]++
		}
	}
	return order, counts
}

// topByCount picks the highest count; ties go to the earliest in order.
func topByCount(order []string, counts map[string]int) string {
	top, best := "", 0
	for _, k := range order {
		if counts[k] > best {
			top, best = k, counts[k]
		}
	}
	return top
}

func buildHeatmap(subjects []string, counts map[string]int, in ClassInput) []HeatmapEntry {
	entries := make([]HeatmapEntry, 0, len(subjects))
	for _, subj := range subjects {
		e := HeatmapEntry{Subject: subj, Students: counts[subj]}
		if avg, ok := mean(in.SubjectScores[subj]); ok {
			e.Score = int(roundHalfUp(avg))
			e.HasData = true
		} else if !in.Verified && in.Jitter != nil {
			e.Score = demoBaseScore + in.Jitter.Intn(2*demoJitterRange+1) - demoJitterRange
			e.HasData = true
			e.Simulated = true
		}
		entries = append(entries, e)
	}
	return entries
}

func sentimentInsight(m ClassMetrics, hasScores bool) string {
	switch m.Vibe {
	case VibeConfused:
		return fmt.Sprintf(
			"The class seems to be struggling with %s. An estimated %d students may need extra support.",
			*m.StruggleTopic, m.EstimatedStrugglingStudents)
	case VibeExcited:
		return "The class is excited and performing strongly across subjects."
	default:
		if !hasScores {
			return "The class is focused. Subject scores will appear once work is graded."
		}
		return "The class is focused and progressing steadily."
	}
}
