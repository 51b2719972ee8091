package analytics

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/internal/domain/shared"
)

func rosterOf(subjects ...string) []RosterStudent {
	out := make([]RosterStudent, 0, len(subjects))
	for i, s := range subjects {
		out = append(out, RosterStudent{
			StudentID: shared.StudentID(fmt.Sprintf("s%d", i)),
			Subjects:  []string{s},
		})
	}
	return out
}

func TestAggregateClassMetrics_EmptyRoster(t *testing.T) {
	m := AggregateClassMetrics(ClassInput{ClassID: "c1"})

	assert.Equal(t, 0, m.AvgEngagement)
	assert.Equal(t, "0.0", m.TotalHours)
	assert.NotNil(t, m.HeatmapData)
	assert.Empty(t, m.HeatmapData)
	assert.Nil(t, m.StruggleTopic)
	assert.Equal(t, VibeFocused, m.Vibe)
	assert.Equal(t, 0, m.EstimatedStrugglingStudents)
	assert.Contains(t, m.SentimentInsight, "pending")
}

func TestAggregateClassMetrics_TopSubject(t *testing.T) {
	m := AggregateClassMetrics(ClassInput{Students: rosterOf("Math", "Math", "Science"), Verified: true})

	assert.Equal(t, "Math", m.TopSubject)
	require.Len(t, m.HeatmapData, 2)
	assert.Equal(t, "Math", m.HeatmapData[0].Subject)
	assert.Equal(t, 2, m.HeatmapData[0].Students)
	assert.Equal(t, "Science", m.HeatmapData[1].Subject)
	assert.Equal(t, 1, m.HeatmapData[1].Students)
}

func TestAggregateClassMetrics_TopSubjectTieGoesToFirstEncountered(t *testing.T) {
	m := AggregateClassMetrics(ClassInput{Students: rosterOf("Science", "Math", "Math", "Science"), Verified: true})
	assert.Equal(t, "Science", m.TopSubject)
}

func TestAggregateClassMetrics_EngagementAndHours(t *testing.T) {
	students := []RosterStudent{
		{StudentID: "a", MessagesSent: 1, ActiveMinutes: 90},
		{StudentID: "b", MessagesSent: 2, ActiveMinutes: 60},
	}
	m := AggregateClassMetrics(ClassInput{Students: students, Verified: true})

	// 3/2 = 1.5 rounds up.
	assert.Equal(t, 2, m.AvgEngagement)
	assert.Equal(t, "2.5", m.TotalHours)
	assert.Empty(t, m.TopSubject)
}

func TestAggregateClassMetrics_SubjectCountedOncePerStudent(t *testing.T) {
	students := []RosterStudent{
		{StudentID: "a", Subjects: []string{"Math", "Math", "Art"}},
		{StudentID: "b", Subjects: []string{"Art"}},
	}
	m := AggregateClassMetrics(ClassInput{Students: students, Verified: true})

	require.Len(t, m.HeatmapData, 2)
	assert.Equal(t, 1, m.HeatmapData[0].Students)
	assert.Equal(t, 2, m.HeatmapData[1].Students)
	assert.Equal(t, "Art", m.TopSubject)
}

func TestAggregateClassMetrics_StruggleTopic(t *testing.T) {
	m := AggregateClassMetrics(ClassInput{
		Students: rosterOf("Math", "Math", "Science"),
		SubjectScores: map[string][]float64{
			"Math":    {80, 90},
			"Science": {60},
		},
		Verified: true,
	})

	assert.Equal(t, 85, m.HeatmapData[0].Score)
	assert.Equal(t, 60, m.HeatmapData[1].Score)
	require.NotNil(t, m.StruggleTopic)
	assert.Equal(t, "Science", *m.StruggleTopic)
	assert.Equal(t, VibeConfused, m.Vibe)
	assert.Equal(t, 2, m.EstimatedStrugglingStudents)
	assert.Contains(t, m.SentimentInsight, "Science")
	assert.Contains(t, m.SentimentInsight, "An estimated 2 students")
}

func TestAggregateClassMetrics_Excited(t *testing.T) {
	m := AggregateClassMetrics(ClassInput{
		Students: rosterOf("Math", "Science"),
		SubjectScores: map[string][]float64{
			"Math":    {90, 95},
			"Science": {88},
		},
		Verified: true,
	})

	assert.Equal(t, 93, m.HeatmapData[0].Score)
	assert.Nil(t, m.StruggleTopic)
	assert.Equal(t, VibeExcited, m.Vibe)
	assert.Equal(t, 0, m.EstimatedStrugglingStudents)
}

func TestAggregateClassMetrics_Focused(t *testing.T) {
	m := AggregateClassMetrics(ClassInput{
		Students:      rosterOf("Math"),
		SubjectScores: map[string][]float64{"Math": {80}},
		Verified:      true,
	})
	assert.Equal(t, VibeFocused, m.Vibe)
}

func TestAggregateClassMetrics_SubjectsWithoutGradesAreSkipped(t *testing.T) {
	m := AggregateClassMetrics(ClassInput{
		Students:      rosterOf("Math", "Science"),
		SubjectScores: map[string][]float64{"Science": {90}},
		Verified:      true,
		Jitter:        rand.New(rand.NewSource(7)),
	})

	entry := m.HeatmapData[0]
	assert.False(t, entry.HasData)
	assert.False(t, entry.Simulated)
	assert.Equal(t, 0, entry.Score)
	assert.Nil(t, m.StruggleTopic)
	assert.Equal(t, VibeExcited, m.Vibe)
}

func TestAggregateClassMetrics_DemoJitterForUnverifiedClass(t *testing.T) {
	in := ClassInput{
		Students: rosterOf("Math", "Science", "Art"),
		Verified: false,
		Jitter:   rand.New(rand.NewSource(42)),
	}
	m := AggregateClassMetrics(in)

	for _, e := range m.HeatmapData {
		assert.True(t, e.HasData)
		assert.True(t, e.Simulated)
		assert.GreaterOrEqual(t, e.Score, 65)
		assert.LessOrEqual(t, e.Score, 85)
	}
}

func TestAggregateClassMetrics_UnverifiedWithoutJitterIsDeterministic(t *testing.T) {
	in := ClassInput{Students: rosterOf("Math"), Verified: false}

	first := AggregateClassMetrics(in)
	second := AggregateClassMetrics(in)

	assert.Equal(t, first, second)
	assert.False(t, first.HeatmapData[0].HasData)
}

func TestEstimateStrugglingStudents(t *testing.T) {
	assert.Equal(t, 0, EstimateStrugglingStudents(0))
	assert.Equal(t, 1, EstimateStrugglingStudents(1))
	assert.Equal(t, 2, EstimateStrugglingStudents(3))
	assert.Equal(t, 5, EstimateStrugglingStudents(10))
}
