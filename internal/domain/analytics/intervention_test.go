package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/internal/domain/shared"
)

func percentScores(id string, pcts ...float64) StudentScores {
	s := StudentScores{StudentID: shared.StudentID(id)}
	for _, p := range pcts {
		s.Scores = append(s.Scores, ScoredItem{Grade: p, MaxPoints: 100})
	}
	return s
}

func TestDetectInterventions_LowPerformanceWinsOverDeclining(t *testing.T) {
	// avg 55, recent ~26.7: both low and declining, only one alert.
	alerts := DetectInterventions([]StudentScores{percentScores("s1", 100, 95, 30, 25, 25)})

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowPerformance, alerts[0].Type)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
	assert.Equal(t, 55.0, alerts[0].AvgGrade)
	assert.Nil(t, alerts[0].RecentAvg)
	assert.Contains(t, alerts[0].Message, "55.0%")
}

func TestDetectInterventions_Declining(t *testing.T) {
	alerts := DetectInterventions([]StudentScores{percentScores("s1", 100, 100, 100, 70, 70, 60)})

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDecliningPerformance, alerts[0].Type)
	assert.Equal(t, SeverityMedium, alerts[0].Severity)
	assert.Equal(t, 83.3, alerts[0].AvgGrade)
	require.NotNil(t, alerts[0].RecentAvg)
	assert.Equal(t, 66.7, *alerts[0].RecentAvg)
}

func TestDetectInterventions_NegativeTrend(t *testing.T) {
	alerts := DetectInterventions([]StudentScores{percentScores("s1", 80, 78, 76)})

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNegativeTrend, alerts[0].Type)
	assert.Equal(t, SeverityMedium, alerts[0].Severity)
}

func TestDetectInterventions_NegativeTrendNeedsThreeGrades(t *testing.T) {
	assert.Empty(t, DetectInterventions([]StudentScores{percentScores("s1", 80, 70)}))
}

func TestDetectInterventions_EqualGradesAreNotStrictlyDecreasing(t *testing.T) {
	assert.Empty(t, DetectInterventions([]StudentScores{percentScores("s1", 80, 76, 76)}))
}

func TestDetectInterventions_NoAlerts(t *testing.T) {
	students := []StudentScores{
		percentScores("healthy", 80, 85, 90),
		{StudentID: "no-grades"},
		{StudentID: "zero-scale", Scores: []ScoredItem{{Grade: 10, MaxPoints: 0}}},
	}
	alerts := DetectInterventions(students)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
}

func TestDetectInterventions_KeepsInputOrder(t *testing.T) {
	alerts := DetectInterventions([]StudentScores{
		percentScores("c", 40),
		percentScores("a", 90),
		percentScores("b", 80, 78, 76),
	})

	require.Len(t, alerts, 2)
	assert.Equal(t, shared.StudentID("c"), alerts[0].StudentID)
	assert.Equal(t, shared.StudentID("b"), alerts[1].StudentID)
}

func TestPercentages(t *testing.T) {
	got := Percentages([]ScoredItem{
		{Grade: 45, MaxPoints: 50},
		{Grade: 5, MaxPoints: 0},
		{Grade: 3, MaxPoints: 4},
	})
	assert.InDeltaSlice(t, []float64{90, 75}, got, 1e-9)
}
