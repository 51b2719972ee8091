package analytics

// Trend is the direction of a student's recent performance.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
	TrendNeutral   Trend = "neutral"
)

const (
	// trendBand is the dead zone, in grade points, around the overall
	// average inside which performance counts as stable.
	trendBand = 5.0

	// recentWindow is how many of the latest grades form the recent average.
	recentWindow = 3
)

// AnalyzeTrend classifies grades given oldest first. Fewer than two grades
// are not enough to call a direction.
func AnalyzeTrend(grades []float64) Trend {
	if len(grades) < 2 {
		return TrendNeutral
	}
	overall, _ := mean(grades)
	recent, _ := tailMean(grades, recentWindow)

	switch {
	case recent > overall+trendBand:
		return TrendImproving
	case recent < overall-trendBand:
		return TrendDeclining
	default:
		return TrendStable
	}
}
