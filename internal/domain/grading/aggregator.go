package grading

import (
	"math"
	"sort"
)

// RubricReport is the detailed outcome of scoring a rubric.
type RubricReport struct {
	// Grade is meaningful only when OK is true.
	Grade int  `json:"grade"`
	OK    bool `json:"ok"`

	ScoredWeight     float64  `json:"scored_weight"`
	ScoredCriteria   int      `json:"scored_criteria"`
	SkippedMalformed int      `json:"skipped_malformed"`
	UnknownCriteria  []string `json:"unknown_criteria,omitempty"`
}

// ScoreRubric computes a rubric-weighted grade on a 0..maxPoints scale.
//
// Only criteria present in scores contribute, so a partially graded rubric
// is normalized over the weight actually scored rather than the declared
// total. Malformed criteria are skipped and counted. Score keys that match
// no criterion are reported and ignored.
func ScoreRubric(rubric Rubric, scores map[string]float64, maxPoints float64) RubricReport {
	var (
		report      RubricReport
		totalScore  float64
		totalWeight float64
	)

	known := make(map[string]struct{}, len(rubric.Criteria))
	for _, c := range rubric.Criteria {
		known[c.ID] = struct{}{}
		if c.IsMalformed() {
			report.SkippedMalformed++
			continue
		}
		points, scored := scores[c.ID]
		if !scored {
			continue
		}
		totalScore += points * (c.Weight / 100)
		totalWeight += c.Weight
		report.ScoredCriteria++
	}

	for id := range scores {
		if _, ok := known[id]; !ok {
			report.UnknownCriteria = append(report.UnknownCriteria, id)
		}
	}
	sort.Strings(report.UnknownCriteria)

	report.ScoredWeight = totalWeight
	if totalWeight <= 0 || maxPoints <= 0 {
		return report
	}

	grade := roundHalfUp(totalScore / totalWeight * maxPoints)
	if grade > maxPoints {
		grade = math.Floor(maxPoints)
	}
	if grade < 0 {
		grade = 0
	}

	report.Grade = int(grade)
	report.OK = true
	return report
}

// ComputeRubricGrade returns the rubric grade, or ok=false when nothing
// was scored and the caller should fall back to the manual grade.
func ComputeRubricGrade(rubric Rubric, scores map[string]float64, maxPoints float64) (int, bool) {
	r := ScoreRubric(rubric, scores, maxPoints)
	return r.Grade, r.OK
}

// roundEpsilon absorbs binary representation error so that values such as
// 84.5 computed as 84.49999999 still round up.
const roundEpsilon = 1e-9

func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5 + roundEpsilon)
}
