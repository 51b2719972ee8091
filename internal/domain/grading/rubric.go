// Package grading holds assignments, rubrics and submissions, and the
// rubric-weighted grade computation.
package grading

// Level is one achievement level of a criterion.
type Level struct {
	Name        string  `json:"name" yaml:"name"`
	Points      float64 `json:"points" yaml:"points"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// Criterion is a weighted rubric row. Weight is on a 0-100 scale.
type Criterion struct {
	ID     string  `json:"id" yaml:"id"`
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight" yaml:"weight"`
	Levels []Level `json:"levels" yaml:"levels"`
}

// IsMalformed reports whether the criterion cannot take part in grading.
func (c Criterion) IsMalformed() bool {
	return c.Weight <= 0 || len(c.Levels) == 0
}

// MaxLevelPoints returns the highest level's points.
func (c Criterion) MaxLevelPoints() float64 {
	max := 0.0
	for i, l := range c.Levels {
		if i == 0 || l.Points > max {
			max = l.Points
		}
	}
	return max
}

// Rubric is an ordered set of criteria attached to an assignment.
// Weights are expected to sum to 100 but nothing relies on it.
type Rubric struct {
	ID           string      `json:"id"`
	AssignmentID string      `json:"assignment_id"`
	Criteria     []Criterion `json:"criteria"`
}

// DeclaredWeight sums the weight of every well-formed criterion.
func (r Rubric) DeclaredWeight() float64 {
	total := 0.0
	for _, c := range r.Criteria {
		if !c.IsMalformed() {
			total += c.Weight
		}
	}
	return total
}

// Criterion looks up a criterion by ID.
func (r Rubric) Criterion(id string) (Criterion, bool) {
	for _, c := range r.Criteria {
		if c.ID == id {
			return c, true
		}
	}
	return Criterion{}, false
}
