package analytics

import (
	"fmt"
	"sort"

	"github.com/classpulse/classpulse/internal/domain/activity"
)

const gapThreshold = 70.0

// LearningGap is a topic the student averages below the gap threshold on.
type LearningGap struct {
	Topic        string   `json:"topic"`
	AverageGrade float64  `json:"average_grade"`
	Attempts     int      `json:"attempts"`
	Suggestions  []string `json:"suggestions"`
}

// SuggestionCatalog maps a topic name to remediation suggestions. The
// content is curated elsewhere; analytics only looks it up.
type SuggestionCatalog interface {
	Suggestions(topic string) []string
}

// DefaultCatalog returns the generic suggestions for any topic.
type DefaultCatalog struct{}

// Suggestions implements SuggestionCatalog.
func (DefaultCatalog) Suggestions(topic string) []string {
	return []string{
		fmt.Sprintf("Review the fundamentals of %s", topic),
		fmt.Sprintf("Practice additional %s exercises", topic),
		fmt.Sprintf("Watch instructional content on %s", topic),
		fmt.Sprintf("Ask your teacher or a classmate for help with %s", topic),
	}
}

// AnalyzeLearningGaps groups graded items by topic and returns the topics
// averaging below 70, weakest first. Ties keep first-encountered order.
// Items without a topic are ignored. A nil catalog uses DefaultCatalog.
func AnalyzeLearningGaps(items []activity.GradedItem, catalog SuggestionCatalog) []LearningGap {
	if catalog == nil {
		catalog = DefaultCatalog{}
	}

	var order []string
	byTopic := make(map[string][]float64)
	for _, it := range items {
		if it.Topic == "" {
			continue
		}
		if _, ok := byTopic[it.Topic]; !ok {
			order = append(order, it.Topic)
		}
		byTopic[it.Topic] = append(byTopic[it.Topic], it.Grade)
	}

	type scoredTopic struct {
		topic string
		avg   float64
	}
	weak := make([]scoredTopic, 0, len(order))
	for _, topic := range order {
		avg, _ := mean(byTopic[topic])
		if avg < gapThreshold {
			weak = append(weak, scoredTopic{topic: topic, avg: avg})
		}
	}
	sort.SliceStable(weak, func(i, j int) bool { return weak[i].avg < weak[j].avg })

	gaps := make([]LearningGap, 0, len(weak))
	for _, w := range weak {
		suggestions := catalog.Suggestions(w.topic)
		if suggestions == nil {
			suggestions = []string{}
		}
		gaps = append(gaps, LearningGap{
			Topic:        w.topic,
			AverageGrade: round1(w.avg),
			Attempts:     len(byTopic[w.topic]),
			Suggestions:  suggestions,
		})
	}
	return gaps
}
