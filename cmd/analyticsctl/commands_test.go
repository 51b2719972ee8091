package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/internal/application/command"
	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/analytics"
	"github.com/classpulse/classpulse/internal/domain/grading"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/infrastructure/persistence/memory"
)

func grade(v float64) *float64 { return &v }

func writeSnapshot(t *testing.T) string {
	t.Helper()
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	levels := []grading.Level{{Name: "met", Points: 4}}

	snap := memory.Snapshot{
		Classes: []roster.Class{{ID: "c-1", Name: "Biology", TeacherID: "t-1", Verified: true}},
		Students: []memory.EnrolledStudent{
			{Student: roster.Student{ID: "s-1", ClassID: "c-1", Name: "Grace"}},
		},
		Activity: []activity.Record{
			{ID: "r-1", StudentID: "s-1", ClassID: "c-1", Type: activity.TypeAssignmentSubmitted,
				Timestamp: day, Metadata: activity.Metadata{Subject: "Cells", Topic: "Mitosis", Grade: grade(90)}},
			{ID: "r-2", StudentID: "s-1", ClassID: "c-1", Type: activity.TypeAssignmentSubmitted,
				Timestamp: day.Add(24 * time.Hour), Metadata: activity.Metadata{Subject: "Genetics", Topic: "Inheritance", Grade: grade(50)}},
		},
		Assignments: []grading.Assignment{{ID: "a-1", ClassID: "c-1", Title: "Lab report", MaxPoints: 20, RubricID: "rub-1"}},
		Rubrics: []grading.Rubric{{ID: "rub-1", AssignmentID: "a-1", Criteria: []grading.Criterion{
			{ID: "method", Name: "Method", Weight: 60, Levels: levels},
			{ID: "analysis", Name: "Analysis", Weight: 40, Levels: levels},
		}}},
		Submissions: []grading.Submission{
			{ID: "sub-1", AssignmentID: "a-1", StudentID: "s-1", Status: grading.StatusSubmitted},
		},
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestStudentCommand_JSON(t *testing.T) {
	data := writeSnapshot(t)

	out, err := run(t, "student", "s-1", "--data", data, "--at", "2026-03-12T12:00:00Z", "--json")
	require.NoError(t, err)

	var m analytics.StudentMetrics
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, "s-1", m.StudentID.String())
	assert.Equal(t, 70.0, m.AverageGrade)
	assert.Equal(t, 2, m.GradedItems)
}

func TestStudentCommand_Table(t *testing.T) {
	out, err := run(t, "student", "s-1", "--data", writeSnapshot(t), "--at", "2026-03-12T12:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "average")
	assert.Contains(t, out, "70.00 over 2 graded items")
}

func TestGapsCommand(t *testing.T) {
	out, err := run(t, "gaps", "s-1", "--data", writeSnapshot(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Inheritance")
	assert.NotContains(t, out, "Mitosis")
}

func TestClassCommand(t *testing.T) {
	out, err := run(t, "class", "c-1", "--data", writeSnapshot(t), "--json")
	require.NoError(t, err)

	var m analytics.ClassMetrics
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, 1, m.StudentCount)
}

func TestGradeCommand_Rubric(t *testing.T) {
	out, err := run(t, "grade", "sub-1", "--data", writeSnapshot(t),
		"--score", "method=100", "--score", "analysis=50", "--json")
	require.NoError(t, err)

	var res command.GradeSubmissionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.FromRubric)
	assert.Equal(t, 16.0, res.Grade)
	assert.Equal(t, 20.0, res.MaxPoints)
}

func TestGradeCommand_Manual(t *testing.T) {
	out, err := run(t, "grade", "sub-1", "--data", writeSnapshot(t), "--manual", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "sub-1: 12.00 / 20 (manual)")
}

func TestGradeCommand_BadScore(t *testing.T) {
	_, err := run(t, "grade", "sub-1", "--data", writeSnapshot(t), "--score", "method=lots")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `score "method"`)
}

func TestCommands_Errors(t *testing.T) {
	data := writeSnapshot(t)

	_, err := run(t, "student", "s-1")
	assert.Error(t, err, "--data is required")

	_, err = run(t, "student", "nobody", "--data", data)
	assert.Error(t, err)

	_, err = run(t, "digest", "s-1", "--data", data, "--at", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --at")

	_, err = run(t, "class", "c-1", "--data", data, "--tz", "Mars/Olympus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --tz")
}
