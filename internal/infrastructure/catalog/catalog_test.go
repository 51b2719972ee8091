package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/analytics"
)

const sample = `
default:
  - Revisit the lesson notes on {topic}
topics:
  Fractions:
    - Practice with visual fraction models
    - "  "
    - Work through equivalent-fraction drills
  " Photosynthesis ":
    - Label a diagram of the light reactions
`

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{
		"Practice with visual fraction models",
		"Work through equivalent-fraction drills",
	}, c.Suggestions("fractions"))
	assert.Equal(t, []string{"Label a diagram of the light reactions"}, c.Suggestions("PHOTOSYNTHESIS"))
	assert.Equal(t, []string{"Revisit the lesson notes on Algebra"}, c.Suggestions("Algebra"))
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse(strings.NewReader("extra: true\n"))
	assert.Error(t, err)
}

func TestParse_EmptyUsesBuiltins(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, analytics.DefaultCatalog{}.Suggestions("Geometry"), c.Suggestions("Geometry"))
}

func TestSuggestionsReturnsCopy(t *testing.T) {
	c := New(nil, map[string][]string{"Loops": {"Trace a loop by hand"}})
	got := c.Suggestions("loops")
	got[0] = "mutated"
	assert.Equal(t, []string{"Trace a loop by hand"}, c.Suggestions("loops"))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	c, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCatalogFeedsGapAnalysis(t *testing.T) {
	c := New(nil, map[string][]string{"Fractions": {"Use fraction strips"}})
	gaps := analytics.AnalyzeLearningGaps([]activity.GradedItem{
		{Topic: "Fractions", Grade: 50},
		{Topic: "Decimals", Grade: 60},
	}, c)

	require.Len(t, gaps, 2)
	assert.Equal(t, "Fractions", gaps[0].Topic)
	assert.Equal(t, []string{"Use fraction strips"}, gaps[0].Suggestions)
	assert.Equal(t, analytics.DefaultCatalog{}.Suggestions("Decimals"), gaps[1].Suggestions)
}
