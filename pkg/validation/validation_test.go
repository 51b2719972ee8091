package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gradeRequest struct {
	SubmissionID string             `json:"submission_id" validate:"required"`
	Scores       map[string]float64 `json:"scores" validate:"omitempty,dive,gte=0"`
	Grade        *float64           `json:"grade,omitempty" validate:"omitempty,gte=0"`
	Internal     string             `json:"-" validate:"omitempty,max=3"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(gradeRequest{SubmissionID: "s-1"}))

	neg := -1.0
	err := Struct(gradeRequest{Grade: &neg})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 2)
	assert.Equal(t, FieldError{Field: "submission_id", Rule: "required"}, verr.Fields[0])
	assert.Equal(t, "grade", verr.Fields[1].Field)
	assert.Equal(t, "0", verr.Fields[1].Param)
	assert.Contains(t, err.Error(), "submission_id failed required")
}

func TestStructDivesIntoMaps(t *testing.T) {
	err := Struct(gradeRequest{SubmissionID: "s-1", Scores: map[string]float64{"clarity": -2}})
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "gte", verr.Fields[0].Rule)
}

func TestValidatorIsShared(t *testing.T) {
	assert.Same(t, Validator(), Validator())
}
