package service

import (
	"context"

	"github.com/classpulse/classpulse/internal/domain/notification"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/domain/shared"
)

// RosterRecipientResolver resolves teachers and guardians from the roster.
type RosterRecipientResolver struct {
	roster roster.Repository
}

func NewRosterRecipientResolver(repo roster.Repository) *RosterRecipientResolver {
	return &RosterRecipientResolver{roster: repo}
}

// TeachersOf returns the class teacher. An unknown class yields no recipients.
func (r *RosterRecipientResolver) TeachersOf(ctx context.Context, classID, _ string) ([]notification.RecipientID, error) {
	class, err := r.roster.GetClass(ctx, shared.ClassID(classID))
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if class.TeacherID == "" {
		return nil, nil
	}
	return []notification.RecipientID{notification.RecipientID(class.TeacherID)}, nil
}

// GuardiansOf returns the student's guardians.
func (r *RosterRecipientResolver) GuardiansOf(ctx context.Context, studentID string) ([]notification.RecipientID, error) {
	student, err := r.roster.GetStudent(ctx, shared.StudentID(studentID))
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]notification.RecipientID, 0, len(student.GuardianIDs))
	for _, id := range student.GuardianIDs {
		if id != "" {
			out = append(out, notification.RecipientID(id))
		}
	}
	return out, nil
}
