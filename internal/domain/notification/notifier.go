package notification

import "context"

// Notifier dispatches notifications. It is passed explicitly to the
// handlers and jobs that need it; there is no package-level instance.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n *Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n *Notification) error {
	return f(ctx, n)
}

// RecipientResolver maps a student to the people who should hear about them.
type RecipientResolver interface {
	// TeachersOf returns the teacher recipients for a student's class.
	TeachersOf(ctx context.Context, classID, studentID string) ([]RecipientID, error)

	// GuardiansOf returns the parent recipients for a student.
	GuardiansOf(ctx context.Context, studentID string) ([]RecipientID, error)
}
