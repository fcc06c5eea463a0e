package appointment

import "context"

// Repository persists appointments.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	ListByPatient(ctx context.Context, patientID string) ([]Appointment, error)
	ListAll(ctx context.Context, limit int) ([]Appointment, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
