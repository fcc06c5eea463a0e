package appointment

import (
	"context"
	"time"

	"github.com/careportal/api/internal/domain/audit"
	"github.com/careportal/api/internal/platform/apperr"
)

type Service struct {
	repo  Repository
	audit audit.Recorder
	now   func() time.Time
}

func NewService(repo Repository, rec audit.Recorder) *Service {
	return &Service{repo: repo, audit: rec, now: time.Now}
}

// BookInput is the booking request.
type BookInput struct {
	PatientID   string
	ProviderID  string
	ScheduledAt time.Time
	Reason      string
}

// Book schedules an appointment. The slot must lie in the future.
func (s *Service) Book(ctx context.Context, actorID string, in BookInput) (*Appointment, error) {
	if in.PatientID == "" || in.ProviderID == "" {
		return nil, apperr.E(apperr.KindValidation, "patient and provider are required")
	}
	if !in.ScheduledAt.After(s.now()) {
		return nil, apperr.E(apperr.KindValidation, "appointment time must be in the future")
	}
	a := &Appointment{
		PatientID:   in.PatientID,
		ProviderID:  in.ProviderID,
		ScheduledAt: in.ScheduledAt.UTC(),
		Status:      StatusBooked,
		Reason:      in.Reason,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionAppointment, actorID, in.PatientID, map[string]any{
		"appointment_id": a.ID,
		"provider_id":    in.ProviderID,
		"scheduled_at":   a.ScheduledAt,
	})
	return a, nil
}

// ListForPatient returns one patient's schedule.
func (s *Service) ListForPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// ListAll serves the clinician and admin view.
func (s *Service) ListAll(ctx context.Context, limit int) ([]Appointment, error) {
	return s.repo.ListAll(ctx, limit)
}

// CountByStatus feeds the admin dashboard.
func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}
