package labtest

import (
	"context"
	"strings"

	"github.com/careportal/api/internal/domain/audit"
	"github.com/careportal/api/internal/platform/apperr"
)

type Service struct {
	repo  Repository
	audit audit.Recorder
}

func NewService(repo Repository, rec audit.Recorder) *Service {
	return &Service{repo: repo, audit: rec}
}

// CreateInput is the material for a new test order.
type CreateInput struct {
	PatientID string
	Kind      string
}

func (s *Service) Create(ctx context.Context, actorID string, in CreateInput) (*LabTest, error) {
	if in.PatientID == "" {
		return nil, apperr.E(apperr.KindValidation, "patient is required")
	}
	if strings.TrimSpace(in.Kind) == "" {
		return nil, apperr.E(apperr.KindValidation, "kind is required")
	}
	t := &LabTest{
		PatientID: in.PatientID,
		Kind:      in.Kind,
		Status:    StatusPending,
		CreatedBy: actorID,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionTestCreate, actorID, in.PatientID, map[string]any{
		"test_id": t.ID,
		"kind":    t.Kind,
	})
	return t, nil
}

// UpdateInput carries the mutable fields; nil leaves a field alone.
type UpdateInput struct {
	Result *string
	Status *Status
}

func (s *Service) Update(ctx context.Context, actorID, id string, in UpdateInput) (*LabTest, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Status != nil {
		if !ValidStatus(*in.Status) {
			return nil, apperr.E(apperr.KindValidation, "invalid status %q", *in.Status)
		}
		t.Status = *in.Status
	}
	if in.Result != nil {
		t.Result = *in.Result
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionTestUpdate, actorID, t.PatientID, map[string]any{
		"test_id": t.ID,
		"status":  string(t.Status),
	})
	return t, nil
}

func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.ActionTestDelete, actorID, t.PatientID, map[string]any{
		"test_id": id,
	})
	return nil
}

// Assign routes a test to a technician.
func (s *Service) Assign(ctx context.Context, actorID, id, technicianID string) (*LabTest, error) {
	if technicianID == "" {
		return nil, apperr.E(apperr.KindValidation, "technician is required")
	}
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.AssignedTo = technicianID
	if t.Status == StatusPending {
		t.Status = StatusInProgress
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionTestAssign, actorID, technicianID, map[string]any{
		"test_id": t.ID,
	})
	return t, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]LabTest, error) {
	return s.repo.List(ctx, limit)
}

func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}
