package records

import (
	"context"
	"strings"
	"time"

	"github.com/careportal/api/internal/domain/audit"
	"github.com/careportal/api/internal/platform/apperr"
)

// Service mediates record access and consent edges.
type Service struct {
	records RecordRepository
	shares  ShareRepository
	audit   audit.Recorder
	now     func() time.Time
}

func NewService(records RecordRepository, shares ShareRepository, rec audit.Recorder) *Service {
	return &Service{records: records, shares: shares, audit: rec, now: time.Now}
}

// RecordAccess is the policy engine's consent predicate: does the
// clinician hold an active grant from the patient.
func (s *Service) RecordAccess(ctx context.Context, clinicianID, patientID string) (bool, error) {
	return s.shares.HasActiveGrant(ctx, clinicianID, patientID)
}

// Get returns one record by ID. Authorization happens at the mediator
// once the owner is known.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.records.GetByID(ctx, id)
}

// ListForPatient returns a patient's records, newest first.
func (s *Service) ListForPatient(ctx context.Context, patientID string) ([]Record, error) {
	return s.records.ListByPatient(ctx, patientID)
}

// Create inserts record metadata. Driven by the admin surface and the
// seed tooling, not by patient self-service.
func (s *Service) Create(ctx context.Context, r *Record) error {
	if r.PatientID == "" {
		return apperr.E(apperr.KindValidation, "patient is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return apperr.E(apperr.KindValidation, "title is required")
	}
	return s.records.Create(ctx, r)
}

// Share grants a clinician access to the patient's records. The
// grant is patient-wide: the record only anchors the request.
func (s *Service) Share(ctx context.Context, actorID, recordID, granteeID string) (*ShareGrant, error) {
	if granteeID == "" {
		return nil, apperr.E(apperr.KindValidation, "grantee is required")
	}
	r, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if granteeID == r.PatientID {
		return nil, apperr.E(apperr.KindValidation, "cannot share records with their owner")
	}
	g := &ShareGrant{
		PatientID: r.PatientID,
		GranteeID: granteeID,
		RecordID:  recordID,
	}
	if err := s.shares.Create(ctx, g); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.ActionRecordShare, actorID, r.PatientID, map[string]any{
		"record_id":  recordID,
		"grantee_id": granteeID,
	})
	return g, nil
}

// Unshare revokes the consent edge to a grantee. Idempotent.
func (s *Service) Unshare(ctx context.Context, actorID, recordID, granteeID string) error {
	r, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return err
	}
	effective, err := s.shares.Revoke(ctx, r.PatientID, granteeID, s.now())
	if err != nil {
		return err
	}
	if effective {
		s.audit.Record(ctx, audit.ActionRecordUnshare, actorID, r.PatientID, map[string]any{
			"record_id":  recordID,
			"grantee_id": granteeID,
		})
	}
	return nil
}

// Count feeds the admin dashboard.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.records.Count(ctx)
}
