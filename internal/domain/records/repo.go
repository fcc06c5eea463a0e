package records

import (
	"context"
	"time"
)

// RecordRepository persists record metadata.
type RecordRepository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	ListByPatient(ctx context.Context, patientID string) ([]Record, error)
	Count(ctx context.Context) (int, error)
}

// ShareRepository persists consent edges.
type ShareRepository interface {
	Create(ctx context.Context, g *ShareGrant) error
	// Revoke ends the grant from patient to grantee; reports whether a
	// live grant existed.
	Revoke(ctx context.Context, patientID, granteeID string, now time.Time) (bool, error)
	HasActiveGrant(ctx context.Context, granteeID, patientID string) (bool, error)
	ListByPatient(ctx context.Context, patientID string) ([]ShareGrant, error)
}
