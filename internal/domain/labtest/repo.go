package labtest

import "context"

// Repository persists lab tests.
type Repository interface {
	Create(ctx context.Context, t *LabTest) error
	GetByID(ctx context.Context, id string) (*LabTest, error)
	Update(ctx context.Context, t *LabTest) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]LabTest, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
