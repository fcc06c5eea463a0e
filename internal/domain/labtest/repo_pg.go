package labtest

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return db.WithRetries(r.pool)
}

const cols = `id, patient_id, kind, COALESCE(result, ''), status,
	COALESCE(assigned_to, ''), created_by, created_at, updated_at`

func scanTest(row pgx.Row) (*LabTest, error) {
	var t LabTest
	err := row.Scan(&t.ID, &t.PatientID, &t.Kind, &t.Result, &t.Status,
		&t.AssignedTo, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.KindNotFound, "test not found")
	}
	return &t, err
}

func (r *repoPG) Create(ctx context.Context, t *LabTest) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_tests (id, patient_id, kind, result, status, assigned_to, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.PatientID, t.Kind, nullable(t.Result), t.Status, nullable(t.AssignedTo), t.CreatedBy)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*LabTest, error) {
	return scanTest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cols+` FROM lab_tests WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, t *LabTest) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_tests SET kind=$2, result=$3, status=$4, assigned_to=$5, updated_at=NOW()
		WHERE id=$1`,
		t.ID, t.Kind, nullable(t.Result), t.Status, nullable(t.AssignedTo))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.KindNotFound, "test not found")
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM lab_tests WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.KindNotFound, "test not found")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit int) ([]LabTest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cols+` FROM lab_tests ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LabTest
	for rows.Next() {
		var t LabTest
		if err := rows.Scan(&t.ID, &t.PatientID, &t.Kind, &t.Result, &t.Status,
			&t.AssignedTo, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repoPG) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM lab_tests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
