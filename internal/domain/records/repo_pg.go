package records

import (
	"context"
	"errors"
	"time"

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

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return db.WithRetries(pool)
}

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO records (id, patient_id, kind, title, payload_ref)
		VALUES ($1,$2,$3,$4,$5)`,
		rec.ID, rec.PatientID, rec.Kind, rec.Title, rec.PayloadRef)
	return err
}

func (r *recordRepoPG) GetByID(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, patient_id, kind, title, COALESCE(payload_ref, ''), created_at, updated_at
		FROM records WHERE id = $1`, id).
		Scan(&rec.ID, &rec.PatientID, &rec.Kind, &rec.Title, &rec.PayloadRef, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.KindNotFound, "record not found")
	}
	return &rec, err
}

func (r *recordRepoPG) ListByPatient(ctx context.Context, patientID string) ([]Record, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, patient_id, kind, title, COALESCE(payload_ref, ''), created_at, updated_at
		FROM records WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.Kind, &rec.Title,
			&rec.PayloadRef, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *recordRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

type shareRepoPG struct{ pool *pgxpool.Pool }

func NewShareRepoPG(pool *pgxpool.Pool) ShareRepository {
	return &shareRepoPG{pool: pool}
}

func (r *shareRepoPG) Create(ctx context.Context, g *ShareGrant) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO record_shares (id, patient_id, grantee_id, record_id)
		VALUES ($1,$2,$3,$4)`,
		g.ID, g.PatientID, g.GranteeID, nullable(g.RecordID))
	return err
}

func (r *shareRepoPG) Revoke(ctx context.Context, patientID, granteeID string, now time.Time) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE record_shares SET revoked_at = $3
		WHERE patient_id = $1 AND grantee_id = $2 AND revoked_at IS NULL`,
		patientID, granteeID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *shareRepoPG) HasActiveGrant(ctx context.Context, granteeID, patientID string) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM record_shares
			WHERE grantee_id = $1 AND patient_id = $2 AND revoked_at IS NULL
		)`, granteeID, patientID).Scan(&exists)
	return exists, err
}

func (r *shareRepoPG) ListByPatient(ctx context.Context, patientID string) ([]ShareGrant, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, patient_id, grantee_id, COALESCE(record_id, ''), created_at, revoked_at
		FROM record_shares WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ShareGrant
	for rows.Next() {
		var g ShareGrant
		if err := rows.Scan(&g.ID, &g.PatientID, &g.GranteeID, &g.RecordID, &g.CreatedAt, &g.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
